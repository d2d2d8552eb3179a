package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir     string `toml:"state_dir"`
	LogDir       string `toml:"log_dir"`
	TemplatesDir string `toml:"templates_dir"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
}

// Orchestrator contains retry, timeout, and dispatch settings for workflow execution.
type Orchestrator struct {
	MaxAttempts            int     `toml:"max_attempts"`
	BaseDelayMillis        int     `toml:"base_delay_ms"`
	BackoffMultiplier      float64 `toml:"backoff_multiplier"`
	MaxDelaySeconds        int     `toml:"max_delay_seconds"`
	StepTimeoutSeconds     int     `toml:"step_timeout_seconds"`
	MaxConcurrentSteps     int     `toml:"max_concurrent_steps"`
	DispatchRate           float64 `toml:"dispatch_rate"` // steps per second, 0 disables limiting
	DispatchBurst          int     `toml:"dispatch_burst"`
	EventBuffer            int     `toml:"event_buffer"`
	ShutdownTimeoutSeconds int     `toml:"shutdown_timeout_seconds"`
	RestoreOnStart         bool    `toml:"restore_on_start"`
	BuiltinTemplates       bool    `toml:"builtin_templates"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic         string `toml:"ntfy_topic"`
	RequestTimeout    int    `toml:"request_timeout"`
	WorkflowCompleted bool   `toml:"workflow_completed"`
	WorkflowFailed    bool   `toml:"workflow_failed"`
}

// Events contains configuration for external event fan-out.
type Events struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisChannel  string `toml:"redis_channel"`
}

// Transcode contains configuration for the built-in transcode executor.
type Transcode struct {
	OutputDir string `toml:"output_dir"`
}

// Executor binds an executor kind to an external command.
type Executor struct {
	Command            string   `toml:"command"`
	Args               []string `toml:"args"`
	PermanentExitCodes []int    `toml:"permanent_exit_codes"`
}

// Schedule starts a template against an asset on a cron expression.
type Schedule struct {
	Name     string `toml:"name"`
	Cron     string `toml:"cron"`
	Template string `toml:"template"`
	Asset    string `toml:"asset"`
}

// Config encapsulates all configuration values for mediaflow.
//
// Configuration sections by subsystem:
//   - Paths: state, log, and template directories plus API bind address
//   - Orchestrator: retry policy defaults, step timeout, dispatch limits
//   - Logging: log format and level
//   - Notifications: ntfy push notification settings
//   - Events: optional Redis pub/sub fan-out
//   - Transcode: output directory for the built-in transcode executor
//   - Executors: command-backed executor kinds
//   - Schedules: cron-triggered workflows
type Config struct {
	Paths         Paths               `toml:"paths"`
	Orchestrator  Orchestrator        `toml:"orchestrator"`
	Logging       Logging             `toml:"logging"`
	Notifications Notifications       `toml:"notifications"`
	Events        Events              `toml:"events"`
	Transcode     Transcode           `toml:"transcode"`
	Executors     map[string]Executor `toml:"executors"`
	Schedules     []Schedule          `toml:"schedules"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mediaflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediaflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The templates directory is optional and only created on a best-effort basis.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.TemplatesDir) != "" {
		_ = os.MkdirAll(c.Paths.TemplatesDir, 0o755)
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "mediaflow.db")
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "mediaflow.sock")
}

// LockPath returns the daemon single-instance lock location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "mediaflowd.lock")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "mediaflow.log")
}

// BaseDelay returns the default retry backoff base delay.
func (o Orchestrator) BaseDelay() time.Duration {
	return time.Duration(o.BaseDelayMillis) * time.Millisecond
}

// MaxDelay returns the retry backoff ceiling.
func (o Orchestrator) MaxDelay() time.Duration {
	return time.Duration(o.MaxDelaySeconds) * time.Second
}

// StepTimeout returns the default per-step timeout.
func (o Orchestrator) StepTimeout() time.Duration {
	return time.Duration(o.StepTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds how long the daemon waits for in-flight work on stop.
func (o Orchestrator) ShutdownTimeout() time.Duration {
	return time.Duration(o.ShutdownTimeoutSeconds) * time.Second
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
