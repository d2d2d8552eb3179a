package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeOrchestrator()
	c.normalizeLogging()
	c.normalizeNotifications()
	c.normalizeEvents()
	if err := c.normalizeTranscode(); err != nil {
		return err
	}
	c.normalizeExecutors()
	c.normalizeSchedules()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.TemplatesDir, err = expandPath(strings.TrimSpace(c.Paths.TemplatesDir)); err != nil {
		return fmt.Errorf("paths.templates_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("MEDIAFLOW_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeOrchestrator() {
	o := &c.Orchestrator
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.BaseDelayMillis < 0 {
		o.BaseDelayMillis = 0
	}
	if o.BackoffMultiplier < 1 {
		o.BackoffMultiplier = defaultBackoffMultiplier
	}
	if o.MaxDelaySeconds <= 0 {
		o.MaxDelaySeconds = defaultMaxDelaySeconds
	}
	if o.StepTimeoutSeconds <= 0 {
		o.StepTimeoutSeconds = defaultStepTimeoutSeconds
	}
	if o.MaxConcurrentSteps <= 0 {
		o.MaxConcurrentSteps = defaultMaxConcurrentSteps
	}
	if o.DispatchRate < 0 {
		o.DispatchRate = 0
	}
	if o.DispatchBurst <= 0 {
		o.DispatchBurst = defaultDispatchBurst
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	if o.ShutdownTimeoutSeconds <= 0 {
		o.ShutdownTimeoutSeconds = defaultShutdownTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeEvents() {
	c.Events.RedisAddr = strings.TrimSpace(c.Events.RedisAddr)
	c.Events.RedisChannel = strings.TrimSpace(c.Events.RedisChannel)
	if c.Events.RedisChannel == "" {
		c.Events.RedisChannel = defaultRedisChannel
	}
}

func (c *Config) normalizeTranscode() error {
	var err error
	if strings.TrimSpace(c.Transcode.OutputDir) == "" {
		c.Transcode.OutputDir = defaultTranscodeOutputDir
	}
	if c.Transcode.OutputDir, err = expandPath(c.Transcode.OutputDir); err != nil {
		return fmt.Errorf("transcode.output_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeExecutors() {
	if len(c.Executors) == 0 {
		return
	}
	normalized := make(map[string]Executor, len(c.Executors))
	for kind, exec := range c.Executors {
		key := strings.ToLower(strings.TrimSpace(kind))
		if key == "" {
			continue
		}
		exec.Command = strings.TrimSpace(exec.Command)
		sort.Ints(exec.PermanentExitCodes)
		normalized[key] = exec
	}
	c.Executors = normalized
}

func (c *Config) normalizeSchedules() {
	for i := range c.Schedules {
		s := &c.Schedules[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Cron = strings.TrimSpace(s.Cron)
		s.Template = strings.TrimSpace(s.Template)
		s.Asset = strings.TrimSpace(s.Asset)
		if s.Name == "" {
			s.Name = fmt.Sprintf("%s:%s", s.Template, s.Asset)
		}
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
