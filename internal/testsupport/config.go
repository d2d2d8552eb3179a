package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"mediaflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry delays are shortened so failing workflows settle quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.TemplatesDir = filepath.Join(base, "templates")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Transcode.OutputDir = filepath.Join(base, "output")
	cfgVal.Orchestrator.BaseDelayMillis = 1
	cfgVal.Orchestrator.MaxDelaySeconds = 1
	cfgVal.Orchestrator.StepTimeoutSeconds = 30
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithCommandExecutor binds kind to a command-backed executor.
func WithCommandExecutor(kind, command string, args ...string) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Executors == nil {
			b.cfg.Executors = make(map[string]config.Executor)
		}
		b.cfg.Executors[kind] = config.Executor{Command: command, Args: args}
	}
}

// WithTemplateFile writes a template definition into the templates directory.
func WithTemplateFile(name, body string) ConfigOption {
	return func(b *configBuilder) {
		dir := b.cfg.Paths.TemplatesDir
		if err := os.MkdirAll(dir, 0o755); err != nil {
			b.t.Fatalf("mkdir templates dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			b.t.Fatalf("write template %s: %v", name, err)
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
