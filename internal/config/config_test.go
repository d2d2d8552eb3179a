package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"mediaflow/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("MEDIAFLOW_API_TOKEN", "secret")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "mediaflow")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Paths.APIToken != "secret" {
		t.Fatalf("expected api token from env, got %q", cfg.Paths.APIToken)
	}
	if cfg.Orchestrator.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", cfg.Orchestrator.MaxAttempts)
	}
	if cfg.Orchestrator.BaseDelay() != 2*time.Second {
		t.Fatalf("unexpected base delay: %s", cfg.Orchestrator.BaseDelay())
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format: %q", cfg.Logging.Format)
	}
	if cfg.DatabasePath() != filepath.Join(wantState, "mediaflow.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
}

func TestLoadCustomConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")

	payload := map[string]any{
		"paths": map[string]any{
			"state_dir": filepath.Join(dir, "state"),
		},
		"orchestrator": map[string]any{
			"max_attempts":       5,
			"backoff_multiplier": 3.0,
			"dispatch_rate":      2.5,
		},
		"logging": map[string]any{
			"format": "JSON",
			"level":  "Debug",
		},
		"executors": map[string]any{
			"QC": map[string]any{
				"command":              "/bin/true",
				"permanent_exit_codes": []int{4, 2},
			},
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected custom path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Orchestrator.MaxAttempts != 5 || cfg.Orchestrator.BackoffMultiplier != 3.0 {
		t.Fatalf("unexpected orchestrator settings: %+v", cfg.Orchestrator)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging, got %+v", cfg.Logging)
	}
	if cfg.Paths.LogDir == "" {
		t.Fatal("expected log dir default")
	}
	exec, ok := cfg.Executors["qc"]
	if !ok {
		t.Fatalf("expected executor kind to be lower-cased, got %v", cfg.Executors)
	}
	if len(exec.PermanentExitCodes) != 2 || exec.PermanentExitCodes[0] != 2 {
		t.Fatalf("expected sorted exit codes, got %v", exec.PermanentExitCodes)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero attempts", func(c *config.Config) { c.Orchestrator.MaxAttempts = 0 }, "max_attempts"},
		{"base over max", func(c *config.Config) {
			c.Orchestrator.BaseDelayMillis = 10_000
			c.Orchestrator.MaxDelaySeconds = 1
		}, "base_delay_ms"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"executor without command", func(c *config.Config) {
			c.Executors = map[string]config.Executor{"qc": {}}
		}, "executors.qc.command"},
		{"bad cron", func(c *config.Config) {
			c.Schedules = []config.Schedule{{Name: "n", Cron: "not a cron", Template: "t", Asset: "a"}}
		}, "schedules[n].cron"},
		{"schedule without template", func(c *config.Config) {
			c.Schedules = []config.Schedule{{Name: "n", Cron: "@hourly", Asset: "a"}}
		}, "template must be set"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.StateDir = t.TempDir()
			cfg.Paths.LogDir = t.TempDir()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error to mention %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Notifications.RequestTimeout != 10 {
		t.Fatalf("unexpected notification timeout: %d", cfg.Notifications.RequestTimeout)
	}
}

func TestEnsureDirectoriesCreatesStateAndLogs(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.TemplatesDir = filepath.Join(base, "templates")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Paths.TemplatesDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
