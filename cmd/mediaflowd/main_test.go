package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCommandRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[orchestrator]\nmax_attempts = \"many\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", path})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected config load error, got %v", err)
	}
}

func TestRootCommandRejectsArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"extra"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected positional arguments to be rejected")
	}
}
