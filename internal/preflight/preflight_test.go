package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"mediaflow/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckNtfy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"healthy":true}`))
	}))
	defer srv.Close()

	if result := CheckNtfy(context.Background(), srv.URL+"/mediaflow-alerts"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckNtfy(context.Background(), "not a url"); result.Passed {
		t.Fatal("expected failure for invalid url")
	}
}

func TestCheckNtfy_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if result := CheckNtfy(context.Background(), srv.URL+"/topic"); result.Passed {
		t.Fatal("expected failure for 503")
	}
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	results := CheckBinaries([]Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank"},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.TemplatesDir = ""
	cfg.Transcode.OutputDir = t.TempDir()

	results := RunAll(context.Background(), &cfg)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d: %+v", len(results), results)
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_ReportsMissingExecutorCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.TemplatesDir = ""
	cfg.Transcode.OutputDir = ""
	cfg.Executors = map[string]config.Executor{"qc": {Command: "clearly-not-present-qc"}}

	failed := Failed(RunAll(context.Background(), &cfg))
	if len(failed) != 1 || failed[0].Name != "executor qc" {
		t.Fatalf("expected executor qc failure, got %+v", failed)
	}
}
