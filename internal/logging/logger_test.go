package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediaflow/internal/services"
)

func TestPrettyHandlerRendersSubjectAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl, false, false))

	logger.With(String(FieldComponent, "orchestrator")).Info("step dispatched",
		String(FieldWorkflowID, "0123456789abcdef"),
		String(FieldStepID, "transcode"),
		Int(FieldAttempt, 2),
		String("note", "two words"),
	)

	line := buf.String()
	for _, want := range []string{"INFO [orchestrator] wf 01234567 · transcode - step dispatched", "attempt=2", `note="two words"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "workflow_id=") {
		t.Fatalf("workflow id should be promoted into subject: %q", line)
	}
}

func TestPrettyHandlerRespectsLevelAndColor(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newPrettyHandler(&buf, lvl, false, true))

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
	logger.Error("boom", Error(errors.New("bad thing")))
	line := buf.String()
	if !strings.Contains(line, ansiRed+"ERROR"+ansiReset) {
		t.Fatalf("expected colored level, got %q", line)
	}
	if !strings.Contains(line, `error="bad thing"`) {
		t.Fatalf("expected quoted error, got %q", line)
	}
}

func TestPrettyHandlerFlattensGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newPrettyHandler(&buf, new(slog.LevelVar), false, false))
	logger.WithGroup("retry").Info("scheduled", Int("attempt", 1), Group("backoff", String("delay", "2s")))
	line := buf.String()
	if !strings.Contains(line, "retry.attempt=1") || !strings.Contains(line, "retry.backoff.delay=2s") {
		t.Fatalf("expected flattened group keys, got %q", line)
	}
}

func TestNewWithFileTeesJSON(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "nested", "mediaflow.log")
	outPath := filepath.Join(dir, "console.log")

	logger, err := New(Options{Level: "debug", Format: "console", OutputPaths: []string{outPath}, FilePath: logPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("hello", String(FieldTemplateID, "broadcast-standard"))

	console, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read console output: %v", err)
	}
	if !strings.Contains(string(console), "hello") {
		t.Fatalf("console output missing message: %q", console)
	}
	if strings.Contains(string(console), "\x1b[") {
		t.Fatalf("file outputs must not be colored: %q", console)
	}

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read json log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &entry); err != nil {
		t.Fatalf("json log line invalid: %v (%q)", err, raw)
	}
	if entry["template_id"] != "broadcast-standard" {
		t.Fatalf("expected template_id in json entry, got %v", entry)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsWorkflowFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := services.WithWorkflowID(context.Background(), "wf-1")
	ctx = services.WithStepID(ctx, "qc")
	ctx = services.WithAssetID(ctx, "asset-9")

	WithContext(ctx, base).Info("ctx")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[FieldWorkflowID] != "wf-1" || entry[FieldStepID] != "qc" || entry[FieldAssetID] != "asset-9" {
		t.Fatalf("missing context fields: %v", entry)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	WarnWithContext(logger, "retry exhausted", "step_retry_exhausted", String(FieldErrorHint, "inspect executor output"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[FieldEventType] != "step_retry_exhausted" {
		t.Fatalf("unexpected event type: %v", entry[FieldEventType])
	}
	if entry[FieldErrorHint] != "inspect executor output" {
		t.Fatalf("explicit hint should be kept: %v", entry[FieldErrorHint])
	}
	if entry[FieldImpact] == nil {
		t.Fatal("expected default impact")
	}
}
