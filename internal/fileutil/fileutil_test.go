package fileutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mkv")
	payload := make([]byte, 200*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := os.WriteFile(src, payload, 0o640); err != nil {
		t.Fatalf("write source: %v", err)
	}

	var last float64
	dst := filepath.Join(dir, "out", "dst.mkv")
	res, err := CopyVerified(context.Background(), src, dst, func(f float64) { last = f })
	if err != nil {
		t.Fatalf("CopyVerified: %v", err)
	}
	if res.Bytes != int64(len(payload)) {
		t.Fatalf("expected %d bytes, got %d", len(payload), res.Bytes)
	}
	if last != 1 {
		t.Fatalf("expected final progress 1, got %v", last)
	}
	want, err := FileSHA256(src)
	if err != nil {
		t.Fatalf("FileSHA256: %v", err)
	}
	if res.SHA256 != want {
		t.Fatalf("digest mismatch: %s vs %s", res.SHA256, want)
	}
	got, err := os.ReadFile(dst)
	if err != nil || len(got) != len(payload) {
		t.Fatalf("destination not written correctly: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestCopyVerifiedCancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dst := filepath.Join(dir, "dst")
	if _, err := CopyVerified(ctx, src, dst, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatal("destination should not exist after cancellation")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestCopyVerifiedRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := CopyVerified(context.Background(), dir, filepath.Join(dir, "x"), nil); err == nil {
		t.Fatal("expected error for directory source")
	}
}
