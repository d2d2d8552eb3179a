package daemonctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"mediaflow/internal/testsupport"
	"mediaflow/internal/workflow"
)

func TestProcessInfoWithoutDaemon(t *testing.T) {
	alive, pid, err := ProcessInfo(filepath.Join(t.TempDir(), "missing.sock"))
	if err != nil || alive || pid != 0 {
		t.Fatalf("expected unreachable daemon, got alive=%v pid=%d err=%v", alive, pid, err)
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := StopAndTerminate(filepath.Join(t.TempDir(), "missing.sock"), cfg, time.Second)
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestSignalProcessRefusesSelf(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "mediaflowd.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := SignalProcess(pidPath, 0, syscall.SIGTERM); err == nil {
		t.Fatal("expected refusal to signal the current process")
	}
	if _, err := SignalProcess(filepath.Join(t.TempDir(), "absent.pid"), 0, syscall.SIGTERM); err == nil {
		t.Fatal("expected error when no pid is known")
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	now := time.Now().UTC()
	rec := workflow.Instance{
		ID:         "wf-1",
		TemplateID: "tpl",
		AssetID:    "asset",
		State:      workflow.StateFailed,
		CreatedAt:  now,
		UpdatedAt:  now,
		Steps:      map[string]workflow.StepInstance{},
	}
	if err := st.SaveWorkflow(context.Background(), rec); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}

	snap, err := BuildStatusSnapshot(context.Background(), filepath.Join(t.TempDir(), "missing.sock"), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snap.Reachable || snap.Running {
		t.Fatal("offline snapshot should not report a running daemon")
	}
	if snap.Workflows[string(workflow.StateFailed)] != 1 {
		t.Fatalf("expected failed count from database, got %v", snap.Workflows)
	}
	if len(snap.Checks) == 0 {
		t.Fatal("expected preflight checks in offline snapshot")
	}
}
