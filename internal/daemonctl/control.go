// Package daemonctl launches, stops and inspects the mediaflow daemon process
// on behalf of the CLI.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/ipc"
	"mediaflow/internal/preflight"
	"mediaflow/internal/store"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// Launch starts a detached daemon process by running "<exe> daemon".
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches and/or starts the daemon and returns the resulting state.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	launched := false
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	statusResp, statusErr := client.Status()
	if statusErr == nil && statusResp != nil && statusResp.Running {
		if launched {
			return StartResult{State: StartStateStarted, Launched: true}, nil
		}
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}
	if resp != nil {
		message := strings.TrimSpace(resp.Message)
		if resp.Started {
			return StartResult{State: StartStateStarted, Launched: launched, Message: message}, nil
		}
		if strings.EqualFold(message, "daemon already running") {
			return StartResult{State: StartStateAlreadyRunning, Launched: launched, Message: message}, nil
		}
		if message != "" {
			return StartResult{State: StartStateRequested, Launched: launched, Message: message}, nil
		}
	}
	return StartResult{State: StartStateRequested, Launched: launched, Message: "Start request sent"}, nil
}

// WaitForShutdown waits for daemon IPC to disappear.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if isDaemonUnavailable(err) {
				return nil
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		_ = client.Close()
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, statusErr := client.Status()
	if statusErr != nil {
		return true, 0, statusErr
	}
	return true, status.PID, nil
}

// SignalProcess sends sig to the daemon recorded in pidPath, falling back to
// fallbackPID when the file is missing.
func SignalProcess(pidPath string, fallbackPID int, sig syscall.Signal) (int, error) {
	pid := fallbackPID
	data, err := os.ReadFile(pidPath)
	if err == nil {
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(string(data))); parseErr == nil && parsed > 0 {
			pid = parsed
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return 0, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return pid, nil
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// StopAndTerminate asks the daemon to stop its workflows, then terminates the
// process with SIGTERM, escalating to SIGKILL after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	pid := 0
	stateDir := ""
	if statusResp, statusErr := client.Status(); statusErr == nil && statusResp != nil {
		pid = statusResp.PID
		if statusResp.LockFilePath != "" {
			stateDir = filepath.Dir(statusResp.LockFilePath)
		}
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid}
	if resp != nil {
		result.StopAcknowledged = resp.Stopped
	}

	if stateDir == "" && cfg != nil {
		stateDir = cfg.Paths.StateDir
	}
	pidPath := filepath.Join(stateDir, "mediaflowd.pid")
	if _, err := SignalProcess(pidPath, pid, syscall.SIGTERM); err != nil {
		return result, err
	}
	if WaitForShutdown(socketPath, gracePeriod) == nil {
		return result, nil
	}

	killed, err := SignalProcess(pidPath, pid, syscall.SIGKILL)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(pidPath)
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

// Snapshot is the daemon status as seen by the CLI. When the daemon is
// unreachable, workflow counts come from the state database.
type Snapshot struct {
	ipc.StatusResponse
	Reachable bool
}

// BuildStatusSnapshot collects daemon status and applies offline fallbacks.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			snap.StatusResponse = *resp
			snap.Reachable = true
		}
	}
	if snap.Reachable {
		return snap, nil
	}

	snap.DatabasePath = cfg.DatabasePath()
	snap.LockFilePath = cfg.LockPath()
	snap.SocketPath = socketPath
	snap.Workflows = map[string]int{}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, statErr := os.Stat(cfg.DatabasePath()); statErr == nil {
		if st, openErr := store.Open(cfg); openErr == nil {
			if counts, countErr := st.CountByState(queryCtx); countErr == nil {
				for state, n := range counts {
					snap.Workflows[string(state)] = n
				}
			}
			_ = st.Close()
		}
	}
	for _, dep := range preflight.CheckSystemDeps(cfg) {
		snap.Dependencies = append(snap.Dependencies, ipc.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	for _, r := range preflight.RunAll(queryCtx, cfg) {
		snap.Checks = append(snap.Checks, ipc.CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return snap, nil
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
