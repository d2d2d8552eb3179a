// Package daemonrun wires the mediaflow daemon process: logging, the state
// store, the daemon itself and its IPC socket.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"mediaflow/internal/config"
	"mediaflow/internal/daemon"
	"mediaflow/internal/ipc"
	"mediaflow/internal/logging"
	"mediaflow/internal/preflight"
	"mediaflow/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the mediaflow daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		FilePath:    cfg.LogPath(),
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.StateDir, "mediaflowd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open state store", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration, templates and database access"),
			logging.String(logging.FieldImpact, "workflows will not run until the daemon is started"),
		)
	}

	<-signalCtx.Done()
	logger.Info("mediaflow daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []any{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, dep := range preflight.CheckSystemDeps(cfg) {
		attrs = append(attrs, logging.Bool(strings.ReplaceAll(strings.ToLower(dep.Name), " ", "_")+"_available", dep.Available))
	}
	attrs = append(attrs,
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("redis_configured", strings.TrimSpace(cfg.Events.RedisAddr) != ""),
		logging.Int("schedules", len(cfg.Schedules)),
	)
	logger.Info("dependency snapshot", attrs...)
}
