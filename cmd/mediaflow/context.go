package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"mediaflow/internal/config"
	"mediaflow/internal/ipc"
)

// commandContext carries the global flags and the lazily loaded config shared
// by every subcommand.
type commandContext struct {
	socketFlag string
	configFlag string

	loadOnce sync.Once
	cfg      *config.Config
	cfgErr   error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.loadOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err == nil {
			err = cfg.EnsureDirectories()
		}
		c.cfg, c.cfgErr = cfg, err
	})
	if c.cfgErr != nil {
		return nil, c.cfgErr
	}
	return c.cfg, nil
}

func (c *commandContext) configPath() string {
	return strings.TrimSpace(c.configFlag)
}

// configValue returns the loaded config or nil when it failed to load.
func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// socketPath prefers --socket, then the configured state dir, then the
// default config's state dir.
func (c *commandContext) socketPath() string {
	if socket := strings.TrimSpace(c.socketFlag); socket != "" {
		return socket
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.SocketPath()
	}
	fallback := config.Default()
	if dir, err := config.ExpandPath(fallback.Paths.StateDir); err == nil {
		fallback.Paths.StateDir = dir
	}
	return fallback.SocketPath()
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return describeDialError(err, socket)
	}
	defer client.Close()
	return fn(client)
}

func describeDialError(err error, socket string) error {
	var hint string
	switch {
	case errors.Is(err, syscall.ENOENT), errors.Is(err, os.ErrNotExist):
		hint = "no daemon socket; run `mediaflow start`"
	case errors.Is(err, syscall.ECONNREFUSED):
		hint = "connection refused; the daemon may have exited, check `mediaflow status`"
	case errors.Is(err, syscall.EACCES):
		hint = "permission denied; run as the daemon's user"
	default:
		return fmt.Errorf("connect to daemon at %s: %w", socket, err)
	}
	return fmt.Errorf("connect to daemon at %s: %s", socket, hint)
}

func skipsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
