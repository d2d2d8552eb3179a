package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateOrchestrator(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateExecutors(); err != nil {
		return err
	}
	if err := c.validateSchedules(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateOrchestrator() error {
	o := c.Orchestrator
	if o.MaxAttempts < 1 {
		return errors.New("orchestrator.max_attempts must be at least 1")
	}
	if o.BackoffMultiplier < 1 {
		return errors.New("orchestrator.backoff_multiplier must be >= 1")
	}
	if o.BaseDelay() > o.MaxDelay() {
		return fmt.Errorf("orchestrator.base_delay_ms (%d) exceeds max_delay_seconds (%d)", o.BaseDelayMillis, o.MaxDelaySeconds)
	}
	if o.DispatchRate > 0 && o.DispatchBurst < 1 {
		return errors.New("orchestrator.dispatch_burst must be positive when dispatch_rate is set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func (c *Config) validateExecutors() error {
	for kind, exec := range c.Executors {
		if exec.Command == "" {
			return fmt.Errorf("executors.%s.command must be set", kind)
		}
		for _, code := range exec.PermanentExitCodes {
			if code <= 0 || code > 255 {
				return fmt.Errorf("executors.%s.permanent_exit_codes: %d out of range", kind, code)
			}
		}
	}
	return nil
}

func (c *Config) validateSchedules() error {
	seen := make(map[string]struct{}, len(c.Schedules))
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for _, s := range c.Schedules {
		if s.Template == "" {
			return fmt.Errorf("schedules[%s].template must be set", s.Name)
		}
		if s.Asset == "" {
			return fmt.Errorf("schedules[%s].asset must be set", s.Name)
		}
		if _, err := parser.Parse(s.Cron); err != nil {
			return fmt.Errorf("schedules[%s].cron: %w", s.Name, err)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("schedules: duplicate name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}
