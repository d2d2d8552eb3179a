package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediaflow/internal/daemonctl"
	"mediaflow/internal/ipc"
	"mediaflow/internal/workflow"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the mediaflow daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx, startLogLevel),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Message) != "" {
					fmt.Fprintln(stdout, result.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override the configured log level")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the mediaflow daemon (terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stopping workflows...")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Killed daemon process (pid %d)\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency and workflow status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, snap)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if snap.Running {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, "Running (pid "+strconv.Itoa(snap.PID)+")", colorize))
			} else if snap.Reachable {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, "Process up, workflows stopped", colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusInfo, "Not running", colorize))
			}
			if snap.APIAddress != "" {
				fmt.Fprintln(stdout, renderStatusLine("HTTP API", statusOK, snap.APIAddress, colorize))
			}
			fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, snap.DatabasePath, colorize))
			if snap.Reachable {
				fmt.Fprintln(stdout, renderStatusLine("Dispatch", statusInfo,
					fmt.Sprintf("%d/%d slots in use", snap.DispatchesInFlight, snap.MaxConcurrentSteps), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Templates", statusInfo, strconv.Itoa(snap.Templates), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Executors", statusInfo, strings.Join(snap.Executors, ", "), colorize))
			}
			for _, check := range snap.Checks {
				kind := statusOK
				if !check.Passed {
					kind = statusError
				}
				fmt.Fprintln(stdout, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range dependencyLines(snap.Dependencies, colorize) {
				fmt.Fprintln(stdout, line)
			}

			if len(snap.Schedules) > 0 {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Schedules", colorize) {
					fmt.Fprintln(stdout, line)
				}
				rows := make([][]string, 0, len(snap.Schedules))
				for _, s := range snap.Schedules {
					rows = append(rows, []string{s.Name, s.Cron, s.Template, s.Next})
				}
				fmt.Fprintln(stdout, renderTable([]string{"Name", "Cron", "Template", "Next"}, rows, nil))
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Workflows", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildWorkflowCountRows(snap.Workflows, colorize)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No workflows")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")

	var restartLogLevel string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the mediaflow daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			_, stopErr := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if stopErr != nil && !errors.Is(stopErr, daemonctl.ErrDaemonNotRunning) {
				return stopErr
			}
			if stopErr == nil {
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx, restartLogLevel), 10*time.Second)
			if err != nil {
				return err
			}
			if result.State == daemonctl.StartStateRequested && strings.TrimSpace(result.Message) != "" {
				fmt.Fprintln(stdout, result.Message)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}
	restartCmd.Flags().StringVar(&restartLogLevel, "log-level", "", "Override the configured log level")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func buildWorkflowCountRows(counts map[string]int, colorize bool) [][]string {
	rows := make([][]string, 0, len(counts))
	seen := make(map[string]bool, len(counts))
	for _, state := range workflow.States() {
		n, ok := counts[string(state)]
		seen[string(state)] = true
		if !ok || n == 0 {
			continue
		}
		rows = append(rows, []string{stateLabel(string(state), colorize), strconv.Itoa(n)})
	}
	var extra []string
	for state := range counts {
		if !seen[state] {
			extra = append(extra, state)
		}
	}
	sort.Strings(extra)
	for _, state := range extra {
		rows = append(rows, []string{stateLabel(state, colorize), strconv.Itoa(counts[state])})
	}
	return rows
}

func dependencyLines(deps []ipc.DependencyStatus, colorize bool) []string {
	if len(deps) == 0 {
		return []string{renderStatusLine("Binaries", statusOK, "None required", colorize)}
	}
	lines := make([]string, 0, len(deps)+1)
	missing := make([]string, 0)
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		missing = append(missing, dep.Name)
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, logLevel string) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		LogLevel:   strings.TrimSpace(logLevel),
	}
}
