package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mediaflow/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		filter logs.Filter
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.LogPath()
			out := cmd.OutOrStdout()
			runCtx := cmd.Context()

			opts := logs.TailOptions{Offset: -1, Limit: lines}
			for {
				result, err := logs.Tail(runCtx, path, opts)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				for _, line := range filter.Apply(result.Lines) {
					fmt.Fprintln(out, line)
				}
				if !follow {
					return nil
				}
				opts = logs.TailOptions{Offset: result.Offset, Follow: true, Wait: 5 * time.Second}
				if runCtx.Err() != nil {
					return nil
				}
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level to show (debug, info, warn, error)")
	cmd.Flags().StringVarP(&filter.WorkflowID, "workflow", "w", "", "Only show records for this workflow id (prefix match)")
	cmd.Flags().StringVar(&filter.StepID, "step", "", "Only show records for this step id")
	cmd.Flags().StringVar(&filter.Component, "component", "", "Only show records from this component (prefix match)")
	return cmd
}
