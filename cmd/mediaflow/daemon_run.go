package main

import (
	"github.com/spf13/cobra"

	"mediaflow/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if ctx.socketFlag != "" {
				cmd.PrintErrln("warning: --socket is ignored by the daemon; the socket lives in paths.state_dir")
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log records")
	return cmd
}
