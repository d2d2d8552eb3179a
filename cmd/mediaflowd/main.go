// Command mediaflowd runs the mediaflow daemon in the foreground. It is the
// same process `mediaflow start` launches in the background, packaged for
// service managers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mediaflow/internal/config"
	"mediaflow/internal/daemonrun"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath  string
		logLevel    string
		development bool
	)
	cmd := &cobra.Command{
		Use:           "mediaflowd",
		Short:         "Run the mediaflow daemon in the foreground",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "dev", false, "Enable development logging")
	return cmd
}
