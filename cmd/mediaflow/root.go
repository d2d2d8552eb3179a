package main

import (
	"github.com/spf13/cobra"
)

const (
	groupDaemon    = "daemon"
	groupWorkflows = "workflows"
	groupTools     = "tools"
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "mediaflow",
		Short:         "Run and inspect media processing workflows",
		Long:          "mediaflow drives template-based media pipelines (ingest, QC, transcode, review, delivery) through the mediaflow daemon.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipsConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
	}
	rootCmd.PersistentFlags().StringVar(&ctx.socketFlag, "socket", "", "Path to the mediaflow daemon socket")
	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupDaemon, Title: "Daemon:"},
		&cobra.Group{ID: groupWorkflows, Title: "Workflows:"},
		&cobra.Group{ID: groupTools, Title: "Tools:"},
	)
	add := func(group string, cmds ...*cobra.Command) {
		for _, c := range cmds {
			c.GroupID = group
			rootCmd.AddCommand(c)
		}
	}
	add(groupDaemon, newDaemonCommands(ctx)...)
	add(groupWorkflows,
		newWorkflowCommand(ctx),
		newTemplateCommand(ctx),
		newEventsCommand(ctx),
	)
	add(groupTools,
		newLogsCommand(ctx),
		newTestNotifyCommand(ctx),
		newConfigCommand(ctx),
	)
	rootCmd.AddCommand(newDaemonRunCommand(ctx))

	return rootCmd
}
