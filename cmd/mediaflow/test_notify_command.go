package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mediaflow/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured ntfy topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp *ipc.TestNotificationResponse
			err := ctx.withClient(func(client *ipc.Client) error {
				var err error
				resp, err = client.TestNotification()
				return err
			})
			if err != nil {
				return err
			}
			message := resp.Message
			if message == "" && resp.Sent {
				message = "Test notification sent"
			}
			if message == "" {
				message = "Notification not sent"
			}
			fmt.Fprintln(cmd.OutOrStdout(), message)
			if strict && !resp.Sent {
				return errors.New("test notification was not delivered")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when no notification was delivered")
	return cmd
}
