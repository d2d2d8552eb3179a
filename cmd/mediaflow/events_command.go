package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mediaflow/internal/events"
	"mediaflow/internal/ipc"
)

const eventsPageSize = 200

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var (
		since    uint64
		follow   bool
		workflow string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print workflow events from the daemon's buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				stdout := cmd.OutOrStdout()
				cursor := since
				for {
					resp, err := client.Events(ipc.EventsRequest{Since: cursor, Limit: eventsPageSize, Wait: follow})
					if err != nil {
						return err
					}
					if resp.Missed > 0 && cursor > 0 {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d events after #%d were evicted from the daemon buffer\n", resp.Missed, cursor)
					}
					for _, evt := range resp.Events {
						if workflow != "" && !strings.HasPrefix(evt.WorkflowID, workflow) {
							continue
						}
						if err := printEvent(stdout, evt, asJSON); err != nil {
							return err
						}
					}
					if resp.Next > cursor {
						cursor = resp.Next
					}
					if !follow && len(resp.Events) < eventsPageSize {
						return nil
					}
					if err := cmd.Context().Err(); err != nil {
						return nil
					}
				}
			})
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "Only show events after this sequence number")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep waiting for new events")
	cmd.Flags().StringVarP(&workflow, "workflow", "w", "", "Only show events for this workflow id (prefix match)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per event")
	return cmd
}

func printEvent(out io.Writer, evt events.Event, asJSON bool) error {
	if asJSON {
		return writeJSONLine(out, evt)
	}
	subject := shortID(evt.WorkflowID)
	if evt.StepID != "" {
		subject += "/" + evt.StepID
	}
	line := fmt.Sprintf("%6d %s %-24s %s", evt.Sequence, evt.Timestamp.Local().Format("15:04:05"), evt.Type, subject)
	if evt.From != "" || evt.To != "" {
		line += fmt.Sprintf(" %s -> %s", evt.From, evt.To)
	}
	if evt.Attempt > 0 {
		line += fmt.Sprintf(" (attempt %d)", evt.Attempt)
	}
	line += " " + formatProgress(evt.Progress)
	if evt.Error != nil {
		line += fmt.Sprintf(" [%s] %s", evt.Error.Kind, evt.Error.Message)
	} else if evt.Reason != "" {
		line += " " + evt.Reason
	}
	_, err := fmt.Fprintln(out, line)
	return err
}
