package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediaflow/internal/ipc"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Start, inspect and control workflows",
	}
	workflowCmd.AddCommand(newWorkflowStartCommand(ctx))
	workflowCmd.AddCommand(newWorkflowListCommand(ctx))
	workflowCmd.AddCommand(newWorkflowShowCommand(ctx))
	for _, action := range []struct{ name, short string }{
		{"cancel", "Cancel a workflow (no-op when already finished)"},
		{"pause", "Stop dispatching new steps of a workflow"},
		{"resume", "Resume a paused workflow"},
		{"retry", "Start a new run of a failed or cancelled workflow"},
		{"archive", "Forget a finished workflow"},
	} {
		workflowCmd.AddCommand(newWorkflowControlCommand(ctx, action.name, action.short))
	}
	return workflowCmd
}

func newWorkflowStartCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "start <template> <asset>",
		Short: "Instantiate a template against an asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowStart(args[0], args[1])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Workflow)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Started workflow %s (%s on %s)\n", resp.Workflow.ID, resp.Workflow.TemplateID, resp.Workflow.AssetID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the workflow as JSON")
	return cmd
}

func newWorkflowListCommand(ctx *commandContext) *cobra.Command {
	var (
		asJSON   bool
		states   []string
		template string
		asset    string
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowList(ipc.WorkflowListRequest{States: states, Template: template, Asset: asset})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Workflows)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Workflows) == 0 {
					fmt.Fprintln(stdout, "No workflows")
					return nil
				}
				colorize := shouldColorize(stdout)
				rows := make([][]string, 0, len(resp.Workflows))
				for _, wf := range resp.Workflows {
					rows = append(rows, []string{
						shortID(wf.ID),
						wf.TemplateID,
						wf.AssetID,
						stateLabel(wf.State, colorize),
						fmt.Sprintf("%.0f%%", wf.Progress),
						formatAge(wf.CreatedAt),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Template", "Asset", "State", "Progress", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output workflows as JSON")
	cmd.Flags().StringSliceVarP(&states, "state", "s", nil, "Filter by state (repeatable)")
	cmd.Flags().StringVar(&template, "template", "", "Filter by template id")
	cmd.Flags().StringVar(&asset, "asset", "", "Filter by asset id")
	return cmd
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show workflow details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowShow(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Workflow)
				}
				renderWorkflow(cmd.OutOrStdout(), resp.Workflow, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the workflow as JSON")
	return cmd
}

func newWorkflowControlCommand(ctx *commandContext, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowControl(action, args[0])
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				switch {
				case action == "archive":
					fmt.Fprintf(stdout, "Archived workflow %s\n", args[0])
				case action == "retry" && resp.Workflow != nil:
					fmt.Fprintf(stdout, "Retrying as workflow %s\n", resp.Workflow.ID)
				case resp.Workflow != nil:
					fmt.Fprintf(stdout, "Workflow %s is %s\n", resp.Workflow.ID, stateLabel(resp.Workflow.State, false))
				}
				return nil
			})
		},
	}
}

func renderWorkflow(out io.Writer, wf ipc.Workflow, colorize bool) {
	fmt.Fprintf(out, "Workflow:  %s\n", wf.ID)
	template := wf.TemplateID
	if wf.TemplateName != "" && wf.TemplateName != wf.TemplateID {
		template = fmt.Sprintf("%s (%s)", wf.TemplateName, wf.TemplateID)
	}
	fmt.Fprintf(out, "Template:  %s\n", template)
	fmt.Fprintf(out, "Asset:     %s\n", wf.AssetID)
	fmt.Fprintf(out, "State:     %s\n", stateLabel(wf.State, colorize))
	fmt.Fprintf(out, "Progress:  %s\n", formatProgress(wf.Progress))
	if wf.Reason != "" {
		fmt.Fprintf(out, "Reason:    %s\n", wf.Reason)
	}
	if wf.RetryOf != "" {
		fmt.Fprintf(out, "Retry of:  %s\n", wf.RetryOf)
	}
	if len(wf.FailedSteps) > 0 {
		fmt.Fprintf(out, "Failed:    %s\n", strings.Join(wf.FailedSteps, ", "))
	}
	fmt.Fprintf(out, "Created:   %s\n", wf.CreatedAt)
	if wf.FinishedAt != "" {
		fmt.Fprintf(out, "Finished:  %s\n", wf.FinishedAt)
	}
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(wf.Steps))
	for _, step := range wf.Steps {
		detail := ""
		if step.Error != nil {
			detail = fmt.Sprintf("%s: %s", step.Error.Kind, step.Error.Message)
		} else if step.Discarded {
			detail = "discarded"
		}
		rows = append(rows, []string{
			step.ID,
			step.Kind,
			stateLabel(step.State, colorize),
			strconv.Itoa(step.Attempt),
			fmt.Sprintf("%.0f%%", step.Progress),
			strings.Join(step.DependsOn, ", "),
			detail,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Step", "Kind", "State", "Attempt", "Progress", "Depends On", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatAge(ts string) string {
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	age := time.Since(parsed)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return parsed.Local().Format("2006-01-02 15:04")
	}
}
