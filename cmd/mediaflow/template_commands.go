package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediaflow/internal/ipc"
	"mediaflow/internal/template"
)

func newTemplateCommand(ctx *commandContext) *cobra.Command {
	templateCmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"templates", "tpl"},
		Short:   "Inspect and register workflow templates",
	}
	templateCmd.AddCommand(newTemplateListCommand(ctx))
	templateCmd.AddCommand(newTemplateShowCommand(ctx))
	templateCmd.AddCommand(newTemplateRegisterCommand(ctx))
	return templateCmd
}

func newTemplateListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TemplateList()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Templates)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Templates) == 0 {
					fmt.Fprintln(stdout, "No templates registered")
					return nil
				}
				rows := make([][]string, 0, len(resp.Templates))
				for _, tpl := range resp.Templates {
					estimate := "-"
					if tpl.EstimatedMinutes > 0 {
						estimate = fmt.Sprintf("%dm", tpl.EstimatedMinutes)
					}
					rows = append(rows, []string{
						tpl.ID,
						tpl.Name,
						tpl.Category,
						strconv.Itoa(tpl.Steps),
						estimate,
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Name", "Category", "Steps", "Estimate"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output templates as JSON")
	return cmd
}

func newTemplateShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a template definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TemplateShow(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Template)
				}
				renderTemplate(cmd.OutOrStdout(), resp.Template)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the template definition as JSON")
	return cmd
}

func newTemplateRegisterCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "register <file>",
		Short: "Validate and register a template from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl, err := template.LoadFile(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TemplateRegister(tpl)
				if err != nil {
					return err
				}
				verb := "Updated"
				if resp.Created {
					verb = "Registered"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s template %s (%d steps)\n", verb, resp.Template.ID, resp.Template.Steps)
				return nil
			})
		},
	}
}

func renderTemplate(out io.Writer, tpl template.Template) {
	fmt.Fprintf(out, "Template:  %s\n", tpl.ID)
	if tpl.Name != "" {
		fmt.Fprintf(out, "Name:      %s\n", tpl.Name)
	}
	if tpl.Description != "" {
		fmt.Fprintf(out, "About:     %s\n", tpl.Description)
	}
	if tpl.Category != "" {
		fmt.Fprintf(out, "Category:  %s\n", tpl.Category)
	}
	if tpl.EstimatedMinutes > 0 {
		fmt.Fprintf(out, "Estimate:  %dm\n", tpl.EstimatedMinutes)
	}
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(tpl.Steps))
	for _, step := range tpl.Steps {
		weight := step.Weight
		if weight <= 0 {
			weight = 1
		}
		rows = append(rows, []string{
			step.ID,
			step.Kind,
			strings.Join(step.DependsOn, ", "),
			strconv.FormatFloat(weight, 'g', -1, 64),
			yesNo(step.Skippable),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Step", "Kind", "Depends On", "Weight", "Skippable"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}
