package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"mediaflow/internal/config"
	"mediaflow/internal/template"
)

var noConfigLoad = map[string]string{"skipConfigLoad": "true"}

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:         "config",
		Short:       "Create, locate and validate the configuration file",
		Annotations: noConfigLoad,
	}
	configCmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx), newConfigPathCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented sample configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := configTarget(targetPath)
			if err != nil {
				return err
			}
			_, statErr := os.Stat(target)
			switch {
			case statErr == nil && !overwrite:
				return fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
			case statErr != nil && !errors.Is(statErr, os.ErrNotExist):
				return fmt.Errorf("check config path: %w", statErr)
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Drop template JSON files into paths.templates_dir and run `mediaflow start`.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func configTarget(flagValue string) (string, error) {
	if path := strings.TrimSpace(flagValue); path != "" {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return "", fmt.Errorf("resolve config path: %w", err)
		}
		return filepath.Clean(expanded), nil
	}
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("determine default config path: %w", err)
	}
	return path, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and every template in paths.templates_dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			source := path
			if !exists {
				source = "built-in defaults (no file at " + path + ")"
			}
			fmt.Fprintf(out, "Config path: %s\n", source)
			if dir := strings.TrimSpace(cfg.Paths.TemplatesDir); dir != "" {
				templates, err := template.LoadDir(dir)
				if err != nil {
					return fmt.Errorf("templates: %w", err)
				}
				fmt.Fprintf(out, "Templates in %s: %d\n", dir, len(templates))
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigPathCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file and state locations in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:    %s (exists: %s)\n", path, yesNo(exists))
			fmt.Fprintf(out, "database:  %s\n", cfg.DatabasePath())
			fmt.Fprintf(out, "socket:    %s\n", cfg.SocketPath())
			fmt.Fprintf(out, "log:       %s\n", cfg.LogPath())
			fmt.Fprintf(out, "templates: %s\n", cfg.Paths.TemplatesDir)
			return nil
		},
	}
}
