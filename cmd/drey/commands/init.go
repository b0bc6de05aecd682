package commands

import (
	"fmt"
	"path/filepath"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/scaffold"
	"github.com/spf13/cobra"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	var (
		projectID string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new drey project",
		Long: `Initialize a drey project with a default configuration.

Creates:
  • drey.yml - Project configuration file (next to --config)
  • .drey/   - Local state directory for the file, sqlite and pebble stores

The project id may also come from DREY_PROJECT_ID.

Use --force to replace an existing drey.yml. Queued events are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := filepath.Dir(root.configPath)
			if filepath.Base(root.configPath) != config.DefaultFile {
				return printer.Error(
					"unsupported config file name",
					fmt.Sprintf("drey init always writes %s, got --config %s", config.DefaultFile, root.configPath),
					[]string{fmt.Sprintf("Point --config at a %s path", config.DefaultFile)},
				)
			}

			if !force {
				if err := scaffold.CheckExisting(dir); err != nil {
					return printer.Error("project already initialized", err.Error(), nil)
				}
			}

			if projectID == "" {
				projectID = lookupEnv(config.EnvProjectID)
			}
			if projectID == "" {
				return printer.Error(
					"project id is required",
					"drey init needs the project events are uploaded to.",
					[]string{
						"Pass it as a flag:\n  drey init --project <project-id>",
						fmt.Sprintf("Or export it:\n  export %s=<project-id>", config.EnvProjectID),
					},
				)
			}

			if err := scaffold.Initialize(dir, projectID, force); err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}

			scaffold.PrintSuccess(printer.Out)
			return nil
		},
	}

	// Note: no -f shorthand, it would read as a file flag next to --config
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project id to write into drey.yml")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing drey.yml")

	return cmd
}
