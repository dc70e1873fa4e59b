package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/neural-garage/tools/pkg/config"
)

func initCmd() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Create a bury.toml configuration file with the defaults",
		ArgsUsage: "[path]",
		Description: `Creates a bury.toml configuration file in the project directory with
the default settings. Use --output to choose another location.

Examples:
  bury init                     # Creates bury.toml in the current directory
  bury init -o .bury/bury.toml  # Creates the config in the .bury directory
  bury init --library           # Defaults for a library: public API is live
  bury init --force             # Overwrite an existing config file`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Value:   config.DefaultFileName,
				Usage:   "Output file path, relative to the project directory",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite existing config file",
			},
			&cli.BoolFlag{
				Name:  "library",
				Usage: "Mark the project as a library",
			},
		},
		Action: runInitCmd,
	}
}

func runInitCmd(c *cli.Context) error {
	root := getPath(c)
	outputPath := c.String("output")
	if !filepath.IsAbs(outputPath) {
		outputPath = filepath.Join(root, outputPath)
	}

	if _, err := os.Stat(outputPath); err == nil && !c.Bool("force") {
		return fmt.Errorf("config file %q already exists (use --force to overwrite)", outputPath)
	}

	cfg := config.DefaultConfig()
	cfg.Project.Name = cfg.ProjectName(root)
	cfg.Project.Library = c.Bool("library")

	if err := config.Write(outputPath, cfg); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	color.New(color.FgGreen).Fprintf(c.App.Writer, "Created %s\n", outputPath)
	fmt.Fprintln(c.App.Writer, "Edit this file to customize analysis settings.")
	return nil
}
