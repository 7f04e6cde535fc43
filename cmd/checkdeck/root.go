package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkdeck",
		Short: "Checkdeck - check pipelines for multi-unit repositories",
		Long: `Checkdeck runs a configured deck of checks against every unit in a
repository and aggregates the outcomes into a single report.

A unit is any directory carrying the configured manifest file (Cargo.toml by
default). Checks are external commands or forbidden-pattern scans, run either
once globally or once per unit, and the aggregated report renders to Markdown,
HTML, and JUnit XML.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	// Add subcommands
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newRenderCommand())
	cmd.AddCommand(newFixCommand())
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newCacheCommand())

	return cmd
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}
