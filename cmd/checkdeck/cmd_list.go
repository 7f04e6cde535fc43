package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/checkdeck/checkdeck/internal/discovery"
	"github.com/checkdeck/checkdeck/internal/models"
	"github.com/checkdeck/checkdeck/internal/utils"
	"github.com/checkdeck/checkdeck/internal/workspace"
)

func newListCommand() *cobra.Command {
	var unitsOnly, checksOnly bool

	cmd := &cobra.Command{
		Use:   "list [checkdeck.yaml]",
		Short: "List discovered units and configured checks",
		Long: `List the units a run would discover and the checks it would execute.

Units are directories under the spec's root that carry the configured
manifest file. The listing shows exactly what 'checkdeck run' would target,
without running anything.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, args, unitsOnly, checksOnly)
		},
	}

	cmd.Flags().BoolVar(&unitsOnly, "units", false, "List only discovered units")
	cmd.Flags().BoolVar(&checksOnly, "checks", false, "List only configured checks")

	return cmd
}

//nolint:errcheck // display command
func runList(cmd *cobra.Command, args []string, unitsOnly, checksOnly bool) error {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	specPath, err := workspace.Resolve(arg, wd)
	if err != nil {
		return err
	}

	spec, err := models.LoadSpec(specPath)
	if err != nil {
		return fmt.Errorf("failed to load spec: %w", err)
	}

	specDir, err := filepath.Abs(filepath.Dir(specPath))
	if err != nil {
		return fmt.Errorf("resolving spec directory: %w", err)
	}
	rootDir := utils.ResolvePath(spec.Root, specDir)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Pipeline: %s\n", spec.Name)

	if !checksOnly {
		units, err := discovery.Discover(rootDir, spec.Manifest)
		if err != nil {
			return fmt.Errorf("discovering units: %w", err)
		}

		fmt.Fprintf(w, "\nUnits (%d):\n", len(units))
		if len(units) == 0 {
			fmt.Fprintf(w, "  (no %s manifests found under %s)\n", spec.Manifest, rootDir)
		}
		width := 0
		for _, u := range units {
			if len(u.Name) > width {
				width = len(u.Name)
			}
		}
		for _, u := range units {
			rel, err := filepath.Rel(rootDir, u.Dir)
			if err != nil {
				rel = u.Dir
			}
			fmt.Fprintf(w, "  %s  %s\n", padRight(u.Name, width), rel)
		}
	}

	if !unitsOnly {
		fmt.Fprintf(w, "\nChecks (%d):\n", len(spec.Checks))
		width := 0
		for _, info := range spec.CheckInfos() {
			if len(info.Name) > width {
				width = len(info.Name)
			}
		}
		for _, info := range spec.CheckInfos() {
			role := "required"
			if info.Advisory {
				role = "advisory"
			}
			fmt.Fprintf(w, "  %s  %-8s %-8s %s\n", padRight(info.Name, width), info.Kind, info.Scope, role)
		}

		if len(spec.Fixes) > 0 {
			fmt.Fprintf(w, "\nFixes (%d):\n", len(spec.Fixes))
			for _, fix := range spec.Fixes {
				fmt.Fprintf(w, "  %s  %s\n", fix.Name, fix.Command)
			}
		}
	}

	return nil
}
