package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/checkdeck/checkdeck/internal/discovery"
	"github.com/checkdeck/checkdeck/internal/invoke"
	"github.com/checkdeck/checkdeck/internal/models"
	"github.com/checkdeck/checkdeck/internal/patch"
	"github.com/checkdeck/checkdeck/internal/spinner"
	"github.com/checkdeck/checkdeck/internal/utils"
	"github.com/checkdeck/checkdeck/internal/workspace"
)

func newFixCommand() *cobra.Command {
	var outputDir string
	var fixPatterns []string
	var unitPatterns []string
	var timeout int

	cmd := &cobra.Command{
		Use:   "fix [checkdeck.yaml]",
		Short: "Generate fix patches without touching the working tree",
		Long: `Run the spec's fix commands and capture their effect as patches.

Each fix runs against a scratch copy of every unit, never against the
working tree itself. Whatever the fix changed is written as a reviewable
unified diff under <output-dir>/units/<unit>/<fix>.patch, to be applied
with 'git apply' when wanted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFix(cmd, args, outputDir, fixPatterns, unitPatterns, timeout)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Output directory for patches (default: spec's output_dir)")
	cmd.Flags().StringArrayVar(&fixPatterns, "fix", nil, "Filter fixes by name glob pattern (can be repeated)")
	cmd.Flags().StringArrayVar(&unitPatterns, "unit", nil, "Filter units by name glob pattern (can be repeated)")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Per-fix timeout in seconds (overrides spec config)")

	return cmd
}

// fixOutcome pairs one (fix, unit) generation with its result.
type fixOutcome struct {
	fix    string
	unit   string
	result *patch.Result
	err    error
}

func runFix(cmd *cobra.Command, args []string, outputDir string, fixPatterns, unitPatterns []string, timeout int) error {
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
	if len(spec.Fixes) == 0 {
		return fmt.Errorf("%s defines no fixes", specPath)
	}
	if timeout > 0 {
		spec.TimeoutSec = timeout
	}

	fixes, err := filterFixes(spec.Fixes, fixPatterns)
	if err != nil {
		return err
	}
	if len(fixes) == 0 {
		return fmt.Errorf("no fixes match the given filters")
	}

	specDir, err := filepath.Abs(filepath.Dir(specPath))
	if err != nil {
		return fmt.Errorf("resolving spec directory: %w", err)
	}
	rootDir := utils.ResolvePath(spec.Root, specDir)

	outDir := outputDir
	if outDir == "" {
		outDir = spec.OutputDir
	}
	outDir = utils.ResolvePath(outDir, specDir)

	units, err := discovery.Discover(rootDir, spec.Manifest)
	if err != nil {
		return fmt.Errorf("discovering units: %w", err)
	}
	units, err = discovery.Filter(units, unitPatterns)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		return fmt.Errorf("no units to fix under %s", rootDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen := patch.NewGenerator(invoke.NewExec(), time.Duration(spec.TimeoutSec)*time.Second)

	sp := spinner.Start(os.Stderr, "Generating patches...")
	var outcomes []fixOutcome
	cancelled := false

	for _, unit := range units {
		artifactDir := filepath.Join(outDir, "units", unit.Name)
		if err := os.MkdirAll(artifactDir, 0o755); err != nil {
			sp.Stop()
			return fmt.Errorf("creating %s: %w", artifactDir, err)
		}
		for _, fix := range fixes {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			sp.SetMessage(fmt.Sprintf("Generating %s [%s]...", fix.Name, unit.Name))
			result, err := gen.Generate(ctx, fix, unit.Name, unit.Dir, artifactDir)
			outcomes = append(outcomes, fixOutcome{fix: fix.Name, unit: unit.Name, result: result, err: err})
		}
		if cancelled {
			break
		}
	}
	sp.Stop()

	w := cmd.OutOrStdout()
	patches := 0
	for _, oc := range outcomes {
		label := fmt.Sprintf("%s [%s]", oc.fix, oc.unit)
		switch {
		case oc.err != nil && errors.Is(oc.err, invoke.ErrToolUnavailable):
			fmt.Fprintf(w, "- %s: skipped (%v)\n", label, oc.err) //nolint:errcheck
		case oc.err != nil && errors.Is(oc.err, context.Canceled):
			cancelled = true
		case oc.err != nil:
			return fmt.Errorf("fix %s on %s: %w", oc.fix, oc.unit, oc.err)
		case oc.result.PatchPath != "":
			patches++
			fmt.Fprintf(w, "✎ %s: %d file(s) differ → %s\n", label, len(oc.result.Changed), oc.result.PatchPath) //nolint:errcheck
		default:
			fmt.Fprintf(w, "✓ %s: no changes\n", label) //nolint:errcheck
		}
	}

	if cancelled {
		fmt.Fprintln(w, "\nFix generation cancelled") //nolint:errcheck
		return ctx.Err()
	}

	fmt.Fprintf(w, "\n%d patch(es) written to %s\n", patches, outDir) //nolint:errcheck
	if patches > 0 {
		fmt.Fprintf(w, "Review and apply with: git apply <patch>\n") //nolint:errcheck
	}
	return nil
}

// filterFixes returns the fixes whose name matches at least one pattern.
// An empty patterns slice returns all fixes unchanged.
func filterFixes(fixes []models.FixDef, patterns []string) ([]models.FixDef, error) {
	if len(patterns) == 0 {
		return fixes, nil
	}
	var matched []models.FixDef
	for _, fix := range fixes {
		for _, p := range patterns {
			ok, err := filepath.Match(p, fix.Name)
			if err != nil {
				return nil, fmt.Errorf("invalid fix filter pattern %q: %w", p, err)
			}
			if ok {
				matched = append(matched, fix)
				break
			}
		}
	}
	return matched, nil
}
