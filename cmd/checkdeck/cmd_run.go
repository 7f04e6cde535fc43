package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/checkdeck/checkdeck/internal/bundle"
	"github.com/checkdeck/checkdeck/internal/cache"
	"github.com/checkdeck/checkdeck/internal/invoke"
	"github.com/checkdeck/checkdeck/internal/models"
	"github.com/checkdeck/checkdeck/internal/orchestration"
	"github.com/checkdeck/checkdeck/internal/publish"
	"github.com/checkdeck/checkdeck/internal/reporting"
	"github.com/checkdeck/checkdeck/internal/spinner"
	"github.com/checkdeck/checkdeck/internal/utils"
	"github.com/checkdeck/checkdeck/internal/workspace"
)

var (
	runOutputDir  string
	runFormats    []string
	verbose       bool
	checkFilters  []string
	unitFilters   []string
	workers       int
	sequential    bool
	timeoutSec    int
	interpret     bool
	enableCache   bool
	disableCache  bool
	runCacheDir   string
	bundleDest    string
	publishTarget string
	failOnSkipped bool
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [checkdeck.yaml]",
		Short: "Run the check pipeline",
		Long: `Run the check pipeline described by a spec file.

With no argument the spec is located by searching the working directory and
its parents for checkdeck.yaml. Units are discovered under the spec's root,
every check runs against its targets, and the aggregated report is saved as
report.json in the output directory alongside the rendered formats.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCommandE,
	}

	cmd.Flags().StringVarP(&runOutputDir, "output-dir", "o", "", "Output directory for reports and artifacts (default: spec's output_dir)")
	cmd.Flags().StringArrayVarP(&runFormats, "format", "f", nil, "Report format: md, html, junit (can be repeated; default: md)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output with detailed progress")
	cmd.Flags().StringArrayVar(&checkFilters, "check", nil, "Filter checks by name glob pattern (can be repeated)")
	cmd.Flags().StringArrayVar(&unitFilters, "unit", nil, "Filter units by name glob pattern (can be repeated)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent workers (overrides spec config)")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "Run checks one at a time")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Per-check timeout in seconds (overrides spec config)")
	cmd.Flags().BoolVar(&interpret, "interpret", false, "Print a plain-language interpretation of the results")
	cmd.Flags().BoolVar(&enableCache, "cache", false, "Enable result caching (default: false)")
	cmd.Flags().BoolVar(&disableCache, "no-cache", false, "Disable result caching (default)")
	cmd.Flags().StringVar(&runCacheDir, "cache-dir", ".checkdeck-cache", "Cache directory for storing results")
	cmd.Flags().StringVar(&bundleDest, "bundle", "", "Pack the output directory into a tar.gz archive at the given path")
	cmd.Flags().StringVar(&publishTarget, "publish", "", "Upload the output directory to an Azure Blob container URL")
	cmd.Flags().BoolVar(&failOnSkipped, "fail-on-skipped", false, "Exit non-zero when every check was skipped")

	return cmd
}

func runCommandE(cmd *cobra.Command, args []string) error {
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

	// CLI flags override spec config
	if workers > 0 {
		spec.Workers = workers
	}
	if sequential {
		spec.Workers = 1
	}
	if timeoutSec > 0 {
		spec.TimeoutSec = timeoutSec
	}
	if failOnSkipped {
		spec.FailOnSkipped = true
	}

	formats, err := parseFormats(runFormats)
	if err != nil {
		return err
	}

	// Resolve spec-relative paths from the spec's own directory
	specDir := filepath.Dir(specPath)
	if !filepath.IsAbs(specDir) {
		absSpecDir, err := filepath.Abs(specDir)
		if err == nil {
			specDir = absSpecDir
		}
	}
	rootDir := utils.ResolvePath(spec.Root, specDir)

	outDir := runOutputDir
	if outDir == "" {
		outDir = spec.OutputDir
	}
	outDir = utils.ResolvePath(outDir, specDir)

	// Setup cache if enabled
	var resultCache *cache.Cache
	useCaching := enableCache && !disableCache

	if useCaching {
		absCacheDir, err := filepath.Abs(runCacheDir)
		if err != nil {
			return fmt.Errorf("resolving cache directory: %w", err)
		}
		resultCache = cache.New(absCacheDir)
		if verbose {
			fmt.Printf("Cache enabled: %s\n", absCacheDir)
		}
	}

	// Create runner with optional filters and cache
	runnerOpts := []orchestration.RunnerOption{
		orchestration.WithCheckFilters(checkFilters...),
		orchestration.WithUnitFilters(unitFilters...),
	}
	if resultCache != nil {
		runnerOpts = append(runnerOpts, orchestration.WithCache(resultCache))
	}
	runner := orchestration.NewRunner(spec, rootDir, outDir, invoke.NewExec(), runnerOpts...)

	// Add progress listeners
	runner.OnProgress(utils.EventToSlog)
	if verbose {
		runner.OnProgress(verboseProgressListener)
	} else {
		runner.OnProgress(simpleProgressListener)
	}

	// Interrupts cancel the run; remaining work is recorded as skipped and
	// the partial report still saved.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Running pipeline: %s\n", spec.Name)
	fmt.Printf("Spec: %s\n", specPath)
	fmt.Printf("Root: %s\n", rootDir)
	fmt.Printf("Output: %s\n", outDir)
	if spec.Workers > 1 {
		fmt.Printf("Parallel: %d workers\n", spec.Workers)
	}
	fmt.Println()

	report, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}

	// The raw report is saved before anything renders so a render failure
	// never loses results.
	reportPath := filepath.Join(outDir, "report.json")
	if err := report.Save(reportPath); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	var renderErrs []error
	generatedAt := time.Now().UTC()
	for _, format := range formats {
		path := filepath.Join(outDir, format.Filename())
		if err := reporting.Write(report, format, generatedAt, path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: rendering %s report: %v\n", format, err)
			renderErrs = append(renderErrs, err)
		}
	}

	printSummary(report)

	if interpret {
		fmt.Println()
		fmt.Print(reporting.FormatSummaryReport(report))
	}

	fmt.Printf("Report saved to: %s\n", reportPath)

	if bundleDest != "" {
		archivePath := resolveBundlePath(bundleDest, spec.Name, generatedAt)
		if err := bundle.Create(outDir, archivePath); err != nil {
			return fmt.Errorf("bundling output: %w", err)
		}
		fmt.Printf("Bundle saved to: %s\n", archivePath)
	}

	if publishTarget != "" {
		if err := publishOutput(ctx, publishTarget, outDir); err != nil {
			return err
		}
	}

	if len(renderErrs) > 0 {
		return fmt.Errorf("report saved but %d format(s) failed to render", len(renderErrs))
	}

	// Return check failure as error so main can map it to the right exit code
	_, failed, skipped := report.Counts()
	switch report.Overall() {
	case models.StatusFailure:
		return &CheckFailureError{
			Message: fmt.Sprintf("pipeline completed with %d failed check result(s)", failed),
		}
	case models.StatusSkipped:
		if spec.FailOnSkipped {
			return &CheckFailureError{
				Message: fmt.Sprintf("pipeline produced no passing results (%d skipped)", skipped),
			}
		}
	}

	return nil
}

// parseFormats normalizes the --format values, defaulting to Markdown.
func parseFormats(raw []string) ([]reporting.Format, error) {
	if len(raw) == 0 {
		return []reporting.Format{reporting.FormatMarkdown}, nil
	}
	seen := make(map[reporting.Format]bool, len(raw))
	formats := make([]reporting.Format, 0, len(raw))
	for _, r := range raw {
		f, err := reporting.ParseFormat(r)
		if err != nil {
			return nil, err
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		formats = append(formats, f)
	}
	return formats, nil
}

// resolveBundlePath expands a --bundle value: an existing directory gets a
// timestamped archive name inside it, anything else is used as-is.
func resolveBundlePath(dest, pipeline string, now time.Time) string {
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		return filepath.Join(dest, bundle.DefaultName(pipeline, now))
	}
	return dest
}

// publishOutput uploads the rendered output directory to a blob container.
func publishOutput(ctx context.Context, rawTarget, outDir string) error {
	target, err := publish.ParseTarget(rawTarget)
	if err != nil {
		return err
	}
	pub, err := publish.New(target)
	if err != nil {
		return err
	}

	sp := spinner.Start(os.Stderr, fmt.Sprintf("Uploading to %s...", target.Container))
	names, err := pub.UploadDir(ctx, outDir)
	sp.Stop()
	if err != nil {
		return fmt.Errorf("publishing output: %w", err)
	}
	fmt.Printf("Published %d file(s) to %s\n", len(names), rawTarget)
	return nil
}

func taskLabel(event orchestration.ProgressEvent) string {
	if event.Unit == "" {
		return event.Check
	}
	return fmt.Sprintf("%s [%s]", event.Check, event.Unit)
}

func verboseProgressListener(event orchestration.ProgressEvent) {
	switch event.EventType {
	case orchestration.EventRunStart:
		fmt.Printf("Starting %d task(s): %v check(s) across %v unit(s), %v worker(s)\n\n",
			event.TotalTasks, event.Details["checks"], event.Details["units"], event.Details["workers"])
	case orchestration.EventCheckStart:
		fmt.Printf("[%d/%d] Running %s...\n", event.TaskNum, event.TotalTasks, taskLabel(event))
	case orchestration.EventCheckCached:
		fmt.Printf("[%d/%d] %s: %s [cached]\n", event.TaskNum, event.TotalTasks, taskLabel(event), event.Status)
	case orchestration.EventCheckComplete:
		duration := time.Duration(event.DurationMs) * time.Millisecond
		fmt.Printf("[%d/%d] %s: %s (%v)\n", event.TaskNum, event.TotalTasks, taskLabel(event), event.Status, duration)
		if reason, ok := event.Details["reason"].(string); ok && reason != "" {
			fmt.Printf("      %s\n", reason)
		}
	case orchestration.EventRunCancelled:
		fmt.Printf("\nRun cancelled; remaining checks recorded as skipped\n")
	case orchestration.EventRunComplete:
		duration := time.Duration(event.DurationMs) * time.Millisecond
		fmt.Printf("\nPipeline completed in %v\n\n", duration)
	}
}

func simpleProgressListener(event orchestration.ProgressEvent) {
	switch event.EventType {
	case orchestration.EventCheckCached:
		fmt.Printf("✓ [%d/%d] %s [cached]\n", event.TaskNum, event.TotalTasks, taskLabel(event))
	case orchestration.EventCheckComplete:
		fmt.Printf("%s [%d/%d] %s\n", statusIcon(event.Status), event.TaskNum, event.TotalTasks, taskLabel(event))
	case orchestration.EventRunCancelled:
		fmt.Printf("Run cancelled; remaining checks recorded as skipped\n")
	}
}

// statusIcon returns the single-character marker used in progress lines
// and summary tables.
func statusIcon(status models.Status) string {
	switch status {
	case models.StatusSuccess:
		return "✓"
	case models.StatusSkipped:
		return "-"
	default:
		return "✗"
	}
}

// resultLabel names a result the way progress lines do: "check [unit]".
func resultLabel(res models.CheckResult) string {
	if res.Unit == "" {
		return res.Check
	}
	return fmt.Sprintf("%s [%s]", res.Check, res.Unit)
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}

func printSummary(report *models.Report) {
	fmt.Println("=" + strings.Repeat("=", 50))
	fmt.Println(" PIPELINE RESULTS")
	fmt.Println("=" + strings.Repeat("=", 50))
	fmt.Println()

	success, failed, skipped := report.Counts()

	fmt.Printf("Pipeline:   %s\n", report.Pipeline)
	fmt.Printf("Units:      %d\n", len(report.Units))
	fmt.Printf("Checks:     %d\n", len(report.Checks))
	fmt.Printf("Succeeded:  %d\n", success)
	fmt.Printf("Failed:     %d\n", failed)
	fmt.Printf("Skipped:    %d\n", skipped)
	fmt.Printf("Overall:    %s\n", report.Overall())

	duration := time.Duration(report.DurationMs) * time.Millisecond
	fmt.Printf("Duration:   %v\n", duration)
	fmt.Println()

	// Per-unit breakdown
	if len(report.Units) > 0 {
		fmt.Println("-" + strings.Repeat("-", 50))
		fmt.Println(" PER-UNIT BREAKDOWN")
		fmt.Println("-" + strings.Repeat("-", 50))

		units := append([]string(nil), report.Units...)
		sort.Strings(units)
		width := 0
		for _, u := range units {
			if w := runewidth.StringWidth(u); w > width {
				width = w
			}
		}
		for _, unit := range units {
			status := report.UnitStatus(unit)
			fmt.Printf("  %s %s  [%s]\n", statusIcon(status), padRight(unit, width), status)
		}
		fmt.Println()
	}

	// Show failed checks with their one-line reasons
	if failed > 0 {
		fmt.Println("Failed checks:")
		for _, res := range report.Results {
			if res.Status != models.StatusFailure {
				continue
			}
			fmt.Printf("  - %s\n", resultLabel(res))
			if res.Reason != "" {
				fmt.Printf("    • %s\n", res.Reason)
			}
		}
		fmt.Println()
	}

	// Show skipped checks
	if skipped > 0 {
		fmt.Println("Skipped checks:")
		for _, res := range report.Results {
			if res.Status != models.StatusSkipped {
				continue
			}
			fmt.Printf("  - %s", resultLabel(res))
			if res.Reason != "" {
				fmt.Printf(" (%s)", res.Reason)
			}
			fmt.Println()
		}
		fmt.Println()
	}
}
