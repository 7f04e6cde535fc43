package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/checkdeck/checkdeck/internal/models"
	"github.com/checkdeck/checkdeck/internal/reporting"
)

var (
	renderFormats   []string
	renderOutputDir string
)

func newRenderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render [report.json]",
		Short: "Re-render reports from a saved report.json",
		Long: `Re-render report documents from a previously saved report.json.

Rendering is deterministic: the same report always produces the same
documents, so formats can be regenerated later without re-running any
checks. With no argument, report.json is looked up in the working
directory and in checkdeck-out/.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRender,
	}

	cmd.Flags().StringArrayVarP(&renderFormats, "format", "f", nil, "Report format: md, html, junit (can be repeated; default: md)")
	cmd.Flags().StringVarP(&renderOutputDir, "output-dir", "o", "", "Directory for rendered files (default: the report's directory)")

	return cmd
}

func runRender(cmd *cobra.Command, args []string) error {
	reportPath, err := resolveReportPath(args)
	if err != nil {
		return err
	}

	formats, err := parseFormats(renderFormats)
	if err != nil {
		return err
	}

	report, err := models.LoadReport(reportPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no report at %s; run the pipeline first", reportPath)
		}
		return fmt.Errorf("loading report: %w", err)
	}

	outDir := renderOutputDir
	if outDir == "" {
		outDir = filepath.Dir(reportPath)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", outDir, err)
	}

	w := cmd.OutOrStdout()
	generatedAt := time.Now().UTC()
	for _, format := range formats {
		path := filepath.Join(outDir, format.Filename())
		if err := reporting.Write(report, format, generatedAt, path); err != nil {
			return fmt.Errorf("rendering %s report: %w", format, err)
		}
		fmt.Fprintf(w, "Rendered %s report: %s\n", format, path) //nolint:errcheck
	}

	return nil
}

// resolveReportPath picks the report file: an explicit arg wins, otherwise
// the conventional locations are tried in order.
func resolveReportPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	candidates := []string{
		"report.json",
		filepath.Join(models.DefaultOutputDir, "report.json"),
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("no report.json found in . or %s; pass a path explicitly", models.DefaultOutputDir)
}
