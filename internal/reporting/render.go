// Package reporting renders completed reports into human-readable and
// machine-readable documents. Renderers are pure: the same report and
// generation timestamp always produce identical bytes, and the input
// report is never mutated.
package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/checkdeck/checkdeck/internal/models"
)

// Format identifies a report output format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatJUnit    Format = "junit"
)

// ParseFormat normalizes a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md", "markdown":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	case "junit", "xml":
		return FormatJUnit, nil
	default:
		return "", fmt.Errorf("'%s' is not a valid report format (expected md, html or junit)", s)
	}
}

// Filename is the conventional output file name for the format. The HTML
// document is named index.html so the output directory can be served as-is.
func (f Format) Filename() string {
	switch f {
	case FormatHTML:
		return "index.html"
	case FormatJUnit:
		return "junit.xml"
	default:
		return "report.md"
	}
}

// Write renders the report to path in the given format.
func Write(report *models.Report, format Format, generatedAt time.Time, path string) error {
	switch format {
	case FormatMarkdown:
		return WriteMarkdown(report, generatedAt, path)
	case FormatHTML:
		return WriteHTML(report, generatedAt, path)
	case FormatJUnit:
		return WriteJUnitXML(report, path)
	default:
		return fmt.Errorf("'%s' is not a valid report format", format)
	}
}

// ValidateReport rejects reports whose results reference checks or units
// the report does not declare. The Write entry points call it before
// rendering; callers that load reports from disk should keep the raw JSON
// around when it fails so nothing is lost.
func ValidateReport(report *models.Report) error {
	if report == nil {
		return fmt.Errorf("report is nil")
	}
	if report.Pipeline == "" {
		return fmt.Errorf("report has no pipeline name")
	}

	checks := make(map[string]bool, len(report.Checks))
	for _, c := range report.Checks {
		checks[c.Name] = true
	}
	units := make(map[string]bool, len(report.Units))
	for _, u := range report.Units {
		units[u] = true
	}

	for _, res := range report.Results {
		if !checks[res.Check] {
			return fmt.Errorf("result references unknown check %q", res.Check)
		}
		if res.Unit != "" && !units[res.Unit] {
			return fmt.Errorf("result for check %q references unknown unit %q", res.Check, res.Unit)
		}
		switch res.Status {
		case models.StatusSuccess, models.StatusFailure, models.StatusSkipped:
		default:
			return fmt.Errorf("result for check %q has invalid status %q", res.Check, res.Status)
		}
	}
	return nil
}

// sortedResults returns the results in render order without mutating the
// report: global results first, then by unit, then by check name.
func sortedResults(report *models.Report) []models.CheckResult {
	results := append([]models.CheckResult(nil), report.Results...)
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Unit != results[j].Unit {
			return results[i].Unit < results[j].Unit
		}
		return results[i].Check < results[j].Check
	})
	return results
}

func sortedUnits(report *models.Report) []string {
	units := append([]string(nil), report.Units...)
	sort.Strings(units)
	return units
}

func advisoryNames(report *models.Report) map[string]bool {
	set := make(map[string]bool, len(report.Checks))
	for _, c := range report.Checks {
		if c.Advisory {
			set[c.Name] = true
		}
	}
	return set
}
