package reporting

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/checkdeck/checkdeck/internal/models"
)

// RenderMarkdown renders a report as a standalone Markdown document: status
// banner, summary counts, a unit-by-check table, global check results, and
// per-check detail sections with captured output in <details> blocks.
//
// The generation timestamp appears on exactly one line, the trailing
// "Generated:" footer, so everything above it can be compared against
// golden files.
func RenderMarkdown(report *models.Report, generatedAt time.Time) string {
	var b strings.Builder

	overall := report.Overall()
	units := sortedUnits(report)
	results := sortedResults(report)
	duration := time.Duration(report.DurationMs) * time.Millisecond

	b.WriteString(fmt.Sprintf("# Checkdeck: %s\n\n", report.Pipeline))

	b.WriteString(fmt.Sprintf("**Status:** %s %s | **Units:** %d | **Checks:** %d | **Duration:** %s\n\n",
		statusIcon(overall), overall, len(units), len(report.Checks), formatDuration(duration)))

	success, failure, skipped := report.Counts()
	b.WriteString(fmt.Sprintf("**Results:** %d success, %d failure, %d skipped", success, failure, skipped))
	if cached := cachedCount(results); cached > 0 {
		b.WriteString(fmt.Sprintf(" (%d from cache)", cached))
	}
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("**Started:** %s\n\n", report.StartedAt.UTC().Format(time.RFC3339)))

	writeUnitTable(&b, report, units)
	writeGlobalTable(&b, report, results)

	if len(advisoryNames(report)) > 0 {
		b.WriteString("Checks marked `*` are advisory and do not affect status.\n\n")
	}

	writeDetails(&b, report, results)

	b.WriteString("---\n\n")
	b.WriteString(fmt.Sprintf("Generated: %s\n", generatedAt.UTC().Format(time.RFC3339)))

	return b.String()
}

// WriteMarkdown validates the report and writes the Markdown document to path.
func WriteMarkdown(report *models.Report, generatedAt time.Time, path string) error {
	if err := ValidateReport(report); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(RenderMarkdown(report, generatedAt)), 0o644)
}

func writeUnitTable(b *strings.Builder, report *models.Report, units []string) {
	b.WriteString("## Units\n\n")
	if len(units) == 0 {
		b.WriteString("No units were discovered.\n\n")
		return
	}

	var perUnit []models.CheckInfo
	for _, c := range report.Checks {
		if c.Scope == models.ScopePerUnit {
			perUnit = append(perUnit, c)
		}
	}

	b.WriteString("| Unit |")
	for _, c := range perUnit {
		b.WriteString(fmt.Sprintf(" %s |", columnLabel(c)))
	}
	b.WriteString(" Status |\n")

	b.WriteString("|------|")
	for range perUnit {
		b.WriteString("------|")
	}
	b.WriteString("------|\n")

	for _, unit := range units {
		b.WriteString(fmt.Sprintf("| %s |", unit))
		for _, c := range perUnit {
			cell := "-"
			if res, ok := report.ResultFor(c.Name, unit); ok {
				cell = statusIcon(res.Status)
			}
			b.WriteString(fmt.Sprintf(" %s |", cell))
		}
		unitStatus := report.UnitStatus(unit)
		b.WriteString(fmt.Sprintf(" %s %s |\n", statusIcon(unitStatus), unitStatus))
	}
	b.WriteString("\n")
}

func writeGlobalTable(b *strings.Builder, report *models.Report, results []models.CheckResult) {
	var globals []models.CheckResult
	for _, res := range results {
		if res.Unit == "" {
			globals = append(globals, res)
		}
	}
	if len(globals) == 0 {
		return
	}

	b.WriteString("## Global checks\n\n")
	b.WriteString("| Check | Status | Duration |\n")
	b.WriteString("|------|------|------|\n")
	for _, res := range globals {
		label := res.Check
		if info, ok := report.CheckInfoFor(res.Check); ok && info.Advisory {
			label += "*"
		}
		b.WriteString(fmt.Sprintf("| %s | %s %s | %s |\n",
			label, statusIcon(res.Status), res.Status,
			formatDuration(time.Duration(res.DurationMs)*time.Millisecond)))
	}
	b.WriteString("\n")
}

// writeDetails emits one section per check that has anything worth
// showing: a non-success result, or captured output from an advisory run.
func writeDetails(b *strings.Builder, report *models.Report, results []models.CheckResult) {
	wroteHeader := false
	for _, check := range report.Checks {
		var own []models.CheckResult
		for _, res := range results {
			if res.Check == check.Name && detailWorthy(res, check.Advisory) {
				own = append(own, res)
			}
		}
		if len(own) == 0 {
			continue
		}
		if !wroteHeader {
			b.WriteString("## Details\n\n")
			wroteHeader = true
		}
		writeCheckSection(b, check, own)
	}
}

func writeCheckSection(b *strings.Builder, check models.CheckInfo, results []models.CheckResult) {
	b.WriteString(fmt.Sprintf("### %s %s\n\n", statusIcon(worstStatus(results)), check.Name))
	b.WriteString(fmt.Sprintf("%s %s check, %s scope.\n\n", requirement(check), check.Kind, check.Scope))

	wroteBullet := false
	for _, res := range results {
		if res.Status == models.StatusSuccess {
			continue
		}
		b.WriteString(fmt.Sprintf("- %s: %s", displayUnit(res.Unit), res.Status))
		if res.Reason != "" {
			b.WriteString(fmt.Sprintf(" (%s)", res.Reason))
		}
		if res.Cached {
			b.WriteString(" [cached]")
		}
		b.WriteString("\n")
		if len(res.Artifacts) > 0 {
			b.WriteString(fmt.Sprintf("  artifacts: `%s`\n", strings.Join(res.Artifacts, "`, `")))
		}
		wroteBullet = true
	}
	if wroteBullet {
		b.WriteString("\n")
	}

	for _, res := range results {
		if res.Output == "" {
			continue
		}
		fence := codeFence(res.Output)
		b.WriteString(fmt.Sprintf("<details><summary>%s output</summary>\n\n", displayUnit(res.Unit)))
		b.WriteString(fence + "\n")
		b.WriteString(strings.TrimRight(res.Output, "\n") + "\n")
		b.WriteString(fence + "\n\n")
		b.WriteString("</details>\n\n")
	}
}

func detailWorthy(res models.CheckResult, advisory bool) bool {
	return res.Status != models.StatusSuccess || (advisory && res.Output != "")
}

func worstStatus(results []models.CheckResult) models.Status {
	worst := models.StatusSuccess
	for _, res := range results {
		switch res.Status {
		case models.StatusFailure:
			return models.StatusFailure
		case models.StatusSkipped:
			worst = models.StatusSkipped
		}
	}
	return worst
}

func columnLabel(c models.CheckInfo) string {
	if c.Advisory {
		return c.Name + "*"
	}
	return c.Name
}

func requirement(c models.CheckInfo) string {
	if c.Advisory {
		return "Advisory"
	}
	return "Required"
}

func displayUnit(unit string) string {
	if unit == "" {
		return "global"
	}
	return unit
}

func statusIcon(s models.Status) string {
	switch s {
	case models.StatusSuccess:
		return "✅"
	case models.StatusFailure:
		return "❌"
	default:
		return "⏭️"
	}
}

// formatDuration renders durations in a stable, human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.String()
}

// codeFence returns a fence longer than any backtick run in s so captured
// output cannot terminate its own code block.
func codeFence(s string) string {
	fence := "```"
	for strings.Contains(s, fence) {
		fence += "`"
	}
	return fence
}

func cachedCount(results []models.CheckResult) int {
	n := 0
	for _, res := range results {
		if res.Cached {
			n++
		}
	}
	return n
}
