package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/checkdeck/checkdeck/internal/models"
)

// InterpretStatus returns a plain-language reading of an overall status.
func InterpretStatus(s models.Status) string {
	switch s {
	case models.StatusSuccess:
		return "All required checks passed."
	case models.StatusFailure:
		return "At least one required check failed."
	default:
		return "Nothing ran to completion; every check was skipped."
	}
}

// InterpretCounts summarizes result counts in one sentence.
func InterpretCounts(success, failure, skipped int) string {
	total := success + failure + skipped
	if total == 0 {
		return "No checks were run."
	}
	switch {
	case failure == 0 && skipped == 0:
		return fmt.Sprintf("All checks passed (%d/%d).", success, total)
	case failure == 0:
		return fmt.Sprintf("No failures; %d of %d checks were skipped.", skipped, total)
	default:
		return fmt.Sprintf("%d of %d checks failed; %d skipped.", failure, total, skipped)
	}
}

// FormatSummaryReport produces a full plain-language interpretation of a
// report: what failed, what was skipped and why, and what to do next.
func FormatSummaryReport(report *models.Report) string {
	var b strings.Builder

	duration := time.Duration(report.DurationMs) * time.Millisecond
	success, failure, skipped := report.Counts()
	advisory := advisoryNames(report)

	b.WriteString("=== Interpretation ===\n\n")

	b.WriteString(fmt.Sprintf("Overall:  %s\n", InterpretStatus(report.Overall())))
	b.WriteString(fmt.Sprintf("Checks:   %s\n", InterpretCounts(success, failure, skipped)))
	b.WriteString(fmt.Sprintf("Units:    %d\n", len(report.Units)))
	b.WriteString(fmt.Sprintf("Duration: %s\n", formatDuration(duration)))

	var failures, skips []models.CheckResult
	for _, res := range sortedResults(report) {
		switch res.Status {
		case models.StatusFailure:
			failures = append(failures, res)
		case models.StatusSkipped:
			skips = append(skips, res)
		}
	}

	if len(failures) > 0 {
		b.WriteString("\nFailed checks:\n")
		for _, res := range failures {
			b.WriteString(fmt.Sprintf("  ✗ %s", describeResult(res)))
			if advisory[res.Check] {
				b.WriteString(" (advisory, does not affect status)")
			}
			b.WriteString("\n")
			info, _ := report.CheckInfoFor(res.Check)
			b.WriteString(fmt.Sprintf("    next: %s\n", nextStep(info, res)))
		}
	}

	if len(skips) > 0 {
		b.WriteString("\nSkipped checks:\n")
		for _, res := range skips {
			b.WriteString(fmt.Sprintf("  - %s\n", describeResult(res)))
			info, _ := report.CheckInfoFor(res.Check)
			b.WriteString(fmt.Sprintf("    next: %s\n", nextStep(info, res)))
		}
	}

	return b.String()
}

func describeResult(res models.CheckResult) string {
	s := fmt.Sprintf("%s (%s)", res.Check, displayUnit(res.Unit))
	if res.Reason != "" {
		s += ": " + res.Reason
	}
	return s
}

// nextStep suggests what to do about a non-success result.
func nextStep(info models.CheckInfo, res models.CheckResult) string {
	if res.Status == models.StatusSkipped {
		if res.Reason == models.SkipReasonCancelled {
			return "re-run the pipeline; this check never started"
		}
		if strings.Contains(res.Reason, "not found on PATH") {
			return "install the missing tool, or mark the check advisory"
		}
		return "see the skip reason above"
	}
	if info.Kind == models.KindPattern {
		return "remove the matched lines listed in the output"
	}
	return "run the command locally in the unit directory and fix the reported errors"
}
