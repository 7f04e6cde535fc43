package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Status is the outcome of a single check execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// SkipReasonCancelled marks results recorded for work that never ran
// because the run was cancelled.
const SkipReasonCancelled = "cancelled"

// CheckInfo is the report-embedded summary of a check definition. Reports
// carry these so they can be re-rendered without the original spec file.
type CheckInfo struct {
	Name     string    `json:"name"`
	Kind     CheckKind `json:"kind"`
	Scope    Scope     `json:"scope"`
	Advisory bool      `json:"advisory,omitempty"`
}

// CheckResult records one execution of a check, either globally or
// against a single unit.
type CheckResult struct {
	Check string `json:"check"`
	// Unit is empty for global-scope results.
	Unit   string `json:"unit,omitempty"`
	Status Status `json:"status"`
	// Output is the captured combined stdout and stderr of the tool.
	// Partial output is kept when a run is cut short.
	Output string `json:"output,omitempty"`
	// Reason explains a skip or summarizes a failure in one line.
	Reason string `json:"reason,omitempty"`
	// Artifacts are paths relative to the report's output directory.
	Artifacts  []string `json:"artifacts,omitempty"`
	DurationMs int64    `json:"duration_ms"`
	Cached     bool     `json:"cached,omitempty"`
}

// Report is the aggregated outcome of a pipeline run.
type Report struct {
	Pipeline   string        `json:"pipeline"`
	StartedAt  time.Time     `json:"started_at"`
	DurationMs int64         `json:"duration_ms"`
	Units      []string      `json:"units"`
	Checks     []CheckInfo   `json:"checks"`
	Results    []CheckResult `json:"results"`
}

// Overall derives the run status from the recorded results. A run fails
// if any required (non-advisory) check failed. Any other completed result
// counts as evidence the run ran, so advisory failures alone still yield
// success. Only a run whose every result was skipped is itself skipped;
// the caller decides whether that exits non-zero.
func (r *Report) Overall() Status {
	advisory := r.advisorySet()

	anyRan := false
	for _, res := range r.Results {
		switch res.Status {
		case StatusFailure:
			if !advisory[res.Check] {
				return StatusFailure
			}
			anyRan = true
		case StatusSuccess:
			anyRan = true
		}
	}
	if anyRan {
		return StatusSuccess
	}
	return StatusSkipped
}

// UnitStatus derives one unit's status from its per-unit results plus all
// global results, mirroring Overall's rules at unit granularity. A unit
// nothing ran against is vacuously successful; a unit whose every
// applicable result was skipped is skipped.
func (r *Report) UnitStatus(unit string) Status {
	advisory := r.advisorySet()

	seen := false
	anyRan := false
	for _, res := range r.Results {
		if res.Unit != unit && res.Unit != "" {
			continue
		}
		seen = true
		switch res.Status {
		case StatusFailure:
			if !advisory[res.Check] {
				return StatusFailure
			}
			anyRan = true
		case StatusSuccess:
			anyRan = true
		}
	}
	if !seen || anyRan {
		return StatusSuccess
	}
	return StatusSkipped
}

func (r *Report) advisorySet() map[string]bool {
	set := make(map[string]bool, len(r.Checks))
	for _, c := range r.Checks {
		if c.Advisory {
			set[c.Name] = true
		}
	}
	return set
}

// CheckInfoFor returns the embedded definition for a check name.
func (r *Report) CheckInfoFor(name string) (CheckInfo, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckInfo{}, false
}

// Sort orders results deterministically: global results first, then by
// unit, then by check name. Completion order never leaks into reports.
func (r *Report) Sort() {
	sort.SliceStable(r.Results, func(i, j int) bool {
		a, b := r.Results[i], r.Results[j]
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		return a.Check < b.Check
	})
	sort.Strings(r.Units)
}

// ResultsForUnit returns the unit's results in their current order.
// Global results are excluded.
func (r *Report) ResultsForUnit(unit string) []CheckResult {
	var out []CheckResult
	for _, res := range r.Results {
		if res.Unit == unit {
			out = append(out, res)
		}
	}
	return out
}

// GlobalResults returns results from global-scope checks.
func (r *Report) GlobalResults() []CheckResult {
	var out []CheckResult
	for _, res := range r.Results {
		if res.Unit == "" {
			out = append(out, res)
		}
	}
	return out
}

// ResultFor looks up a specific (check, unit) cell. Unit is empty for
// global results.
func (r *Report) ResultFor(check, unit string) (CheckResult, bool) {
	for _, res := range r.Results {
		if res.Check == check && res.Unit == unit {
			return res, true
		}
	}
	return CheckResult{}, false
}

// Counts tallies results by status.
func (r *Report) Counts() (success, failure, skipped int) {
	for _, res := range r.Results {
		switch res.Status {
		case StatusSuccess:
			success++
		case StatusFailure:
			failure++
		case StatusSkipped:
			skipped++
		}
	}
	return success, failure, skipped
}

// Save writes the report as indented JSON.
func (r *Report) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadReport reads a report previously written by Save.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return &report, nil
}
