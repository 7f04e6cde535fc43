// Package aggregate collects check results as they complete and assembles
// the final report.
package aggregate

import (
	"fmt"
	"sync"
	"time"

	"github.com/checkdeck/checkdeck/internal/models"
)

// Aggregator accumulates results from concurrently running checks. It is
// safe for concurrent use. Results are immutable once added: an attempt to
// record a second result for the same (check, unit) pair is rejected.
type Aggregator struct {
	mu        sync.Mutex
	pipeline  string
	startedAt time.Time
	units     []string
	checks    []models.CheckInfo
	results   []models.CheckResult
	seen      map[string]bool
}

// New creates an aggregator for one pipeline run. The unit and check lists
// are fixed up front so reports stay complete even when every execution is
// skipped or the run is cut short.
func New(pipeline string, units []string, checks []models.CheckInfo) *Aggregator {
	return &Aggregator{
		pipeline:  pipeline,
		startedAt: time.Now().UTC(),
		units:     append([]string(nil), units...),
		checks:    append([]models.CheckInfo(nil), checks...),
		seen:      make(map[string]bool),
	}
}

// Add records one result. Exactly one result may exist per (check, unit)
// pair; duplicates indicate a dispatch bug and are rejected.
func (a *Aggregator) Add(result models.CheckResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := result.Check + "\x00" + result.Unit
	if a.seen[key] {
		return fmt.Errorf("duplicate result for check %q unit %q", result.Check, result.Unit)
	}
	a.seen[key] = true
	a.results = append(a.results, result)
	return nil
}

// Len returns the number of results recorded so far.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// StartedAt returns the run start time.
func (a *Aggregator) StartedAt() time.Time {
	return a.startedAt
}

// Report assembles the final report: a deterministically ordered snapshot
// of everything recorded, independent of completion order.
func (a *Aggregator) Report() *models.Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := &models.Report{
		Pipeline:   a.pipeline,
		StartedAt:  a.startedAt,
		DurationMs: time.Since(a.startedAt).Milliseconds(),
		Units:      append([]string(nil), a.units...),
		Checks:     append([]models.CheckInfo(nil), a.checks...),
		Results:    append([]models.CheckResult(nil), a.results...),
	}
	report.Sort()
	return report
}
