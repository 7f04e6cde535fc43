package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *Report {
	return &Report{
		Pipeline:  "kernel-checks",
		StartedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Units:     []string{"drivers/net", "core"},
		Checks: []CheckInfo{
			{Name: "build", Kind: KindCommand, Scope: ScopeGlobal},
			{Name: "fmt", Kind: KindCommand, Scope: ScopePerUnit},
			{Name: "todo-scan", Kind: KindPattern, Scope: ScopePerUnit, Advisory: true},
		},
		Results: []CheckResult{
			{Check: "fmt", Unit: "drivers/net", Status: StatusSuccess},
			{Check: "build", Status: StatusSuccess},
			{Check: "todo-scan", Unit: "core", Status: StatusFailure, Reason: "2 matches"},
			{Check: "fmt", Unit: "core", Status: StatusSuccess},
			{Check: "todo-scan", Unit: "drivers/net", Status: StatusSuccess},
		},
	}
}

func TestOverall(t *testing.T) {
	t.Run("advisory failure does not fail the run", func(t *testing.T) {
		r := sampleReport()
		assert.Equal(t, StatusSuccess, r.Overall())
	})

	t.Run("required failure fails the run", func(t *testing.T) {
		r := sampleReport()
		r.Results = append(r.Results, CheckResult{
			Check: "fmt", Unit: "drivers/net", Status: StatusFailure,
		})
		assert.Equal(t, StatusFailure, r.Overall())
	})

	t.Run("all skipped", func(t *testing.T) {
		r := sampleReport()
		for i := range r.Results {
			r.Results[i].Status = StatusSkipped
			r.Results[i].Reason = "tool not found: cargo"
		}
		assert.Equal(t, StatusSkipped, r.Overall())
	})

	t.Run("skips alongside successes still succeed", func(t *testing.T) {
		r := sampleReport()
		r.Results[0].Status = StatusSkipped
		assert.Equal(t, StatusSuccess, r.Overall())
	})

	t.Run("empty report is skipped", func(t *testing.T) {
		r := &Report{Pipeline: "empty"}
		assert.Equal(t, StatusSkipped, r.Overall())
	})

	t.Run("advisory failures alone are not a skipped run", func(t *testing.T) {
		r := sampleReport()
		for i := range r.Results {
			if r.Results[i].Check == "todo-scan" {
				r.Results[i].Status = StatusFailure
				continue
			}
			r.Results[i].Status = StatusSkipped
			r.Results[i].Reason = "tool not found: cargo"
		}
		// something ran and no required check failed, so the run succeeds
		// even though every non-advisory result was skipped
		assert.Equal(t, StatusSuccess, r.Overall())
	})
}

func TestUnitStatus(t *testing.T) {
	r := sampleReport()

	// core has an advisory failure only
	assert.Equal(t, StatusSuccess, r.UnitStatus("core"))
	assert.Equal(t, StatusSuccess, r.UnitStatus("drivers/net"))

	// a required per-unit failure flips only that unit
	r.Results = append(r.Results, CheckResult{
		Check: "fmt", Unit: "core", Status: StatusFailure,
	})
	assert.Equal(t, StatusFailure, r.UnitStatus("core"))
	assert.Equal(t, StatusSuccess, r.UnitStatus("drivers/net"))

	// a unit nothing ran against is vacuously successful
	empty := &Report{Pipeline: "empty"}
	assert.Equal(t, StatusSuccess, empty.UnitStatus("ghost"))

	// every applicable result skipped
	allSkipped := sampleReport()
	for i := range allSkipped.Results {
		allSkipped.Results[i].Status = StatusSkipped
	}
	assert.Equal(t, StatusSkipped, allSkipped.UnitStatus("core"))

	// an advisory failure among skips means the unit ran, not skipped
	advisoryOnly := sampleReport()
	for i := range advisoryOnly.Results {
		if advisoryOnly.Results[i].Check == "todo-scan" {
			advisoryOnly.Results[i].Status = StatusFailure
			continue
		}
		advisoryOnly.Results[i].Status = StatusSkipped
	}
	assert.Equal(t, StatusSuccess, advisoryOnly.UnitStatus("core"))
}

func TestUnitStatusGlobalFailurePropagates(t *testing.T) {
	r := sampleReport()
	for i, res := range r.Results {
		if res.Check == "build" {
			r.Results[i].Status = StatusFailure
		}
	}
	// a required global failure taints every unit
	assert.Equal(t, StatusFailure, r.UnitStatus("core"))
	assert.Equal(t, StatusFailure, r.UnitStatus("drivers/net"))
	assert.Equal(t, StatusFailure, r.Overall())
}

func TestSortIsDeterministic(t *testing.T) {
	r := sampleReport()
	r.Sort()

	want := []struct{ unit, check string }{
		{"", "build"},
		{"core", "fmt"},
		{"core", "todo-scan"},
		{"drivers/net", "fmt"},
		{"drivers/net", "todo-scan"},
	}
	require.Len(t, r.Results, len(want))
	for i, w := range want {
		assert.Equal(t, w.unit, r.Results[i].Unit, "result %d unit", i)
		assert.Equal(t, w.check, r.Results[i].Check, "result %d check", i)
	}
	assert.Equal(t, []string{"core", "drivers/net"}, r.Units)

	// sorting again must not reorder anything
	before := make([]CheckResult, len(r.Results))
	copy(before, r.Results)
	r.Sort()
	assert.Equal(t, before, r.Results)
}

func TestResultViews(t *testing.T) {
	r := sampleReport()
	r.Sort()

	global := r.GlobalResults()
	require.Len(t, global, 1)
	assert.Equal(t, "build", global[0].Check)

	core := r.ResultsForUnit("core")
	require.Len(t, core, 2)
	assert.Equal(t, "fmt", core[0].Check)

	res, ok := r.ResultFor("todo-scan", "core")
	require.True(t, ok)
	assert.Equal(t, StatusFailure, res.Status)

	_, ok = r.ResultFor("fmt", "no-such-unit")
	assert.False(t, ok)

	info, ok := r.CheckInfoFor("todo-scan")
	require.True(t, ok)
	assert.True(t, info.Advisory)
}

func TestCounts(t *testing.T) {
	r := sampleReport()
	r.Results = append(r.Results, CheckResult{
		Check: "fmt", Unit: "x", Status: StatusSkipped, Reason: SkipReasonCancelled,
	})
	success, failure, skipped := r.Counts()
	assert.Equal(t, 4, success)
	assert.Equal(t, 1, failure)
	assert.Equal(t, 1, skipped)
}

func TestReportSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "report.json")

	r := sampleReport()
	r.DurationMs = 1234
	require.NoError(t, r.Save(path))

	loaded, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, r.Pipeline, loaded.Pipeline)
	assert.Equal(t, r.DurationMs, loaded.DurationMs)
	assert.True(t, r.StartedAt.Equal(loaded.StartedAt))
	assert.Equal(t, r.Results, loaded.Results)
	assert.Equal(t, r.Checks, loaded.Checks)
}

func TestLoadReportBadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadReport(path)
	assert.Error(t, err)
}
