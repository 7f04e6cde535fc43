package orchestration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkdeck/checkdeck/internal/cache"
	"github.com/checkdeck/checkdeck/internal/invoke"
	"github.com/checkdeck/checkdeck/internal/models"
)

// scriptedInvoker is a canned Invoker for runner tests. The script decides
// each invocation's outcome from the command line and working directory.
type scriptedInvoker struct {
	mu     sync.Mutex
	calls  []invoke.Invocation
	script func(inv invoke.Invocation) (*invoke.Result, error)
}

func (s *scriptedInvoker) Run(ctx context.Context, inv invoke.Invocation) (*invoke.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, inv)
	s.mu.Unlock()

	if ctx.Err() != nil {
		return &invoke.Result{ExitCode: -1}, ctx.Err()
	}
	return s.script(inv)
}

func (s *scriptedInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// allGreen passes every invocation.
func allGreen(inv invoke.Invocation) (*invoke.Result, error) {
	return &invoke.Result{ExitCode: 0, Output: "ok\n"}, nil
}

// setupWorkspace creates a pipeline root with the given unit names.
func setupWorkspace(t *testing.T, unitNames ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range unitNames {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\nname = \""+name+"\"\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "lib.rs"), []byte("pub fn "+name+"() {}\n"), 0o644))
	}
	return root
}

func testSpec(workers int) *models.Spec {
	spec := &models.Spec{
		Name:    "ci",
		Workers: workers,
		Checks: []models.CheckDef{
			{
				Name:  "compile",
				Kind:  models.KindCommand,
				Scope: models.ScopePerUnit,
				Params: map[string]any{
					"command": "cargo",
					"args":    []string{"build"},
				},
			},
			{
				Name:     "fmt",
				Kind:     models.KindCommand,
				Scope:    models.ScopePerUnit,
				Advisory: true,
				Params: map[string]any{
					"command": "cargo",
					"args":    []string{"fmt", "--check"},
				},
			},
			{
				Name:  "audit",
				Kind:  models.KindCommand,
				Scope: models.ScopeGlobal,
				Params: map[string]any{
					"command": "cargo-audit",
				},
			},
		},
	}
	spec.Normalize()
	spec.Workers = workers
	return spec
}

func newTestRunner(t *testing.T, spec *models.Spec, root string, inv invoke.Invoker, opts ...RunnerOption) *Runner {
	t.Helper()
	return NewRunner(spec, root, filepath.Join(t.TempDir(), "out"), inv, opts...)
}

func TestRunProducesOneResultPerPair(t *testing.T) {
	root := setupWorkspace(t, "a", "b", "c")
	inv := &scriptedInvoker{script: allGreen}

	runner := newTestRunner(t, testSpec(4), root, inv)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	// 2 per-unit checks x 3 units + 1 global check
	require.Len(t, report.Results, 7)
	require.Equal(t, []string{"a", "b", "c"}, report.Units)

	seen := make(map[string]bool)
	for _, res := range report.Results {
		key := res.Check + "/" + res.Unit
		assert.False(t, seen[key], "duplicate result for %s", key)
		seen[key] = true
	}
	for _, unit := range []string{"a", "b", "c"} {
		for _, check := range []string{"compile", "fmt"} {
			_, ok := report.ResultFor(check, unit)
			assert.True(t, ok, "missing result for %s/%s", check, unit)
		}
	}
	_, ok := report.ResultFor("audit", "")
	assert.True(t, ok, "missing global audit result")

	assert.Equal(t, models.StatusSuccess, report.Overall())
}

func TestRunSingleFailingUnit(t *testing.T) {
	root := setupWorkspace(t, "a", "b", "c")

	// compile fails only in unit b
	inv := &scriptedInvoker{script: func(in invoke.Invocation) (*invoke.Result, error) {
		if filepath.Base(in.Dir) == "b" && len(in.Args) > 0 && in.Args[0] == "build" {
			return &invoke.Result{ExitCode: 101, Output: "error[E0308]: mismatched types\n"}, nil
		}
		return allGreen(in)
	}}

	runner := newTestRunner(t, testSpec(4), root, inv)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, models.StatusFailure, report.Overall())
	assert.Equal(t, models.StatusSuccess, report.UnitStatus("a"))
	assert.Equal(t, models.StatusFailure, report.UnitStatus("b"))
	assert.Equal(t, models.StatusSuccess, report.UnitStatus("c"))

	res, ok := report.ResultFor("compile", "b")
	require.True(t, ok)
	assert.Equal(t, models.StatusFailure, res.Status)
	assert.Contains(t, res.Output, "E0308")
	assert.Equal(t, "exit code 101", res.Reason)
}

func TestRunAdvisoryFailureDoesNotFailRun(t *testing.T) {
	root := setupWorkspace(t, "a")

	// fmt (advisory) fails everywhere, everything else passes
	inv := &scriptedInvoker{script: func(in invoke.Invocation) (*invoke.Result, error) {
		if len(in.Args) > 0 && in.Args[0] == "fmt" {
			return &invoke.Result{ExitCode: 1, Output: "Diff in src/lib.rs\n"}, nil
		}
		return allGreen(in)
	}}

	runner := newTestRunner(t, testSpec(4), root, inv)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	res, ok := report.ResultFor("fmt", "a")
	require.True(t, ok)
	assert.Equal(t, models.StatusFailure, res.Status)

	assert.Equal(t, models.StatusSuccess, report.Overall())
	assert.Equal(t, models.StatusSuccess, report.UnitStatus("a"))
}

func TestRunMissingToolIsSkipped(t *testing.T) {
	root := setupWorkspace(t, "a")

	inv := &scriptedInvoker{script: func(in invoke.Invocation) (*invoke.Result, error) {
		if in.Command == "cargo-audit" {
			return nil, invoke.ErrToolUnavailable
		}
		return allGreen(in)
	}}

	runner := newTestRunner(t, testSpec(4), root, inv)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	res, ok := report.ResultFor("audit", "")
	require.True(t, ok)
	assert.Equal(t, models.StatusSkipped, res.Status)
	assert.Contains(t, res.Reason, "not found on PATH")

	// The rest of the run is unaffected
	assert.Equal(t, models.StatusSuccess, report.Overall())
}

func TestRunZeroUnits(t *testing.T) {
	root := t.TempDir()
	inv := &scriptedInvoker{script: allGreen}

	runner := newTestRunner(t, testSpec(4), root, inv)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	// Only the global check ran; the report is still well formed
	require.Len(t, report.Results, 1)
	assert.Empty(t, report.Units)
	assert.Equal(t, models.StatusSuccess, report.Overall())
}

func TestRunConcurrentMatchesSequential(t *testing.T) {
	root := setupWorkspace(t, "a", "b", "c", "d", "e")

	script := func(in invoke.Invocation) (*invoke.Result, error) {
		if filepath.Base(in.Dir) == "c" {
			return &invoke.Result{ExitCode: 1, Output: "broken\n"}, nil
		}
		return allGreen(in)
	}

	seqRunner := newTestRunner(t, testSpec(1), root, &scriptedInvoker{script: script})
	seqReport, err := seqRunner.Run(context.Background())
	require.NoError(t, err)

	conRunner := newTestRunner(t, testSpec(8), root, &scriptedInvoker{script: script})
	conReport, err := conRunner.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, len(seqReport.Results), len(conReport.Results))
	for i := range seqReport.Results {
		s, c := seqReport.Results[i], conReport.Results[i]
		assert.Equal(t, s.Check, c.Check)
		assert.Equal(t, s.Unit, c.Unit)
		assert.Equal(t, s.Status, c.Status)
	}
	assert.Equal(t, seqReport.Overall(), conReport.Overall())
}

func TestRunCancelledBeforeStart(t *testing.T) {
	root := setupWorkspace(t, "a", "b")
	inv := &scriptedInvoker{script: allGreen}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := newTestRunner(t, testSpec(4), root, inv)
	report, err := runner.Run(ctx)
	require.NoError(t, err)

	// Every pair still gets exactly one result, all cancelled skips
	require.Len(t, report.Results, 5)
	for _, res := range report.Results {
		assert.Equal(t, models.StatusSkipped, res.Status)
		assert.Equal(t, models.SkipReasonCancelled, res.Reason)
	}
	assert.Equal(t, models.StatusSkipped, report.Overall())
	assert.Zero(t, inv.callCount())
}

func TestRunCancelledMidRun(t *testing.T) {
	root := setupWorkspace(t, "a", "b", "c")

	// Sequential order is audit, then compile x (a,b,c), then fmt x (a,b,c).
	// The run is cancelled from inside fmt on unit b, so unit a has finished
	// completely while b is cut off mid-execution and c never starts.
	ctx, cancel := context.WithCancel(context.Background())
	inv := &scriptedInvoker{script: func(in invoke.Invocation) (*invoke.Result, error) {
		if len(in.Args) > 0 && in.Args[0] == "fmt" && filepath.Base(in.Dir) == "b" {
			cancel()
			return &invoke.Result{ExitCode: -1, Output: "Checking b...\n"}, context.Canceled
		}
		return allGreen(in)
	}}

	runner := newTestRunner(t, testSpec(1), root, inv)
	report, err := runner.Run(ctx)
	require.NoError(t, err)

	// Every scheduled pair still has exactly one result
	require.Len(t, report.Results, 7)
	seen := make(map[string]bool)
	for _, res := range report.Results {
		key := res.Check + "/" + res.Unit
		assert.False(t, seen[key], "duplicate result for %s", key)
		seen[key] = true
	}

	// Completed and cancelled results coexist
	var completed, cancelled int
	for _, res := range report.Results {
		switch res.Status {
		case models.StatusSuccess:
			completed++
		case models.StatusSkipped:
			assert.Equal(t, models.SkipReasonCancelled, res.Reason)
			cancelled++
		}
	}
	assert.Equal(t, 5, completed, "audit, compile x 3 and fmt/a finished")
	assert.Equal(t, 2, cancelled, "fmt/b and fmt/c were cut off")

	// The interrupted check keeps its partial output
	res, ok := report.ResultFor("fmt", "b")
	require.True(t, ok)
	assert.Equal(t, models.StatusSkipped, res.Status)
	assert.Contains(t, res.Output, "Checking b...")

	// fmt/c never reached the invoker
	assert.Equal(t, 6, inv.callCount())

	// The fully-completed unit reads as success alongside the cancelled ones
	assert.Equal(t, models.StatusSuccess, report.UnitStatus("a"))
	assert.Equal(t, models.StatusSuccess, report.Overall())
}

func TestRunWritesLogArtifacts(t *testing.T) {
	root := setupWorkspace(t, "a")
	outDir := filepath.Join(t.TempDir(), "out")
	inv := &scriptedInvoker{script: allGreen}

	runner := NewRunner(testSpec(2), root, outDir, inv)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	res, ok := report.ResultFor("compile", "a")
	require.True(t, ok)
	require.Contains(t, res.Artifacts, "units/a/compile.log")

	data, err := os.ReadFile(filepath.Join(outDir, "units", "a", "compile.log"))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(data))

	global, ok := report.ResultFor("audit", "")
	require.True(t, ok)
	require.Contains(t, global.Artifacts, "global/audit.log")
}

func TestRunCheckFilters(t *testing.T) {
	root := setupWorkspace(t, "a")
	inv := &scriptedInvoker{script: allGreen}

	runner := newTestRunner(t, testSpec(2), root, inv, WithCheckFilters("compile"))
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, "compile", report.Results[0].Check)

	// Embedded check list shrinks with the filter
	require.Len(t, report.Checks, 1)
}

func TestRunNoChecksMatchFilter(t *testing.T) {
	root := setupWorkspace(t, "a")
	inv := &scriptedInvoker{script: allGreen}

	runner := newTestRunner(t, testSpec(2), root, inv, WithCheckFilters("nonexistent-*"))
	_, err := runner.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no checks match")
}

func TestRunUnitFilters(t *testing.T) {
	root := setupWorkspace(t, "api", "api-client", "worker")
	inv := &scriptedInvoker{script: allGreen}

	runner := newTestRunner(t, testSpec(2), root, inv, WithUnitFilters("api*"))
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"api", "api-client"}, report.Units)
	_, ok := report.ResultFor("compile", "worker")
	assert.False(t, ok)
}

func TestRunDiscoveryErrorIsFatal(t *testing.T) {
	inv := &scriptedInvoker{script: allGreen}

	runner := newTestRunner(t, testSpec(2), "/nonexistent/root/dir", inv)
	_, err := runner.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "discovering units")
}

func TestRunWithCache(t *testing.T) {
	root := setupWorkspace(t, "a")
	c := cache.New(t.TempDir())
	inv := &scriptedInvoker{script: allGreen}

	runner := newTestRunner(t, testSpec(2), root, inv, WithCache(c))
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	for _, res := range report.Results {
		assert.False(t, res.Cached)
	}
	firstCalls := inv.callCount()
	require.Positive(t, firstCalls)

	// Second run over unchanged units replays from cache
	var cachedEvents int
	rerun := newTestRunner(t, testSpec(2), root, inv, WithCache(c))
	rerun.OnProgress(func(event ProgressEvent) {
		if event.EventType == EventCheckCached {
			cachedEvents++
		}
	})
	report2, err := rerun.Run(context.Background())
	require.NoError(t, err)

	for _, res := range report2.Results {
		assert.True(t, res.Cached, "%s/%s should be cached", res.Check, res.Unit)
	}
	assert.Equal(t, firstCalls, inv.callCount(), "no new invocations on a warm cache")
	assert.Equal(t, len(report2.Results), cachedEvents)

	// Touching a unit invalidates its entries
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "src", "lib.rs"), []byte("pub fn changed() {}\n"), 0o644))
	report3, err := newTestRunner(t, testSpec(2), root, inv, WithCache(c)).Run(context.Background())
	require.NoError(t, err)
	res, ok := report3.ResultFor("compile", "a")
	require.True(t, ok)
	assert.False(t, res.Cached)
}

func TestRunProgressEvents(t *testing.T) {
	root := setupWorkspace(t, "a")
	inv := &scriptedInvoker{script: allGreen}

	var mu sync.Mutex
	var events []ProgressEvent

	runner := newTestRunner(t, testSpec(2), root, inv)
	runner.OnProgress(func(event ProgressEvent) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, EventRunStart, events[0].EventType)
	assert.Equal(t, EventRunComplete, events[len(events)-1].EventType)

	var starts, completes int
	for _, e := range events {
		switch e.EventType {
		case EventCheckStart:
			starts++
			assert.Equal(t, 3, e.TotalTasks)
		case EventCheckComplete:
			completes++
		}
	}
	assert.Equal(t, 3, starts)
	assert.Equal(t, 3, completes)
}

func TestRunPassesEnvironmentToCommands(t *testing.T) {
	root := setupWorkspace(t, "a")
	inv := &scriptedInvoker{script: allGreen}

	runner := newTestRunner(t, testSpec(1), root, inv)
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	var sawUnitEnv bool
	for _, call := range inv.calls {
		for _, e := range call.Env {
			if strings.HasPrefix(e, "CHECKDECK_UNIT=a") {
				sawUnitEnv = true
			}
		}
	}
	assert.True(t, sawUnitEnv)
}
