// Package orchestration drives pipeline runs: it discovers units, fans
// check executions out over a bounded worker pool, and aggregates every
// outcome into a single report.
package orchestration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/checkdeck/checkdeck/internal/aggregate"
	"github.com/checkdeck/checkdeck/internal/cache"
	"github.com/checkdeck/checkdeck/internal/checks"
	"github.com/checkdeck/checkdeck/internal/discovery"
	"github.com/checkdeck/checkdeck/internal/invoke"
	"github.com/checkdeck/checkdeck/internal/models"
)

// Runner executes one pipeline run.
type Runner struct {
	spec      *models.Spec
	rootDir   string
	outputDir string
	invoker   invoke.Invoker

	// Check and unit filtering
	checkFilters []string
	unitFilters  []string

	// Result caching
	cache *cache.Cache

	// Progress tracking
	progressMu sync.Mutex
	listeners  []ProgressListener
}

// ProgressListener receives progress updates
type ProgressListener func(event ProgressEvent)

// EventType represents the type of progress event
type EventType string

// EventType constants
const (
	EventRunStart      EventType = "run_start"
	EventRunComplete   EventType = "run_complete"
	EventRunCancelled  EventType = "run_cancelled"
	EventCheckStart    EventType = "check_start"
	EventCheckComplete EventType = "check_complete"
	EventCheckCached   EventType = "check_cached"
)

// ProgressEvent represents a progress update
type ProgressEvent struct {
	EventType  EventType
	Check      string
	Unit       string
	TaskNum    int
	TotalTasks int
	Status     models.Status
	DurationMs int64
	Details    map[string]any
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCheckFilters sets glob patterns used to select checks by name.
func WithCheckFilters(patterns ...string) RunnerOption {
	return func(r *Runner) {
		r.checkFilters = patterns
	}
}

// WithUnitFilters sets glob patterns used to select units by name.
func WithUnitFilters(patterns ...string) RunnerOption {
	return func(r *Runner) {
		r.unitFilters = patterns
	}
}

// WithCache enables result caching
func WithCache(c *cache.Cache) RunnerOption {
	return func(r *Runner) {
		r.cache = c
	}
}

// NewRunner creates a runner. rootDir and outputDir must be absolute; the
// invoker is the boundary through which command checks reach external tools.
func NewRunner(spec *models.Spec, rootDir, outputDir string, inv invoke.Invoker, opts ...RunnerOption) *Runner {
	r := &Runner{
		spec:      spec,
		rootDir:   rootDir,
		outputDir: outputDir,
		invoker:   inv,
		listeners: []ProgressListener{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnProgress registers a progress listener
func (r *Runner) OnProgress(listener ProgressListener) {
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	r.listeners = append(r.listeners, listener)
}

func (r *Runner) notifyProgress(event ProgressEvent) {
	r.progressMu.Lock()
	listeners := make([]ProgressListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.progressMu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// task is one (check, target) execution.
type task struct {
	num     int
	total   int
	def     models.CheckDef
	checker checks.Checker
	target  *checks.Target
}

// Run executes the pipeline and returns the aggregated report. Discovery
// and configuration problems are fatal; tool problems are not, they are
// recorded as results. Cancellation is not an error either: remaining work
// is recorded as skipped and the partial report returned.
func (r *Runner) Run(ctx context.Context) (*models.Report, error) {
	units, err := discovery.Discover(r.rootDir, r.spec.Manifest)
	if err != nil {
		return nil, fmt.Errorf("discovering units: %w", err)
	}

	units, err = discovery.Filter(units, r.unitFilters)
	if err != nil {
		return nil, err
	}

	defs, err := FilterChecks(r.spec.Checks, r.checkFilters)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no checks match the given filters")
	}

	checkers, err := checks.CreateAll(defs, r.invoker)
	if err != nil {
		return nil, err
	}

	agg := aggregate.New(r.spec.Name, discovery.Names(units), checkInfos(defs))
	globalTasks, unitTasks := r.buildTasks(defs, checkers, units)
	total := len(globalTasks) + len(unitTasks)

	r.notifyProgress(ProgressEvent{
		EventType:  EventRunStart,
		TotalTasks: total,
		Details: map[string]any{
			"pipeline": r.spec.Name,
			"units":    len(units),
			"checks":   len(defs),
			"workers":  r.workers(),
		},
	})

	if r.workers() <= 1 {
		r.runSequential(ctx, globalTasks, unitTasks, agg)
	} else {
		r.runConcurrent(ctx, globalTasks, unitTasks, agg)
	}

	report := agg.Report()

	if ctx.Err() != nil {
		r.notifyProgress(ProgressEvent{
			EventType:  EventRunCancelled,
			TotalTasks: total,
			DurationMs: report.DurationMs,
		})
	} else {
		r.notifyProgress(ProgressEvent{
			EventType:  EventRunComplete,
			TotalTasks: total,
			Status:     report.Overall(),
			DurationMs: report.DurationMs,
		})
	}

	return report, nil
}

func (r *Runner) workers() int {
	if r.spec.Workers <= 0 {
		return models.DefaultWorkers
	}
	return r.spec.Workers
}

// buildTasks pairs every check with its targets: one task per global check,
// one per (per-unit check, unit). Task numbering follows definition order,
// units in discovery order within each check.
func (r *Runner) buildTasks(defs []models.CheckDef, checkers []checks.Checker, units []discovery.Unit) (global, perUnit []*task) {
	timeout := time.Duration(r.spec.TimeoutSec) * time.Second
	num := 0

	for i, def := range defs {
		if def.Scope != models.ScopeGlobal {
			continue
		}
		num++
		global = append(global, &task{
			num:     num,
			def:     def,
			checker: checkers[i],
			target: &checks.Target{
				Root:        r.rootDir,
				OutputDir:   r.outputDir,
				ArtifactDir: filepath.Join(r.outputDir, "global"),
				Timeout:     timeout,
			},
		})
	}

	for i, def := range defs {
		if def.Scope != models.ScopePerUnit {
			continue
		}
		for j := range units {
			unit := units[j]
			num++
			perUnit = append(perUnit, &task{
				num:     num,
				def:     def,
				checker: checkers[i],
				target: &checks.Target{
					Unit:        &unit,
					Root:        r.rootDir,
					OutputDir:   r.outputDir,
					ArtifactDir: filepath.Join(r.outputDir, "units", filepath.FromSlash(unit.Name)),
					Timeout:     timeout,
				},
			})
		}
	}

	for _, t := range global {
		t.total = num
	}
	for _, t := range perUnit {
		t.total = num
	}
	return global, perUnit
}

// runSequential executes every task one at a time in task order.
func (r *Runner) runSequential(ctx context.Context, globalTasks, unitTasks []*task, agg *aggregate.Aggregator) {
	for _, tk := range globalTasks {
		r.runTask(ctx, tk, agg)
	}
	for _, tk := range unitTasks {
		r.runTask(ctx, tk, agg)
	}
}

// runConcurrent executes global tasks first, then per-unit tasks, each phase
// bounded by the worker count. Result ordering is the aggregator's concern;
// completion order never matters.
func (r *Runner) runConcurrent(ctx context.Context, globalTasks, unitTasks []*task, agg *aggregate.Aggregator) {
	var g errgroup.Group
	g.SetLimit(r.workers())
	for _, tk := range globalTasks {
		g.Go(func() error {
			r.runTask(ctx, tk, agg)
			return nil
		})
	}
	_ = g.Wait()

	semaphore := make(chan struct{}, r.workers())
	var wg sync.WaitGroup

	for _, tk := range unitTasks {
		wg.Add(1)
		go func(tk *task) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			r.runTask(ctx, tk, agg)
		}(tk)
	}
	wg.Wait()
}

// runTask executes one task end to end: cancellation short-circuit, cache
// lookup, execution, log artifact, cache store, aggregation.
func (r *Runner) runTask(ctx context.Context, tk *task, agg *aggregate.Aggregator) {
	if ctx.Err() != nil {
		r.record(agg, tk, &models.CheckResult{
			Check:  tk.def.Name,
			Unit:   tk.target.UnitName(),
			Status: models.StatusSkipped,
			Reason: models.SkipReasonCancelled,
		}, EventCheckComplete)
		return
	}

	r.notifyProgress(ProgressEvent{
		EventType:  EventCheckStart,
		Check:      tk.def.Name,
		Unit:       tk.target.UnitName(),
		TaskNum:    tk.num,
		TotalTasks: tk.total,
	})

	var key string
	if r.cache != nil {
		var err error
		key, err = cache.Key(tk.def, r.spec.TimeoutSec, tk.target.WorkDir())
		if err != nil {
			r.warnf("cache key for %s: %v", tk.describe(), err)
			key = ""
		}
		if key != "" {
			if cached, ok := r.cache.Get(key); ok {
				result := *cached
				result.Cached = true
				// Command artifacts from the original run are gone; only
				// the log can be re-materialized from the stored output.
				result.Artifacts = nil
				r.writeCheckLog(tk, &result)
				r.record(agg, tk, &result, EventCheckCached)
				return
			}
		}
	}

	if err := os.MkdirAll(tk.target.ArtifactDir, 0o755); err != nil {
		r.record(agg, tk, &models.CheckResult{
			Check:  tk.def.Name,
			Unit:   tk.target.UnitName(),
			Status: models.StatusFailure,
			Reason: fmt.Sprintf("creating artifact directory: %v", err),
		}, EventCheckComplete)
		return
	}

	result, err := tk.checker.Run(ctx, tk.target)
	if result == nil {
		result = &models.CheckResult{
			Check:  tk.def.Name,
			Unit:   tk.target.UnitName(),
			Status: models.StatusFailure,
		}
		if err != nil {
			result.Reason = err.Error()
		}
		if ctx.Err() != nil {
			result.Status = models.StatusSkipped
			result.Reason = models.SkipReasonCancelled
		}
	}

	r.writeCheckLog(tk, result)

	if r.cache != nil && key != "" && err == nil {
		if putErr := r.cache.Put(key, result); putErr != nil {
			r.warnf("caching result for %s: %v", tk.describe(), putErr)
		}
	}

	r.record(agg, tk, result, EventCheckComplete)
}

// record adds a result to the aggregator and emits the completion event.
func (r *Runner) record(agg *aggregate.Aggregator, tk *task, result *models.CheckResult, event EventType) {
	if err := agg.Add(*result); err != nil {
		r.warnf("recording result for %s: %v", tk.describe(), err)
		return
	}

	progress := ProgressEvent{
		EventType:  event,
		Check:      result.Check,
		Unit:       result.Unit,
		TaskNum:    tk.num,
		TotalTasks: tk.total,
		Status:     result.Status,
		DurationMs: result.DurationMs,
	}
	if result.Reason != "" {
		progress.Details = map[string]any{"reason": result.Reason}
	}
	r.notifyProgress(progress)
}

// writeCheckLog persists the captured output as <check>.log in the task's
// artifact directory and records it as the result's first artifact.
func (r *Runner) writeCheckLog(tk *task, result *models.CheckResult) {
	if result.Output == "" {
		return
	}

	if err := os.MkdirAll(tk.target.ArtifactDir, 0o755); err != nil {
		r.warnf("creating artifact directory for %s: %v", tk.describe(), err)
		return
	}

	logPath := filepath.Join(tk.target.ArtifactDir, tk.def.Name+".log")
	if err := os.WriteFile(logPath, []byte(result.Output), 0o644); err != nil {
		r.warnf("writing log for %s: %v", tk.describe(), err)
		return
	}

	rel, err := filepath.Rel(r.outputDir, logPath)
	if err != nil {
		rel = logPath
	}
	rel = filepath.ToSlash(rel)

	for _, a := range result.Artifacts {
		if a == rel {
			return
		}
	}
	result.Artifacts = append([]string{rel}, result.Artifacts...)
}

func (r *Runner) warnf(format string, args ...any) {
	fmt.Printf("[WARN] "+format+"\n", args...)
}

func (tk *task) describe() string {
	if unit := tk.target.UnitName(); unit != "" {
		return tk.def.Name + "/" + unit
	}
	return tk.def.Name
}

// checkInfos converts definitions to the summary form embedded in reports.
func checkInfos(defs []models.CheckDef) []models.CheckInfo {
	infos := make([]models.CheckInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, models.CheckInfo{
			Name:     def.Name,
			Kind:     def.Kind,
			Scope:    def.Scope,
			Advisory: def.Advisory,
		})
	}
	return infos
}
