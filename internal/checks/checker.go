// Package checks provides the Checker interface and the command and
// pattern check implementations that pipelines are assembled from.
package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/checkdeck/checkdeck/internal/discovery"
	"github.com/checkdeck/checkdeck/internal/invoke"
	"github.com/checkdeck/checkdeck/internal/models"
)

// Target is what a single check execution runs against.
type Target struct {
	// Unit is nil for global-scope executions.
	Unit *discovery.Unit
	// Root is the absolute pipeline root directory.
	Root string
	// OutputDir is the absolute artifact root for the whole run.
	OutputDir string
	// ArtifactDir is the absolute directory owned by this execution.
	// Commands see it as CHECKDECK_ARTIFACT_DIR and may write files there.
	ArtifactDir string
	// Timeout applies to command checks that configure none of their own.
	Timeout time.Duration
}

// UnitName returns the unit name, or "" for global targets.
func (t *Target) UnitName() string {
	if t.Unit == nil {
		return ""
	}
	return t.Unit.Name
}

// WorkDir is the directory a check operates in: the unit directory for
// per-unit targets, the pipeline root for global ones.
func (t *Target) WorkDir() string {
	if t.Unit == nil {
		return t.Root
	}
	return t.Unit.Dir
}

// Env returns the environment entries exposed to command checks.
func (t *Target) Env() []string {
	env := []string{
		"CHECKDECK_ROOT=" + t.Root,
		"CHECKDECK_ARTIFACT_DIR=" + t.ArtifactDir,
	}
	if t.Unit != nil {
		env = append(env,
			"CHECKDECK_UNIT="+t.Unit.Name,
			"CHECKDECK_UNIT_DIR="+t.Unit.Dir,
		)
	}
	return env
}

// Checker is the interface for all check implementations.
type Checker interface {
	// Name returns the configured check name.
	Name() string

	// Kind returns the check kind.
	Kind() models.CheckKind

	// Run executes the check against the target. Tool problems never
	// surface as errors: an unavailable tool yields a skipped result, a
	// failing tool a failure result. The only error returned alongside a
	// (partial) result is the context's, when the run is cancelled mid-check.
	Run(ctx context.Context, target *Target) (*models.CheckResult, error)
}

// Create builds a checker from a check definition. Kind-specific params are
// decoded via mapstructure; malformed params are configuration errors.
func Create(def models.CheckDef, inv invoke.Invoker) (Checker, error) {
	params := def.Params
	if params == nil {
		params = map[string]any{}
	}

	switch def.Kind {
	case models.KindCommand:
		var v *struct {
			Command   string   `mapstructure:"command"`
			Args      []string `mapstructure:"args"`
			Timeout   int      `mapstructure:"timeout"`
			ExitCodes []int    `mapstructure:"exit_codes"`
			Artifacts []string `mapstructure:"artifacts"`
		}

		if err := mapstructure.Decode(params, &v); err != nil {
			return nil, err
		}

		return NewCommandCheck(CommandCheckArgs{
			Name:      def.Name,
			Command:   v.Command,
			Args:      v.Args,
			Timeout:   v.Timeout,
			ExitCodes: v.ExitCodes,
			Artifacts: v.Artifacts,
		}, inv)
	case models.KindPattern:
		var v *struct {
			Forbid []string `mapstructure:"forbid"`
			Files  []string `mapstructure:"files"`
		}

		if err := mapstructure.Decode(params, &v); err != nil {
			return nil, err
		}

		return NewPatternCheck(PatternCheckArgs{
			Name:   def.Name,
			Forbid: v.Forbid,
			Files:  v.Files,
		})
	default:
		return nil, fmt.Errorf("'%s' is not a valid check kind", def.Kind)
	}
}

// CreateAll builds checkers for every definition in the spec, in order.
func CreateAll(defs []models.CheckDef, inv invoke.Invoker) ([]Checker, error) {
	checkers := make([]Checker, 0, len(defs))
	for _, def := range defs {
		c, err := Create(def, inv)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", def.Name, err)
		}
		checkers = append(checkers, c)
	}
	return checkers, nil
}

// measureTime is a helper to record execution duration on a result.
func measureTime(fn func() (*models.CheckResult, error)) (*models.CheckResult, error) {
	start := time.Now()
	result, err := fn()

	if result != nil {
		result.DurationMs = time.Since(start).Milliseconds()
	}

	return result, err
}
