package checks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/checkdeck/checkdeck/internal/invoke"
	"github.com/checkdeck/checkdeck/internal/models"
)

// CommandCheckArgs holds the arguments for creating a command check.
type CommandCheckArgs struct {
	// Name is the identifier for this check, used in results and error messages.
	Name string
	// Command is the tool to execute.
	Command string
	// Args are the arguments to pass to the tool.
	Args []string
	// Timeout is the maximum execution time in seconds. Zero falls back to
	// the pipeline-wide timeout carried on the target.
	Timeout int
	// ExitCodes lists acceptable exit codes. Empty means only 0 passes.
	ExitCodes []int
	// Artifacts are glob patterns collected under the execution's artifact
	// directory after the tool finishes.
	Artifacts []string
}

// commandCheck runs an external tool and judges it by exit code. The tool
// runs in the target's working directory with CHECKDECK_* environment
// variables set; anything it writes under CHECKDECK_ARTIFACT_DIR and
// matching the configured globs is recorded as an artifact.
type commandCheck struct {
	name      string
	command   string
	args      []string
	timeout   time.Duration
	exitCodes []int
	artifacts []string
	invoker   invoke.Invoker
}

// NewCommandCheck creates a [commandCheck] that runs an external tool.
func NewCommandCheck(args CommandCheckArgs, inv invoke.Invoker) (*commandCheck, error) {
	if args.Command == "" {
		return nil, fmt.Errorf("command check '%s' must have a 'command'", args.Name)
	}

	for _, g := range args.Artifacts {
		if _, err := filepath.Match(g, ""); err != nil {
			return nil, fmt.Errorf("command check '%s': invalid artifact glob %q: %w", args.Name, g, err)
		}
	}

	return &commandCheck{
		name:      args.Name,
		command:   args.Command,
		args:      args.Args,
		timeout:   time.Duration(args.Timeout) * time.Second,
		exitCodes: args.ExitCodes,
		artifacts: args.Artifacts,
		invoker:   inv,
	}, nil
}

func (c *commandCheck) Name() string           { return c.name }
func (c *commandCheck) Kind() models.CheckKind { return models.KindCommand }

func (c *commandCheck) Run(ctx context.Context, target *Target) (*models.CheckResult, error) {
	return measureTime(func() (*models.CheckResult, error) {
		result := &models.CheckResult{
			Check: c.name,
			Unit:  target.UnitName(),
		}

		timeout := c.timeout
		if timeout <= 0 {
			timeout = target.Timeout
		}

		out, err := c.invoker.Run(ctx, invoke.Invocation{
			Command: c.command,
			Args:    c.args,
			Dir:     target.WorkDir(),
			Env:     target.Env(),
			Timeout: timeout,
		})

		switch {
		case err == nil:
		case errors.Is(err, invoke.ErrToolUnavailable):
			result.Status = models.StatusSkipped
			result.Reason = fmt.Sprintf("tool %s not found on PATH", c.command)
			return result, nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			result.Status = models.StatusSkipped
			result.Reason = models.SkipReasonCancelled
			if out != nil {
				result.Output = out.Output
			}
			return result, err
		default:
			result.Status = models.StatusFailure
			result.Reason = err.Error()
			return result, nil
		}

		result.Output = out.Output
		if out.Truncated {
			result.Output += "\n[output truncated]"
		}

		switch {
		case out.TimedOut:
			result.Status = models.StatusFailure
			result.Reason = fmt.Sprintf("timed out after %s", timeout)
		case isAcceptableExit(out.ExitCode, c.exitCodes):
			result.Status = models.StatusSuccess
		default:
			result.Status = models.StatusFailure
			result.Reason = fmt.Sprintf("exit code %d", out.ExitCode)
		}

		result.Artifacts = collectArtifacts(target, c.artifacts)

		return result, nil
	})
}

// isAcceptableExit checks whether exitCode is in the allowed list.
// An empty allowedCodes list defaults to allowing only exit code 0.
func isAcceptableExit(exitCode int, allowedCodes []int) bool {
	if len(allowedCodes) == 0 {
		return exitCode == 0
	}
	for _, code := range allowedCodes {
		if exitCode == code {
			return true
		}
	}
	return false
}

// collectArtifacts globs the target's artifact directory and returns the
// matches as sorted paths relative to the run's output root. Globs are
// validated at construction, so pattern errors cannot occur here.
func collectArtifacts(target *Target, globs []string) []string {
	if len(globs) == 0 || target.ArtifactDir == "" {
		return nil
	}

	seen := make(map[string]bool)
	var artifacts []string
	for _, g := range globs {
		matches, err := filepath.Glob(filepath.Join(target.ArtifactDir, g))
		if err != nil {
			continue
		}
		for _, m := range matches {
			rel, err := filepath.Rel(target.OutputDir, m)
			if err != nil {
				rel = m
			}
			rel = filepath.ToSlash(rel)
			if !seen[rel] {
				seen[rel] = true
				artifacts = append(artifacts, rel)
			}
		}
	}
	sort.Strings(artifacts)
	return artifacts
}
