package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// defaultMaxOutputBytes caps captured tool output. Checks that spew past the
// cap keep running; the excess is discarded and the result marked truncated.
const defaultMaxOutputBytes = 1 << 20 // 1 MiB

// ErrToolUnavailable marks commands that could not be resolved on PATH.
// Callers test for it with errors.Is.
var ErrToolUnavailable = errors.New("tool unavailable")

// Invocation describes a single external tool run.
type Invocation struct {
	Command string
	Args    []string
	Dir     string        // working directory, empty means inherit
	Env     []string      // extra KEY=VALUE entries appended to the inherited environment
	Timeout time.Duration // 0 means no per-invocation timeout
}

// Result captures the outcome of an invocation that started.
type Result struct {
	ExitCode  int
	Output    string // combined stdout and stderr
	Truncated bool
	TimedOut  bool
	Duration  time.Duration
}

// Invoker runs external tools.
type Invoker interface {
	// Run executes the invocation and returns its result. A non-zero exit
	// code is a normal Result, not an error. ErrToolUnavailable is returned
	// when the command cannot be found. If the context is canceled mid-run,
	// Run returns the partial result alongside the context error.
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// Exec is the os/exec-backed Invoker.
type Exec struct {
	MaxOutputBytes int64
}

// NewExec returns an Invoker with the default output cap.
func NewExec() *Exec {
	return &Exec{MaxOutputBytes: defaultMaxOutputBytes}
}

func (e *Exec) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if inv.Command == "" {
		return nil, errors.New("empty command")
	}

	path, err := exec.LookPath(inv.Command)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", inv.Command, ErrToolUnavailable)
		}
		return nil, fmt.Errorf("resolving %s: %w", inv.Command, err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	maxOutput := e.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputBytes
	}
	var buf bytes.Buffer
	out := &limitedWriter{w: &buf, max: maxOutput}

	//nolint:gosec // check commands are user-configured in checkdeck.yaml, not untrusted input
	cmd := exec.CommandContext(runCtx, path, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	// Identical writer for both streams keeps os/exec from interleaving writes.
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	runErr := cmd.Run()
	result := &Result{
		Output:    buf.String(),
		Truncated: out.truncated,
		Duration:  time.Since(start),
	}

	if runErr == nil {
		return result, nil
	}

	// Outer cancellation wins over a timeout or exit error: the caller
	// decides how to record the interrupted work and keeps the partial output.
	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, ctx.Err()
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.TimedOut = true
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	return nil, fmt.Errorf("running %s: %w", inv.Command, runErr)
}

// limitedWriter caps total bytes written and swallows the rest so the
// child process never blocks on a full pipe.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}

	remaining := lw.max - lw.written
	toWrite := p
	if int64(n) > remaining {
		toWrite = p[:remaining]
		lw.truncated = true
	}

	written, err := lw.w.Write(toWrite)
	lw.written += int64(written)
	return n, err
}
