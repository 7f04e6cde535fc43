package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess     = 0 // All required checks succeeded
	ExitCheckFailed = 1 // One or more required checks failed
	ExitError       = 2 // Configuration, discovery, or runtime error
)

// CheckFailureError indicates that the pipeline itself ran to completion,
// but one or more required checks did not pass.
type CheckFailureError struct {
	Message string
}

func (e *CheckFailureError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		// Check error type to determine exit code
		var checkFailureErr *CheckFailureError
		if errors.As(err, &checkFailureErr) {
			os.Exit(ExitCheckFailed)
		}

		// All other errors are configuration/runtime errors
		os.Exit(ExitError)
	}
}
