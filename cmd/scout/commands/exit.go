// Package commands implements CLI command handlers for scout.
package commands

import (
	"context"
	"errors"

	"github.com/Sumatoshi-tech/scout/internal/graph"
	"github.com/Sumatoshi-tech/scout/internal/plan"
)

// Process exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitInterrupted = 130
)

// ErrConfig marks configuration and invocation errors so the process exits
// with the config error code.
var ErrConfig = errors.New("configuration error")

// ErrInterrupted reports a run stopped by an operator signal. A partial
// report may still have been written.
var ErrInterrupted = errors.New("run interrupted")

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, ErrInterrupted),
		errors.Is(err, graph.ErrAborted),
		errors.Is(err, plan.ErrReviewAborted),
		errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, ErrConfig):
		return exitConfig
	default:
		return exitFailure
	}
}
