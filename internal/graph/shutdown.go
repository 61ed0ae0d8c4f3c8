package graph

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// AbortWindow is how long after the first interrupt a second one forces an
// immediate abort instead of the cooperative wind-down.
const AbortWindow = 2 * time.Second

// Coordinator turns SIGINT/SIGTERM into a two-stage shutdown. The first
// signal requests a cooperative stop: the running stage finishes, the state
// is checkpointed, and the loop routes to synthesize. A second signal
// inside the abort window cancels the run context outright; the last
// durable checkpoint stays valid.
type Coordinator struct {
	logger *slog.Logger
	window time.Duration

	sigs   chan os.Signal
	cancel context.CancelFunc

	stopping atomic.Bool
	aborted  atomic.Bool
	done     chan struct{}
}

// NewCoordinator derives a cancellable run context from ctx and starts
// watching for interrupt signals.
func NewCoordinator(ctx context.Context, logger *slog.Logger) (context.Context, *Coordinator) {
	return newCoordinator(ctx, logger, AbortWindow, true)
}

func newCoordinator(ctx context.Context, logger *slog.Logger, window time.Duration, notify bool) (context.Context, *Coordinator) {
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancel := context.WithCancel(ctx)

	c := &Coordinator{
		logger: logger,
		window: window,
		sigs:   make(chan os.Signal, 2),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if notify {
		signal.Notify(c.sigs, os.Interrupt, syscall.SIGTERM)
	}

	go c.watch(runCtx)

	return runCtx, c
}

// Stopping reports whether a cooperative stop has been requested.
func (c *Coordinator) Stopping() bool {
	return c.stopping.Load()
}

// Aborted reports whether a second signal cancelled the run.
func (c *Coordinator) Aborted() bool {
	return c.aborted.Load()
}

// Close releases the signal registration. Safe to call more than once.
func (c *Coordinator) Close() {
	signal.Stop(c.sigs)
	c.cancel()
}

func (c *Coordinator) watch(ctx context.Context) {
	defer close(c.done)

	select {
	case <-ctx.Done():
		return
	case <-c.sigs:
	}

	c.stopping.Store(true)
	c.logger.Warn("interrupt received: finishing current stage, then synthesizing from gathered material",
		"abort_window", c.window)

	timer := time.NewTimer(c.window)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		// The window closed with no second signal; the cooperative path is
		// committed. Releasing the registration restores default signal
		// handling, so a later interrupt still kills a hung process.
		signal.Stop(c.sigs)

		return
	case <-c.sigs:
	}

	c.aborted.Store(true)
	c.logger.Warn("second interrupt: aborting now, last checkpoint stays valid")
	signal.Stop(c.sigs)
	c.cancel()
}
