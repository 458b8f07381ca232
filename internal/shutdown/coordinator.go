package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/indexwatch/internal/logfields"
)

// Step is one stage of the shutdown sequence.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
	// Timeout gives the step its own deadline. Time spent in such a step is
	// not charged against the sequence deadline carried by Shutdown's ctx.
	Timeout time.Duration
}

// Coordinator runs the shutdown steps once, in order.
type Coordinator struct {
	state *State
	steps []Step

	started atomic.Bool
	done    chan struct{}
	err     error
}

// NewCoordinator creates a coordinator for state. Steps run in the order given.
func NewCoordinator(state *State, steps ...Step) *Coordinator {
	return &Coordinator{
		state: state,
		steps: steps,
		done:  make(chan struct{}),
	}
}

// Shutdown marks shutdown as requested (if nothing else has) and runs every
// step. A failing step is logged and the sequence continues. Later callers
// block until the first sequence completes and receive its result, or return
// ctx.Err() if ctx ends first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if c.started.CompareAndSwap(false, true) {
		c.run(ctx)
		return c.err
	}

	slog.Debug("Shutdown already in progress; waiting")
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the sequence has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	c.state.Request("shutdown")
	start := time.Now()
	slog.Info("Shutdown initiated", logfields.Reason(c.state.Reason()))

	deadline, bounded := ctx.Deadline()
	budget := time.Until(deadline)
	base := context.WithoutCancel(ctx)

	var errs []error
	for _, step := range c.steps {
		var (
			stepCtx context.Context
			cancel  context.CancelFunc
		)
		switch {
		case step.Timeout > 0:
			stepCtx, cancel = context.WithTimeout(base, step.Timeout)
		case bounded:
			stepCtx, cancel = context.WithTimeout(base, max(budget, 0))
		default:
			stepCtx, cancel = context.WithCancel(ctx)
		}

		stepStart := time.Now()
		err := step.Run(stepCtx)
		cancel()
		elapsed := time.Since(stepStart)
		if step.Timeout <= 0 {
			budget -= elapsed
		}

		if err != nil {
			slog.Warn("Shutdown step failed",
				logfields.Step(step.Name),
				logfields.Duration(elapsed),
				logfields.Error(err))
			errs = append(errs, err)
			continue
		}
		slog.Info("Shutdown step complete",
			logfields.Step(step.Name),
			logfields.Duration(elapsed))
	}
	c.err = errors.Join(errs...)
	slog.Info("Shutdown complete", logfields.Duration(time.Since(start)))
}
