// Package trigger decides when a filesystem change starts an indexing run.
//
// Each qualifying event passes the debounce gate and then tries the run lock
// without blocking. When a run is already in flight the event is dropped, not
// queued: the running pass is taken to cover the change. Runs execute on their
// own goroutine so the event consumer keeps draining the watcher while a run
// is in progress. Run failures are logged and reported, never returned.
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/indexwatch/internal/daemon/events"
	"git.home.luguber.info/inful/indexwatch/internal/debounce"
	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/indexwatch/internal/logfields"
	"git.home.luguber.info/inful/indexwatch/internal/metrics"
	"git.home.luguber.info/inful/indexwatch/internal/runner"
	"git.home.luguber.info/inful/indexwatch/internal/shutdown"
	"git.home.luguber.info/inful/indexwatch/internal/watcher"
)

// Outcome is the decision taken for one trigger request.
type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeDebounced Outcome = "debounced"
	OutcomeBusy      Outcome = "busy"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeClosed    Outcome = "closed"
)

// Run reasons.
const (
	ReasonChange  = "change"
	ReasonInitial = "initial"
	ReasonResync  = "resync"
)

const publishTimeout = 2 * time.Second

// Backend runs the indexing command. *runner.Runner satisfies it.
type Backend interface {
	Run(ctx context.Context, cmd runner.Command, timeout time.Duration) (runner.Result, error)
}

// Options configures a Trigger. Gate, Backend and Command are required.
type Options struct {
	Gate     *debounce.Gate
	Backend  Backend
	Command  runner.Command
	Timeout  time.Duration
	Clock    clockwork.Clock
	Shutdown shutdown.Observer
	Recorder metrics.Recorder
	Bus      *events.Bus
	Logger   *slog.Logger
	NewRunID func() string
}

// Stats is a snapshot of trigger activity.
type Stats struct {
	Runs       int64
	Failures   int64
	Debounced  int64
	Busy       int64
	InFlight   bool
	LastReport *Report
}

// Trigger starts at most one indexing run at a time.
type Trigger struct {
	gate     *debounce.Gate
	backend  Backend
	command  runner.Command
	timeout  time.Duration
	clock    clockwork.Clock
	observer shutdown.Observer
	recorder metrics.Recorder
	bus      *events.Bus
	logger   *slog.Logger
	newRunID func() string

	runMu sync.Mutex

	stateMu  sync.Mutex
	closed   bool
	abort    context.CancelFunc
	inflight sync.WaitGroup

	running   atomic.Bool
	runs      atomic.Int64
	failures  atomic.Int64
	debounced atomic.Int64
	busy      atomic.Int64

	lastMu sync.RWMutex
	last   *Report
}

// New creates a Trigger.
func New(opts Options) *Trigger {
	t := &Trigger{
		gate:     opts.Gate,
		backend:  opts.Backend,
		command:  opts.Command,
		timeout:  opts.Timeout,
		clock:    opts.Clock,
		observer: opts.Shutdown,
		recorder: opts.Recorder,
		bus:      opts.Bus,
		logger:   opts.Logger,
		newRunID: opts.NewRunID,
	}
	if t.gate == nil {
		t.gate = debounce.NewGate(0)
	}
	if t.timeout <= 0 {
		t.timeout = runner.DefaultTimeout
	}
	if t.clock == nil {
		t.clock = clockwork.NewRealClock()
	}
	if t.recorder == nil {
		t.recorder = metrics.NoopRecorder{}
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.newRunID == nil {
		t.newRunID = uuid.NewString
	}
	return t
}

// OnEvent applies the trigger policy to one change event.
func (t *Trigger) OnEvent(ctx context.Context, ev watcher.ChangeEvent) Outcome {
	outcome := t.onEvent(ctx, ev)
	t.recorder.IncEventOutcome(string(outcome))
	return outcome
}

func (t *Trigger) onEvent(ctx context.Context, ev watcher.ChangeEvent) Outcome {
	if ev.IsDirectory {
		return OutcomeIgnored
	}
	if t.shutdownRequested() {
		return OutcomeClosed
	}
	if !t.gate.ShouldAccept(t.clock.Now()) {
		t.debounced.Add(1)
		t.logger.Debug("Change debounced", logfields.Path(ev.Path))
		return OutcomeDebounced
	}
	outcome := t.dispatch(ctx, ReasonChange, ev.Path, nil)
	if outcome == OutcomeBusy {
		t.logger.Debug("Change dropped; index run in flight", logfields.Path(ev.Path))
	}
	return outcome
}

// TryRun starts a run without consulting the gate. It does not wait for the
// run to finish.
func (t *Trigger) TryRun(ctx context.Context, reason string) Outcome {
	outcome := t.dispatch(ctx, reason, "", nil)
	t.recorder.IncEventOutcome(string(outcome))
	return outcome
}

// RunNow starts a run without consulting the gate and waits for its report.
// It fails with ErrBusy when a run is in flight and ErrClosed after Drain.
// Run failures are carried in Report.Err, not in the returned error.
func (t *Trigger) RunNow(ctx context.Context, reason string) (Report, error) {
	reports := make(chan Report, 1)
	switch t.dispatch(ctx, reason, "", reports) {
	case OutcomeBusy:
		return Report{}, ErrBusy
	case OutcomeClosed:
		return Report{}, ErrClosed
	}
	select {
	case rep := <-reports:
		return rep, nil
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

func (t *Trigger) shutdownRequested() bool {
	return t.observer != nil && t.observer.IsRequested()
}

func (t *Trigger) dispatch(ctx context.Context, reason, path string, reports chan<- Report) Outcome {
	t.stateMu.Lock()
	if t.closed || t.shutdownRequested() {
		t.stateMu.Unlock()
		return OutcomeClosed
	}
	if !t.runMu.TryLock() {
		t.stateMu.Unlock()
		t.busy.Add(1)
		return OutcomeBusy
	}
	t.inflight.Add(1)
	t.running.Store(true)

	// The run is detached from ctx and bounded by the trigger timeout; only
	// Abort can cut it short.
	runCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	t.abort = abort
	t.stateMu.Unlock()

	go func() {
		defer t.inflight.Done()
		rep := t.execute(runCtx, reason, path)

		t.stateMu.Lock()
		t.abort = nil
		t.running.Store(false)
		t.runMu.Unlock()
		t.stateMu.Unlock()
		abort()

		if reports != nil {
			reports <- rep
		}
		// Published outside the run lock so a slow subscriber cannot delay the
		// next run. Drain still waits for it.
		t.publish(context.WithoutCancel(runCtx), rep)
	}()
	return OutcomeStarted
}

// execute must be called with runMu held.
func (t *Trigger) execute(runCtx context.Context, reason, path string) Report {
	rep := Report{
		RunID:     t.newRunID(),
		Reason:    reason,
		Path:      path,
		StartedAt: t.clock.Now(),
	}
	t.recorder.SetRunInFlight(true)
	defer t.recorder.SetRunInFlight(false)

	t.logger.Info("Index run started",
		logfields.RunID(rep.RunID),
		logfields.Reason(reason),
		logfields.Path(path),
		logfields.Command(t.command.String()))

	res, err := t.backend.Run(runCtx, t.command, t.timeout)
	rep.FinishedAt = t.clock.Now()
	rep.Result = res
	rep.Status = statusFor(res, err)
	rep.Err = err
	if err == nil && res.ExitCode != 0 {
		rep.Err = ferrors.ProcessError(msgNonZeroExit).
			WithContext("exit_code", res.ExitCode).
			Build()
	}

	t.logReport(rep)
	t.record(rep)
	return rep
}

func (t *Trigger) logReport(rep Report) {
	attrs := []any{
		logfields.RunID(rep.RunID),
		logfields.Reason(rep.Reason),
		logfields.ExitCode(rep.Result.ExitCode),
		logfields.DurationMS(rep.Result.DurationMs()),
	}
	switch rep.Status {
	case metrics.RunSuccess:
		t.logger.Info("Index run finished", attrs...)
	case metrics.RunTimeout:
		t.logger.Warn("Index run timed out",
			append(attrs, slog.Duration("timeout", t.timeout), slog.String("stderr", tailLines(rep.Result.Stderr, stderrTailLines)))...)
	case metrics.RunSpawnFailed:
		t.logger.Error("Index run could not start", append(attrs, logfields.Error(rep.Err))...)
	default:
		t.logger.Warn("Index run failed",
			append(attrs, slog.String("stderr", tailLines(rep.Result.Stderr, stderrTailLines)), logfields.Error(rep.Err))...)
	}
}

func (t *Trigger) record(rep Report) {
	t.runs.Add(1)
	if rep.Failed() {
		t.failures.Add(1)
	}
	t.recorder.IncRunOutcome(rep.Status)
	t.recorder.ObserveRunDuration(rep.Status, rep.Result.Duration)

	t.lastMu.Lock()
	t.last = &rep
	t.lastMu.Unlock()
}

func (t *Trigger) publish(ctx context.Context, rep Report) {
	if t.bus == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := t.bus.Publish(pubCtx, rep.Event()); err != nil && !errors.Is(err, events.ErrClosed) {
		t.logger.Warn("Failed to publish run report", logfields.RunID(rep.RunID), logfields.Error(err))
	}
}

// Consume applies OnEvent to every event from ch until ch closes or ctx
// ends. Events received after shutdown was requested are discarded.
func (t *Trigger) Consume(ctx context.Context, ch <-chan watcher.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			t.OnEvent(ctx, ev)
		}
	}
}

// Drain stops accepting new runs and waits for the in-flight run, if any, to
// finish. The run is not canceled; it ends on its own or at its timeout.
func (t *Trigger) Drain(ctx context.Context) error {
	t.stateMu.Lock()
	t.closed = true
	t.stateMu.Unlock()

	if t.running.Load() {
		t.logger.Info("Waiting for in-flight index run to finish", slog.Duration("timeout", t.timeout))
	}

	done := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ferrors.WrapError(ctx.Err(), ferrors.CategoryTimeout, "index run did not finish before shutdown deadline").Build()
	}
}

// Abort cancels the in-flight run, killing its process group. Shutdown uses
// it only once a run has outlived its own timeout. It reports whether a run
// was in flight.
func (t *Trigger) Abort() bool {
	t.stateMu.Lock()
	abort := t.abort
	t.stateMu.Unlock()
	if abort == nil {
		return false
	}
	t.logger.Warn("Aborting in-flight index run")
	abort()
	return true
}

// LastReport returns the most recent report, or false if no run finished yet.
func (t *Trigger) LastReport() (Report, bool) {
	t.lastMu.RLock()
	defer t.lastMu.RUnlock()
	if t.last == nil {
		return Report{}, false
	}
	return *t.last, true
}

// InFlight reports whether a run is executing.
func (t *Trigger) InFlight() bool {
	return t.running.Load()
}

// Stats returns a snapshot of counters.
func (t *Trigger) Stats() Stats {
	s := Stats{
		Runs:      t.runs.Load(),
		Failures:  t.failures.Load(),
		Debounced: t.debounced.Load(),
		Busy:      t.busy.Load(),
		InFlight:  t.running.Load(),
	}
	if rep, ok := t.LastReport(); ok {
		s.LastReport = &rep
	}
	return s
}
