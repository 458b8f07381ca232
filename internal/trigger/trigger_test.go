package trigger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/indexwatch/internal/daemon/events"
	"git.home.luguber.info/inful/indexwatch/internal/debounce"
	"git.home.luguber.info/inful/indexwatch/internal/metrics"
	"git.home.luguber.info/inful/indexwatch/internal/runner"
	"git.home.luguber.info/inful/indexwatch/internal/shutdown"
	"git.home.luguber.info/inful/indexwatch/internal/watcher"
)

// fakeBackend records calls and tracks how many runs overlap.
type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	current  int
	maxSeen  int
	ctxErrs  []error
	release  chan struct{}
	result   runner.Result
	err      error
	duration time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{result: runner.Result{Command: "cocoindex update main.py"}}
}

func (f *fakeBackend) Run(ctx context.Context, cmd runner.Command, _ time.Duration) (runner.Result, error) {
	f.mu.Lock()
	f.calls++
	f.current++
	if f.current > f.maxSeen {
		f.maxSeen = f.current
	}
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.current--
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	res := f.result
	res.Duration = f.duration
	return res, f.err
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) MaxConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

func newTrigger(backend Backend, window time.Duration, clock clockwork.Clock) *Trigger {
	return New(Options{
		Gate:    debounce.NewGate(window),
		Backend: backend,
		Command: runner.Command{Name: "cocoindex", Args: []string{"update", "main.py"}},
		Timeout: time.Minute,
		Clock:   clock,
	})
}

func change(path string) watcher.ChangeEvent {
	return watcher.ChangeEvent{Path: path, Op: "WRITE", Time: time.Now()}
}

func waitIdle(t *testing.T, trig *Trigger) {
	t.Helper()
	require.Eventually(t, func() bool { return !trig.InFlight() }, 5*time.Second, time.Millisecond)
}

func TestOnEvent_RapidWritesThenLaterWrite(t *testing.T) {
	clock := clockwork.NewFakeClock()
	backend := newFakeBackend()
	trig := newTrigger(backend, 2*time.Second, clock)
	ctx := t.Context()

	var outcomes []Outcome
	for range 3 {
		outcomes = append(outcomes, trig.OnEvent(ctx, change("/tmp/w/a.txt")))
		clock.Advance(200 * time.Millisecond)
	}
	require.Equal(t, []Outcome{OutcomeStarted, OutcomeDebounced, OutcomeDebounced}, outcomes)
	waitIdle(t, trig)
	require.Equal(t, 1, backend.Calls())

	clock.Advance(3 * time.Second)
	require.Equal(t, OutcomeStarted, trig.OnEvent(ctx, change("/tmp/w/a.txt")))
	waitIdle(t, trig)
	require.Equal(t, 2, backend.Calls())

	stats := trig.Stats()
	require.Equal(t, int64(2), stats.Runs)
	require.Equal(t, int64(2), stats.Debounced)
}

func TestOnEvent_DropsWhileRunInFlight(t *testing.T) {
	backend := newFakeBackend()
	backend.release = make(chan struct{})
	trig := newTrigger(backend, 0, clockwork.NewRealClock())
	ctx := t.Context()

	require.Equal(t, OutcomeStarted, trig.OnEvent(ctx, change("/w/first.txt")))

	var busy atomic.Int32
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if trig.OnEvent(ctx, change(fmt.Sprintf("/w/%d.txt", i))) == OutcomeBusy {
				busy.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(50), busy.Load())

	close(backend.release)
	waitIdle(t, trig)

	require.Equal(t, 1, backend.Calls(), "dropped events must not be queued")
	require.Equal(t, 1, backend.MaxConcurrency())
	require.Equal(t, int64(50), trig.Stats().Busy)
}

func TestOnEvent_NeverRunsConcurrently(t *testing.T) {
	backend := newFakeBackend()
	backend.duration = time.Millisecond
	trig := newTrigger(backend, 0, clockwork.NewRealClock())
	ctx := t.Context()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				trig.OnEvent(ctx, change(fmt.Sprintf("/w/%d-%d", w, i)))
			}
		}()
	}
	wg.Wait()
	waitIdle(t, trig)

	require.GreaterOrEqual(t, backend.Calls(), 1)
	require.Equal(t, 1, backend.MaxConcurrency())
}

func TestOnEvent_IgnoresDirectories(t *testing.T) {
	backend := newFakeBackend()
	trig := newTrigger(backend, 0, clockwork.NewRealClock())

	ev := change("/w/sub")
	ev.IsDirectory = true
	require.Equal(t, OutcomeIgnored, trig.OnEvent(t.Context(), ev))
	require.Zero(t, backend.Calls())
}

func TestOnEvent_FailuresKeepTriggerArmed(t *testing.T) {
	cases := []struct {
		name   string
		result runner.Result
		err    error
		status metrics.RunStatus
		errIs  error
	}{
		{"nonzero exit", runner.Result{ExitCode: 2, Stderr: "bad flow\n"}, nil, metrics.RunFailed, ErrNonZeroExit},
		{"timeout", runner.Result{ExitCode: -1, TimedOut: true}, runner.ErrTimeout, metrics.RunTimeout, runner.ErrTimeout},
		{"spawn failure", runner.Result{ExitCode: -1}, runner.ErrSpawnFailed, metrics.RunSpawnFailed, runner.ErrSpawnFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.result = tc.result
			backend.err = tc.err
			trig := newTrigger(backend, 0, clockwork.NewRealClock())

			require.Equal(t, OutcomeStarted, trig.OnEvent(t.Context(), change("/w/a")))
			waitIdle(t, trig)

			rep, ok := trig.LastReport()
			require.True(t, ok)
			require.Equal(t, tc.status, rep.Status)
			require.ErrorIs(t, rep.Err, tc.errIs)
			require.True(t, rep.Failed())

			require.Equal(t, OutcomeStarted, trig.OnEvent(t.Context(), change("/w/b")))
			waitIdle(t, trig)
			require.Equal(t, 2, backend.Calls())
			require.Equal(t, int64(2), trig.Stats().Failures)
		})
	}
}

func TestOnEvent_RunIgnoresCallerCancellation(t *testing.T) {
	backend := newFakeBackend()
	backend.release = make(chan struct{})
	trig := newTrigger(backend, 0, clockwork.NewRealClock())

	ctx, cancel := context.WithCancel(context.Background())
	require.Equal(t, OutcomeStarted, trig.OnEvent(ctx, change("/w/a")))
	cancel()
	close(backend.release)
	waitIdle(t, trig)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Equal(t, []error{nil}, backend.ctxErrs)
}

func TestRunNow_BypassesGate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	backend := newFakeBackend()
	trig := newTrigger(backend, time.Hour, clock)

	require.Equal(t, OutcomeStarted, trig.OnEvent(t.Context(), change("/w/a")))
	waitIdle(t, trig)

	rep, err := trig.RunNow(t.Context(), ReasonInitial)
	require.NoError(t, err)
	require.Equal(t, ReasonInitial, rep.Reason)
	require.Equal(t, metrics.RunSuccess, rep.Status)
	require.NotEmpty(t, rep.RunID)
	require.Equal(t, 2, backend.Calls())
}

func TestRunNow_RespectsRunLock(t *testing.T) {
	backend := newFakeBackend()
	backend.release = make(chan struct{})
	trig := newTrigger(backend, 0, clockwork.NewRealClock())

	require.Equal(t, OutcomeStarted, trig.TryRun(t.Context(), ReasonResync))
	_, err := trig.RunNow(t.Context(), ReasonInitial)
	require.ErrorIs(t, err, ErrBusy)

	close(backend.release)
	waitIdle(t, trig)
}

func TestDrain_WaitsForInFlightRun(t *testing.T) {
	backend := newFakeBackend()
	backend.release = make(chan struct{})
	trig := newTrigger(backend, 0, clockwork.NewRealClock())

	require.Equal(t, OutcomeStarted, trig.OnEvent(t.Context(), change("/w/a")))

	drained := make(chan error, 1)
	go func() { drained <- trig.Drain(context.Background()) }()

	select {
	case <-drained:
		t.Fatal("Drain returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(backend.release)
	require.NoError(t, <-drained)
	require.Equal(t, OutcomeClosed, trig.OnEvent(t.Context(), change("/w/b")))
	_, err := trig.RunNow(t.Context(), ReasonInitial)
	require.ErrorIs(t, err, ErrClosed)
	require.Equal(t, 1, backend.Calls())
}

func TestDrain_HonoursDeadline(t *testing.T) {
	backend := newFakeBackend()
	backend.release = make(chan struct{})
	defer close(backend.release)
	trig := newTrigger(backend, 0, clockwork.NewRealClock())
	require.Equal(t, OutcomeStarted, trig.OnEvent(t.Context(), change("/w/a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, trig.Drain(ctx), context.DeadlineExceeded)
}

func TestOnEvent_ClosedAfterShutdownRequested(t *testing.T) {
	state := shutdown.NewState()
	backend := newFakeBackend()
	trig := New(Options{Backend: backend, Shutdown: state})

	state.Request("test")
	require.Equal(t, OutcomeClosed, trig.OnEvent(t.Context(), change("/w/a")))
	require.Zero(t, backend.Calls())
}

func TestConsume_StopsWhenChannelCloses(t *testing.T) {
	backend := newFakeBackend()
	trig := newTrigger(backend, time.Hour, clockwork.NewFakeClock())

	ch := make(chan watcher.ChangeEvent, 3)
	ch <- change("/w/a")
	ch <- change("/w/a")
	ch <- change("/w/a")
	close(ch)

	done := make(chan struct{})
	go func() {
		trig.Consume(t.Context(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Consume did not return")
	}
	waitIdle(t, trig)
	require.Equal(t, 1, backend.Calls())
}

func TestRun_PublishesReport(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch, unsubscribe := events.Subscribe[events.RunCompleted](bus, 1)
	defer unsubscribe()

	backend := newFakeBackend()
	backend.result = runner.Result{Command: "cocoindex update main.py", ExitCode: 1, Stderr: "line1\nline2\n"}
	trig := New(Options{Backend: backend, Bus: bus, NewRunID: func() string { return "run-1" }})

	require.Equal(t, OutcomeStarted, trig.OnEvent(t.Context(), change("/w/a")))
	select {
	case evt := <-ch:
		require.Equal(t, "run-1", evt.RunID)
		require.Equal(t, ReasonChange, evt.Reason)
		require.Equal(t, "/w/a", evt.Path)
		require.Equal(t, 1, evt.ExitCode)
		require.Equal(t, "failed", evt.Status)
		require.Equal(t, "line1\nline2", evt.StderrTail)
	case <-time.After(5 * time.Second):
		t.Fatal("no RunCompleted event")
	}
}

func TestRun_SlowSubscriberDoesNotHoldRunLock(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	// Unbuffered and never read: every publish waits out its timeout.
	_, unsubscribe := events.Subscribe[events.RunCompleted](bus, 0)
	defer unsubscribe()

	backend := newFakeBackend()
	trig := New(Options{Backend: backend, Bus: bus})

	require.Equal(t, OutcomeStarted, trig.TryRun(t.Context(), ReasonResync))
	require.Eventually(t, func() bool { return !trig.InFlight() }, publishTimeout/2, time.Millisecond)
	require.Equal(t, OutcomeStarted, trig.TryRun(t.Context(), ReasonResync))

	ctx, cancel := context.WithTimeout(t.Context(), 3*publishTimeout)
	defer cancel()
	require.NoError(t, trig.Drain(ctx))
	require.Equal(t, 2, backend.Calls())
}

func TestAbort_NothingInFlight(t *testing.T) {
	trig := newTrigger(newFakeBackend(), 0, clockwork.NewRealClock())
	require.False(t, trig.Abort())
}
