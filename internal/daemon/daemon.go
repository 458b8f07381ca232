// Package daemon composes the watcher, the index trigger and the companion
// supervisor for the configured mode and runs them until shutdown.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/indexwatch/internal/companion"
	"git.home.luguber.info/inful/indexwatch/internal/config"
	"git.home.luguber.info/inful/indexwatch/internal/daemon/events"
	"git.home.luguber.info/inful/indexwatch/internal/debounce"
	"git.home.luguber.info/inful/indexwatch/internal/eventstore"
	"git.home.luguber.info/inful/indexwatch/internal/logfields"
	"git.home.luguber.info/inful/indexwatch/internal/metrics"
	"git.home.luguber.info/inful/indexwatch/internal/notify"
	"git.home.luguber.info/inful/indexwatch/internal/runner"
	"git.home.luguber.info/inful/indexwatch/internal/shutdown"
	"git.home.luguber.info/inful/indexwatch/internal/trigger"
	"git.home.luguber.info/inful/indexwatch/internal/version"
	"git.home.luguber.info/inful/indexwatch/internal/watcher"
)

// Backend runs and probes the indexing command.
type Backend interface {
	trigger.Backend
	Probe(ctx context.Context, cmd runner.Command, timeout time.Duration) error
}

// Journal records bus events and serves recent entries to the admin server.
type Journal interface {
	RecordEvent(ctx context.Context, evt events.Event) error
	Recent(ctx context.Context, limit int) ([]eventstore.Entry, error)
	Close() error
}

// Deps are the collaborators an Orchestrator uses. Zero values are replaced
// with production implementations built from the config.
type Deps struct {
	Backend       Backend
	Clock         clockwork.Clock
	Registry      *prom.Registry
	Journal       Journal
	Publisher     notify.Publisher
	LockDir       string
	AdminListener net.Listener
	Logger        *slog.Logger
}

const (
	consumerBuffer = 64
	// drainSlack covers report publication after a run ends.
	drainSlack = 3 * time.Second
)

// Orchestrator owns every component of one indexwatch session.
type Orchestrator struct {
	cfg       *config.Config
	deps      Deps
	logger    *slog.Logger
	clock     clockwork.Clock
	sessionID string
	registry  *prom.Registry
	recorder  metrics.Recorder
	bus       *events.Bus

	watcher   *watcher.Watcher
	companion *companion.Supervisor

	// Set once by Run before any worker starts.
	state     *shutdown.State
	trigger   *trigger.Trigger
	scheduler *Scheduler
	journal   Journal
	publisher notify.Publisher
	lock      *InstanceLock
	admin     *AdminServer
	startedAt time.Time

	workers WorkerGroup
	runOnce sync.Once
}

// New validates cfg and wires the components for its mode. Nothing is
// started until Run.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Backend == nil {
		deps.Backend = runner.New(runner.Options{Logger: deps.Logger})
	}
	if deps.LockDir == "" {
		deps.LockDir = os.TempDir()
	}
	if deps.Registry == nil && cfg.Admin.Address != "" {
		deps.Registry = metrics.NewRegistry()
	}

	o := &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger,
		clock:     deps.Clock,
		sessionID: uuid.NewString(),
		registry:  deps.Registry,
		recorder:  metrics.NoopRecorder{},
		bus:       events.NewBus(),
	}
	if deps.Registry != nil {
		o.recorder = metrics.NewPrometheusRecorder(deps.Registry)
	}

	if cfg.Mode.Watches() {
		o.watcher = watcher.New(watcher.Options{
			Buffer:           cfg.Watch.Buffer,
			Ignore:           cfg.Watch.Ignore,
			IgnoreTempFiles:  cfg.Watch.IgnoreTempFiles,
			RespectGitignore: cfg.Watch.RespectGitignore,
			Clock:            o.clock,
			Logger:           o.logger,
		})
	}
	if cfg.Mode.RunsCompanion() {
		o.companion = companion.New(companion.Options{
			Command:      cfg.CompanionCommand(),
			Address:      cfg.Companion.Address,
			ReadyProbe:   cfg.Companion.ReadyProbe,
			ReadyTimeout: cfg.Companion.ReadyTimeout,
			Recorder:     o.recorder,
			Bus:          o.bus,
			Logger:       o.logger,
		})
	}
	return o, nil
}

// SessionID identifies this run in the journal and in notifications.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Trigger returns the index trigger once Run has started, or nil.
func (o *Orchestrator) Trigger() *trigger.Trigger { return o.trigger }

// Companion returns the companion supervisor, or nil when the mode has none.
func (o *Orchestrator) Companion() *companion.Supervisor { return o.companion }

// AdminAddr returns the admin server's bound address, or "" when disabled.
func (o *Orchestrator) AdminAddr() string {
	if o.admin == nil {
		return ""
	}
	return o.admin.Addr()
}

// Run starts every component and blocks until shutdown is requested through
// state, ctx ends, or a fatal condition occurs. It returns nil after a
// graceful shutdown. Run may be called once.
func (o *Orchestrator) Run(ctx context.Context, state *shutdown.State) error {
	var err error = ErrRunTwice
	o.runOnce.Do(func() { err = o.run(ctx, state) })
	return err
}

func (o *Orchestrator) run(ctx context.Context, state *shutdown.State) error {
	o.state = state
	o.startedAt = o.clock.Now()
	if o.cfg.Mode.Watches() {
		o.trigger = trigger.New(trigger.Options{
			Gate:     debounce.NewGate(o.cfg.Watch.Debounce),
			Backend:  o.deps.Backend,
			Command:  o.cfg.IndexCommand(),
			Timeout:  o.cfg.Index.Timeout,
			Clock:    o.clock,
			Shutdown: state,
			Recorder: o.recorder,
			Bus:      o.bus,
			Logger:   o.logger,
		})
	}
	coord := shutdown.NewCoordinator(state, o.steps()...)

	if err := o.start(ctx, state); err != nil {
		// A shutdown request during startup interrupts it and is not a failure.
		if state.IsRequested() {
			o.logger.Info("Startup interrupted by shutdown request", logfields.Error(err))
			return o.shutdown(ctx, coord)
		}
		state.Request("startup failed")
		if serr := o.shutdown(ctx, coord); serr != nil {
			o.logger.Warn("Shutdown after failed startup was incomplete", logfields.Error(serr))
		}
		return err
	}

	return o.loop(ctx, state, coord)
}

// start brings components up in dependency order. Anything it started is
// torn down by the shutdown steps if it fails part way.
func (o *Orchestrator) start(ctx context.Context, state *shutdown.State) error {
	if o.cfg.Lock {
		lock, err := AcquireLock(o.deps.LockDir, o.lockKey())
		if err != nil {
			return err
		}
		o.lock = lock
	}

	if o.cfg.Mode.Watches() {
		if err := o.deps.Backend.Probe(ctx, o.cfg.ProbeCommand(), o.cfg.Index.ProbeTimeout); err != nil {
			return err
		}
	}

	if err := o.startSinks(ctx); err != nil {
		return err
	}

	if o.cfg.Admin.Address != "" {
		o.admin = NewAdminServer(o)
		if err := o.admin.Start(o.cfg.Admin.Address, o.deps.AdminListener); err != nil {
			return err
		}
	}

	o.banner()

	startCtx, cancel := withShutdown(ctx, state)
	defer cancel()

	if o.companion != nil {
		if err := o.companion.Start(startCtx); err != nil {
			return err
		}
	}

	if !o.cfg.Mode.Watches() {
		return nil
	}

	if o.cfg.Index.Initial {
		o.logger.Info("Running initial index")
		if _, err := o.trigger.RunNow(startCtx, trigger.ReasonInitial); err != nil {
			return err
		}
	}

	if err := o.watcher.Start(o.cfg.Watch.Path, o.cfg.Watch.Recursive); err != nil {
		return err
	}
	o.workers.Go("trigger", func() {
		o.trigger.Consume(context.WithoutCancel(ctx), o.watcher.Events())
	})

	if o.cfg.Index.ResyncInterval > 0 {
		sched, err := NewScheduler(o.trigger, o.clock)
		if err != nil {
			return err
		}
		if _, err := sched.ScheduleResync(o.cfg.Index.ResyncInterval); err != nil {
			return err
		}
		o.scheduler = sched
		sched.Start(context.WithoutCancel(ctx))
	}

	o.logger.Info("Watching for changes", logfields.Path(o.watcher.Root()))
	return nil
}

func (o *Orchestrator) startSinks(ctx context.Context) error {
	o.journal = o.deps.Journal
	if o.journal == nil && o.cfg.Journal.Path != "" {
		store, err := eventstore.NewSQLiteStore(o.cfg.Journal.Path, o.sessionID)
		if err != nil {
			return err
		}
		o.journal = store
	}

	o.publisher = o.deps.Publisher
	if o.publisher == nil && o.cfg.Notify.NatsURL != "" {
		pub, err := notify.Connect(o.cfg.Notify.NatsURL, o.cfg.Notify.Subject)
		if err != nil {
			return err
		}
		o.publisher = pub
	}

	// Consumers outlive ctx and stop when the bus closes.
	consumerCtx := context.WithoutCancel(ctx)
	if o.journal != nil {
		done := events.Forward(consumerCtx, o.bus, consumerBuffer, "journal", o.journal.RecordEvent)
		o.workers.Go("journal", func() { <-done })
	}
	if o.publisher != nil {
		done := events.Forward(consumerCtx, o.bus, consumerBuffer, "notify", o.publisher.Publish)
		o.workers.Go("notify", func() { <-done })
	}
	return nil
}

func (o *Orchestrator) lockKey() string {
	if o.cfg.Mode.Watches() {
		if abs, err := filepath.Abs(o.cfg.Watch.Path); err == nil {
			return abs
		}
		return o.cfg.Watch.Path
	}
	return "companion:" + o.cfg.Companion.Address
}

func (o *Orchestrator) banner() {
	attrs := []any{
		logfields.Mode(string(o.cfg.Mode)),
		slog.String("version", version.Version),
		slog.String("session_id", o.sessionID),
	}
	if o.cfg.Mode.Watches() {
		attrs = append(attrs,
			logfields.Path(o.cfg.Watch.Path),
			slog.String("target", o.cfg.Index.Target),
			slog.Bool("recursive", o.cfg.Watch.Recursive),
			slog.Duration("debounce", o.cfg.Watch.Debounce))
	}
	if o.cfg.Mode.RunsCompanion() {
		attrs = append(attrs,
			logfields.Address(o.cfg.Companion.Address),
			slog.String("flow_file", o.cfg.Companion.FlowFile))
	}
	if o.admin != nil {
		attrs = append(attrs, slog.String("admin", o.admin.Addr()))
	}
	o.logger.Info("indexwatch starting", attrs...)
}

// loop waits for the first terminal condition without polling.
func (o *Orchestrator) loop(ctx context.Context, state *shutdown.State, coord *shutdown.Coordinator) error {
	var companionExited <-chan struct{}
	if o.companion != nil {
		companionExited = o.companion.Exited()
	}
	var watchErrs <-chan error
	if o.watcher != nil {
		watchErrs = o.watcher.Errors()
	}

	for {
		select {
		case <-state.Requested():
			return o.shutdown(ctx, coord)

		case <-ctx.Done():
			state.Request("context canceled")
			return o.shutdown(ctx, coord)

		case <-companionExited:
			err := o.companion.Err()
			if err == nil {
				companionExited = nil
				continue
			}
			o.logger.Error("Companion server crashed; shutting down", logfields.Error(err))
			return o.fail(ctx, state, coord, "companion crashed", err)

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			if errors.Is(err, watcher.ErrRootRemoved) {
				o.logger.Error("Watched root disappeared; shutting down", logfields.Error(err))
				return o.fail(ctx, state, coord, "watch root removed", err)
			}
			o.logger.Warn("Watcher error", logfields.Error(err))
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, state *shutdown.State, coord *shutdown.Coordinator, reason string, cause error) error {
	state.Request(reason)
	if err := o.shutdown(ctx, coord); err != nil {
		o.logger.Warn("Shutdown after failure was incomplete", logfields.Error(err))
	}
	return cause
}

func (o *Orchestrator) shutdown(ctx context.Context, coord *shutdown.Coordinator) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ShutdownTimeout)
	defer cancel()
	return coord.Shutdown(sctx)
}

// steps lists the shutdown sequence. Each step tolerates components that
// were never started.
func (o *Orchestrator) steps() []shutdown.Step {
	return []shutdown.Step{
		{Name: "announce", Run: func(ctx context.Context) error {
			evt := events.ShutdownInitiated{Reason: o.state.Reason(), At: o.clock.Now()}
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := o.bus.Publish(pubCtx, evt); err != nil && !errors.Is(err, events.ErrClosed) {
				return err
			}
			return nil
		}},
		{Name: "scheduler", Run: func(ctx context.Context) error {
			if o.scheduler == nil {
				return nil
			}
			return o.scheduler.Stop(ctx)
		}},
		{Name: "watcher", Run: func(context.Context) error {
			if o.watcher == nil {
				return nil
			}
			return o.watcher.Stop()
		}},
		{Name: "index run", Timeout: o.drainTimeout(), Run: o.drainIndexRun},
		{Name: "companion", Run: func(context.Context) error {
			if o.companion == nil {
				return nil
			}
			return o.companion.Terminate(o.cfg.Companion.GracePeriod)
		}},
		{Name: "admin server", Run: func(ctx context.Context) error {
			if o.admin == nil {
				return nil
			}
			return o.admin.Shutdown(ctx)
		}},
		{Name: "workers", Run: func(ctx context.Context) error {
			o.bus.Close()
			return o.workers.StopAndWait(ctx)
		}},
		{Name: "sinks", Run: func(context.Context) error {
			var errs []error
			if o.journal != nil {
				errs = append(errs, o.journal.Close())
			}
			if o.publisher != nil {
				errs = append(errs, o.publisher.Close())
			}
			return errors.Join(errs...)
		}},
		{Name: "instance lock", Run: func(context.Context) error {
			if o.lock == nil {
				return nil
			}
			return o.lock.Release()
		}},
	}
}

// drainTimeout bounds the wait for an in-flight run: the run's own timeout
// plus the runner's pipe drain and some slack. It is independent of
// shutdown_timeout so a run is never abandoned before its timeout resolves.
func (o *Orchestrator) drainTimeout() time.Duration {
	return o.cfg.Index.Timeout + runner.DefaultWaitDelay + drainSlack
}

func (o *Orchestrator) drainIndexRun(ctx context.Context) error {
	if o.trigger == nil {
		return nil
	}
	err := o.trigger.Drain(ctx)
	if err == nil {
		return nil
	}
	// The backend overran its own timeout; kill it rather than orphan it.
	if o.trigger.Abort() {
		o.logger.Error("Index run outlived its timeout; killed", logfields.Error(err))
	}
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runner.DefaultWaitDelay+drainSlack)
	defer cancel()
	return o.trigger.Drain(abortCtx)
}

// withShutdown derives a context that is canceled when shutdown is requested.
func withShutdown(ctx context.Context, obs shutdown.Observer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-obs.Requested():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
