// Package companion supervises the companion server process.
//
// The supervisor walks NotStarted -> Starting -> Running -> Terminating ->
// Exited and is the only owner of the process handle. Any exit that was not
// requested through Terminate is a crash: Exited is closed and Err returns
// ErrCrashed so the orchestrator can shut the session down.
package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/indexwatch/internal/daemon/events"
	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/indexwatch/internal/logfields"
	"git.home.luguber.info/inful/indexwatch/internal/metrics"
	"git.home.luguber.info/inful/indexwatch/internal/retry"
	"git.home.luguber.info/inful/indexwatch/internal/runner"
)

// State is the companion lifecycle state.
type State string

const (
	StateNotStarted  State = "not_started"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateTerminating State = "terminating"
	StateExited      State = "exited"
)

const (
	DefaultGracePeriod  = 5 * time.Second
	DefaultReadyTimeout = 30 * time.Second

	killWait     = 5 * time.Second
	dialTimeout  = 500 * time.Millisecond
	pipeDrainCap = 2 * time.Second
)

// Handle is a snapshot of the supervised process.
type Handle struct {
	SessionID string
	PID       int
	Address   string
	State     State
	StartedAt time.Time
	ExitedAt  time.Time
	ExitCode  int
}

// Options configures a Supervisor.
type Options struct {
	Command      runner.Command
	Address      string
	ReadyProbe   bool
	ReadyTimeout time.Duration
	ReadyPolicy  retry.Policy
	TailLines    int
	Recorder     metrics.Recorder
	Bus          *events.Bus
	Logger       *slog.Logger
}

// Supervisor owns one companion process for the lifetime of the session.
type Supervisor struct {
	opts     Options
	logger   *slog.Logger
	recorder metrics.Recorder
	tail     *lineTail

	mu        sync.Mutex
	handle    Handle
	cmd       *exec.Cmd
	exited    chan struct{}
	settled   chan struct{} // closed once the exit has been announced
	err       error
	requested bool
	stdout    *lineWriter
	stderr    *lineWriter
}

// New creates a supervisor in the NotStarted state.
func New(opts Options) *Supervisor {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.ReadyPolicy.Initial <= 0 {
		opts.ReadyPolicy = retry.ReadinessPolicy()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		opts:     opts,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		tail:     newLineTail(opts.TailLines),
		exited:   make(chan struct{}),
		settled:  make(chan struct{}),
		handle: Handle{
			SessionID: uuid.NewString(),
			Address:   opts.Address,
			State:     StateNotStarted,
			ExitCode:  -1,
		},
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle.State
}

// Handle returns a snapshot of the process handle.
func (s *Supervisor) Handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Exited is closed once the process has exited, whether requested or not.
// The exited state event may still be in flight; Terminate waits for it.
func (s *Supervisor) Exited() <-chan struct{} {
	return s.exited
}

// Err returns the crash error after an unrequested exit, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OutputTail returns the most recent output lines, oldest first.
func (s *Supervisor) OutputTail() []string {
	return s.tail.Lines()
}

// transition must be called with mu held. It returns the bus event to
// publish once mu is released.
func (s *Supervisor) transition(to State, cause error) events.CompanionStateChanged {
	from := s.handle.State
	s.handle.State = to
	evt := events.CompanionStateChanged{
		SessionID: s.handle.SessionID,
		From:      string(from),
		To:        string(to),
		PID:       s.handle.PID,
		Address:   s.handle.Address,
		At:        time.Now(),
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	return evt
}

func (s *Supervisor) announce(evt events.CompanionStateChanged) {
	s.recorder.SetCompanionState(evt.To)
	s.logger.Debug("Companion state changed",
		slog.String("from", evt.From),
		logfields.State(evt.To),
		logfields.PID(evt.PID))
	if s.opts.Bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.opts.Bus.Publish(ctx, evt); err != nil && !errors.Is(err, events.ErrClosed) {
		s.logger.Warn("Failed to publish companion state", logfields.Error(err))
	}
}

// Start launches the companion and, when the readiness probe is enabled,
// blocks until its address accepts connections. A process that exits or
// never becomes ready is terminated and reported as an error.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.handle.State != StateNotStarted || s.requested {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}

	cmd := exec.Command(s.opts.Command.Name, s.opts.Command.Args...)
	cmd.Dir = s.opts.Command.Dir
	if len(s.opts.Command.Env) > 0 {
		cmd.Env = append(cmd.Environ(), s.opts.Command.Env...)
	}
	s.stdout = &lineWriter{stream: "stdout", logger: s.logger, tail: s.tail}
	s.stderr = &lineWriter{stream: "stderr", logger: s.logger, tail: s.tail}
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	cmd.WaitDelay = pipeDrainCap
	runner.SetGroup(cmd)

	starting := s.transition(StateStarting, nil)
	s.logger.Info("Starting companion server",
		logfields.Command(s.opts.Command.String()),
		logfields.Address(s.opts.Address))

	if err := cmd.Start(); err != nil {
		startErr := ferrors.WrapError(err, ferrors.CategoryCompanion, msgStartFailed).
			WithContext("command", s.opts.Command.Name).
			Build()
		s.handle.ExitedAt = time.Now()
		exitedEvt := s.transition(StateExited, startErr)
		s.err = startErr
		close(s.exited)
		s.mu.Unlock()
		s.announce(starting)
		s.announce(exitedEvt)
		close(s.settled)
		return startErr
	}
	s.cmd = cmd
	s.handle.PID = cmd.Process.Pid
	s.handle.StartedAt = time.Now()
	starting.PID = s.handle.PID
	s.mu.Unlock()

	s.announce(starting)
	go s.wait(cmd)

	if s.opts.ReadyProbe {
		if err := s.awaitReady(ctx); err != nil {
			_ = s.Terminate(DefaultGracePeriod)
			return err
		}
	}

	s.mu.Lock()
	if s.handle.State != StateStarting {
		// Exited or terminating while we were probing.
		err := s.err
		s.mu.Unlock()
		if err == nil {
			err = ErrNotReady
		}
		return err
	}
	running := s.transition(StateRunning, nil)
	pid := s.handle.PID
	s.mu.Unlock()

	s.announce(running)
	s.logger.Info("Companion server running", logfields.PID(pid), logfields.Address(s.opts.Address))
	return nil
}

func (s *Supervisor) awaitReady(ctx context.Context) error {
	addr := DialAddress(s.opts.Address)
	pollCtx, cancel := context.WithTimeout(ctx, s.opts.ReadyTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.exited:
			cancel()
		case <-pollCtx.Done():
		}
	}()

	err := retry.Poll(pollCtx, s.opts.ReadyPolicy, func(ctx context.Context) (bool, error) {
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false, err
		}
		_ = conn.Close()
		return true, nil
	})
	if err == nil {
		return nil
	}

	select {
	case <-s.exited:
		if crash := s.Err(); crash != nil {
			return crash
		}
	default:
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ferrors.WrapError(err, ferrors.CategoryCompanion, msgNotReady).
		WithContext("address", addr).
		WithContext("ready_timeout", s.opts.ReadyTimeout.String()).
		Build()
}

func (s *Supervisor) wait(cmd *exec.Cmd) {
	waitErr := cmd.Wait()
	s.stdout.Flush()
	s.stderr.Flush()
	// Reap anything the server left behind in its process group.
	_ = runner.KillGroup(cmd.Process)

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	s.mu.Lock()
	requested := s.requested
	s.handle.ExitCode = exitCode
	s.handle.ExitedAt = time.Now()
	var crash error
	if !requested {
		crash = ferrors.WrapError(waitErr, ferrors.CategoryCompanion, msgCrashed).
			Fatal().
			WithContext("exit_code", exitCode).
			WithContext("pid", s.handle.PID).
			Build()
		s.err = crash
	}
	evt := s.transition(StateExited, crash)
	uptime := s.handle.ExitedAt.Sub(s.handle.StartedAt)
	pid := s.handle.PID
	s.mu.Unlock()
	// Terminate decides on SIGKILL from exited alone; announcing may block on
	// slow subscribers, so settled tracks it separately.
	close(s.exited)
	defer close(s.settled)

	s.recorder.IncCompanionExit(!requested)
	if requested {
		s.logger.Info("Companion server exited",
			logfields.PID(pid),
			logfields.ExitCode(exitCode),
			logfields.Duration(uptime))
	} else {
		s.logger.Error("Companion server crashed",
			logfields.PID(pid),
			logfields.ExitCode(exitCode),
			logfields.Duration(uptime),
			slog.String("output_tail", strings.Join(s.tail.Lines(), "\n")))
	}
	s.announce(evt)
}

// Terminate asks the companion to stop with SIGINT, waits up to grace and
// then kills its process group. It is a no-op when the process never started
// or has already exited. A concurrent or repeated call waits at most grace
// for the first one to finish.
func (s *Supervisor) Terminate(grace time.Duration) error {
	s.mu.Lock()
	switch s.handle.State {
	case StateNotStarted:
		s.requested = true
		s.mu.Unlock()
		return nil
	case StateExited:
		s.mu.Unlock()
		<-s.settled
		return nil
	case StateTerminating:
		s.mu.Unlock()
		if s.waitExited(grace) == nil {
			<-s.settled
		}
		return nil
	}

	s.requested = true
	evt := s.transition(StateTerminating, nil)
	proc := s.cmd.Process
	s.mu.Unlock()

	// Announced before the signal so it precedes the exited event.
	s.announce(evt)
	s.logger.Info("Terminating companion server",
		logfields.PID(proc.Pid),
		slog.Duration("grace_period", grace))

	if err := runner.InterruptGroup(proc); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("Failed to interrupt companion", logfields.PID(proc.Pid), logfields.Error(err))
	}
	if s.waitExited(grace) == nil {
		<-s.settled
		return nil
	}

	s.logger.Warn("Companion did not stop within grace period; killing", logfields.PID(proc.Pid))
	if err := runner.KillGroup(proc); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("Failed to kill companion", logfields.PID(proc.Pid), logfields.Error(err))
	}
	if err := s.waitExited(killWait); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryCompanion, msgKillFailed).WithContext("pid", proc.Pid).Build()
	}
	<-s.settled
	return nil
}

func (s *Supervisor) waitExited(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.exited:
		return nil
	case <-timer.C:
		return fmt.Errorf("companion still running after %s", d)
	}
}

// DialAddress maps a bind address to one a local client can connect to.
// Wildcard hosts are dialed on loopback.
func DialAddress(bind string) string {
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return bind
	}
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return net.JoinHostPort(host, port)
}
