// Package runner executes external commands with a timeout and captured
// output, returning a structured result.
//
// A nonzero exit is a result, not an error: callers branch on
// Result.ExitCode. Errors are reserved for commands that could not be
// launched (ErrSpawnFailed), ran past their timeout (ErrTimeout) or were
// canceled by the caller's context (ErrCanceled).
package runner

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/indexwatch/internal/logfields"
)

const (
	// DefaultTimeout is the ceiling applied when Run is given no timeout.
	DefaultTimeout = 300 * time.Second
	// DefaultWaitDelay bounds how long Wait keeps reading output after the
	// child was killed.
	DefaultWaitDelay = 2 * time.Second
)

// Command describes an external invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // appended to the current environment
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of one command execution. It is never mutated after
// Run returns it.
type Result struct {
	Command   string
	PID       int
	ExitCode  int
	Stdout    string
	Stderr    string
	TimedOut  bool
	Truncated bool
	StartedAt time.Time
	Duration  time.Duration
}

// DurationMs returns the run duration in milliseconds.
func (r Result) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// Succeeded reports a zero exit that did not time out.
func (r Result) Succeeded() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Options configures a Runner.
type Options struct {
	MaxOutputBytes int
	WaitDelay      time.Duration
	Logger         *slog.Logger
}

// Runner executes commands. It is safe for concurrent use.
type Runner struct {
	maxOutput int
	waitDelay time.Duration
	logger    *slog.Logger
}

// New creates a Runner.
func New(opts Options) *Runner {
	r := &Runner{
		maxOutput: opts.MaxOutputBytes,
		waitDelay: opts.WaitDelay,
		logger:    opts.Logger,
	}
	if r.maxOutput <= 0 {
		r.maxOutput = DefaultMaxOutput
	}
	if r.waitDelay <= 0 {
		r.waitDelay = DefaultWaitDelay
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run executes cmd and blocks until it exits, the timeout elapses or ctx is
// canceled. On timeout the child's process group is killed and the output
// captured so far is returned together with ErrTimeout.
func (r *Runner) Run(ctx context.Context, cmd Command, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	res := Result{Command: cmd.String(), ExitCode: -1}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}
	stdout := newTailBuffer(r.maxOutput)
	stderr := newTailBuffer(r.maxOutput)
	c.Stdout = stdout
	c.Stderr = stderr
	ConfigureGroup(c)
	c.WaitDelay = r.waitDelay

	res.StartedAt = time.Now()
	if err := c.Start(); err != nil {
		res.Duration = time.Since(res.StartedAt)
		return res, ferrors.WrapError(err, ferrors.CategoryProcess, msgSpawnFailed).
			WithContext("command", cmd.Name).
			Build()
	}
	res.PID = c.Process.Pid
	r.logger.Debug("Command spawned", logfields.Command(res.Command), logfields.PID(res.PID))

	waitErr := c.Wait()
	res.Duration = time.Since(res.StartedAt)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Truncated = stdout.Truncated() || stderr.Truncated()
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	switch {
	case ctx.Err() != nil:
		return res, ferrors.WrapError(ctx.Err(), ferrors.CategoryProcess, msgCanceled).
			WithContext("command", cmd.Name).
			Build()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		return res, ferrors.TimeoutError(msgTimeout).
			WithContext("command", cmd.Name).
			WithContext("timeout", timeout.String()).
			Build()
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil, errors.As(waitErr, &exitErr):
		return res, nil
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// The child exited but a descendant kept the output pipes open.
		return res, nil
	default:
		return res, ferrors.WrapError(waitErr, ferrors.CategoryProcess, msgWaitFailed).
			WithContext("command", cmd.Name).
			Build()
	}
}

// Probe runs cmd once as an availability check. Spawn failure, timeout or a
// nonzero exit all yield ErrBackendUnavailable.
func (r *Runner) Probe(ctx context.Context, cmd Command, timeout time.Duration) error {
	res, err := r.Run(ctx, cmd, timeout)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryProcess, msgBackendUnavailable).
			Fatal().
			WithContext("command", res.Command).
			Build()
	}
	if res.ExitCode != 0 {
		return ferrors.ProcessError(msgBackendUnavailable).
			Fatal().
			WithContext("command", res.Command).
			WithContext("exit_code", res.ExitCode).
			WithContext("stderr", strings.TrimSpace(res.Stderr)).
			Build()
	}
	r.logger.Info("Backend available",
		logfields.Command(res.Command),
		slog.String("version", firstLine(res.Stdout)))
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
