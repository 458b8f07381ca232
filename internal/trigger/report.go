package trigger

import (
	"errors"
	"strings"
	"time"

	"git.home.luguber.info/inful/indexwatch/internal/daemon/events"
	"git.home.luguber.info/inful/indexwatch/internal/metrics"
	"git.home.luguber.info/inful/indexwatch/internal/runner"
)

const stderrTailLines = 20

// Report describes one finished indexing run.
type Report struct {
	RunID      string
	Reason     string
	Path       string
	Result     runner.Result
	Err        error
	Status     metrics.RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed reports whether the run did not succeed.
func (r Report) Failed() bool {
	return r.Status != metrics.RunSuccess
}

func statusFor(res runner.Result, err error) metrics.RunStatus {
	switch {
	case errors.Is(err, runner.ErrTimeout) || res.TimedOut:
		return metrics.RunTimeout
	case errors.Is(err, runner.ErrSpawnFailed):
		return metrics.RunSpawnFailed
	case err != nil || res.ExitCode != 0:
		return metrics.RunFailed
	default:
		return metrics.RunSuccess
	}
}

// Event converts the report into its bus representation.
func (r Report) Event() events.RunCompleted {
	evt := events.RunCompleted{
		RunID:      r.RunID,
		Reason:     r.Reason,
		Path:       r.Path,
		Command:    r.Result.Command,
		PID:        r.Result.PID,
		ExitCode:   r.Result.ExitCode,
		TimedOut:   r.Result.TimedOut,
		DurationMs: r.Result.DurationMs(),
		Status:     string(r.Status),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Err != nil {
		evt.Error = r.Err.Error()
	}
	if r.Failed() {
		evt.StderrTail = tailLines(r.Result.Stderr, stderrTailLines)
	}
	return evt
}

func tailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
