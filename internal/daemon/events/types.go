package events

import "time"

// Event is implemented by every event published on the bus.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// RunCompleted is published once per finished indexing run, whatever its
// outcome.
type RunCompleted struct {
	RunID      string    `json:"run_id"`
	Reason     string    `json:"reason"`
	Path       string    `json:"path,omitempty"`
	Command    string    `json:"command"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   int       `json:"exit_code"`
	TimedOut   bool      `json:"timed_out"`
	DurationMs int64     `json:"duration_ms"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StderrTail string    `json:"stderr_tail,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (e RunCompleted) EventName() string     { return "run.completed" }
func (e RunCompleted) OccurredAt() time.Time { return e.FinishedAt }

// CompanionStateChanged is published on every companion state transition.
type CompanionStateChanged struct {
	SessionID string    `json:"session_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	PID       int       `json:"pid,omitempty"`
	Address   string    `json:"address"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func (e CompanionStateChanged) EventName() string     { return "companion.state_changed" }
func (e CompanionStateChanged) OccurredAt() time.Time { return e.At }

// ShutdownInitiated is published when the shutdown sequence begins.
type ShutdownInitiated struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

func (e ShutdownInitiated) EventName() string     { return "shutdown.initiated" }
func (e ShutdownInitiated) OccurredAt() time.Time { return e.At }
