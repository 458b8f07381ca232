package metrics

import "time"

// RunStatus enumerates indexing run outcomes for counters.
type RunStatus string

const (
	RunSuccess     RunStatus = "success"
	RunFailed      RunStatus = "failed"
	RunTimeout     RunStatus = "timeout"
	RunSpawnFailed RunStatus = "spawn_failed"
)

// Recorder defines observability hooks for the trigger and companion paths.
type Recorder interface {
	ObserveRunDuration(status RunStatus, d time.Duration)
	IncRunOutcome(status RunStatus)
	IncEventOutcome(outcome string) // started|debounced|busy|ignored|closed
	SetRunInFlight(inFlight bool)
	SetCompanionState(state string)
	IncCompanionExit(crashed bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRunDuration(RunStatus, time.Duration) {}
func (NoopRecorder) IncRunOutcome(RunStatus)                     {}
func (NoopRecorder) IncEventOutcome(string)                      {}
func (NoopRecorder) SetRunInFlight(bool)                         {}
func (NoopRecorder) SetCompanionState(string)                    {}
func (NoopRecorder) IncCompanionExit(bool)                       {}
