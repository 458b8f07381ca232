// Package shutdown holds the process-wide shutdown signal and the
// coordinator that tears components down in order.
package shutdown

import (
	"sync"
	"time"
)

// Observer is the read-only view of a State handed to components.
type Observer interface {
	IsRequested() bool
	Requested() <-chan struct{}
}

// State transitions exactly once from running to shutting down. Only the
// holder of the *State (the signal handler and the orchestrator) may request
// shutdown; everyone else gets an Observer.
type State struct {
	once        sync.Once
	requested   chan struct{}
	mu          sync.Mutex
	reason      string
	requestedAt time.Time
}

// NewState returns a State in the running phase.
func NewState() *State {
	return &State{requested: make(chan struct{})}
}

// Request marks shutdown as requested. It returns true only for the call
// that performed the transition.
func (s *State) Request(reason string) bool {
	first := false
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.requestedAt = time.Now()
		s.mu.Unlock()
		close(s.requested)
		first = true
	})
	return first
}

// IsRequested reports whether shutdown was requested.
func (s *State) IsRequested() bool {
	select {
	case <-s.requested:
		return true
	default:
		return false
	}
}

// Requested is closed when shutdown is requested.
func (s *State) Requested() <-chan struct{} {
	return s.requested
}

// Reason returns the reason passed to the first Request, or "".
func (s *State) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// RequestedAt returns when shutdown was requested.
func (s *State) RequestedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestedAt
}
