// Package debounce suppresses bursts of triggers inside a cool-down window.
package debounce

import (
	"sync"
	"time"
)

// Gate accepts a trigger only when at least Window has elapsed since the
// last accepted one. The first call always accepts.
type Gate struct {
	window time.Duration

	mu           sync.Mutex
	lastAccepted time.Time
	accepted     bool
}

// NewGate returns a gate with the given window. A zero or negative window
// accepts every call.
func NewGate(window time.Duration) *Gate {
	return &Gate{window: window}
}

// Window returns the configured cool-down.
func (g *Gate) Window() time.Duration {
	return g.window
}

// ShouldAccept reports whether a trigger at now passes the gate. A rejected
// call leaves the gate untouched, so a steady stream of triggers closer than
// the window apart only lets the first one through.
func (g *Gate) ShouldAccept(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accepted && now.Sub(g.lastAccepted) < g.window {
		return false
	}
	g.lastAccepted = now
	g.accepted = true
	return true
}

// LastAccepted returns the time of the last accepted trigger and whether
// one has happened yet.
func (g *Gate) LastAccepted() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAccepted, g.accepted
}
