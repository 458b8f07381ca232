// Package retry holds the backoff policy used while waiting on external
// processes, most notably the companion readiness probe.
package retry

import (
	"time"

	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

// Mode selects how delays grow between attempts.
type Mode string

const (
	ModeFixed       Mode = "fixed"
	ModeLinear      Mode = "linear"
	ModeExponential Mode = "exponential"
)

// Policy is an immutable backoff description.
type Policy struct {
	Mode    Mode
	Initial time.Duration
	Max     time.Duration
	// MaxRetries bounds attempts after the first; zero means keep polling
	// until the caller's context ends.
	MaxRetries int
}

// ReadinessPolicy is the default used when probing a starting companion:
// exponential from 100ms, capped at 1s, bounded only by the startup timeout.
func ReadinessPolicy() Policy {
	return Policy{Mode: ModeExponential, Initial: 100 * time.Millisecond, Max: time.Second}
}

// NewPolicy builds a policy from raw values. Non-positive durations and
// unknown modes fall back to ReadinessPolicy; Initial is clamped to Max.
func NewPolicy(mode Mode, initial, maxDelay time.Duration, maxRetries int) Policy {
	p := ReadinessPolicy()
	switch mode {
	case ModeFixed, ModeLinear, ModeExponential:
		p.Mode = mode
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDelay > 0 {
		p.Max = maxDelay
	}
	if maxRetries > 0 {
		p.MaxRetries = maxRetries
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the wait before retry n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case ModeFixed:
		d = p.Initial
	case ModeLinear:
		d = time.Duration(n) * p.Initial
	default:
		// shifting past 32 overflows long before any sane cap applies
		if n > 32 {
			return p.Max
		}
		d = p.Initial << (n - 1)
	}
	if d > p.Max || d <= 0 {
		return p.Max
	}
	return d
}

// Validate reports a policy that cannot be applied.
func (p Policy) Validate() error {
	switch {
	case p.Initial <= 0:
		return ferrors.ValidationError("retry initial delay must be positive").
			WithContext("initial", p.Initial.String()).Build()
	case p.Max <= 0:
		return ferrors.ValidationError("retry max delay must be positive").
			WithContext("max", p.Max.String()).Build()
	case p.MaxRetries < 0:
		return ferrors.ValidationError("retry count cannot be negative").Build()
	}
	return nil
}
