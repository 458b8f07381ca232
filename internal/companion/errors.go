package companion

import (
	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

const (
	msgCrashed        = "companion server exited unexpectedly"
	msgStartFailed    = "companion server could not be launched"
	msgNotReady       = "companion server did not become ready"
	msgAlreadyStarted = "companion server already started"
	msgKillFailed     = "companion server did not exit after kill"
)

var (
	// ErrCrashed is reported by Err when the companion exits without being
	// asked to.
	ErrCrashed        = ferrors.CompanionError(msgCrashed).Build()
	ErrStartFailed    = ferrors.CompanionError(msgStartFailed).Build()
	ErrNotReady       = ferrors.CompanionError(msgNotReady).Build()
	ErrAlreadyStarted = ferrors.CompanionError(msgAlreadyStarted).Build()
)
