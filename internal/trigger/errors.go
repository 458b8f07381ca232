package trigger

import (
	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

const (
	msgNonZeroExit = "index command exited with nonzero status"
	msgBusy        = "an index run is already in flight"
	msgClosed      = "trigger is closed"
)

var (
	// ErrNonZeroExit is attached to reports of runs that exited nonzero. It is
	// never returned by the runner itself.
	ErrNonZeroExit = ferrors.ProcessError(msgNonZeroExit).Build()
	ErrBusy        = ferrors.RuntimeError(msgBusy).Build()
	ErrClosed      = ferrors.RuntimeError(msgClosed).Build()
)
