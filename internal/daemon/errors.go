package daemon

import (
	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

var (
	// ErrAlreadyRunning is returned when another instance holds the lock for
	// the same watch root or companion address.
	ErrAlreadyRunning = ferrors.RuntimeError("another indexwatch instance is already running").Build()

	// ErrRunTwice is returned by a second call to Orchestrator.Run.
	ErrRunTwice = ferrors.InternalError("orchestrator already ran").Build()

	// ErrJournalDisabled is returned by the journal endpoint when no journal is configured.
	ErrJournalDisabled = ferrors.ConfigError("journal is not enabled").Build()
)
