package runner

import (
	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

const (
	msgSpawnFailed        = "command could not be launched"
	msgTimeout            = "command exceeded its timeout"
	msgCanceled           = "command canceled"
	msgWaitFailed         = "waiting for command failed"
	msgBackendUnavailable = "indexing backend unavailable"
)

// Sentinel errors. Match with errors.Is; returned errors carry the cause and
// command context.
var (
	ErrSpawnFailed        = ferrors.ProcessError(msgSpawnFailed).Build()
	ErrTimeout            = ferrors.TimeoutError(msgTimeout).Build()
	ErrCanceled           = ferrors.ProcessError(msgCanceled).Build()
	ErrBackendUnavailable = ferrors.ProcessError(msgBackendUnavailable).Fatal().Build()
)
