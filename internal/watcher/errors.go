package watcher

import (
	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

const (
	msgPathNotFound = "watch path does not exist"
	msgNotDirectory = "watch path is not a directory"
	msgSetupFailed  = "filesystem watcher setup failed"
	msgRootRemoved  = "watch root was removed"
	msgStopped      = "watcher already stopped"
	msgStarted      = "watcher already started"
)

var (
	ErrPathNotFound = ferrors.PathError(msgPathNotFound).Build()
	ErrNotDirectory = ferrors.PathError(msgNotDirectory).Build()
	ErrSetupFailed  = ferrors.WatcherError(msgSetupFailed).Build()
	ErrRootRemoved  = ferrors.WatcherError(msgRootRemoved).Build()
	ErrStopped      = ferrors.WatcherError(msgStopped).Build()
	ErrStarted      = ferrors.WatcherError(msgStarted).Build()
)
