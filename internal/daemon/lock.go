package daemon

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

// InstanceLock is an advisory file lock keyed by the watched root (or the
// companion address when nothing is watched).
type InstanceLock struct {
	lock *flock.Flock
}

// LockPath returns the lock file used for key under dir.
func LockPath(dir, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(dir, "indexwatch-"+hex.EncodeToString(sum[:6])+".lock")
}

// AcquireLock takes the instance lock without blocking.
func AcquireLock(dir, key string) (*InstanceLock, error) {
	path := LockPath(dir, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to create lock directory").
			WithContext("path", dir).
			Build()
	}
	l := flock.New(path)
	locked, err := l.TryLock()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to acquire instance lock").
			WithContext("path", path).
			Build()
	}
	if !locked {
		return nil, ferrors.RuntimeError("another indexwatch instance is already running").
			WithContext("key", key).
			WithContext("lock", path).
			Build()
	}
	return &InstanceLock{lock: l}, nil
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string { return l.lock.Path() }

// Release unlocks and removes the lock file.
func (l *InstanceLock) Release() error {
	if err := l.lock.Unlock(); err != nil {
		return err
	}
	if err := os.Remove(l.lock.Path()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
