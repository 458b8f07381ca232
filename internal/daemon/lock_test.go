package daemon

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstanceLock(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir, "/srv/docs")
	require.NoError(t, err)
	require.FileExists(t, first.Path())

	_, err = AcquireLock(dir, "/srv/docs")
	require.ErrorIs(t, err, ErrAlreadyRunning)

	other, err := AcquireLock(dir, "/srv/other")
	require.NoError(t, err, "different keys do not conflict")
	require.NoError(t, other.Release())

	require.NoError(t, first.Release())
	_, statErr := os.Stat(first.Path())
	require.True(t, os.IsNotExist(statErr))

	again, err := AcquireLock(dir, "/srv/docs")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestLockPath_Stable(t *testing.T) {
	require.Equal(t, LockPath("/tmp", "a"), LockPath("/tmp", "a"))
	require.NotEqual(t, LockPath("/tmp", "a"), LockPath("/tmp", "b"))
}
