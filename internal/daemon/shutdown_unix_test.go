//go:build unix

package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/indexwatch/internal/config"
	"git.home.luguber.info/inful/indexwatch/internal/shutdown"
)

// An index run that outlives shutdown_timeout is still bounded by its own
// timeout; shutdown waits for it and leaves no process behind.
func TestOrchestrator_ShutdownOutlastsSlowIndexRun(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}
	pidFile := filepath.Join(t.TempDir(), "indexer.pid")
	cfg := testConfig(t, config.ModeWatch)
	cfg.Index.Command = "/bin/sh"
	cfg.Index.Args = []string{"-c", "echo $$ > " + pidFile + "; exec sleep 30"}
	cfg.Index.VersionArgs = []string{"-c", "echo sh"}
	cfg.Index.Timeout = time.Second
	cfg.ShutdownTimeout = 200 * time.Millisecond

	o, err := New(cfg, Deps{})
	require.NoError(t, err)

	state := shutdown.NewState()
	done := runAsync(t.Context(), o, state)
	waitWatching(t, o)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Watch.Path, "a.txt"), []byte("1"), 0o600))
	var pid int
	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(raw)))
		return err == nil && pid > 0
	}, 5*time.Second, 10*time.Millisecond)
	require.True(t, o.Trigger().InFlight())

	state.Request("SIGTERM")
	require.NoError(t, waitResult(t, done), "graceful shutdown must succeed past shutdown_timeout")

	require.False(t, o.Trigger().InFlight())
	rep, ok := o.Trigger().LastReport()
	require.True(t, ok)
	require.Equal(t, pid, rep.Result.PID)
	require.True(t, rep.Result.TimedOut, "run ends on its own timeout")
	require.True(t, errors.Is(syscall.Kill(pid, 0), syscall.ESRCH), "indexer outlived shutdown")
}
