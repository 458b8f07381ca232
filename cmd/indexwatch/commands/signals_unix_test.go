//go:build unix

package commands

import (
	"log/slog"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/indexwatch/internal/shutdown"
)

func TestNotifyShutdown(t *testing.T) {
	state := shutdown.NewState()
	stop := notifyShutdown(state, slog.Default())
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))
	require.Eventually(t, state.IsRequested, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, syscall.SIGTERM.String(), state.Reason())

	// A second signal must not panic or change the reason.
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, syscall.SIGTERM.String(), state.Reason())
}
