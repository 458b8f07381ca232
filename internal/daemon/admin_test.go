package daemon

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/indexwatch/internal/config"
	"git.home.luguber.info/inful/indexwatch/internal/shutdown"
)

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestAdminServer_Endpoints(t *testing.T) {
	cfg := testConfig(t, config.ModeWatch)
	cfg.Admin.Address = "127.0.0.1:0"
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	backend := &fakeBackend{}
	o, err := New(cfg, Deps{Backend: backend, AdminListener: ln})
	require.NoError(t, err)

	state := shutdown.NewState()
	done := runAsync(t.Context(), o, state)
	waitWatching(t, o)
	base := "http://" + ln.Addr().String()

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Watch.Path, "a.txt"), []byte("1"), 0o600))
	require.Eventually(t, func() bool { return backend.runCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	t.Run("healthz", func(t *testing.T) {
		code, body := get(t, base+"/healthz")
		require.Equal(t, http.StatusOK, code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(body, &resp))
		require.Equal(t, HealthStatusHealthy, resp.Status)
		require.Len(t, resp.Checks, 3)
	})

	t.Run("readyz", func(t *testing.T) {
		code, _ := get(t, base+"/readyz")
		require.Equal(t, http.StatusOK, code)
	})

	t.Run("status", func(t *testing.T) {
		require.Eventually(t, func() bool {
			_, body := get(t, base+"/status")
			var st Status
			require.NoError(t, json.Unmarshal(body, &st))
			return st.Index != nil && st.Index.Runs == 1 && st.Index.LastRun != nil
		}, 5*time.Second, 20*time.Millisecond)

		_, body := get(t, base+"/status")
		var st Status
		require.NoError(t, json.Unmarshal(body, &st))
		require.Equal(t, "watch", st.Mode)
		require.Equal(t, o.SessionID(), st.SessionID)
		require.Equal(t, cfg.Watch.Path, st.Index.WatchPath)
		require.Equal(t, "change", st.Index.LastRun.Reason)
		require.Nil(t, st.Companion)
		require.False(t, st.ShuttingDown)
	})

	t.Run("metrics", func(t *testing.T) {
		code, body := get(t, base+"/metrics")
		require.Equal(t, http.StatusOK, code)
		require.Contains(t, string(body), "indexwatch_index_runs_total")
		require.Contains(t, string(body), "indexwatch_change_events_total")
	})

	t.Run("journal", func(t *testing.T) {
		require.Eventually(t, func() bool {
			code, body := get(t, base+"/journal?limit=10")
			if code != http.StatusOK {
				return false
			}
			var entries []journalEntry
			require.NoError(t, json.Unmarshal(body, &entries))
			return len(entries) == 1 && entries[0].Kind == "run.completed"
		}, 5*time.Second, 20*time.Millisecond)

		code, body := get(t, base+"/journal?limit=nope")
		require.Equal(t, http.StatusBadRequest, code)
		require.Contains(t, string(body), "validation")
	})

	state.Request("test")
	require.NoError(t, waitResult(t, done))

	_, err = net.DialTimeout("tcp", ln.Addr().String(), 200*time.Millisecond)
	require.Error(t, err, "admin server stops with the session")
}

func TestAdminServer_JournalDisabled(t *testing.T) {
	o, err := New(testConfig(t, config.ModeWatch), Deps{Backend: &fakeBackend{}})
	require.NoError(t, err)

	srv := NewAdminServer(o)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, srv.Start("", ln))
	defer func() { _ = srv.Shutdown(t.Context()) }()

	code, body := get(t, "http://"+srv.Addr()+"/journal")
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, string(body), "journal is not enabled")

	code, _ = get(t, "http://"+srv.Addr()+"/metrics")
	require.Equal(t, http.StatusNotFound, code, "no registry without admin config")
}
