package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"git.home.luguber.info/inful/indexwatch/internal/eventstore"
	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/indexwatch/internal/logfields"
	"git.home.luguber.info/inful/indexwatch/internal/metrics"
	"git.home.luguber.info/inful/indexwatch/internal/version"
)

const defaultJournalLimit = 50

// AdminServer serves health, status, metrics and journal endpoints.
type AdminServer struct {
	o       *Orchestrator
	errs    *ferrors.HTTPErrorAdapter
	srv     *http.Server
	ln      net.Listener
	stopped chan struct{}
}

// NewAdminServer creates the admin server for o. It does not listen until Start.
func NewAdminServer(o *Orchestrator) *AdminServer {
	a := &AdminServer{
		o:       o,
		errs:    ferrors.NewHTTPErrorAdapter(o.logger),
		stopped: make(chan struct{}),
	}
	a.srv = &http.Server{Handler: a.Handler(), ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second, IdleTimeout: 120 * time.Second}
	return a
}

// Handler returns the admin mux.
func (a *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /readyz", a.handleReadiness)
	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("GET /journal", a.handleJournal)
	if a.o.registry != nil {
		mux.Handle("GET /metrics", metrics.HTTPHandler(a.o.registry))
	}
	return mux
}

// Start binds addr, or serves on ln when it is non-nil.
func (a *AdminServer) Start(addr string, ln net.Listener) error {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to bind admin server").
				WithContext("address", addr).
				Build()
		}
	}
	a.ln = ln
	go func() {
		defer close(a.stopped)
		if err := a.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", logfields.Error(err))
		}
	}()
	slog.Info("Admin server listening", logfields.Address(ln.Addr().String()))
	return nil
}

// Addr returns the bound address.
func (a *AdminServer) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones, bounded by ctx.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	if a.ln == nil {
		return nil
	}
	if err := a.srv.Shutdown(ctx); err != nil {
		return err
	}
	<-a.stopped
	return nil
}

func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := a.o.PerformHealthChecks()
	status := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	a.writeJSON(w, r, status, resp)
}

func (a *AdminServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	resp := a.o.PerformHealthChecks()
	if resp.Status != HealthStatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready: " + string(resp.Status)))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (a *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, r, http.StatusOK, a.o.Status())
}

type journalEntry struct {
	ID         int64           `json:"id"`
	SessionID  string          `json:"session_id"`
	Kind       string          `json:"kind"`
	RunID      string          `json:"run_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func (a *AdminServer) handleJournal(w http.ResponseWriter, r *http.Request) {
	if a.o.journal == nil {
		a.errs.WriteErrorResponse(w, r, ErrJournalDisabled)
		return
	}
	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.errs.WriteErrorResponse(w, r, ferrors.ValidationError("limit must be a positive integer").
				WithContext("limit", raw).
				Build())
			return
		}
		limit = n
	}

	entries, err := a.o.journal.Recent(r.Context(), limit)
	if err != nil {
		a.errs.WriteErrorResponse(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, toJournalEntries(entries))
}

func toJournalEntries(entries []eventstore.Entry) []journalEntry {
	out := make([]journalEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, journalEntry{
			ID:         e.ID,
			SessionID:  e.SessionID,
			Kind:       e.Kind,
			RunID:      e.RunID,
			OccurredAt: e.OccurredAt,
			Payload:    json.RawMessage(e.Payload),
		})
	}
	return out
}

// writeJSON encodes into a buffer first so a failed encode never sends a
// partial body.
func (a *AdminServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		a.errs.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to encode response").Build())
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("failed writing JSON response body", logfields.Error(err))
	}
}

func versionString() string { return version.String() }
