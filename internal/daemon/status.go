package daemon

import (
	"time"

	"git.home.luguber.info/inful/indexwatch/internal/daemon/events"
)

// Status is the JSON document served at /status.
type Status struct {
	SessionID      string           `json:"session_id"`
	Mode           string           `json:"mode"`
	Version        string           `json:"version"`
	StartedAt      time.Time        `json:"started_at"`
	Uptime         string           `json:"uptime"`
	ShuttingDown   bool             `json:"shutting_down"`
	ShutdownReason string           `json:"shutdown_reason,omitempty"`
	Index          *IndexStatus     `json:"index,omitempty"`
	Companion      *CompanionStatus `json:"companion,omitempty"`
	Workers        []string         `json:"workers,omitempty"`
}

// IndexStatus summarizes the watcher and trigger.
type IndexStatus struct {
	WatchPath string               `json:"watch_path"`
	Target    string               `json:"target"`
	Debounce  string               `json:"debounce"`
	Runs      int64                `json:"runs"`
	Failures  int64                `json:"failures"`
	Debounced int64                `json:"debounced"`
	Busy      int64                `json:"busy"`
	InFlight  bool                 `json:"in_flight"`
	LastRun   *events.RunCompleted `json:"last_run,omitempty"`
}

// CompanionStatus summarizes the companion handle.
type CompanionStatus struct {
	SessionID string     `json:"session_id"`
	State     string     `json:"state"`
	PID       int        `json:"pid,omitempty"`
	Address   string     `json:"address"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Status returns a point-in-time snapshot of the session.
func (o *Orchestrator) Status() Status {
	now := o.clock.Now()
	st := Status{
		SessionID: o.sessionID,
		Mode:      string(o.cfg.Mode),
		Version:   versionString(),
		StartedAt: o.startedAt,
		Uptime:    now.Sub(o.startedAt).Truncate(time.Second).String(),
		Workers:   o.workers.Running(),
	}
	if o.state != nil && o.state.IsRequested() {
		st.ShuttingDown = true
		st.ShutdownReason = o.state.Reason()
	}

	if o.trigger != nil {
		stats := o.trigger.Stats()
		is := &IndexStatus{
			WatchPath: o.cfg.Watch.Path,
			Target:    o.cfg.Index.Target,
			Debounce:  o.cfg.Watch.Debounce.String(),
			Runs:      stats.Runs,
			Failures:  stats.Failures,
			Debounced: stats.Debounced,
			Busy:      stats.Busy,
			InFlight:  stats.InFlight,
		}
		if stats.LastReport != nil {
			evt := stats.LastReport.Event()
			is.LastRun = &evt
		}
		st.Index = is
	}

	if o.companion != nil {
		h := o.companion.Handle()
		cs := &CompanionStatus{
			SessionID: h.SessionID,
			State:     string(h.State),
			PID:       h.PID,
			Address:   h.Address,
		}
		if !h.StartedAt.IsZero() {
			cs.StartedAt = &h.StartedAt
		}
		if !h.ExitedAt.IsZero() {
			cs.ExitedAt = &h.ExitedAt
			cs.ExitCode = &h.ExitCode
		}
		if err := o.companion.Err(); err != nil {
			cs.Error = err.Error()
		}
		st.Companion = cs
	}
	return st
}
