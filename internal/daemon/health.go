package daemon

import (
	"time"

	"git.home.luguber.info/inful/indexwatch/internal/companion"
)

// HealthStatus represents the overall health of the daemon
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Checks    []HealthCheck `json:"checks"`
}

// PerformHealthChecks executes all health checks and returns the overall status.
// Any unhealthy check makes the whole response unhealthy; otherwise any
// degraded check degrades it.
func (o *Orchestrator) PerformHealthChecks() *HealthResponse {
	checks := []HealthCheck{o.checkShutdown()}
	if o.trigger != nil {
		checks = append(checks, o.checkWatcher(), o.checkLastRun())
	}
	if o.companion != nil {
		checks = append(checks, o.checkCompanion())
	}

	overall := HealthStatusHealthy
	for _, c := range checks {
		switch c.Status {
		case HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	now := o.clock.Now()
	return &HealthResponse{
		Status:    overall,
		Timestamp: now,
		Uptime:    now.Sub(o.startedAt).Truncate(time.Second).String(),
		Version:   versionString(),
		Checks:    checks,
	}
}

func (o *Orchestrator) checkShutdown() HealthCheck {
	check := HealthCheck{Name: "shutdown", Status: HealthStatusHealthy}
	if o.state != nil && o.state.IsRequested() {
		check.Status = HealthStatusUnhealthy
		check.Message = "Shutting down: " + o.state.Reason()
	}
	return check
}

func (o *Orchestrator) checkWatcher() HealthCheck {
	check := HealthCheck{Name: "watcher", Status: HealthStatusHealthy}
	if o.watcher.Root() == "" {
		check.Status = HealthStatusDegraded
		check.Message = "Watcher not started"
		return check
	}
	check.Message = "Watching " + o.watcher.Root()
	return check
}

func (o *Orchestrator) checkLastRun() HealthCheck {
	check := HealthCheck{Name: "last_run", Status: HealthStatusHealthy}
	rep, ok := o.trigger.LastReport()
	switch {
	case !ok:
		check.Message = "No index run yet"
	case rep.Failed():
		check.Status = HealthStatusDegraded
		check.Message = "Last index run " + string(rep.Status)
	default:
		check.Message = "Last index run succeeded"
	}
	return check
}

func (o *Orchestrator) checkCompanion() HealthCheck {
	check := HealthCheck{Name: "companion", Status: HealthStatusHealthy}
	switch st := o.companion.State(); st {
	case companion.StateRunning:
		check.Message = "Companion server is running"
	case companion.StateNotStarted, companion.StateStarting:
		check.Status = HealthStatusDegraded
		check.Message = "Companion server is " + string(st)
	default:
		check.Status = HealthStatusUnhealthy
		check.Message = "Companion server is " + string(st)
	}
	return check
}
