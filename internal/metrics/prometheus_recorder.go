package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// CompanionStates lists every state exported by the companion_state gauge.
var CompanionStates = []string{"not_started", "starting", "running", "terminating", "exited"}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once           sync.Once
	runDuration    *prom.HistogramVec
	runOutcomes    *prom.CounterVec
	eventOutcomes  *prom.CounterVec
	runInFlight    prom.Gauge
	companionState *prom.GaugeVec
	companionExits *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.runDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "indexwatch",
			Name:      "index_run_duration_seconds",
			Help:      "Duration of indexing runs by outcome",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"})
		pr.runOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "indexwatch",
			Name:      "index_runs_total",
			Help:      "Indexing runs by outcome",
		}, []string{"status"})
		pr.eventOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "indexwatch",
			Name:      "change_events_total",
			Help:      "Filesystem change events by trigger decision",
		}, []string{"outcome"})
		pr.runInFlight = prom.NewGauge(prom.GaugeOpts{
			Namespace: "indexwatch",
			Name:      "index_run_in_flight",
			Help:      "1 while an indexing run is executing",
		})
		pr.companionState = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "indexwatch",
			Name:      "companion_state",
			Help:      "Current companion state (1 for the active state)",
		}, []string{"state"})
		pr.companionExits = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "indexwatch",
			Name:      "companion_exits_total",
			Help:      "Companion exits by kind",
		}, []string{"kind"})
		reg.MustRegister(pr.runDuration, pr.runOutcomes, pr.eventOutcomes, pr.runInFlight, pr.companionState, pr.companionExits)
		pr.SetCompanionState("not_started")
	})
	return pr
}

func (p *PrometheusRecorder) ObserveRunDuration(status RunStatus, d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(status RunStatus) {
	if p == nil || p.runOutcomes == nil {
		return
	}
	p.runOutcomes.WithLabelValues(string(status)).Inc()
}

func (p *PrometheusRecorder) IncEventOutcome(outcome string) {
	if p == nil || p.eventOutcomes == nil {
		return
	}
	p.eventOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) SetRunInFlight(inFlight bool) {
	if p == nil || p.runInFlight == nil {
		return
	}
	if inFlight {
		p.runInFlight.Set(1)
		return
	}
	p.runInFlight.Set(0)
}

func (p *PrometheusRecorder) SetCompanionState(state string) {
	if p == nil || p.companionState == nil {
		return
	}
	for _, s := range CompanionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.companionState.WithLabelValues(s).Set(v)
	}
}

func (p *PrometheusRecorder) IncCompanionExit(crashed bool) {
	if p == nil || p.companionExits == nil {
		return
	}
	kind := "requested"
	if crashed {
		kind = "crashed"
	}
	p.companionExits.WithLabelValues(kind).Inc()
}
