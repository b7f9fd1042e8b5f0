// Package telemetry exposes prometheus instruments for the research core.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for RunsFinished.
const (
	OutcomeReport        = "report"
	OutcomeClarification = "clarification"
	OutcomeEmpty         = "empty"
	OutcomeFailed        = "failed"
	OutcomeTimeout       = "timeout"
)

// Metrics holds the counters the orchestration core updates.
type Metrics struct {
	RunsStarted  prometheus.Counter
	RunsFinished *prometheus.CounterVec
	Polls        prometheus.Counter
	WaitSeconds  prometheus.Histogram
	EngineUp     prometheus.Gauge
}

// New registers the core metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "research_runs_started_total",
			Help: "Research runs submitted to the engine.",
		}),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "research_runs_finished_total",
			Help: "Research runs that reached a caller-visible outcome.",
		}, []string{"outcome"}),
		Polls: factory.NewCounter(prometheus.CounterOpts{
			Name: "research_run_polls_total",
			Help: "Status polls issued while waiting on runs.",
		}),
		WaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "research_wait_seconds",
			Help:    "Time spent waiting for runs to reach a terminal status.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11),
		}),
		EngineUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "research_engine_up",
			Help: "1 when the research engine answers its liveness probe.",
		}),
	}
}
