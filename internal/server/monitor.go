package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/Cownjackson/open-deep-research/internal/research"
	"github.com/Cownjackson/open-deep-research/internal/telemetry"
)

// HealthMonitor probes the engine's liveness endpoint on a cron schedule
// and keeps the engine-up gauge current. Transitions are logged once, not
// on every probe.
type HealthMonitor struct {
	svc      *research.Service
	schedule string
	metrics  *telemetry.Metrics
	logger   *log.Logger
	stop     chan struct{}
}

func NewHealthMonitor(svc *research.Service, schedule string, metrics *telemetry.Metrics) *HealthMonitor {
	if schedule == "" {
		schedule = "@hourly"
	}
	return &HealthMonitor{
		svc:      svc,
		schedule: schedule,
		metrics:  metrics,
		logger:   log.New(log.Writer(), "[MONITOR] ", log.LstdFlags),
		stop:     make(chan struct{}),
	}
}

func (m *HealthMonitor) Start() {
	expr, err := cronexpr.Parse(m.schedule)
	if err != nil {
		m.logger.Printf("invalid schedule %q, falling back to @hourly: %v", m.schedule, err)
		expr = cronexpr.MustParse("@hourly")
	}
	go m.loop(expr)
}

func (m *HealthMonitor) Stop() { close(m.stop) }

func (m *HealthMonitor) loop(expr *cronexpr.Expression) {
	up := m.probe(true)
	for {
		next := expr.Next(time.Now())
		if next.IsZero() {
			m.logger.Printf("schedule %q yields no future runs, monitor stopping", m.schedule)
			return
		}
		select {
		case <-m.stop:
			return
		case <-time.After(time.Until(next)):
			up = m.probe(up)
		}
	}
}

// probe checks engine health and logs only when the state changes.
func (m *HealthMonitor) probe(prevUp bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	up := m.svc.Health(ctx)
	if up != prevUp {
		if up {
			m.logger.Printf("engine is back up")
		} else {
			m.logger.Printf("engine is down")
		}
	}
	return up
}
