// Package telemetry exposes Prometheus metrics for attempts and runs. All
// methods are nil-safe so callers can skip wiring metrics in tests.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	attemptsTotal  *prometheus.CounterVec
	attemptSeconds *prometheus.HistogramVec
	runsTotal      *prometheus.CounterVec
}

// New registers the refetch metric set on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refetch",
			Name:      "attempts_total",
			Help:      "Attempts executed, by strategy and resulting status.",
		}, []string{"strategy", "status"}),
		attemptSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "refetch",
			Name:      "attempt_duration_seconds",
			Help:      "Wall-clock duration of a single attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"strategy"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refetch",
			Name:      "runs_total",
			Help:      "Completed runs, by terminal state.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.attemptsTotal, m.attemptSeconds, m.runsTotal)
	return m
}

func (m *Metrics) ObserveAttempt(strategy, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(strategy, status).Inc()
	m.attemptSeconds.WithLabelValues(strategy).Observe(d.Seconds())
}

func (m *Metrics) ObserveRun(state string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(state).Inc()
}
