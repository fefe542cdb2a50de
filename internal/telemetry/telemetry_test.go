package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveAttemptCounts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveAttempt("PLAIN_FETCH", "SUCCESS", 120*time.Millisecond)
	m.ObserveAttempt("PLAIN_FETCH", "SUCCESS", 80*time.Millisecond)
	m.ObserveAttempt("BROWSER_LOAD", "TIMEOUT", 3*time.Second)

	if got := testutil.ToFloat64(m.attemptsTotal.WithLabelValues("PLAIN_FETCH", "SUCCESS")); got != 2 {
		t.Errorf("attempts PLAIN_FETCH/SUCCESS = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.attemptsTotal.WithLabelValues("BROWSER_LOAD", "TIMEOUT")); got != 1 {
		t.Errorf("attempts BROWSER_LOAD/TIMEOUT = %v, want 1", got)
	}
}

func TestObserveRunCounts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveRun("SATISFIED")
	m.ObserveRun("SATISFIED")
	m.ObserveRun("EXHAUSTED")

	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("SATISFIED")); got != 2 {
		t.Errorf("runs SATISFIED = %v, want 2", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAttempt("PLAIN_FETCH", "SUCCESS", time.Second)
	m.ObserveRun("SATISFIED")
}
