package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Evaluations.Inc()
	prom.Metrics.FaultsTimeout.Inc()
	prom.Metrics.TriggersCoalesced.Inc()
	prom.Metrics.TriggersCoalesced.Inc()

	assertCounter(t, prom.Metrics.Evaluations, 1)
	assertCounter(t, prom.Metrics.FaultsTimeout, 1)
	assertCounter(t, prom.Metrics.FaultsRaised, 0)
	assertCounter(t, prom.Metrics.TriggersCoalesced, 2)
}

func assertCounter(t *testing.T, counter Counter, expected float64) {
	t.Helper()
	pc, ok := counter.(promCounter)
	if !ok {
		t.Fatalf("expected a prometheus-backed counter, got %T", counter)
	}
	if got := testutil.ToFloat64(pc.counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestNoopDoesNotPanic(t *testing.T) {
	m := NewNoop()
	m.Evaluations.Inc()
	m.DispatchFailed.Inc()
}
