package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.Fills.Inc()
	prom.Metrics.Recenters.Inc()

	assertCounter(t, prom.Metrics.OrdersPlaced, 1)
	assertCounter(t, prom.Metrics.Fills, 1)
	assertCounter(t, prom.Metrics.Recenters, 1)
	assertCounter(t, prom.Metrics.OrdersFailed, 0)
}

func assertCounter(t *testing.T, counter Counter, expected float64) {
	t.Helper()
	pc, ok := counter.(promCounter)
	if !ok {
		t.Fatalf("counter is not prometheus backed")
	}
	if got := testutil.ToFloat64(prometheus.Counter(pc.counter)); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
