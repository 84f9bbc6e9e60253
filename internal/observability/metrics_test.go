package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", "200", time.Millisecond)
	m.AddScheduled(1, 2)
	m.IncStream("summary", "saved")
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have no registry")
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.AddScheduled(3, 1)
	m.AddScheduled(0, 2)
	if got := testutil.ToFloat64(m.scheduled.WithLabelValues("created")); got != 3 {
		t.Fatalf("created: want 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.scheduled.WithLabelValues("deduped")); got != 3 {
		t.Fatalf("deduped: want 3, got %v", got)
	}
	m.ObserveJob("slide_summary", "succeeded", time.Second)
	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("slide_summary", "succeeded")); got != 1 {
		t.Fatalf("job runs: want 1, got %v", got)
	}
}
