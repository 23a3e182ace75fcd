package telemetry

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Refresh("secure", nil)
	m.Refresh("secure", errors.New("boom"))
	m.Refresh("secure", errors.New("boom"))
	m.Drop("collection", "missing_parent", 3)
	m.Drop("collection", "missing_parent", 0)
	m.BackgroundFailure("grades")

	if got := testutil.ToFloat64(m.Refreshes.WithLabelValues("secure", OutcomeSuccess)); got != 1 {
		t.Errorf("expected 1 successful refresh, got %v", got)
	}
	if got := testutil.ToFloat64(m.Refreshes.WithLabelValues("secure", OutcomeFailure)); got != 2 {
		t.Errorf("expected 2 failed refreshes, got %v", got)
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues("collection", "missing_parent")); got != 3 {
		t.Errorf("expected 3 dropped rows, got %v", got)
	}
	if got := testutil.ToFloat64(m.BackgroundFailures.WithLabelValues("grades")); got != 1 {
		t.Errorf("expected 1 background failure, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Refresh("fast", nil)
	m.Remote("years", "ok")
	m.Drop("grade", "invalid", 1)
	m.Emit("cache")
	m.BackgroundFailure("years")
}
