package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.Predictions.Inc()
	m.Predictions.Inc()
	m.TicksStored.Inc()

	if got := testutil.ToFloat64(m.Predictions); got != 2 {
		t.Errorf("predictions = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.TicksStored); got != 1 {
		t.Errorf("ticks stored = %f, want 1", got)
	}
}

func TestWrapperForwards(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	w := NewWrapper(m)

	w.PredictionsInc()
	w.FailuresInc()
	w.TimeoutsInc()
	w.FloorsInc()
	w.ModelAgeSet(42)
	w.TicksReceivedInc()
	w.TicksStoredInc()
	w.WSReconnectsInc()
	w.ErrorsInc()
	w.ConfidenceObserve(0.8)
	w.AgreementObserve(1.0)
	w.LatencyObserve(0.05)
	w.BatchSizeObserve(3)

	counters := map[string]prometheus.Counter{
		"predictions":  m.Predictions,
		"errors":       m.PredictionErrors,
		"timeouts":     m.PredictorTimeouts,
		"floors":       m.FloorActivations,
		"received":     m.TicksReceived,
		"stored":       m.TicksStored,
		"reconnects":   m.WSReconnects,
		"errors_total": m.ErrorsTotal,
	}
	for name, c := range counters {
		if got := testutil.ToFloat64(c); got != 1 {
			t.Errorf("%s = %f, want 1", name, got)
		}
	}
	if got := testutil.ToFloat64(m.ModelAge); got != 42 {
		t.Errorf("model age = %f, want 42", got)
	}
}

func TestMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewWithRegistry(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	// Histograms only appear after the first observation; counters and
	// gauges register immediately.
	if len(families) < 9 {
		t.Errorf("gathered %d metric families", len(families))
	}
}
