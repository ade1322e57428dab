package metrics

// Wrapper adapts Metrics to the small consumer interfaces declared by
// the ensemble and feed packages, so core code never imports the
// prometheus types directly.
type Wrapper struct {
	m *Metrics
}

// NewWrapper wraps a Metrics set.
func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

// ensemble.MetricsInterface

func (w *Wrapper) PredictionsInc()             { w.m.Predictions.Inc() }
func (w *Wrapper) FailuresInc()                { w.m.PredictionErrors.Inc() }
func (w *Wrapper) LatencyObserve(v float64)    { w.m.PredictorLatency.Observe(v) }
func (w *Wrapper) TimeoutsInc()                { w.m.PredictorTimeouts.Inc() }
func (w *Wrapper) ConfidenceObserve(v float64) { w.m.ConfidenceScores.Observe(v) }
func (w *Wrapper) AgreementObserve(v float64)  { w.m.AgreementRates.Observe(v) }
func (w *Wrapper) FloorsInc()                  { w.m.FloorActivations.Inc() }
func (w *Wrapper) ModelAgeSet(v float64)       { w.m.ModelAge.Set(v) }

// feed.MetricsInterface

func (w *Wrapper) TicksReceivedInc() { w.m.TicksReceived.Inc() }
func (w *Wrapper) TicksStoredInc()   { w.m.TicksStored.Inc() }
func (w *Wrapper) WSReconnectsInc()  { w.m.WSReconnects.Inc() }
func (w *Wrapper) ErrorsInc()        { w.m.ErrorsTotal.Inc() }

// BatchSizeObserve records the size of a batch prediction request.
func (w *Wrapper) BatchSizeObserve(n int) { w.m.BatchSize.Observe(float64(n)) }
