package ensemble

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"hft-ensemble/internal/window"
)

// WindowBuilder is the slice of the window package the engine needs.
type WindowBuilder interface {
	Build(symbol string) (*window.Window, error)
	Size() int
	IndicatorDim() int
}

// Engine is the explicit context object holding the loaded model set.
// It is constructed once at startup and passed into request handling;
// there is no ambient global state. All fields are read-only during
// inference.
type Engine struct {
	builder    WindowBuilder
	agg        *Aggregator
	cal        *Calibrator
	metrics    MetricsInterface
	batchLimit int
}

// NewEngine assembles the inference pipeline. batchLimit bounds the
// per-symbol fan-out in batch prediction; values below 1 mean 4.
func NewEngine(builder WindowBuilder, agg *Aggregator, cal *Calibrator, metrics MetricsInterface, batchLimit int) *Engine {
	if batchLimit < 1 {
		batchLimit = 4
	}
	return &Engine{
		builder:    builder,
		agg:        agg,
		cal:        cal,
		metrics:    metrics,
		batchLimit: batchLimit,
	}
}

// Loaded reports whether any base predictors are available.
func (e *Engine) Loaded() bool { return e.agg.NumBase() > 0 }

// Predict produces a decision for one symbol. Errors are typed: check
// ErrNotLoaded with errors.Is and the struct kinds with errors.As.
func (e *Engine) Predict(ctx context.Context, symbol string) (*Decision, error) {
	if !e.Loaded() {
		return nil, ErrNotLoaded
	}

	w, err := e.builder.Build(symbol)
	if err != nil {
		return nil, err
	}

	res, err := e.agg.Predict(ctx, w.Seq, w.Indicators)
	if err != nil {
		return nil, err
	}

	rec := ScoreAgreement(res)
	score := e.cal.Calibrate(res.Final.Probs, rec.Rate, e.agg.NumBase())

	if e.metrics != nil {
		e.metrics.ConfidenceObserve(score.Value)
		e.metrics.AgreementObserve(rec.Rate)
		if score.Floored {
			e.metrics.FloorsInc()
		}
	}

	return AssembleDecision(symbol, w.Timestamp, w.Price, res, rec, score)
}

// PredictBatch predicts every symbol independently and in parallel,
// returning one entry per input in input order. A failed symbol yields
// an error entry; the rest of the batch is unaffected.
func (e *Engine) PredictBatch(ctx context.Context, symbols []string) []BatchEntry {
	if e.metrics != nil {
		e.metrics.BatchSizeObserve(len(symbols))
	}
	entries := make([]BatchEntry, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchLimit)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			decision, err := e.Predict(gctx, symbol)
			entries[i] = BatchEntry{Symbol: symbol, Decision: decision, Err: err}
			return nil // per-symbol errors never abort the batch
		})
	}
	g.Wait() //nolint:errcheck // goroutines always return nil

	return entries
}

// Info describes the loaded ensemble for the info endpoint.
type Info struct {
	Status        string    `json:"status"`
	NBaseModels   int       `json:"n_base_models"`
	HasMetaModel  bool      `json:"has_meta_model"`
	WeightsSet    bool      `json:"weights_set"`
	Weights       []float64 `json:"weights,omitempty"`
	WindowSize    int       `json:"window_size"`
	NIndicators   int       `json:"n_indicators"`
	Temperature   float64   `json:"temperature"`
	BoostPolicy   string    `json:"boost_policy"`
	MinConfidence float64   `json:"min_confidence"`
	Isotonic      bool      `json:"isotonic_calibrated"`
}

// Info reports the ensemble's configuration and loaded state.
func (e *Engine) Info() Info {
	if !e.Loaded() {
		return Info{Status: "not_loaded"}
	}
	weights := e.agg.Weights()
	return Info{
		Status:        "loaded",
		NBaseModels:   e.agg.NumBase(),
		HasMetaModel:  e.agg.HasMeta(),
		WeightsSet:    weights != nil,
		Weights:       weights,
		WindowSize:    e.builder.Size(),
		NIndicators:   e.builder.IndicatorDim(),
		Temperature:   e.cal.Temperature,
		BoostPolicy:   e.cal.Policy.Name(),
		MinConfidence: e.cal.MinConfidence,
		Isotonic:      e.cal.Isotonic != nil,
	}
}

// HealthCheck pings every subprocess predictor once. Only meaningful for
// ONNX-backed predictors; stub predictors in tests have no health state.
func (e *Engine) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if !e.Loaded() {
		return ErrNotLoaded
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, base := range e.agg.bases {
		if p, ok := base.(*ONNXPredictor); ok {
			if err := p.HealthCheck(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
