package ensemble

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// AggregateResult carries the three named method outputs plus the final
// combination. Final is the elementwise mean of the three methods, an
// explicit simplicity choice over a further-weighted combination.
type AggregateResult struct {
	Bagging  Output
	Boosting Output
	Stacking Output
	Final    Output
	Base     []Output // one per base predictor, in artifact order
}

// Aggregator fans a window out to every base predictor and combines the
// outputs via bagging, boosting and stacking. Loaded predictors and the
// weight vector are read-only during inference; SetWeights is the only
// writer and belongs to the maintenance path.
type Aggregator struct {
	bases []Predictor
	meta  Predictor

	mu      sync.RWMutex
	weights []float64 // normalized, one per base predictor; nil until calibrated
}

// NewAggregator builds an aggregator over the given base predictors and
// optional stacking meta predictor.
func NewAggregator(bases []Predictor, meta Predictor) *Aggregator {
	return &Aggregator{bases: bases, meta: meta}
}

// NumBase returns the number of loaded base predictors.
func (a *Aggregator) NumBase() int { return len(a.bases) }

// HasMeta reports whether a stacking meta predictor is loaded.
func (a *Aggregator) HasMeta() bool { return a.meta != nil }

// Weights returns a copy of the boosting weight vector, or nil when
// weight calibration has not run.
func (a *Aggregator) Weights() []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.weights == nil {
		return nil
	}
	w := make([]float64, len(a.weights))
	copy(w, a.weights)
	return w
}

// SetWeights installs a boosting weight vector. Weights must be
// nonnegative, one per base predictor; they are normalized to sum to 1.
// Must not run concurrently with active inference on semantic grounds
// (a half-calibrated vector is never observed thanks to the lock, but
// mixing old and new weights across a batch is still undesirable).
func (a *Aggregator) SetWeights(weights []float64) error {
	if len(weights) != len(a.bases) {
		return fmt.Errorf("weight count %d does not match %d base predictors", len(weights), len(a.bases))
	}
	var sum float64
	for i, w := range weights {
		if w < 0 {
			return fmt.Errorf("weight %d is negative: %f", i, w)
		}
		sum += w
	}
	if sum == 0 {
		return fmt.Errorf("weights sum to zero")
	}

	normalized := make([]float64, len(weights))
	for i, w := range weights {
		normalized[i] = w / sum
	}

	a.mu.Lock()
	a.weights = normalized
	a.mu.Unlock()

	log.Info().Floats64("weights", normalized).Msg("boosting weights installed")
	return nil
}

// Predict runs all base predictors on the window and produces the three
// aggregates plus the final combination. Deterministic given fixed
// predictors and weights.
func (a *Aggregator) Predict(ctx context.Context, seq []float64, indicators []float64) (*AggregateResult, error) {
	if len(a.bases) == 0 {
		return nil, ErrNotLoaded
	}

	// Fan out: base predictors are mutually independent.
	outputs := make([]Output, len(a.bases))
	g, gctx := errgroup.WithContext(ctx)
	for i, base := range a.bases {
		i, base := i, base
		g.Go(func() error {
			out, err := base.Infer(gctx, seq, indicators)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &AggregateResult{Base: outputs}
	res.Bagging = meanOutput(outputs)
	res.Boosting = a.boost(outputs, res.Bagging)

	// Stacking is a hard join point: it needs every base output.
	stacking, err := a.stack(ctx, outputs, res.Bagging)
	if err != nil {
		return nil, err
	}
	res.Stacking = stacking

	res.Final = meanOutput([]Output{res.Bagging, res.Boosting, res.Stacking})
	return res, nil
}

// boost computes the weighted elementwise mean of the base outputs. With
// no calibrated weight vector it falls back to the bagging result; this
// is the documented uncalibrated state, not accidental equivalence.
func (a *Aggregator) boost(outputs []Output, bagging Output) Output {
	a.mu.RLock()
	weights := a.weights
	a.mu.RUnlock()

	if weights == nil {
		return bagging
	}

	var out Output
	for i, o := range outputs {
		w := weights[i]
		for c := 0; c < NumClasses; c++ {
			out.Probs[c] += w * o.Probs[c]
		}
		out.Delta += w * o.Delta
	}
	return out
}

// stack concatenates every base output into a length-4N meta-feature
// vector and feeds it to the meta predictor. With no meta predictor
// loaded it falls back to the bagging result, logged once per call.
func (a *Aggregator) stack(ctx context.Context, outputs []Output, bagging Output) (Output, error) {
	if a.meta == nil {
		log.Debug().Msg("no meta predictor loaded, stacking falls back to bagging")
		return bagging, nil
	}

	features := make([]float64, 0, len(outputs)*(NumClasses+1))
	for _, o := range outputs {
		features = append(features, o.Probs[:]...)
		features = append(features, o.Delta)
	}

	out, err := a.meta.Infer(ctx, features, nil)
	if err != nil {
		return Output{}, err
	}
	return out, nil
}

func meanOutput(outputs []Output) Output {
	var out Output
	n := float64(len(outputs))
	for _, o := range outputs {
		for c := 0; c < NumClasses; c++ {
			out.Probs[c] += o.Probs[c]
		}
		out.Delta += o.Delta
	}
	for c := 0; c < NumClasses; c++ {
		out.Probs[c] /= n
	}
	out.Delta /= n
	return out
}
