// Package ensemble implements the inference-time aggregation and
// confidence-calibration pipeline. It combines the outputs of several
// independently trained base predictors through bagging, boosting and
// stacking, scores how strongly the three methods agree, and turns the
// combined probabilities into a bounded, policy-adjusted confidence value.
//
// The package depends only on the Predictor contract, so deterministic
// stub predictors can drive the whole pipeline in tests without any
// real model artifact.
package ensemble

import "context"

// Class indices produced by every predictor, in model output order.
const (
	ClassSell = 0
	ClassHold = 1
	ClassBuy  = 2
)

// NumClasses is the width of every probability triple.
const NumClasses = 3

// Output is a single predictor's verdict for one window: a probability
// triple over SELL/HOLD/BUY and a scalar price-delta estimate.
type Output struct {
	Probs [NumClasses]float64 `json:"probs"`
	Delta float64             `json:"delta"`
}

// Predictor is the capability contract every base model and the stacking
// meta model satisfy. Implementations must be safe for concurrent use;
// the aggregator fans out over all base predictors at once.
type Predictor interface {
	// Infer produces class probabilities and a delta estimate for the
	// given normalized price sequence and indicator vector. The meta
	// predictor receives the concatenated base outputs as seq and an
	// empty indicator vector.
	Infer(ctx context.Context, seq []float64, indicators []float64) (Output, error)
}

// Argmax returns the most likely class of a probability triple. Exact
// ties resolve to the lowest class index; agreement counting depends on
// this being stable.
func Argmax(probs [NumClasses]float64) int {
	best := 0
	for i := 1; i < NumClasses; i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return best
}
