package ensemble

import (
	"context"
	"math"
)

// HeuristicPredictor is a deterministic momentum heuristic used when no
// ONNX artifacts are available and fallback serving is explicitly
// enabled. It never replaces missing artifacts silently.
type HeuristicPredictor struct {
	tailLen   int
	threshold float64
}

// NewHeuristicPredictor creates a heuristic predictor. tailLen is the
// number of trailing window points scored for momentum; values below 1
// mean 8. Scores with magnitude under threshold collapse to HOLD.
func NewHeuristicPredictor(tailLen int, threshold float64) *HeuristicPredictor {
	if tailLen < 1 {
		tailLen = 8
	}
	return &HeuristicPredictor{tailLen: tailLen, threshold: threshold}
}

func (p *HeuristicPredictor) Name() string { return "heuristic_fallback" }

// Infer scores trailing momentum of the normalized window, blended with
// MACD and RSI deviation when the indicator vector carries them.
func (p *HeuristicPredictor) Infer(_ context.Context, seq []float64, indicators []float64) (Output, error) {
	score := 0.4 * math.Tanh(p.tailMean(seq))
	if len(indicators) > 3 {
		score += 0.3 * math.Tanh(indicators[3]) // macd
	}
	if len(indicators) > 0 && indicators[0] > 0 {
		score += 0.3 * math.Tanh((indicators[0]-50)/25) // rsi_14 deviation
	}
	if math.Abs(score) < p.threshold {
		score = 0
	}

	buy := sigmoid(2 * score)
	sell := 1 - buy
	hold := 1 - math.Abs(math.Tanh(2*score))
	total := sell + hold + buy

	return Output{
		Probs: [NumClasses]float64{sell / total, hold / total, buy / total},
		Delta: 0.1 * math.Tanh(score),
	}, nil
}

func (p *HeuristicPredictor) tailMean(seq []float64) float64 {
	if len(seq) == 0 {
		return 0
	}
	n := p.tailLen
	if n > len(seq) {
		n = len(seq)
	}
	var sum float64
	for _, v := range seq[len(seq)-n:] {
		sum += v
	}
	return sum / float64(n)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
