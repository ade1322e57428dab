package ensemble

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// Isotonic is a monotone mapping from observed max-probability to
// empirical correctness, fitted on a labeled validation set with the
// pool-adjacent-violators algorithm. Until fitted it is a no-op.
type Isotonic struct {
	Thresholds []float64 `json:"thresholds"` // ascending max-probability knots
	Values     []float64 `json:"values"`     // calibrated correctness at each knot
	FittedAt   time.Time `json:"fitted_at"`
}

// FitIsotonic fits the mapping from maxProbs to correctness (0 or 1 per
// sample). Both slices must have equal, nonzero length.
func FitIsotonic(maxProbs, correct []float64) (*Isotonic, error) {
	if len(maxProbs) == 0 || len(maxProbs) != len(correct) {
		return nil, fmt.Errorf("isotonic fit needs equal nonzero sample counts, got %d and %d", len(maxProbs), len(correct))
	}

	type pair struct{ x, y float64 }
	pairs := make([]pair, len(maxProbs))
	for i := range maxProbs {
		pairs[i] = pair{maxProbs[i], correct[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].x < pairs[j].x })

	// Pool adjacent violators: merge blocks until means are nondecreasing.
	type block struct {
		sum   float64
		count float64
		x     float64
	}
	blocks := make([]block, 0, len(pairs))
	for _, p := range pairs {
		blocks = append(blocks, block{sum: p.y, count: 1, x: p.x})
		for len(blocks) >= 2 {
			last := len(blocks) - 1
			if blocks[last-1].sum/blocks[last-1].count <= blocks[last].sum/blocks[last].count {
				break
			}
			blocks[last-1].sum += blocks[last].sum
			blocks[last-1].count += blocks[last].count
			blocks[last-1].x = blocks[last].x // block spans up to its rightmost x
			blocks = blocks[:last]
		}
	}

	iso := &Isotonic{
		Thresholds: make([]float64, len(blocks)),
		Values:     make([]float64, len(blocks)),
		FittedAt:   time.Now(),
	}
	for i, b := range blocks {
		iso.Thresholds[i] = b.x
		iso.Values[i] = b.sum / b.count
	}
	return iso, nil
}

// Predict maps a max-probability onto the fitted correctness curve,
// linearly interpolating between knots and clipping outside the fitted
// range.
func (iso *Isotonic) Predict(x float64) float64 {
	n := len(iso.Thresholds)
	if n == 0 {
		return x
	}
	if x <= iso.Thresholds[0] {
		return iso.Values[0]
	}
	if x >= iso.Thresholds[n-1] {
		return iso.Values[n-1]
	}
	// First knot >= x; x lies strictly between knots i-1 and i.
	i := sort.SearchFloat64s(iso.Thresholds, x)
	x0, x1 := iso.Thresholds[i-1], iso.Thresholds[i]
	y0, y1 := iso.Values[i-1], iso.Values[i]
	if x1 == x0 {
		return y1
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// Apply replaces the chosen class's probability with the fitted value
// and redistributes the remainder uniformly across the other classes.
func (iso *Isotonic) Apply(probs [NumClasses]float64) [NumClasses]float64 {
	class := Argmax(probs)
	calibrated := iso.Predict(probs[class])

	var out [NumClasses]float64
	remainder := (1 - calibrated) / float64(NumClasses-1)
	for i := range out {
		if i == class {
			out[i] = calibrated
		} else {
			out[i] = remainder
		}
	}
	return out
}

// Save writes the fitted mapping next to the model artifacts.
func (iso *Isotonic) Save(path string) error {
	data, err := json.MarshalIndent(iso, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadIsotonic reads a previously fitted mapping. A missing file is not
// an error; it simply means the optional path stays disabled.
func LoadIsotonic(path string) (*Isotonic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var iso Isotonic
	if err := json.Unmarshal(data, &iso); err != nil {
		return nil, fmt.Errorf("parse isotonic calibration: %w", err)
	}
	return &iso, nil
}
