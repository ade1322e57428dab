package ensemble

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// LabeledSample is one validation window with its ground-truth class,
// used for weight calibration and isotonic fitting.
type LabeledSample struct {
	Seq        []float64 `json:"seq"`
	Indicators []float64 `json:"indicators"`
	Class      int       `json:"class"`
}

// WeightRecord is the serialized boosting weight vector together with
// the per-model accuracies it was derived from.
type WeightRecord struct {
	Weights      []float64 `json:"weights"`
	Accuracies   []float64 `json:"accuracies"`
	Samples      int       `json:"samples"`
	CalibratedAt time.Time `json:"calibrated_at"`
}

// CalculateModelWeights evaluates each base predictor's classification
// accuracy on a labeled validation set and derives the boosting weights
// as accuracy_i / Σaccuracy. This is the step that differentiates
// boosting from bagging; until it runs, boosting falls back to bagging.
// It is a maintenance operation and must not run concurrently with
// inference using the same weight vector.
func CalculateModelWeights(ctx context.Context, bases []Predictor, samples []LabeledSample) (*WeightRecord, error) {
	if len(bases) == 0 {
		return nil, ErrNotLoaded
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("weight calibration needs a nonempty validation set")
	}

	accuracies := make([]float64, len(bases))
	for i, base := range bases {
		correct := 0
		for _, s := range samples {
			out, err := base.Infer(ctx, s.Seq, s.Indicators)
			if err != nil {
				return nil, fmt.Errorf("evaluate base predictor %d: %w", i, err)
			}
			if Argmax(out.Probs) == s.Class {
				correct++
			}
		}
		accuracies[i] = float64(correct) / float64(len(samples))
		log.Info().Int("model", i).Float64("accuracy", accuracies[i]).Msg("base predictor evaluated")
	}

	var sum float64
	for _, acc := range accuracies {
		sum += acc
	}

	weights := make([]float64, len(bases))
	if sum == 0 {
		// Every model got everything wrong; fall back to uniform weights
		// rather than dividing by zero.
		for i := range weights {
			weights[i] = 1.0 / float64(len(bases))
		}
	} else {
		for i, acc := range accuracies {
			weights[i] = acc / sum
		}
	}

	return &WeightRecord{
		Weights:      weights,
		Accuracies:   accuracies,
		Samples:      len(samples),
		CalibratedAt: time.Now(),
	}, nil
}

// Save writes the weight record to disk as JSON.
func (r *WeightRecord) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadWeights reads a previously calibrated weight record. A missing
// file is the valid uncalibrated state and returns nil, nil.
func LoadWeights(path string) (*WeightRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec WeightRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse weight record: %w", err)
	}
	return &rec, nil
}
