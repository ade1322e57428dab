package ensemble

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

// classPredictor always predicts a fixed class with certainty.
type classPredictor struct{ class int }

func (p classPredictor) Infer(context.Context, []float64, []float64) (Output, error) {
	var o Output
	o.Probs[p.class] = 1
	return o, nil
}

func samplesFixture() []LabeledSample {
	// Four samples: SELL, SELL, HOLD, BUY.
	classes := []int{ClassSell, ClassSell, ClassHold, ClassBuy}
	samples := make([]LabeledSample, len(classes))
	for i, c := range classes {
		samples[i] = LabeledSample{Seq: []float64{1}, Indicators: []float64{0}, Class: c}
	}
	return samples
}

func TestCalculateModelWeights(t *testing.T) {
	// A constant-SELL predictor scores 0.5 on the fixture, constant-HOLD
	// scores 0.25, constant-BUY scores 0.25.
	bases := []Predictor{
		classPredictor{ClassSell},
		classPredictor{ClassHold},
		classPredictor{ClassBuy},
	}

	rec, err := CalculateModelWeights(context.Background(), bases, samplesFixture())
	if err != nil {
		t.Fatalf("calibration failed: %v", err)
	}

	wantAcc := []float64{0.5, 0.25, 0.25}
	wantWeights := []float64{0.5, 0.25, 0.25}
	for i := range wantAcc {
		if math.Abs(rec.Accuracies[i]-wantAcc[i]) > 1e-9 {
			t.Errorf("accuracy[%d] = %f, want %f", i, rec.Accuracies[i], wantAcc[i])
		}
		if math.Abs(rec.Weights[i]-wantWeights[i]) > 1e-9 {
			t.Errorf("weight[%d] = %f, want %f", i, rec.Weights[i], wantWeights[i])
		}
	}
	if rec.Samples != 4 {
		t.Errorf("samples = %d, want 4", rec.Samples)
	}
}

func TestCalculateModelWeightsAllWrong(t *testing.T) {
	// Every sample is SELL, every predictor says BUY; uniform fallback.
	samples := []LabeledSample{
		{Seq: []float64{1}, Indicators: []float64{0}, Class: ClassSell},
		{Seq: []float64{1}, Indicators: []float64{0}, Class: ClassSell},
	}
	bases := []Predictor{classPredictor{ClassBuy}, classPredictor{ClassBuy}}

	rec, err := CalculateModelWeights(context.Background(), bases, samples)
	if err != nil {
		t.Fatalf("calibration failed: %v", err)
	}
	for i, w := range rec.Weights {
		if math.Abs(w-0.5) > 1e-9 {
			t.Errorf("weight[%d] = %f, want uniform 0.5", i, w)
		}
	}
}

func TestCalculateModelWeightsValidation(t *testing.T) {
	if _, err := CalculateModelWeights(context.Background(), nil, samplesFixture()); err == nil {
		t.Error("expected error with no predictors")
	}
	if _, err := CalculateModelWeights(context.Background(), []Predictor{classPredictor{0}}, nil); err == nil {
		t.Error("expected error with no samples")
	}
}

func TestWeightRecordRoundtrip(t *testing.T) {
	rec := &WeightRecord{
		Weights:    []float64{0.5, 0.3, 0.2},
		Accuracies: []float64{0.6, 0.36, 0.24},
		Samples:    100,
	}

	path := filepath.Join(t.TempDir(), WeightsFile)
	if err := rec.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadWeights(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected loaded record")
	}
	for i := range rec.Weights {
		if math.Abs(loaded.Weights[i]-rec.Weights[i]) > 1e-12 {
			t.Errorf("weight[%d] mismatch after roundtrip", i)
		}
	}
	if loaded.Samples != 100 {
		t.Errorf("samples = %d, want 100", loaded.Samples)
	}
}

func TestLoadWeightsMissingFile(t *testing.T) {
	rec, err := LoadWeights(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if rec != nil {
		t.Error("missing file should yield nil record")
	}
}
