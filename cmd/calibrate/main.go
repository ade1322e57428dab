// Command calibrate runs the offline maintenance steps of the
// ensemble: evaluating base predictors on a labeled validation set to
// derive boosting weights, and optionally fitting an isotonic
// recalibration curve from final ensemble probabilities.
//
// The validation set is a JSON-lines file, one sample per line:
//
//	{"class": 2, "seq": [...], "indicators": [...]}
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hft-ensemble/internal/ensemble"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var (
		modelsDir   = flag.String("models", "models", "directory holding the ONNX artifacts")
		samplesPath = flag.String("samples", "", "labeled validation set (JSON lines)")
		windowSize  = flag.Int("window", 128, "sequence length the base models expect")
		indDim      = flag.Int("indicators", 10, "indicator vector length the base models expect")
		timeout     = flag.Duration("timeout", 30*time.Second, "per-inference timeout")
		fitIsotonic = flag.Bool("isotonic", false, "also fit isotonic recalibration from ensemble outputs")
	)
	flag.Parse()

	if *samplesPath == "" {
		log.Fatal().Msg("-samples is required")
	}

	samples, err := loadSamples(*samplesPath, *windowSize, *indDim)
	if err != nil {
		log.Fatal().Err(err).Str("path", *samplesPath).Msg("failed to load validation set")
	}
	log.Info().Int("samples", len(samples)).Msg("validation set loaded")

	res, err := ensemble.LoadArtifacts(ensemble.LoadOptions{
		ModelsDir:    *modelsDir,
		WindowSize:   *windowSize,
		IndicatorDim: *indDim,
		Timeout:      *timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load model artifacts")
	}
	if len(res.Bases) == 0 {
		log.Fatal().Str("models_dir", *modelsDir).Msg("no base models found, nothing to calibrate")
	}

	ctx := context.Background()

	rec, err := ensemble.CalculateModelWeights(ctx, res.Bases, samples)
	if err != nil {
		log.Fatal().Err(err).Msg("weight calibration failed")
	}
	weightsPath := filepath.Join(*modelsDir, ensemble.WeightsFile)
	if err := rec.Save(weightsPath); err != nil {
		log.Fatal().Err(err).Str("path", weightsPath).Msg("failed to save weights")
	}
	log.Info().
		Floats64("weights", rec.Weights).
		Floats64("accuracies", rec.Accuracies).
		Str("path", weightsPath).
		Msg("boosting weights calibrated")

	if err := recordVersion(*modelsDir, rec, len(samples)); err != nil {
		log.Fatal().Err(err).Msg("failed to record calibration version")
	}

	if *fitIsotonic {
		if err := fitAndSaveIsotonic(ctx, res, rec, samples, *modelsDir); err != nil {
			log.Fatal().Err(err).Msg("isotonic calibration failed")
		}
	}
}

func loadSamples(path string, windowSize, indDim int) ([]ensemble.LabeledSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var samples []ensemble.LabeledSample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var s ensemble.LabeledSample
		if err := json.Unmarshal(text, &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if s.Class < 0 || s.Class >= ensemble.NumClasses {
			return nil, fmt.Errorf("line %d: class %d out of range", line, s.Class)
		}
		if len(s.Seq) != windowSize {
			return nil, fmt.Errorf("line %d: seq length %d, expected %d", line, len(s.Seq), windowSize)
		}
		if len(s.Indicators) != indDim {
			return nil, fmt.Errorf("line %d: indicators length %d, expected %d", line, len(s.Indicators), indDim)
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// recordVersion appends this calibration run to the version manifest
// next to the artifacts.
func recordVersion(modelsDir string, rec *ensemble.WeightRecord, samples int) error {
	manifest, err := ensemble.LoadManifest(filepath.Join(modelsDir, ensemble.ManifestFile))
	if err != nil {
		return err
	}
	var mean float64
	for _, acc := range rec.Accuracies {
		mean += acc
	}
	if len(rec.Accuracies) > 0 {
		mean /= float64(len(rec.Accuracies))
	}
	return manifest.Append(ensemble.VersionMetrics{
		MeanAccuracy: mean,
		Accuracies:   rec.Accuracies,
		Samples:      samples,
	})
}

// fitAndSaveIsotonic runs the full ensemble on every sample, collects
// the final max probability against correctness of the final argmax,
// and fits the pool-adjacent-violators curve over those pairs.
func fitAndSaveIsotonic(ctx context.Context, res *ensemble.LoadResult, rec *ensemble.WeightRecord, samples []ensemble.LabeledSample, modelsDir string) error {
	agg := ensemble.NewAggregator(res.Bases, res.Meta)
	if err := agg.SetWeights(rec.Weights); err != nil {
		return err
	}

	maxProbs := make([]float64, 0, len(samples))
	correct := make([]float64, 0, len(samples))
	for i, s := range samples {
		out, err := agg.Predict(ctx, s.Seq, s.Indicators)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		cls := ensemble.Argmax(out.Final.Probs)
		maxProbs = append(maxProbs, out.Final.Probs[cls])
		if cls == s.Class {
			correct = append(correct, 1)
		} else {
			correct = append(correct, 0)
		}
	}

	iso, err := ensemble.FitIsotonic(maxProbs, correct)
	if err != nil {
		return err
	}
	path := filepath.Join(modelsDir, ensemble.IsotonicFile)
	if err := iso.Save(path); err != nil {
		return err
	}
	log.Info().Int("samples", len(samples)).Str("path", path).Msg("isotonic calibration fitted")
	return nil
}
