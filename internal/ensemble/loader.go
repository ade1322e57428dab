package ensemble

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Artifact file names inside the models directory. Base models are
// numbered contiguously from 0; a gap ends the scan.
const (
	MetaModelFile = "meta_model.onnx"
	WeightsFile   = "model_weights.json"
	IsotonicFile  = "isotonic_calibration.json"
)

func baseModelFile(i int) string { return fmt.Sprintf("base_model_%d.onnx", i) }

// LoadOptions configures artifact loading.
type LoadOptions struct {
	ModelsDir    string
	WindowSize   int
	IndicatorDim int
	Timeout      time.Duration
	Metrics      MetricsInterface
}

// LoadResult holds everything found in the models directory. An empty
// Bases slice is the valid not-loaded state: the artifact at index 0
// was absent, and the engine reports that rather than guessing.
type LoadResult struct {
	Bases    []Predictor
	Meta     Predictor
	Weights  *WeightRecord
	Isotonic *Isotonic
	Manifest *Manifest
}

// LoadArtifacts scans the models directory for the numbered base model
// set, the optional meta model, the optional weight vector and the
// optional isotonic calibration.
func LoadArtifacts(opts LoadOptions) (*LoadResult, error) {
	res := &LoadResult{}

	for i := 0; ; i++ {
		path := filepath.Join(opts.ModelsDir, baseModelFile(i))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		p, err := NewONNXPredictor(fmt.Sprintf("base_model_%d", i), path, opts.WindowSize, opts.IndicatorDim, opts.Timeout, opts.Metrics)
		if err != nil {
			return nil, fmt.Errorf("load base model %d: %w", i, err)
		}
		res.Bases = append(res.Bases, p)
	}

	if len(res.Bases) == 0 {
		log.Warn().Str("models_dir", opts.ModelsDir).Msg("no base model artifacts found, ensemble not loaded")
		return res, nil
	}

	metaPath := filepath.Join(opts.ModelsDir, MetaModelFile)
	if _, err := os.Stat(metaPath); err == nil {
		metaLen := len(res.Bases) * (NumClasses + 1)
		p, err := NewONNXPredictor("meta_model", metaPath, metaLen, 0, opts.Timeout, opts.Metrics)
		if err != nil {
			return nil, fmt.Errorf("load meta model: %w", err)
		}
		res.Meta = p
	}

	weights, err := LoadWeights(filepath.Join(opts.ModelsDir, WeightsFile))
	if err != nil {
		return nil, fmt.Errorf("load weight vector: %w", err)
	}
	res.Weights = weights

	iso, err := LoadIsotonic(filepath.Join(opts.ModelsDir, IsotonicFile))
	if err != nil {
		return nil, fmt.Errorf("load isotonic calibration: %w", err)
	}
	res.Isotonic = iso

	manifest, err := LoadManifest(filepath.Join(opts.ModelsDir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("load version manifest: %w", err)
	}
	res.Manifest = manifest

	ev := log.Info().
		Int("base_models", len(res.Bases)).
		Bool("meta_model", res.Meta != nil).
		Bool("weights", res.Weights != nil).
		Bool("isotonic", res.Isotonic != nil)
	if active := manifest.Active(); active != nil {
		ev = ev.Str("version", active.Version)
	}
	ev.Msg("ensemble artifacts loaded")

	return res, nil
}
