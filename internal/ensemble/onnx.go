package ensemble

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines the metrics methods needed by the ensemble.
type MetricsInterface interface {
	PredictionsInc()
	FailuresInc()
	LatencyObserve(float64)
	TimeoutsInc()
	ConfidenceObserve(float64)
	AgreementObserve(float64)
	FloorsInc()
	ModelAgeSet(float64)
	BatchSizeObserve(int)
}

// ONNXPredictor runs a single exported model artifact through an embedded
// Python onnxruntime script, JSON over stdin/stdout. One instance exists
// per base model plus one for the meta model.
type ONNXPredictor struct {
	name       string
	modelPath  string
	pythonPath string
	scriptPath string
	seqLen     int // expected sequence length (4N for the meta model)
	indDim     int // expected indicator width (0 for the meta model)
	timeout    time.Duration
	metrics    MetricsInterface

	mu            sync.Mutex
	healthChecked time.Time
}

type inferRequest struct {
	Sequence   []float64 `json:"sequence"`
	Indicators []float64 `json:"indicators"`
}

type inferResponse struct {
	Probabilities []float64 `json:"probabilities"`
	Delta         float64   `json:"delta"`
	Error         string    `json:"error,omitempty"`
}

// NewONNXPredictor wires a predictor to a model artifact on disk. The
// artifact must exist; callers handle the not-loaded case themselves.
func NewONNXPredictor(name, modelPath string, seqLen, indDim int, timeout time.Duration, metrics MetricsInterface) (*ONNXPredictor, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", modelPath, err)
	}

	pythonPath, err := findPython()
	if err != nil {
		return nil, fmt.Errorf("onnx predictor %s: %w", name, err)
	}

	scriptPath := filepath.Join(filepath.Dir(modelPath), "onnx_inference.py")
	if _, err := os.Stat(scriptPath); os.IsNotExist(err) {
		if err := createInferenceScript(scriptPath); err != nil {
			return nil, fmt.Errorf("create inference script: %w", err)
		}
	}

	p := &ONNXPredictor{
		name:       name,
		modelPath:  modelPath,
		pythonPath: pythonPath,
		scriptPath: scriptPath,
		seqLen:     seqLen,
		indDim:     indDim,
		timeout:    timeout,
		metrics:    metrics,
	}

	if info, err := os.Stat(modelPath); err == nil && p.metrics != nil {
		p.metrics.ModelAgeSet(time.Since(info.ModTime()).Seconds())
	}

	return p, nil
}

// Name returns the artifact's logical name, e.g. "base_model_2".
func (p *ONNXPredictor) Name() string { return p.name }

// Infer implements Predictor by shelling out to the inference script.
func (p *ONNXPredictor) Infer(ctx context.Context, seq []float64, indicators []float64) (Output, error) {
	if err := p.validateInput(seq, indicators); err != nil {
		return Output{}, err
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.LatencyObserve(time.Since(start).Seconds())
		}
	}()

	req := inferRequest{Sequence: seq, Indicators: indicators}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return Output{}, &ComputationError{Model: p.name, Err: fmt.Errorf("marshal request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.pythonPath, p.scriptPath, p.modelPath)
	cmd.Stdin = bytes.NewReader(reqJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if p.metrics != nil {
			p.metrics.FailuresInc()
		}
		if ctx.Err() == context.DeadlineExceeded {
			if p.metrics != nil {
				p.metrics.TimeoutsInc()
			}
			p.mu.Lock()
			p.healthChecked = time.Time{} // Force next health check
			p.mu.Unlock()
			return Output{}, &ComputationError{Model: p.name, Err: fmt.Errorf("inference timeout after %v", p.timeout)}
		}

		log.Error().
			Err(err).
			Str("model", p.name).
			Str("model_path", p.modelPath).
			Str("stderr", stderr.String()).
			Msg("python inference execution failed")

		if strings.Contains(stderr.String(), "onnxruntime not installed") {
			return Output{}, &ComputationError{Model: p.name, Err: fmt.Errorf("onnxruntime dependency missing: %w", err)}
		}
		return Output{}, &ComputationError{Model: p.name, Err: fmt.Errorf("python inference failed: %w, stderr: %s", err, stderr.String())}
	}

	var resp inferResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		if p.metrics != nil {
			p.metrics.FailuresInc()
		}
		return Output{}, &ComputationError{Model: p.name, Err: fmt.Errorf("parse response: %w, stdout: %s", err, stdout.String())}
	}
	if resp.Error != "" {
		if p.metrics != nil {
			p.metrics.FailuresInc()
		}
		return Output{}, &ComputationError{Model: p.name, Err: fmt.Errorf("python inference error: %s", resp.Error)}
	}

	out, err := outputFromResponse(resp)
	if err != nil {
		if p.metrics != nil {
			p.metrics.FailuresInc()
		}
		return Output{}, &ComputationError{Model: p.name, Err: err}
	}

	if p.metrics != nil {
		p.metrics.PredictionsInc()
	}

	log.Debug().
		Str("model", p.name).
		Floats64("probabilities", resp.Probabilities).
		Float64("delta", resp.Delta).
		Msg("prediction successful")

	return out, nil
}

func (p *ONNXPredictor) validateInput(seq, indicators []float64) error {
	if len(seq) != p.seqLen {
		return &ShapeMismatchError{What: "sequence", Expected: p.seqLen, Got: len(seq)}
	}
	if len(indicators) != p.indDim {
		return &ShapeMismatchError{What: "indicators", Expected: p.indDim, Got: len(indicators)}
	}
	for i, v := range seq {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("sequence value %d is not finite", i)
		}
	}
	for i, v := range indicators {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("indicator value %d is not finite", i)
		}
	}
	return nil
}

// HealthCheck runs a dummy inference, at most once per five minutes.
func (p *ONNXPredictor) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	if time.Since(p.healthChecked) < 5*time.Minute {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	seq := make([]float64, p.seqLen)
	ind := make([]float64, p.indDim)
	_, err := p.Infer(ctx, seq, ind)
	if err == nil {
		p.mu.Lock()
		p.healthChecked = time.Now()
		p.mu.Unlock()
	}
	return err
}

func outputFromResponse(resp inferResponse) (Output, error) {
	if len(resp.Probabilities) != NumClasses {
		return Output{}, fmt.Errorf("expected %d probabilities, got %d", NumClasses, len(resp.Probabilities))
	}
	var out Output
	var sum float64
	for i, prob := range resp.Probabilities {
		if prob < 0 || prob > 1 || math.IsNaN(prob) {
			return Output{}, fmt.Errorf("invalid probability %d: %f", i, prob)
		}
		out.Probs[i] = prob
		sum += prob
	}
	if math.Abs(sum-1.0) > 1e-3 {
		// Renormalize mild drift from the runtime; reject anything worse.
		if math.Abs(sum-1.0) > 0.05 || sum == 0 {
			return Output{}, fmt.Errorf("probabilities sum to %f", sum)
		}
		for i := range out.Probs {
			out.Probs[i] /= sum
		}
	}
	if math.IsNaN(resp.Delta) || math.IsInf(resp.Delta, 0) {
		return Output{}, fmt.Errorf("delta is not finite")
	}
	out.Delta = resp.Delta
	return out, nil
}

func findPython() (string, error) {
	// Prefer a virtual environment when one is active.
	if venvPath := os.Getenv("VIRTUAL_ENV"); venvPath != "" {
		candidates := []string{
			filepath.Join(venvPath, "bin", "python3"),
			filepath.Join(venvPath, "bin", "python"),
			filepath.Join(venvPath, "Scripts", "python.exe"),
		}
		for _, venvPython := range candidates {
			if _, err := os.Stat(venvPython); err == nil {
				if hasONNXRuntime(venvPython) {
					log.Info().Str("python_path", venvPython).Msg("using virtual environment python")
					return venvPython, nil
				}
			}
		}
	}

	candidates := []string{"python3", "python", "python3.12", "python3.11", "python3.10"}
	for _, candidate := range candidates {
		path, err := exec.LookPath(candidate)
		if err == nil && hasONNXRuntime(path) {
			log.Info().Str("python_path", path).Msg("using system python")
			return path, nil
		}
	}

	// Settle for any Python 3; the script reports the missing runtime itself.
	for _, candidate := range candidates {
		path, err := exec.LookPath(candidate)
		if err == nil {
			cmd := exec.Command(path, "-c", "import sys; exit(0 if sys.version_info[0] == 3 else 1)")
			if err := cmd.Run(); err == nil {
				log.Warn().Str("python_path", path).Msg("found python 3 but onnxruntime may not be installed")
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("no suitable Python 3 executable found")
}

func hasONNXRuntime(pythonPath string) bool {
	cmd := exec.Command(pythonPath, "-c", "import sys, onnxruntime; print('Python', sys.version)")
	output, err := cmd.Output()
	return err == nil && strings.Contains(string(output), "Python 3")
}

func createInferenceScript(scriptPath string) error {
	script := `#!/usr/bin/env python3
"""ONNX inference bridge for the ensemble service."""
import sys
import json
import numpy as np

try:
    import onnxruntime as ort
except ImportError:
    print(json.dumps({"error": "onnxruntime not installed"}))
    sys.exit(1)

def main():
    if len(sys.argv) != 2:
        print(json.dumps({"error": "usage: onnx_inference.py <model_path>"}))
        sys.exit(1)

    try:
        request = json.load(sys.stdin)
        seq = np.array(request["sequence"], dtype=np.float32)
        ind = np.array(request.get("indicators") or [], dtype=np.float32)

        session = ort.InferenceSession(sys.argv[1])
        inputs = session.get_inputs()

        feeds = {}
        if len(inputs) >= 2 and ind.size > 0:
            # Base model: (1, T, 1) sequence plus (1, D) indicators.
            feeds[inputs[0].name] = seq.reshape(1, -1, 1)
            feeds[inputs[1].name] = ind.reshape(1, -1)
        else:
            # Meta model: flat feature vector.
            feeds[inputs[0].name] = seq.reshape(1, -1)

        outputs = session.run(None, feeds)
        probs = np.asarray(outputs[0]).reshape(-1)
        delta = float(np.asarray(outputs[1]).reshape(-1)[0]) if len(outputs) > 1 else 0.0

        total = float(probs.sum())
        if total > 0 and abs(total - 1.0) > 0.01:
            probs = probs / total

        print(json.dumps({"probabilities": [float(p) for p in probs], "delta": delta}))
    except Exception as e:
        print(json.dumps({"error": str(e)}))
        sys.exit(1)

if __name__ == "__main__":
    main()
`

	return os.WriteFile(scriptPath, []byte(script), 0o755)
}
