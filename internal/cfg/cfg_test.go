package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "MODELS_DIR", "DATA_PATH", "SYMBOLS", "WINDOW_SIZE",
		"TEMPERATURE", "BOOST_POLICY", "MIN_CONFIDENCE", "INFER_TIMEOUT",
		"BATCH_LIMIT", "API_PORT", "METRICS_PORT", "FEED_ENABLED",
		"FEED_WS_URL", "FEED_REST_URL", "FEED_PING_INTERVAL", "REST_TIMEOUT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if s.ModelsDir != "models/ensemble" {
		t.Errorf("ModelsDir = %s", s.ModelsDir)
	}
	if s.WindowSize != 128 {
		t.Errorf("WindowSize = %d", s.WindowSize)
	}
	if s.Temperature != 1.5 {
		t.Errorf("Temperature = %f", s.Temperature)
	}
	if s.BoostPolicy != "multiplicative" {
		t.Errorf("BoostPolicy = %s", s.BoostPolicy)
	}
	if s.MinConfidence != 0.75 {
		t.Errorf("MinConfidence = %f", s.MinConfidence)
	}
	if s.InferTimeout != 10*time.Second {
		t.Errorf("InferTimeout = %v", s.InferTimeout)
	}
	if s.BatchLimit != 4 {
		t.Errorf("BatchLimit = %d", s.BatchLimit)
	}
	if s.APIPort != 8001 || s.MetricsPort != 8080 {
		t.Errorf("Ports = %d/%d", s.APIPort, s.MetricsPort)
	}
	if s.FeedEnabled {
		t.Error("Feed should be disabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WINDOW_SIZE", "64")
	t.Setenv("TEMPERATURE", "2.0")
	t.Setenv("BOOST_POLICY", "additive")
	t.Setenv("SYMBOLS", "BTCUSDT,ETHUSDT")
	t.Setenv("INFER_TIMEOUT", "30s")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if s.WindowSize != 64 {
		t.Errorf("WindowSize = %d", s.WindowSize)
	}
	if s.Temperature != 2.0 {
		t.Errorf("Temperature = %f", s.Temperature)
	}
	if s.BoostPolicy != "additive" {
		t.Errorf("BoostPolicy = %s", s.BoostPolicy)
	}
	if len(s.Symbols) != 2 || s.Symbols[0] != "BTCUSDT" || s.Symbols[1] != "ETHUSDT" {
		t.Errorf("Symbols = %v", s.Symbols)
	}
	if s.InferTimeout != 30*time.Second {
		t.Errorf("InferTimeout = %v", s.InferTimeout)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"window too large", "WINDOW_SIZE", "20000"},
		{"temperature zero", "TEMPERATURE", "-1"},
		{"unknown policy", "BOOST_POLICY", "quadratic"},
		{"min confidence above floor bound", "MIN_CONFIDENCE", "0.95"},
		{"timeout too small", "INFER_TIMEOUT", "1ms"},
		{"batch limit too large", "BATCH_LIMIT", "1000"},
		{"privileged port", "API_PORT", "80"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected validation error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoadFeedValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEED_ENABLED", "true")

	// Enabled feed without URLs or symbols must fail.
	if _, err := Load(); err == nil {
		t.Error("Expected error for feed without endpoints")
	}

	t.Setenv("FEED_WS_URL", "wss://example.com/ws")
	if _, err := Load(); err == nil {
		t.Error("Expected error for feed without symbols")
	}

	t.Setenv("SYMBOLS", "BTCUSDT")
	if _, err := Load(); err != nil {
		t.Errorf("Load failed with complete feed config: %v", err)
	}
}

func TestLoadSamePortsRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_PORT", "9000")
	t.Setenv("METRICS_PORT", "9000")

	if _, err := Load(); err == nil {
		t.Error("Expected error for identical ports")
	}
}

func TestLoadFromYAML(t *testing.T) {
	clearEnv(t)
	content := `
models:
  dir: /opt/models
window:
  size: 64
  indicators: [rsi_14, macd]
calibration:
  temperature: 2.5
  boostPolicy: additive
  minConfidence: 0.6
server:
  apiPort: 9001
  metricsPort: 9002
  inferTimeout: 20s
  batchLimit: 8
system:
  dataPath: /var/lib/ensemble
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if s.ModelsDir != "/opt/models" || s.DataPath != "/var/lib/ensemble" {
		t.Errorf("Paths = %s / %s", s.ModelsDir, s.DataPath)
	}
	if s.WindowSize != 64 || len(s.Indicators) != 2 {
		t.Errorf("Window = %d indicators %v", s.WindowSize, s.Indicators)
	}
	if s.Temperature != 2.5 || s.BoostPolicy != "additive" || s.MinConfidence != 0.6 {
		t.Errorf("Calibration = %f %s %f", s.Temperature, s.BoostPolicy, s.MinConfidence)
	}
	if s.APIPort != 9001 || s.MetricsPort != 9002 || s.InferTimeout != 20*time.Second || s.BatchLimit != 8 {
		t.Errorf("Server = %+v", s)
	}
}

func TestLoadYAMLEnvOverride(t *testing.T) {
	clearEnv(t)
	content := "window:\n  size: 64\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("WINDOW_SIZE", "32")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.WindowSize != 32 {
		t.Errorf("Env override lost: WindowSize = %d", s.WindowSize)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := Load(); err == nil {
		t.Error("Expected error for missing config file")
	}
}
