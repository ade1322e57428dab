// Package cfg loads and validates the ensemble service configuration.
// Settings come from a YAML file when CONFIG_FILE is set, otherwise from
// environment variables; individual environment variables override file
// values either way.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	ModelsDir     string
	DataPath      string
	Symbols       []string
	WindowSize    int
	Indicators    []string
	Temperature   float64
	BoostPolicy   string
	MinConfidence float64
	InferTimeout  time.Duration
	BatchLimit    int
	Fallback      bool
	APIPort       int
	MetricsPort   int
	FeedEnabled   bool
	FeedWsURL     string
	FeedRestURL   string
	FeedPing      time.Duration
	RESTTimeout   time.Duration
}

type ConfigFile struct {
	Models struct {
		Dir      string `yaml:"dir"`
		Fallback bool   `yaml:"fallback"`
	} `yaml:"models"`

	Window struct {
		Size       int      `yaml:"size"`
		Indicators []string `yaml:"indicators"`
	} `yaml:"window"`

	Calibration struct {
		Temperature   float64 `yaml:"temperature"`
		BoostPolicy   string  `yaml:"boostPolicy"`
		MinConfidence float64 `yaml:"minConfidence"`
	} `yaml:"calibration"`

	Server struct {
		APIPort      int    `yaml:"apiPort"`
		MetricsPort  int    `yaml:"metricsPort"`
		InferTimeout string `yaml:"inferTimeout"`
		BatchLimit   int    `yaml:"batchLimit"`
	} `yaml:"server"`

	Feed struct {
		Enabled      bool     `yaml:"enabled"`
		WsURL        string   `yaml:"wsURL"`
		RestURL      string   `yaml:"restURL"`
		Symbols      []string `yaml:"symbols"`
		PingInterval string   `yaml:"pingInterval"`
		RESTTimeout  string   `yaml:"restTimeout"`
	} `yaml:"feed"`

	System struct {
		DataPath string `yaml:"dataPath"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	inferTimeout, err := time.ParseDuration(config.Server.InferTimeout)
	if err != nil {
		inferTimeout = 10 * time.Second
	}
	ping, err := time.ParseDuration(config.Feed.PingInterval)
	if err != nil {
		ping = 15 * time.Second
	}
	restTimeout, err := time.ParseDuration(config.Feed.RESTTimeout)
	if err != nil {
		restTimeout = 5 * time.Second
	}

	settings := Settings{
		ModelsDir:     getEnvOrDefault("MODELS_DIR", config.Models.Dir),
		DataPath:      getEnvOrDefault("DATA_PATH", config.System.DataPath),
		Symbols:       getSymbolsFromEnvOrConfig(config.Feed.Symbols),
		WindowSize:    getIntFromEnvOrConfig("WINDOW_SIZE", config.Window.Size),
		Indicators:    config.Window.Indicators,
		Temperature:   getFloatFromEnvOrConfig("TEMPERATURE", config.Calibration.Temperature),
		BoostPolicy:   getEnvOrDefault("BOOST_POLICY", config.Calibration.BoostPolicy),
		MinConfidence: getFloatFromEnvOrConfig("MIN_CONFIDENCE", config.Calibration.MinConfidence),
		InferTimeout:  inferTimeout,
		BatchLimit:    getIntFromEnvOrConfig("BATCH_LIMIT", config.Server.BatchLimit),
		Fallback:      getBoolFromEnvOrConfig("FALLBACK_ENABLED", config.Models.Fallback),
		APIPort:       getIntFromEnvOrConfig("API_PORT", config.Server.APIPort),
		MetricsPort:   getIntFromEnvOrConfig("METRICS_PORT", config.Server.MetricsPort),
		FeedEnabled:   getBoolFromEnvOrConfig("FEED_ENABLED", config.Feed.Enabled),
		FeedWsURL:     getEnvOrDefault("FEED_WS_URL", config.Feed.WsURL),
		FeedRestURL:   getEnvOrDefault("FEED_REST_URL", config.Feed.RestURL),
		FeedPing:      ping,
		RESTTimeout:   restTimeout,
	}
	applyDefaults(&settings)

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ModelsDir:     getEnvOrDefault("MODELS_DIR", "models/ensemble"),
		DataPath:      getEnvOrDefault("DATA_PATH", "data"),
		Symbols:       splitOrDefault(os.Getenv("SYMBOLS"), nil),
		WindowSize:    getIntOrDefault("WINDOW_SIZE", 128),
		Temperature:   getFloatOrDefault("TEMPERATURE", 1.5),
		BoostPolicy:   getEnvOrDefault("BOOST_POLICY", "multiplicative"),
		MinConfidence: getFloatOrDefault("MIN_CONFIDENCE", 0.75),
		InferTimeout:  getDurationOrDefault("INFER_TIMEOUT", 10*time.Second),
		BatchLimit:    getIntOrDefault("BATCH_LIMIT", 4),
		Fallback:      getBoolOrDefault("FALLBACK_ENABLED", false),
		APIPort:       getIntOrDefault("API_PORT", 8001),
		MetricsPort:   getIntOrDefault("METRICS_PORT", 8080),
		FeedEnabled:   getBoolOrDefault("FEED_ENABLED", false),
		FeedWsURL:     os.Getenv("FEED_WS_URL"),
		FeedRestURL:   os.Getenv("FEED_REST_URL"),
		FeedPing:      getDurationOrDefault("FEED_PING_INTERVAL", 15*time.Second),
		RESTTimeout:   getDurationOrDefault("REST_TIMEOUT", 5*time.Second),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func applyDefaults(s *Settings) {
	if s.ModelsDir == "" {
		s.ModelsDir = "models/ensemble"
	}
	if s.DataPath == "" {
		s.DataPath = "data"
	}
	if s.WindowSize == 0 {
		s.WindowSize = 128
	}
	if s.Temperature == 0 {
		s.Temperature = 1.5
	}
	if s.BoostPolicy == "" {
		s.BoostPolicy = "multiplicative"
	}
	if s.InferTimeout == 0 {
		s.InferTimeout = 10 * time.Second
	}
	if s.BatchLimit == 0 {
		s.BatchLimit = 4
	}
	if s.APIPort == 0 {
		s.APIPort = 8001
	}
	if s.MetricsPort == 0 {
		s.MetricsPort = 8080
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	return strings.Split(v, ",")
}

func getSymbolsFromEnvOrConfig(configSymbols []string) []string {
	if env := os.Getenv("SYMBOLS"); env != "" {
		return strings.Split(env, ",")
	}
	return configSymbols
}

func getIntFromEnvOrConfig(key string, configValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	return configValue
}

func getFloatFromEnvOrConfig(key string, configValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	return configValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings performs range validation of configuration values.
func validateSettings(s *Settings) error {
	if s.ModelsDir == "" {
		return fmt.Errorf("models directory cannot be empty")
	}
	if s.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}

	if s.WindowSize <= 0 || s.WindowSize > 10000 {
		return fmt.Errorf("window size must be between 1 and 10000, got %d", s.WindowSize)
	}
	if s.Temperature <= 0 || s.Temperature > 10 {
		return fmt.Errorf("temperature must be between 0 and 10, got %f", s.Temperature)
	}
	switch s.BoostPolicy {
	case "multiplicative", "additive":
	default:
		return fmt.Errorf("boost policy must be multiplicative or additive, got %q", s.BoostPolicy)
	}
	// The floor reports minConfidence+0.05, which must stay under the
	// tighter of the two policy caps (0.95).
	if s.MinConfidence < 0 || s.MinConfidence > 0.9 {
		return fmt.Errorf("min confidence must be between 0 and 0.9, got %f", s.MinConfidence)
	}

	if s.InferTimeout < time.Second || s.InferTimeout > time.Minute {
		return fmt.Errorf("infer timeout must be between 1s and 1m, got %v", s.InferTimeout)
	}
	if s.BatchLimit < 1 || s.BatchLimit > 64 {
		return fmt.Errorf("batch limit must be between 1 and 64, got %d", s.BatchLimit)
	}
	if s.APIPort < 1024 || s.APIPort > 65535 {
		return fmt.Errorf("API port must be between 1024 and 65535, got %d", s.APIPort)
	}
	if s.MetricsPort < 1024 || s.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", s.MetricsPort)
	}
	if s.APIPort == s.MetricsPort {
		return fmt.Errorf("API port and metrics port must differ, both are %d", s.APIPort)
	}

	if s.FeedEnabled {
		if s.FeedWsURL == "" && s.FeedRestURL == "" {
			return fmt.Errorf("feed is enabled but neither websocket nor REST URL is set")
		}
		if len(s.Symbols) == 0 {
			return fmt.Errorf("feed is enabled but no symbols are configured")
		}
		if s.FeedPing < time.Second || s.FeedPing > 5*time.Minute {
			return fmt.Errorf("feed ping interval must be between 1s and 5m, got %v", s.FeedPing)
		}
		if s.RESTTimeout < time.Second || s.RESTTimeout > time.Minute {
			return fmt.Errorf("REST timeout must be between 1s and 1m, got %v", s.RESTTimeout)
		}
	}

	return nil
}
