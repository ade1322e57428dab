// Package metrics provides Prometheus metrics collection for the ensemble
// service. It defines and manages prediction, calibration, feed and system
// metrics exposed via the Prometheus endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ensemble service.
type Metrics struct {
	// Prediction metrics
	Predictions       prometheus.Counter   // Total predictions served
	PredictionErrors  prometheus.Counter   // Total failed predictions
	PredictorLatency  prometheus.Histogram // Per-predictor inference latency
	PredictorTimeouts prometheus.Counter   // Predictor subprocess timeouts
	ConfidenceScores  prometheus.Histogram // Calibrated confidence distribution
	AgreementRates    prometheus.Histogram // Ensemble agreement distribution
	FloorActivations  prometheus.Counter   // Minimum-confidence floor overrides
	ModelAge          prometheus.Gauge     // Age of the newest model artifact in seconds
	BatchSize         prometheus.Histogram // Symbols per batch request

	// Feed and storage metrics
	TicksReceived prometheus.Counter // Tick messages ingested from the feed
	TicksStored   prometheus.Counter // Tick records written to storage
	WSReconnects  prometheus.Counter // WebSocket reconnections

	// System metrics
	ErrorsTotal prometheus.Counter // Total errors encountered
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for
// testing, where the global registry would collide across cases).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ensemble_predictions_total",
			Help: "Total number of ensemble predictions served",
		}),
		PredictionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ensemble_prediction_errors_total",
			Help: "Total number of failed predictions",
		}),
		PredictorLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "predictor_latency_seconds",
			Help:    "Per-predictor inference latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		PredictorTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictor_timeouts_total",
			Help: "Total number of predictor subprocess timeouts",
		}),
		ConfidenceScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ensemble_confidence_scores",
			Help:    "Distribution of calibrated confidence scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		AgreementRates: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ensemble_agreement_rates",
			Help:    "Distribution of ensemble agreement rates",
			Buckets: []float64{0, 1.0 / 3.0, 2.0 / 3.0, 1.0},
		}),
		FloorActivations: factory.NewCounter(prometheus.CounterOpts{
			Name: "confidence_floor_activations_total",
			Help: "Total number of minimum-confidence floor overrides",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_age_seconds",
			Help: "Age of the newest model artifact in seconds",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_batch_size",
			Help:    "Number of symbols per batch prediction request",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		TicksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticks_received_total",
			Help: "Total number of tick messages ingested from the feed",
		}),
		TicksStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticks_stored_total",
			Help: "Total number of tick records written to storage",
		}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_reconnects_total",
			Help: "Total number of WebSocket reconnections",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}
