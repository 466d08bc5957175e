// Package metrics provides Prometheus metrics collection for imlab.
// It defines and manages the pipeline, training and dashboard metrics that are
// exposed via the Prometheus metrics endpoint for monitoring.
//
// The package includes metrics for frame intake, capture, feature extraction,
// prediction and explanation, model training and websocket clients.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for imlab.
type Metrics struct {
	// Camera metrics
	FramesReceived prometheus.Counter // Frames published to the camera hub
	FramesDropped  prometheus.Counter // Frames dropped because a subscriber mailbox was full

	// Capture metrics
	CapturesTotal      prometheus.Counter // Frames that started a candidate build
	CaptureSkipped     prometheus.Counter // Frames ignored while recording was off
	ExtractionFailures prometheus.Counter // Feature extractions that failed (candidate dropped)
	InstancesCreated   prometheus.Counter // Instances committed to a dataset
	InstanceFailures   prometheus.Counter // Dataset writes that failed

	// Selection and prediction metrics
	SelectionSuppressed prometheus.Counter   // Dataset selections with zero or several ids
	Predictions         prometheus.Counter   // Predictions published
	PredictionFailures  prometheus.Counter   // Predictions that failed
	PredictionLatency   prometheus.Histogram // End-to-end prediction latency
	Explanations        prometheus.Counter   // Explanations published
	ExplanationFailures prometheus.Counter   // Explanations that failed
	StaleResults        prometheus.Counter   // Async results superseded by a newer request

	// Training metrics
	TrainingRuns     prometheus.Counter   // Training runs started
	TrainingFailures prometheus.Counter   // Training runs that ended in failure
	TrainingDuration prometheus.Histogram // Training run duration
	TrainingLoss     prometheus.Gauge     // Loss of the last completed epoch

	// Dashboard metrics
	WSClients prometheus.Gauge // Connected websocket clients

	ErrorsTotal prometheus.Counter // Total number of errors encountered
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// This allows for isolated metric collection in tests without affecting
// the global Prometheus registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "frames_received_total",
			Help: "Total number of frames published to the camera hub",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "frames_dropped_total",
			Help: "Total number of frames dropped on full subscriber mailboxes",
		}),
		CapturesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "captures_total",
			Help: "Total number of frames that started a candidate build",
		}),
		CaptureSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_skipped_total",
			Help: "Total number of frames ignored while recording was off",
		}),
		ExtractionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "extraction_failures_total",
			Help: "Total number of feature extraction failures",
		}),
		InstancesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "instances_created_total",
			Help: "Total number of instances committed to a dataset",
		}),
		InstanceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "instance_failures_total",
			Help: "Total number of failed dataset writes",
		}),
		SelectionSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "selection_suppressed_total",
			Help: "Total number of dataset selections that did not name exactly one instance",
		}),
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of predictions published",
		}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of failed predictions",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "Prediction latency in seconds (end-to-end)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		Explanations: factory.NewCounter(prometheus.CounterOpts{
			Name: "explanations_total",
			Help: "Total number of explanations published",
		}),
		ExplanationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "explanation_failures_total",
			Help: "Total number of failed explanations",
		}),
		StaleResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "stale_results_discarded_total",
			Help: "Total number of async results discarded because a newer request superseded them",
		}),
		TrainingRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_runs_total",
			Help: "Total number of training runs started",
		}),
		TrainingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_failures_total",
			Help: "Total number of training runs that failed",
		}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "training_duration_seconds",
			Help:    "Duration of training runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		TrainingLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "training_loss",
			Help: "Loss of the last completed training epoch",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Number of connected websocket clients",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}
