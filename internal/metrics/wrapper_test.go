package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWrapper(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewWithRegistry(registry)
	wrapper := NewWrapper(metrics)

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.m != metrics {
		t.Error("Wrapper does not contain correct metrics instance")
	}
}

func TestNewWithRegistry_Isolated(t *testing.T) {
	// Two registries must not collide on metric names.
	a := NewWithRegistry(prometheus.NewRegistry())
	b := NewWithRegistry(prometheus.NewRegistry())

	a.Predictions.Inc()
	if v := testutil.ToFloat64(b.Predictions); v != 0 {
		t.Errorf("Expected isolated counter, got %f", v)
	}
}

func TestMetricsWrapper_PipelineCounters(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	testCases := []struct {
		name    string
		inc     func()
		counter prometheus.Counter
	}{
		{"frames received", wrapper.FramesReceivedInc, metrics.FramesReceived},
		{"frames dropped", wrapper.FramesDroppedInc, metrics.FramesDropped},
		{"captures", wrapper.CaptureInc, metrics.CapturesTotal},
		{"capture skipped", wrapper.CaptureSkippedInc, metrics.CaptureSkipped},
		{"extraction failures", wrapper.ExtractionFailureInc, metrics.ExtractionFailures},
		{"instances created", wrapper.InstanceCreatedInc, metrics.InstancesCreated},
		{"instance failures", wrapper.InstanceFailureInc, metrics.InstanceFailures},
		{"selection suppressed", wrapper.SelectionSuppressedInc, metrics.SelectionSuppressed},
		{"predictions", wrapper.PredictionInc, metrics.Predictions},
		{"prediction failures", wrapper.PredictionFailureInc, metrics.PredictionFailures},
		{"explanations", wrapper.ExplanationInc, metrics.Explanations},
		{"explanation failures", wrapper.ExplanationFailureInc, metrics.ExplanationFailures},
		{"stale results", wrapper.StaleResultInc, metrics.StaleResults},
		{"training runs", wrapper.TrainingRunInc, metrics.TrainingRuns},
		{"training failures", wrapper.TrainingFailureInc, metrics.TrainingFailures},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.inc()
			tc.inc()
			if v := testutil.ToFloat64(tc.counter); v != 2 {
				t.Errorf("Expected counter value 2, got %f", v)
			}
		})
	}
}

func TestMetricsWrapper_GaugeOperations(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	clients := wrapper.WSClients()
	if clients == nil {
		t.Fatal("WSClients returned nil gauge")
	}

	clients.Add(1)
	clients.Add(1)
	clients.Add(-1)
	if v := testutil.ToFloat64(metrics.WSClients); v != 1 {
		t.Errorf("Expected 1 client, got %f", v)
	}

	clients.Set(5)
	if v := testutil.ToFloat64(metrics.WSClients); v != 5 {
		t.Errorf("Expected 5 clients, got %f", v)
	}

	wrapper.TrainingLossSet(0.42)
	if v := testutil.ToFloat64(metrics.TrainingLoss); v != 0.42 {
		t.Errorf("Expected loss 0.42, got %f", v)
	}
}

func TestMetricsWrapper_HistogramOperations(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewWithRegistry(registry)
	wrapper := NewWrapper(metrics)

	testValues := []float64{0.001, 0.005, 0.01, 0.05, 0.1}
	for _, value := range testValues {
		wrapper.PredictionLatencyObserve(value)
	}
	wrapper.PredictionLatency().Observe(0.2)
	wrapper.TrainingDurationObserve(1.5)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	counts := map[string]uint64{}
	for _, mf := range families {
		if h := mf.GetMetric()[0].GetHistogram(); h != nil {
			counts[mf.GetName()] = h.GetSampleCount()
		}
	}
	if counts["prediction_latency_seconds"] != uint64(len(testValues)+1) {
		t.Errorf("Expected %d latency observations, got %d", len(testValues)+1, counts["prediction_latency_seconds"])
	}
	if counts["training_duration_seconds"] != 1 {
		t.Errorf("Expected 1 duration observation, got %d", counts["training_duration_seconds"])
	}
}

func TestCounterWrapper_DirectUsage(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter for unit tests",
	})

	wrapper := &CounterWrapper{c: counter}

	wrapper.Inc()
	value := testutil.ToFloat64(counter)
	if value != 1 {
		t.Errorf("Expected counter value 1, got %f", value)
	}
}

func TestGaugeWrapper_DirectUsage(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "Test gauge for unit tests",
	})

	wrapper := &GaugeWrapper{g: gauge}

	wrapper.Set(42.0)
	value := testutil.ToFloat64(gauge)
	if value != 42.0 {
		t.Errorf("Expected gauge value 42.0, got %f", value)
	}

	wrapper.Add(8.0)
	newValue := testutil.ToFloat64(gauge)
	if newValue != 50.0 {
		t.Errorf("Expected gauge value 50.0 after add, got %f", newValue)
	}
}
