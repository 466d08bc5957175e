package metrics

import "github.com/prometheus/client_golang/prometheus"

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

type MetricsHistogram interface {
	Observe(float64)
}

type Counter = MetricsCounter
type Gauge = MetricsGauge
type Histogram = MetricsHistogram

// MetricsWrapper adapts Metrics to the small interfaces declared by the camera
// hub, the pipeline stages, the trainer and the dashboard.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) WSClients() MetricsGauge {
	return &GaugeWrapper{w.m.WSClients}
}

func (w *MetricsWrapper) PredictionLatency() MetricsHistogram {
	return &HistogramWrapper{w.m.PredictionLatency}
}

func (w *MetricsWrapper) ErrorsTotal() MetricsCounter {
	return &CounterWrapper{w.m.ErrorsTotal}
}

// camera

func (w *MetricsWrapper) FramesReceivedInc() { w.m.FramesReceived.Inc() }
func (w *MetricsWrapper) FramesDroppedInc()  { w.m.FramesDropped.Inc() }

// capture

func (w *MetricsWrapper) CaptureInc()           { w.m.CapturesTotal.Inc() }
func (w *MetricsWrapper) CaptureSkippedInc()    { w.m.CaptureSkipped.Inc() }
func (w *MetricsWrapper) ExtractionFailureInc() { w.m.ExtractionFailures.Inc() }
func (w *MetricsWrapper) InstanceCreatedInc()   { w.m.InstancesCreated.Inc() }
func (w *MetricsWrapper) InstanceFailureInc()   { w.m.InstanceFailures.Inc() }

// selection, prediction and explanation

func (w *MetricsWrapper) SelectionSuppressedInc() { w.m.SelectionSuppressed.Inc() }
func (w *MetricsWrapper) PredictionInc()          { w.m.Predictions.Inc() }
func (w *MetricsWrapper) PredictionFailureInc()   { w.m.PredictionFailures.Inc() }
func (w *MetricsWrapper) ExplanationInc()         { w.m.Explanations.Inc() }
func (w *MetricsWrapper) ExplanationFailureInc()  { w.m.ExplanationFailures.Inc() }
func (w *MetricsWrapper) StaleResultInc()         { w.m.StaleResults.Inc() }

func (w *MetricsWrapper) PredictionLatencyObserve(seconds float64) {
	w.m.PredictionLatency.Observe(seconds)
}

// training

func (w *MetricsWrapper) TrainingRunInc()     { w.m.TrainingRuns.Inc() }
func (w *MetricsWrapper) TrainingFailureInc() { w.m.TrainingFailures.Inc() }

func (w *MetricsWrapper) TrainingDurationObserve(seconds float64) {
	w.m.TrainingDuration.Observe(seconds)
}

func (w *MetricsWrapper) TrainingLossSet(loss float64) {
	w.m.TrainingLoss.Set(loss)
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}

type HistogramWrapper struct {
	h prometheus.Histogram
}

func (hw *HistogramWrapper) Observe(v float64) {
	hw.h.Observe(v)
}
