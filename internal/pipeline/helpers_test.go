package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"imlab/internal/camera"
	"imlab/internal/explain"
	"imlab/internal/features"
	"imlab/internal/ml"
	"imlab/internal/storage"
	"imlab/internal/stream"
)

type mockMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{counts: make(map[string]int)}
}

func (m *mockMetrics) inc(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
}

func (m *mockMetrics) get(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *mockMetrics) CaptureInc()                      { m.inc("capture") }
func (m *mockMetrics) CaptureSkippedInc()               { m.inc("capture_skipped") }
func (m *mockMetrics) ExtractionFailureInc()            { m.inc("extraction_failure") }
func (m *mockMetrics) InstanceCreatedInc()              { m.inc("instance_created") }
func (m *mockMetrics) InstanceFailureInc()              { m.inc("instance_failure") }
func (m *mockMetrics) SelectionSuppressedInc()          { m.inc("selection_suppressed") }
func (m *mockMetrics) PredictionInc()                   { m.inc("prediction") }
func (m *mockMetrics) PredictionFailureInc()            { m.inc("prediction_failure") }
func (m *mockMetrics) PredictionLatencyObserve(float64) { m.inc("prediction_latency") }
func (m *mockMetrics) ExplanationInc()                  { m.inc("explanation") }
func (m *mockMetrics) ExplanationFailureInc()           { m.inc("explanation_failure") }
func (m *mockMetrics) StaleResultInc()                  { m.inc("stale") }
func (m *mockMetrics) TrainingRunInc()                  { m.inc("training_run") }
func (m *mockMetrics) TrainingFailureInc()              { m.inc("training_failure") }
func (m *mockMetrics) TrainingDurationObserve(float64)  { m.inc("training_duration") }
func (m *mockMetrics) TrainingLossSet(float64)          { m.inc("training_loss") }

func solidFrame(seq uint64, c color.Color) *camera.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	return &camera.Frame{Seq: seq, Timestamp: time.Now(), Image: img, Thumbnail: "thumb"}
}

// fakeSink records committed instances.
type fakeSink struct {
	mu    sync.Mutex
	items []storage.Instance
	err   error
}

func (s *fakeSink) Create(_ context.Context, inst storage.Instance) (storage.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return storage.Instance{}, s.err
	}
	inst.ID = "inst-" + string(rune('a'+len(s.items)))
	s.items = append(s.items, inst)
	return inst, nil
}

func (s *fakeSink) all() []storage.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Instance(nil), s.items...)
}

// funcExtractor adapts a function to features.Extractor.
type funcExtractor func(ctx context.Context, f *camera.Frame) (features.Vector, error)

func (funcExtractor) Name() string { return "func" }
func (funcExtractor) Dim() int     { return 0 }
func (fn funcExtractor) Process(ctx context.Context, f *camera.Frame) (features.Vector, error) {
	return fn(ctx, f)
}

// seqExtractor encodes the frame sequence number as the only feature.
var seqExtractor = funcExtractor(func(_ context.Context, f *camera.Frame) (features.Vector, error) {
	if f == nil {
		return nil, features.ErrEmptyFrame
	}
	return features.Vector{float64(f.Seq)}, nil
})

// fakeLookup serves instances from a map.
type fakeLookup map[string]storage.Instance

func (l fakeLookup) Get(_ context.Context, id string) (storage.Instance, error) {
	inst, ok := l[id]
	if !ok {
		return storage.Instance{}, storage.ErrNotFound
	}
	return inst, nil
}

// stubModel predicts "cat" for x[0] < 10 and "dog" otherwise. Predictions
// for values listed in gates block until the gate is closed.
type stubModel struct {
	status *stream.Value[ml.TrainingStatus]
	labels []string

	mu    sync.Mutex
	gates map[float64]chan struct{}
}

func newStubModel() *stubModel {
	return &stubModel{
		status: stream.NewValue(ml.TrainingStatus{Status: ml.StatusIdle}),
		labels: []string{"cat", "dog"},
		gates:  make(map[float64]chan struct{}),
	}
}

func (m *stubModel) gate(x float64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.gates[x] = ch
	return ch
}

func (m *stubModel) Name() string     { return "stub" }
func (m *stubModel) Kind() string     { return "stub" }
func (m *stubModel) Task() ml.Task    { return ml.Classification }
func (m *stubModel) Labels() []string { return append([]string(nil), m.labels...) }
func (m *stubModel) Status() *stream.Value[ml.TrainingStatus] {
	return m.status
}

func (m *stubModel) Train(context.Context, ml.TrainingSet) error {
	m.status.Set(ml.TrainingStatus{Status: ml.StatusTraining})
	m.status.Set(ml.TrainingStatus{Status: ml.StatusTrained})
	return nil
}

func (m *stubModel) Predict(ctx context.Context, x []float64) (ml.Prediction, error) {
	if !m.status.Get().Status.Ready() {
		return ml.Prediction{}, ml.ErrNotTrained
	}
	m.mu.Lock()
	gate := m.gates[x[0]]
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ml.Prediction{}, ctx.Err()
		}
	}
	label := "cat"
	if x[0] >= 10 {
		label = "dog"
	}
	return ml.Prediction{Task: ml.Classification, Label: label}, nil
}

func (m *stubModel) Snapshot() ([]byte, error) { return nil, errors.New("not supported") }
func (m *stubModel) Restore([]byte) error      { return errors.New("not supported") }

// fakeExplainer records calls and returns an explanation echoing its inputs.
type fakeExplainer struct {
	mu       sync.Mutex
	model    ml.Model
	layer    string
	binds    int
	selects  int
	requests [][2]float64
}

func (e *fakeExplainer) SetModel(m ml.Model) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = m
	e.binds++
}

func (e *fakeExplainer) SelectLayer(names ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.layer = "input"
	e.selects++
	return nil
}

func (e *fakeExplainer) Explain(_ context.Context, x []float64, class int) (explain.Explanation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil || e.layer == "" {
		return explain.Explanation{}, explain.ErrNotReady
	}
	e.requests = append(e.requests, [2]float64{x[0], float64(class)})
	return explain.Explanation{Layer: e.layer, ClassIndex: class, Weights: []float64{x[0]}}, nil
}

func (e *fakeExplainer) calls() [][2]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][2]float64(nil), e.requests...)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}
