package ml

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"imlab/internal/storage"
	"imlab/internal/stream"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu          sync.Mutex
	runs        int
	failures    int
	durationSum float64
	loss        float64
}

func (m *MockMetrics) TrainingRunInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
}

func (m *MockMetrics) TrainingFailureInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) TrainingDurationObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durationSum += v
}

func (m *MockMetrics) TrainingLossSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loss = v
}

func (m *MockMetrics) counts() (runs, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs, m.failures
}

// clusters returns n instances per class around two well separated centres.
func clusters(n int, seed int64) Instances {
	rng := rand.New(rand.NewSource(seed))
	var out Instances
	for i := 0; i < n; i++ {
		out = append(out,
			storage.Instance{ID: "c" + string(rune('a'+i%26)), X: []float64{0.9 + rng.Float64()*0.1, 0.1 - rng.Float64()*0.1, 0.5}, Y: storage.TextLabel("cat")},
			storage.Instance{ID: "d" + string(rune('a'+i%26)), X: []float64{0.1 - rng.Float64()*0.1, 0.9 + rng.Float64()*0.1, 0.5}, Y: storage.TextLabel("dog")},
		)
	}
	return out
}

type failingSet struct{}

func (failingSet) Items(context.Context) ([]storage.Instance, error) {
	return nil, errors.New("store unavailable")
}

// gatedModel blocks in Train until release is closed.
type gatedModel struct {
	lifecycle
	name    string
	release chan struct{}
	err     error
}

func newGatedModel(name string) *gatedModel {
	return &gatedModel{lifecycle: newLifecycle(), name: name, release: make(chan struct{})}
}

func (g *gatedModel) Name() string     { return g.name }
func (g *gatedModel) Kind() string     { return "gated" }
func (g *gatedModel) Task() Task       { return Classification }
func (g *gatedModel) Labels() []string { return []string{"cat", "dog"} }

func (g *gatedModel) Train(ctx context.Context, _ TrainingSet) error {
	g.publish(TrainingStatus{Status: StatusTraining})
	select {
	case <-g.release:
	case <-ctx.Done():
		return g.fail(ctx.Err())
	}
	if g.err != nil {
		return g.fail(g.err)
	}
	g.publish(TrainingStatus{Status: StatusTrained, Loss: 0.1})
	return nil
}

func (g *gatedModel) Predict(context.Context, []float64) (Prediction, error) {
	return Prediction{Task: Classification, Label: "cat"}, nil
}

func (g *gatedModel) Snapshot() ([]byte, error) { return []byte(`{}`), nil }
func (g *gatedModel) Restore([]byte) error {
	g.publish(TrainingStatus{Status: StatusLoaded})
	return nil
}

// recordStatuses collects every status published by v.
func recordStatuses(v *stream.Value[TrainingStatus]) (get func() []Status, stop func()) {
	var mu sync.Mutex
	var seen []Status
	stop = v.Subscribe(func(ts TrainingStatus) {
		mu.Lock()
		seen = append(seen, ts.Status)
		mu.Unlock()
	})
	get = func() []Status {
		mu.Lock()
		defer mu.Unlock()
		return append([]Status(nil), seen...)
	}
	return get, stop
}
