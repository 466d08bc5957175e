package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

// KNNClassifier votes among the k stored instances closest in Euclidean
// distance. Training only memorises the set.
type KNNClassifier struct {
	lifecycle
	name string

	mu     sync.RWMutex
	k      int
	nextK  int
	x      [][]float64
	y      []int
	labels []string
}

func NewKNNClassifier(name string, k int) *KNNClassifier {
	if k <= 0 {
		k = 3
	}
	return &KNNClassifier{lifecycle: newLifecycle(), name: name, k: k, nextK: k}
}

func (m *KNNClassifier) Params() Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Params{K: m.nextK}
}

// SetParams changes the neighbour count used after the next training run.
func (m *KNNClassifier) SetParams(p Params) error {
	if p.K <= 0 {
		return invalidParams("k must be positive, got %d", p.K)
	}
	m.mu.Lock()
	m.nextK = p.K
	m.mu.Unlock()
	return nil
}

func (m *KNNClassifier) Name() string { return m.name }
func (m *KNNClassifier) Kind() string { return "knn" }
func (m *KNNClassifier) Task() Task   { return Classification }

func (m *KNNClassifier) Labels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.labels...)
}

func (m *KNNClassifier) Train(ctx context.Context, set TrainingSet) error {
	m.publish(TrainingStatus{Status: StatusTraining, Epochs: 1})

	items, err := set.Items(ctx)
	if err != nil {
		return m.fail(fmt.Errorf("load training set: %w", err))
	}
	x, y, labels, err := classData(items)
	if err != nil {
		return m.fail(err)
	}

	m.mu.Lock()
	m.x, m.y, m.labels = x, y, labels
	m.k = m.nextK
	k := m.k
	m.mu.Unlock()

	log.Info().Str("model", m.name).Int("samples", len(x)).Int("k", k).Msg("kNN index built")
	m.publish(TrainingStatus{Status: StatusTrained, Epoch: 1, Epochs: 1})
	return nil
}

func (m *KNNClassifier) Predict(ctx context.Context, x []float64) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.x) == 0 {
		return Prediction{}, ErrNotTrained
	}
	if len(x) != len(m.x[0]) {
		return Prediction{}, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), len(m.x[0]))
	}

	type neighbour struct {
		dist  float64
		class int
	}
	ns := make([]neighbour, len(m.x))
	for i, row := range m.x {
		ns[i] = neighbour{dist: floats.Distance(x, row, 2), class: m.y[i]}
	}
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].dist < ns[j].dist })

	k := min(m.k, len(ns))
	votes := make([]float64, len(m.labels))
	for _, n := range ns[:k] {
		votes[n.class]++
	}
	floats.Scale(1/float64(k), votes)

	pred := Prediction{Task: Classification, Confidences: make([]Confidence, len(m.labels))}
	for i, l := range m.labels {
		pred.Confidences[i] = Confidence{Label: l, Score: votes[i]}
	}
	// ties go to the nearest neighbour's class
	best := ns[0].class
	for i, v := range votes {
		if v > votes[best] {
			best = i
		}
	}
	pred.Label = m.labels[best]
	return pred, nil
}

type knnSnapshot struct {
	K      int         `json:"k"`
	Labels []string    `json:"labels"`
	X      [][]float64 `json:"x"`
	Y      []int       `json:"y"`
}

func (m *KNNClassifier) Snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.x) == 0 {
		return nil, ErrNotTrained
	}
	return json.Marshal(knnSnapshot{K: m.k, Labels: m.labels, X: m.x, Y: m.y})
}

func (m *KNNClassifier) Restore(data []byte) error {
	var snap knnSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode knn snapshot: %w", err)
	}
	if len(snap.X) == 0 || len(snap.X) != len(snap.Y) {
		return fmt.Errorf("malformed knn snapshot")
	}
	for _, c := range snap.Y {
		if c < 0 || c >= len(snap.Labels) {
			return fmt.Errorf("knn snapshot class %d out of range", c)
		}
	}

	m.mu.Lock()
	m.x, m.y, m.labels = snap.X, snap.Y, snap.Labels
	if snap.K > 0 {
		m.k, m.nextK = snap.K, snap.K
	}
	m.mu.Unlock()

	m.publish(TrainingStatus{Status: StatusLoaded})
	return nil
}
