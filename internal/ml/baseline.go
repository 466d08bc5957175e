package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Baseline ignores its input: classifiers answer with the training class
// frequencies and regressors with the training mean. The evaluate tool
// reports it next to the real model.
type Baseline struct {
	lifecycle
	name string
	task Task

	mu     sync.RWMutex
	labels []string
	freqs  []float64
	mean   float64
	fitted bool
}

func NewBaseline(name string, task Task) *Baseline {
	return &Baseline{lifecycle: newLifecycle(), name: name, task: task}
}

func (b *Baseline) Name() string { return b.name }
func (b *Baseline) Kind() string { return "baseline" }
func (b *Baseline) Task() Task   { return b.task }

func (b *Baseline) Labels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.labels...)
}

func (b *Baseline) Train(ctx context.Context, set TrainingSet) error {
	b.publish(TrainingStatus{Status: StatusTraining, Epochs: 1})
	items, err := set.Items(ctx)
	if err != nil {
		return b.fail(fmt.Errorf("load training set: %w", err))
	}

	if b.task == Regression {
		_, y, err := targetData(items)
		if err != nil {
			return b.fail(err)
		}
		b.mu.Lock()
		b.mean, b.fitted = stat.Mean(y, nil), true
		b.mu.Unlock()
	} else {
		_, y, labels, err := classData(items)
		if err != nil {
			return b.fail(err)
		}
		freqs := make([]float64, len(labels))
		for _, c := range y {
			freqs[c]++
		}
		floats.Scale(1/float64(len(y)), freqs)
		b.mu.Lock()
		b.labels, b.freqs, b.fitted = labels, freqs, true
		b.mu.Unlock()
	}

	b.publish(TrainingStatus{Status: StatusTrained, Epoch: 1, Epochs: 1})
	return nil
}

func (b *Baseline) Predict(ctx context.Context, _ []float64) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.fitted {
		return Prediction{}, ErrNotTrained
	}
	if b.task == Regression {
		return Prediction{Task: Regression, Value: b.mean}, nil
	}
	pred := Prediction{Task: Classification, Label: b.labels[floats.MaxIdx(b.freqs)]}
	for i, l := range b.labels {
		pred.Confidences = append(pred.Confidences, Confidence{Label: l, Score: b.freqs[i]})
	}
	return pred, nil
}

type baselineSnapshot struct {
	Task   Task      `json:"task"`
	Labels []string  `json:"labels,omitempty"`
	Freqs  []float64 `json:"freqs,omitempty"`
	Mean   float64   `json:"mean"`
}

func (b *Baseline) Snapshot() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.fitted {
		return nil, ErrNotTrained
	}
	return json.Marshal(baselineSnapshot{Task: b.task, Labels: b.labels, Freqs: b.freqs, Mean: b.mean})
}

func (b *Baseline) Restore(data []byte) error {
	var snap baselineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode baseline snapshot: %w", err)
	}
	if snap.Task == Classification && (len(snap.Labels) == 0 || len(snap.Labels) != len(snap.Freqs)) {
		return fmt.Errorf("malformed baseline snapshot")
	}
	b.mu.Lock()
	b.task, b.labels, b.freqs, b.mean, b.fitted = snap.Task, snap.Labels, snap.Freqs, snap.Mean, true
	b.mu.Unlock()
	b.publish(TrainingStatus{Status: StatusLoaded})
	return nil
}
