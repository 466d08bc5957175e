// Package ml provides the trainable models used by imlab.
// It includes the Model interface, an MLP and a k-nearest-neighbours
// classifier, a ridge regressor, the training orchestrator, checkpoint
// synchronisation with the store and a small HTTP prediction server.
//
// Every model publishes its lifecycle on a status stream so the pipeline can
// react to models becoming ready without polling.
package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imlab/internal/storage"
	"imlab/internal/stream"
)

// Task distinguishes classifiers from regressors.
type Task string

const (
	Classification Task = "classification"
	Regression     Task = "regression"
)

// Status is a model lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusTraining Status = "training"
	StatusTrained  Status = "trained"
	StatusFailed   Status = "failed"
	StatusLoaded   Status = "loaded"
)

// Ready reports whether a model in this state can predict and explain.
func (s Status) Ready() bool {
	return s == StatusTrained || s == StatusLoaded
}

var (
	ErrNotTrained         = errors.New("model is not trained")
	ErrEmptyTrainingSet   = errors.New("training set is empty")
	ErrDimensionMismatch  = errors.New("feature dimension mismatch")
	ErrTrainingInProgress = errors.New("training already in progress")
)

// TrainingStatus is one value of a model's status stream. Epoch fields are
// only meaningful while training.
type TrainingStatus struct {
	Status   Status    `json:"status"`
	Epoch    int       `json:"epoch,omitempty"`
	Epochs   int       `json:"epochs,omitempty"`
	Loss     float64   `json:"loss,omitempty"`
	Accuracy float64   `json:"accuracy,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Confidence is the score assigned to one class.
type Confidence struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Prediction is a classification (Label + Confidences) or a regression
// (Value) result.
type Prediction struct {
	Task        Task         `json:"task"`
	Label       string       `json:"label,omitempty"`
	Confidences []Confidence `json:"confidences,omitempty"`
	Value       float64      `json:"value,omitempty"`
}

// TrainingSet supplies training instances. *storage.Dataset satisfies it.
type TrainingSet interface {
	Items(ctx context.Context) ([]storage.Instance, error)
}

// Instances is an in-memory TrainingSet.
type Instances []storage.Instance

func (s Instances) Items(context.Context) ([]storage.Instance, error) {
	return s, nil
}

// Model is a trainable, predictable unit with an observable status.
type Model interface {
	Name() string
	Kind() string
	Task() Task

	// Train fits the model on set, publishing progress on Status. It
	// blocks until training ends and returns the failure, if any.
	Train(ctx context.Context, set TrainingSet) error
	Predict(ctx context.Context, x []float64) (Prediction, error)

	Status() *stream.Value[TrainingStatus]
	// Labels returns the ordered class labels, fixed after training.
	// Regressors return nil.
	Labels() []string

	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// Explainable models expose per-feature attributions for a class.
type Explainable interface {
	Model
	// Layers lists the layers attributions can be taken at, input first.
	Layers() []string
	// Attribution returns one non-negative weight per unit of layer for
	// the given class index.
	Attribution(layer string, x []float64, class int) ([]float64, error)
}

// lifecycle carries the status stream shared by every model.
type lifecycle struct {
	status *stream.Value[TrainingStatus]
}

func newLifecycle() lifecycle {
	return lifecycle{status: stream.NewValue(TrainingStatus{Status: StatusIdle, Time: time.Now()})}
}

func (l lifecycle) Status() *stream.Value[TrainingStatus] { return l.status }

func (l lifecycle) publish(ts TrainingStatus) {
	ts.Time = time.Now()
	l.status.Set(ts)
}

func (l lifecycle) fail(err error) error {
	l.publish(TrainingStatus{Status: StatusFailed, Error: err.Error()})
	return err
}

// classData converts instances into a feature matrix and class indices.
// Labels are ordered by first appearance.
func classData(items []storage.Instance) (x [][]float64, y []int, labels []string, err error) {
	if len(items) == 0 {
		return nil, nil, nil, ErrEmptyTrainingSet
	}
	dim := len(items[0].X)
	if dim == 0 {
		return nil, nil, nil, fmt.Errorf("instance %s has no features", items[0].ID)
	}
	index := make(map[string]int)
	for _, inst := range items {
		if len(inst.X) != dim {
			return nil, nil, nil, fmt.Errorf("instance %s: %w: got %d, want %d", inst.ID, ErrDimensionMismatch, len(inst.X), dim)
		}
		c := inst.Y.Class()
		i, ok := index[c]
		if !ok {
			i = len(labels)
			index[c] = i
			labels = append(labels, c)
		}
		x = append(x, inst.X)
		y = append(y, i)
	}
	return x, y, labels, nil
}

// targetData converts instances into a feature matrix and numeric targets.
func targetData(items []storage.Instance) (x [][]float64, y []float64, err error) {
	if len(items) == 0 {
		return nil, nil, ErrEmptyTrainingSet
	}
	dim := len(items[0].X)
	for _, inst := range items {
		if len(inst.X) != dim || dim == 0 {
			return nil, nil, fmt.Errorf("instance %s: %w", inst.ID, ErrDimensionMismatch)
		}
		v, ok := inst.Y.Target()
		if !ok {
			return nil, nil, fmt.Errorf("instance %s: label %q has no numeric target", inst.ID, inst.Y.Class())
		}
		x = append(x, inst.X)
		y = append(y, v)
	}
	return x, y, nil
}
