package ml

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParams = errors.New("invalid model parameters")
	ErrNotTunable    = errors.New("model parameters are not editable")
)

// Params are the hyperparameters an operator can edit between training runs.
// Each model reads only its own fields and applies them when it is next
// trained; the model currently serving predictions is unaffected.
type Params struct {
	Epochs       int     `json:"epochs,omitempty"`
	HiddenLayers []int   `json:"hidden_layers,omitempty"`
	LearningRate float64 `json:"learning_rate,omitempty"`
	BatchSize    int     `json:"batch_size,omitempty"`
	K            int     `json:"k,omitempty"`
	Lambda       float64 `json:"lambda,omitempty"`
}

// Tunable is implemented by models whose Params can be edited.
type Tunable interface {
	Params() Params
	SetParams(p Params) error
}

// ParamsOf returns the parameters model will use for its next run.
func ParamsOf(model Model) (Params, error) {
	t, ok := model.(Tunable)
	if !ok {
		return Params{}, fmt.Errorf("%s: %w", model.Name(), ErrNotTunable)
	}
	return t.Params(), nil
}

// Configure sets the parameters model uses for its next run.
func Configure(model Model, p Params) error {
	t, ok := model.(Tunable)
	if !ok {
		return fmt.Errorf("%s: %w", model.Name(), ErrNotTunable)
	}
	return t.SetParams(p)
}

func invalidParams(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}
