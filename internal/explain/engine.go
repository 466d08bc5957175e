// Package explain turns model attributions into heatmaps.
//
// An Engine is bound to one model at a time. The model must be explainable,
// ready (trained or loaded) and have a layer selected before Explain succeeds.
package explain

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"imlab/internal/ml"

	"github.com/rs/zerolog/log"
)

var (
	ErrNotReady        = errors.New("explainer is not ready")
	ErrNotExplainable  = errors.New("model does not support explanations")
	ErrClassOutOfRange = errors.New("class index out of range")
	ErrUnknownLayer    = errors.New("unknown layer")
)

// DefaultHeatmapSize is the side of the rendered heatmap in pixels.
const DefaultHeatmapSize = 128

// Explanation is the attribution of one instance towards one class.
type Explanation struct {
	Model      string    `json:"model"`
	Layer      string    `json:"layer"`
	ClassIndex int       `json:"class_index"`
	Class      string    `json:"class,omitempty"`
	Weights    []float64 `json:"weights"`
	Rows       int       `json:"rows"`
	Cols       int       `json:"cols"`
	Heatmap    string    `json:"heatmap"` // data URL (image/png)
	Time       time.Time `json:"time"`
}

type Engine struct {
	size int

	mu    sync.RWMutex
	model ml.Model
	layer string
}

// NewEngine creates an unbound engine rendering heatmaps of size pixels.
func NewEngine(size int) *Engine {
	if size <= 0 {
		size = DefaultHeatmapSize
	}
	return &Engine{size: size}
}

// SetModel binds the engine to model and clears the selected layer. Binding
// the model that is already bound keeps the layer.
func (e *Engine) SetModel(model ml.Model) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == model {
		return
	}
	e.model = model
	e.layer = ""
}

// Model returns the bound model, or nil.
func (e *Engine) Model() ml.Model {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}

// Layer returns the selected layer, empty until SelectLayer succeeds.
func (e *Engine) Layer() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.layer
}

// SelectLayer picks the first of names the model exposes. With no names the
// model's first layer (its input) is used, so heatmaps line up with the
// feature grid.
func (e *Engine) SelectLayer(names ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return ErrNotReady
	}
	xm, ok := e.model.(ml.Explainable)
	if !ok {
		return fmt.Errorf("%s: %w", e.model.Name(), ErrNotExplainable)
	}
	layers := xm.Layers()
	if len(layers) == 0 {
		return fmt.Errorf("%s exposes no layers: %w", e.model.Name(), ErrNotReady)
	}
	if len(names) == 0 {
		e.layer = layers[0]
		return nil
	}
	for _, name := range names {
		if slices.Contains(layers, name) {
			e.layer = name
			log.Debug().Str("model", e.model.Name()).Str("layer", name).Msg("Explanation layer selected")
			return nil
		}
	}
	return fmt.Errorf("%w: %v not in %v", ErrUnknownLayer, names, layers)
}

// Explain computes the attribution of x towards the class at classIndex and
// renders it. Regressors accept class index 0 only.
func (e *Engine) Explain(ctx context.Context, x []float64, classIndex int) (Explanation, error) {
	if err := ctx.Err(); err != nil {
		return Explanation{}, err
	}
	e.mu.RLock()
	model, layer := e.model, e.layer
	e.mu.RUnlock()

	if model == nil || layer == "" {
		return Explanation{}, ErrNotReady
	}
	xm, ok := model.(ml.Explainable)
	if !ok {
		return Explanation{}, ErrNotExplainable
	}
	if st := model.Status().Get().Status; !st.Ready() {
		return Explanation{}, fmt.Errorf("model %s is %s: %w", model.Name(), st, ErrNotReady)
	}

	labels := model.Labels()
	classes := len(labels)
	if model.Task() == ml.Regression {
		classes = 1
	}
	if classIndex < 0 || classIndex >= classes {
		return Explanation{}, fmt.Errorf("%w: %d not in [0,%d)", ErrClassOutOfRange, classIndex, classes)
	}

	weights, err := xm.Attribution(layer, x, classIndex)
	if err != nil {
		return Explanation{}, fmt.Errorf("attribution at %s: %w", layer, err)
	}

	rows, cols := Grid(len(weights))
	heatmap, err := Render(weights, rows, cols, e.size)
	if err != nil {
		return Explanation{}, err
	}

	out := Explanation{
		Model:      model.Name(),
		Layer:      layer,
		ClassIndex: classIndex,
		Weights:    weights,
		Rows:       rows,
		Cols:       cols,
		Heatmap:    heatmap,
		Time:       time.Now(),
	}
	if classIndex < len(labels) {
		out.Class = labels[classIndex]
	}
	return out, nil
}
