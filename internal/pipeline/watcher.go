package pipeline

import (
	"errors"
	"sync"

	"imlab/internal/explain"
	"imlab/internal/ml"
	"imlab/internal/stream"

	"github.com/rs/zerolog/log"
)

// Watcher reacts to a model becoming ready (trained or loaded): it publishes
// the model's labels as the class-of-interest options and binds the explainer
// to the model. Repeated ready statuses overwrite the same state. Any other
// status, failures included, leaves everything as it was.
type Watcher struct {
	model     ml.Model
	explainer Explainer
	options   *stream.Value[[]string]
	layers    []string

	mu          sync.Mutex
	unsubscribe func()
}

// NewWatcher creates a watcher. layers are the preferred explanation layers,
// empty for the model's default.
func NewWatcher(model ml.Model, explainer Explainer, options *stream.Value[[]string], layers ...string) *Watcher {
	return &Watcher{model: model, explainer: explainer, options: options, layers: layers}
}

// Start subscribes to the model's status. A model that is already ready is
// handled immediately.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.unsubscribe != nil {
		w.mu.Unlock()
		return
	}
	w.unsubscribe = w.model.Status().Subscribe(w.Handle)
	w.mu.Unlock()

	if st := w.model.Status().Get(); st.Status.Ready() {
		w.Handle(st)
	}
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
}

// Handle applies one status.
func (w *Watcher) Handle(ts ml.TrainingStatus) {
	if !ts.Status.Ready() {
		return
	}

	labels := w.model.Labels()
	w.options.Set(labels)

	w.explainer.SetModel(w.model)
	if err := w.explainer.SelectLayer(w.layers...); err != nil {
		evt := log.Warn()
		if errors.Is(err, explain.ErrNotExplainable) {
			evt = log.Debug()
		}
		evt.Err(err).Str("model", w.model.Name()).Msg("No explanation layer selected")
	}

	log.Info().Str("model", w.model.Name()).Str("status", string(ts.Status)).Strs("labels", labels).Msg("Model ready")
}
