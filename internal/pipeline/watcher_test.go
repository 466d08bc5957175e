package pipeline

import (
	"testing"

	"imlab/internal/ml"
	"imlab/internal/stream"

	"github.com/stretchr/testify/assert"
)

func TestWatcher_OptionsOnlyAfterTrained(t *testing.T) {
	model := newStubModel()
	explainer := &fakeExplainer{}
	options := stream.NewValue([]string{})

	w := NewWatcher(model, explainer, options)
	w.Start()
	defer w.Stop()

	model.Status().Set(ml.TrainingStatus{Status: ml.StatusTraining, Epoch: 1, Epochs: 2})
	assert.Empty(t, options.Get(), "options must not change while training")
	assert.Equal(t, 0, explainer.binds)

	model.Status().Set(ml.TrainingStatus{Status: ml.StatusTrained})
	assert.Equal(t, []string{"cat", "dog"}, options.Get())
	assert.Equal(t, model, explainer.model)
	assert.Equal(t, "input", explainer.layer)
}

func TestWatcher_IgnoresFailure(t *testing.T) {
	model := newStubModel()
	explainer := &fakeExplainer{}
	options := stream.NewValue([]string{"previous"})

	w := NewWatcher(model, explainer, options)
	w.Start()
	defer w.Stop()

	model.Status().Set(ml.TrainingStatus{Status: ml.StatusTraining})
	model.Status().Set(ml.TrainingStatus{Status: ml.StatusFailed, Error: "boom"})

	assert.Equal(t, []string{"previous"}, options.Get())
	assert.Equal(t, uint64(0), options.Version(), "options were never set after creation")
	assert.Nil(t, explainer.model)
}

func TestWatcher_Idempotent(t *testing.T) {
	model := newStubModel()
	explainer := &fakeExplainer{}
	options := stream.NewValue([]string{})

	w := NewWatcher(model, explainer, options)
	w.Start()
	defer w.Stop()

	model.Status().Set(ml.TrainingStatus{Status: ml.StatusTrained})
	first := options.Get()
	model.Status().Set(ml.TrainingStatus{Status: ml.StatusTrained})
	model.Status().Set(ml.TrainingStatus{Status: ml.StatusLoaded})

	assert.Equal(t, first, options.Get())
	assert.Equal(t, []string{"cat", "dog"}, options.Get())
	assert.Equal(t, model, explainer.model)
	assert.Equal(t, "input", explainer.layer)
	assert.Equal(t, 1, model.Status().Subscribers(), "no duplicate subscriptions")
}

func TestWatcher_StartOnReadyModel(t *testing.T) {
	model := newStubModel()
	model.Status().Set(ml.TrainingStatus{Status: ml.StatusLoaded})
	explainer := &fakeExplainer{}
	options := stream.NewValue([]string{})

	w := NewWatcher(model, explainer, options)
	w.Start()
	w.Start()
	defer w.Stop()

	assert.Equal(t, []string{"cat", "dog"}, options.Get())
	assert.Equal(t, 1, model.Status().Subscribers())
}

func TestWatcher_Stop(t *testing.T) {
	model := newStubModel()
	options := stream.NewValue([]string{})
	w := NewWatcher(model, &fakeExplainer{}, options)
	w.Start()
	w.Stop()

	model.Status().Set(ml.TrainingStatus{Status: ml.StatusTrained})
	assert.Empty(t, options.Get())
	assert.Equal(t, 0, model.Status().Subscribers())
}
