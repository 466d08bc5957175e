package ml

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the trainer
type MetricsInterface interface {
	TrainingRunInc()
	TrainingFailureInc()
	TrainingDurationObserve(float64)
	TrainingLossSet(float64)
}

// Binding pairs a model with the training set it learns from.
type Binding struct {
	Model Model
	Set   TrainingSet
}

// Trainer starts asynchronous training of its bindings on demand. Only one
// run is active at a time; further triggers are rejected until it ends.
type Trainer struct {
	bindings []Binding
	metrics  MetricsInterface

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	training bool
	wg       sync.WaitGroup
}

func NewTrainer(metrics MetricsInterface, bindings ...Binding) *Trainer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Trainer{bindings: bindings, metrics: metrics, ctx: ctx, cancel: cancel}
}

// Bindings returns the model/training-set pairs this trainer drives.
func (t *Trainer) Bindings() []Binding {
	return append([]Binding(nil), t.bindings...)
}

// IsTraining reports whether a run is in progress.
func (t *Trainer) IsTraining() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.training
}

// Trigger starts training every binding and returns immediately. It returns
// ErrTrainingInProgress while a previous run is still active. Training is not
// bound to ctx; use Stop to abort.
func (t *Trainer) Trigger(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.training {
		t.mu.Unlock()
		return ErrTrainingInProgress
	}
	t.training = true
	t.wg.Add(1)
	t.mu.Unlock()

	go t.run()
	return nil
}

func (t *Trainer) run() {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		t.training = false
		t.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for _, b := range t.bindings {
		wg.Add(1)
		go func(b Binding) {
			defer wg.Done()
			t.train(b)
		}(b)
	}
	wg.Wait()
}

func (t *Trainer) train(b Binding) {
	start := time.Now()
	t.metrics.TrainingRunInc()
	log.Info().Str("model", b.Model.Name()).Str("kind", b.Model.Kind()).Msg("Training started")

	err := b.Model.Train(t.ctx, b.Set)
	elapsed := time.Since(start)
	t.metrics.TrainingDurationObserve(elapsed.Seconds())

	if err != nil {
		t.metrics.TrainingFailureInc()
		log.Error().Err(err).Str("model", b.Model.Name()).Dur("elapsed", elapsed).Msg("Training failed")
		return
	}

	st := b.Model.Status().Get()
	t.metrics.TrainingLossSet(st.Loss)
	log.Info().
		Str("model", b.Model.Name()).
		Dur("elapsed", elapsed).
		Float64("loss", st.Loss).
		Int("labels", len(b.Model.Labels())).
		Msg("Training finished")
}

// Wait blocks until the current run, if any, has finished.
func (t *Trainer) Wait() {
	t.wg.Wait()
}

// Stop cancels any run in progress and waits for it. Later triggers fail.
func (t *Trainer) Stop() {
	t.cancel()
	t.wg.Wait()
}
