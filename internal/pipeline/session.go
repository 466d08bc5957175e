package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"imlab/internal/camera"
	"imlab/internal/cfg"
	"imlab/internal/explain"
	"imlab/internal/features"
	"imlab/internal/ml"
	"imlab/internal/storage"
	"imlab/internal/stream"

	"github.com/rs/zerolog/log"
)

// Metrics is everything a Session reports.
type Metrics interface {
	MetricsInterface
	ml.MetricsInterface
}

const (
	captureSubscriber  = "capture"
	selectorSubscriber = "selector"
)

// ErrSessionStopped is returned by Start once a session was stopped. Stop
// tears down the predictor and the trainer, so a new session is needed.
var ErrSessionStopped = errors.New("session stopped")

// Session wires one camera hub, one dataset and one model into the capture,
// training and inspection pipeline.
type Session struct {
	settings cfg.Settings
	hub      *camera.Hub

	dataset   *storage.Dataset
	model     ml.Model
	modelSync *ml.Sync
	trainer   *ml.Trainer
	history   *ml.History
	extractor features.Extractor
	explainer *explain.Engine

	capture   *CaptureGate
	selector  *Selector
	predictor *Predictor
	watcher   *Watcher

	pressed *stream.Value[bool]
	label   *stream.Value[storage.Label]
	options *stream.Value[[]string]

	selections chan []string

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	stopped bool
}

// NewSession builds every component from settings. Nothing runs until Start.
func NewSession(settings cfg.Settings, store *storage.Store, hub *camera.Hub, metrics Metrics) (*Session, error) {
	dataset, err := store.Dataset(settings.DatasetName)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	extractor, err := features.New(features.Config{
		Kind:    settings.Extractor.Kind,
		Grid:    settings.Extractor.Grid,
		Bins:    settings.Extractor.Bins,
		URL:     settings.Extractor.URL,
		Timeout: settings.Extractor.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create extractor: %w", err)
	}
	model, err := ml.New(settings.ModelName, ml.Spec{
		Kind:         settings.Model.Kind,
		HiddenLayers: settings.Model.HiddenLayers,
		Epochs:       settings.Model.Epochs,
		LearningRate: settings.Model.LearningRate,
		BatchSize:    settings.Model.BatchSize,
		K:            settings.Model.K,
		Lambda:       settings.Model.Lambda,
		Seed:         settings.Model.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}

	s := &Session{
		settings:   settings,
		hub:        hub,
		dataset:    dataset,
		model:      model,
		modelSync:  ml.NewSync(model, store),
		trainer:    ml.NewTrainer(metrics, ml.Binding{Model: model, Set: dataset}),
		history:    ml.NewHistory(model),
		extractor:  extractor,
		explainer:  explain.NewEngine(explain.DefaultHeatmapSize),
		pressed:    stream.NewValue(false),
		label:      stream.NewValue(storage.Label{Kind: storage.LabelKind(settings.LabelKind)}),
		options:    stream.NewValue([]string{}),
		selections: make(chan []string),
	}

	s.capture = NewCaptureGate(s.pressed, s.label, hub.Thumbnails(), extractor, dataset, metrics)
	s.selector = NewSelector(dataset, stream.NewThrottle(settings.ThrottleInterval), metrics)
	s.predictor = NewPredictor(model, extractor, s.explainer, metrics, PredictorConfig{DiscardStale: settings.DiscardStale})
	s.watcher = NewWatcher(model, s.explainer, s.options)
	return s, nil
}

// Start restores the latest model checkpoint and starts the pipeline. The
// pipeline stops when ctx is done or Stop is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("session already running")
	}
	if s.stopped {
		return ErrSessionStopped
	}

	// watchers first so a restored checkpoint reaches them
	s.watcher.Start()
	if _, err := s.modelSync.Load(); err != nil {
		log.Warn().Err(err).Str("model", s.model.Name()).Msg("Ignoring stored checkpoint")
	}
	s.modelSync.Start()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	captureFrames := s.hub.Subscribe(captureSubscriber, s.settings.FrameBuffer)
	liveFrames := s.hub.Subscribe(selectorSubscriber, s.settings.FrameBuffer)
	instances := s.selector.Run(ctx, s.selections, liveFrames)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.capture.Run(ctx, captureFrames)
	}()
	go func() {
		defer s.wg.Done()
		s.predictor.Run(ctx, instances)
	}()

	log.Info().
		Str("dataset", s.dataset.Name()).
		Str("model", s.model.Name()).
		Str("kind", s.model.Kind()).
		Str("extractor", s.extractor.Name()).
		Dur("throttle", s.settings.ThrottleInterval).
		Bool("discard_stale", s.settings.DiscardStale).
		Msg("Pipeline started")
	return nil
}

// Stop halts the pipeline, aborts training and waits for in-flight work.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	s.cancel()
	s.mu.Unlock()

	s.hub.Unsubscribe(captureSubscriber)
	s.hub.Unsubscribe(selectorSubscriber)
	s.wg.Wait()
	s.capture.Wait()
	s.predictor.Stop()
	s.trainer.Stop()
	s.modelSync.Stop()
	s.watcher.Stop()
	s.history.Close()
	log.Info().Msg("Pipeline stopped")
}

// Select forwards a dataset selection to the instance selector.
func (s *Session) Select(ctx context.Context, ids []string) error {
	select {
	case s.selections <- append([]string(nil), ids...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Train triggers a training run.
func (s *Session) Train(ctx context.Context) error {
	return s.trainer.Trigger(ctx)
}

// Params returns the model parameters the next training run uses.
func (s *Session) Params() (ml.Params, error) {
	return ml.ParamsOf(s.model)
}

// SetParams edits the model parameters. A run already in progress keeps its
// settings; the change applies from the next Train.
func (s *Session) SetParams(p ml.Params) error {
	if err := ml.Configure(s.model, p); err != nil {
		return err
	}
	log.Info().
		Str("model", s.model.Name()).
		Int("epochs", p.Epochs).
		Ints("hidden_layers", p.HiddenLayers).
		Float64("learning_rate", p.LearningRate).
		Int("k", p.K).
		Float64("lambda", p.Lambda).
		Bool("training", s.trainer.IsTraining()).
		Msg("Model parameters updated")
	return nil
}

// TrainingHistory returns the epoch curve of the latest training run.
func (s *Session) TrainingHistory() ml.TrainingHistory {
	return s.history.Snapshot()
}

// Predict extracts and predicts one frame synchronously without touching the
// instance under inspection.
func (s *Session) Predict(ctx context.Context, f *camera.Frame) (ml.Prediction, error) {
	x, err := s.extractor.Process(ctx, f)
	if err != nil {
		return ml.Prediction{}, fmt.Errorf("extract features: %w", err)
	}
	return s.model.Predict(ctx, x)
}

func (s *Session) Hub() *camera.Hub           { return s.hub }
func (s *Session) Dataset() *storage.Dataset  { return s.dataset }
func (s *Session) Model() ml.Model            { return s.model }
func (s *Session) Trainer() *ml.Trainer       { return s.trainer }
func (s *Session) Predictor() *Predictor      { return s.predictor }
func (s *Session) Explainer() *explain.Engine { return s.explainer }

// ModelVersion returns the checkpoint version last loaded or saved.
func (s *Session) ModelVersion() string { return s.modelSync.Version() }

// Pressed is the hold-to-record control.
func (s *Session) Pressed() *stream.Value[bool] { return s.pressed }

// Label is the label attached to captured instances.
func (s *Session) Label() *stream.Value[storage.Label] { return s.label }

// Options are the classes explanations can target.
func (s *Session) Options() *stream.Value[[]string] { return s.options }
