package ml

import (
	"errors"
	"fmt"
	"sync"

	"imlab/internal/storage"

	"github.com/rs/zerolog/log"
)

// Checkpointer persists model versions. *storage.Store satisfies it.
type Checkpointer interface {
	SaveModel(cp storage.Checkpoint) (storage.Checkpoint, error)
	LoadModel(name string) (storage.Checkpoint, error)
}

// Sync keeps a model and its stored checkpoints in step: Load restores the
// latest version and, once started, every successful training run is saved
// as a new version.
type Sync struct {
	model Model
	store Checkpointer

	mu          sync.Mutex
	unsubscribe func()
	current     string
}

func NewSync(model Model, store Checkpointer) *Sync {
	return &Sync{model: model, store: store}
}

// Load restores the latest checkpoint. A model with no checkpoint is left
// idle and Load reports false.
func (s *Sync) Load() (bool, error) {
	cp, err := s.store.LoadModel(s.model.Name())
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load checkpoint %s: %w", s.model.Name(), err)
	}
	if cp.Kind != s.model.Kind() {
		return false, fmt.Errorf("checkpoint %s is a %s model, not %s", cp.Version, cp.Kind, s.model.Kind())
	}
	if err := s.model.Restore(cp.Data); err != nil {
		return false, fmt.Errorf("restore %s: %w", cp.Version, err)
	}

	s.mu.Lock()
	s.current = cp.Version
	s.mu.Unlock()

	log.Info().Str("model", s.model.Name()).Str("version", cp.Version).Strs("labels", cp.Labels).Msg("Model checkpoint loaded")
	return true, nil
}

// Start saves a checkpoint every time the model reaches the trained state.
func (s *Sync) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return
	}
	s.unsubscribe = s.model.Status().Subscribe(func(ts TrainingStatus) {
		if ts.Status != StatusTrained {
			return
		}
		if _, err := s.Save(); err != nil {
			log.Error().Err(err).Str("model", s.model.Name()).Msg("Failed to save model checkpoint")
		}
	})
}

// Stop detaches from the model's status stream.
func (s *Sync) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Save stores the model's current parameters as a new version.
func (s *Sync) Save() (storage.Checkpoint, error) {
	data, err := s.model.Snapshot()
	if err != nil {
		return storage.Checkpoint{}, fmt.Errorf("snapshot %s: %w", s.model.Name(), err)
	}
	cp, err := s.store.SaveModel(storage.Checkpoint{
		Name:   s.model.Name(),
		Kind:   s.model.Kind(),
		Labels: s.model.Labels(),
		Data:   data,
	})
	if err != nil {
		return storage.Checkpoint{}, fmt.Errorf("save checkpoint %s: %w", s.model.Name(), err)
	}

	s.mu.Lock()
	s.current = cp.Version
	s.mu.Unlock()

	log.Info().Str("model", s.model.Name()).Str("version", cp.Version).Msg("Model checkpoint saved")
	return cp, nil
}

// Version returns the version last loaded or saved.
func (s *Sync) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
