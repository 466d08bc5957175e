package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

// Checkpoint is one saved version of a model.
type Checkpoint struct {
	Name            string          `json:"name"`
	Kind            string          `json:"kind"`
	Version         string          `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	TrainingSamples int             `json:"training_samples"`
	Labels          []string        `json:"labels,omitempty"`
	Data            json.RawMessage `json:"data"`
}

// SaveModel appends a new checkpoint version for cp.Name. Version and
// CreatedAt are filled in when empty.
func (s *Store) SaveModel(cp Checkpoint) (Checkpoint, error) {
	if cp.Name == "" {
		return Checkpoint{}, fmt.Errorf("model name cannot be empty")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket([]byte(modelsBucket)).CreateBucketIfNotExists([]byte(cp.Name))
		if err != nil {
			return fmt.Errorf("create model bucket: %w", err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if cp.Version == "" {
			cp.Version = fmt.Sprintf("%s-%d", cp.CreatedAt.Format("20060102-150405"), seq)
		}
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		return b.Put(itob(seq), data)
	})
	if err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// LoadModel returns the latest checkpoint of the named model.
func (s *Store) LoadModel(name string) (Checkpoint, error) {
	var cp Checkpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(modelsBucket)).Bucket([]byte(name))
		if b == nil {
			return fmt.Errorf("model %s: %w", name, ErrNotFound)
		}
		_, v := b.Cursor().Last()
		if v == nil {
			return fmt.Errorf("model %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(v, &cp)
	})
	return cp, err
}

// ListVersions returns every checkpoint of the named model, newest first.
func (s *Store) ListVersions(name string) ([]Checkpoint, error) {
	var out []Checkpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(modelsBucket)).Bucket([]byte(name))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var cp Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				continue
			}
			out = append(out, cp)
		}
		return nil
	})
	return out, err
}

// Rollback drops the latest checkpoint so the previous one becomes current.
func (s *Store) Rollback(name string) (Checkpoint, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(modelsBucket)).Bucket([]byte(name))
		if b == nil {
			return fmt.Errorf("model %s: %w", name, ErrNotFound)
		}
		c := b.Cursor()
		k, _ := c.Last()
		if k == nil {
			return fmt.Errorf("model %s: %w", name, ErrNotFound)
		}
		if prev, _ := c.Prev(); prev == nil {
			return fmt.Errorf("no previous version available for rollback")
		}
		return b.Delete(k)
	})
	if err != nil {
		return Checkpoint{}, err
	}
	return s.LoadModel(name)
}

// Models lists the names of every model with at least one checkpoint.
func (s *Store) Models() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(modelsBucket)).ForEach(func(k, v []byte) error {
			if v == nil {
				names = append(names, string(k))
			}
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}
