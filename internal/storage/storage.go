// Package storage provides persistent data storage for imlab.
// It uses BoltDB as the underlying storage engine to store named training sets
// (datasets of labelled instances) and versioned model checkpoints.
//
// The package provides thread-safe operations; every mutation runs inside a
// single bbolt write transaction.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	datasetsBucket = "datasets" // parent bucket, one nested bucket per dataset
	modelsBucket   = "models"   // parent bucket, one nested bucket per model name
	itemsBucket    = "items"    // dataset child: seq -> instance json
	indexBucket    = "index"    // dataset child: id -> seq

	// DBFile is the database file name inside the data directory.
	DBFile = "imlab-data.db"
)

// ErrNotFound is returned when an instance, dataset or model does not exist.
var ErrNotFound = errors.New("not found")

// Store provides persistent storage using BoltDB.
type Store struct {
	db        *bbolt.DB
	cacheSize int

	mu       sync.Mutex
	datasets map[string]*Dataset
}

// Option configures a Store.
type Option func(*Store)

// WithCacheSize sets the per-dataset lookup cache size (0 disables caching).
func WithCacheSize(n int) Option {
	return func(s *Store) { s.cacheSize = n }
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates the top-level buckets.
func New(dataPath string, opts ...Option) (*Store, error) {
	dbPath := filepath.Join(dataPath, DBFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(datasetsBucket)); err != nil {
			return fmt.Errorf("create datasets bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(modelsBucket)); err != nil {
			return fmt.Errorf("create models bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, cacheSize: 256, datasets: make(map[string]*Dataset)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	if s.db == nil {
		return ""
	}
	return s.db.Path()
}

// Dataset opens (creating if needed) the named dataset. Repeated calls return
// the same handle so change subscribers see every write.
func (s *Store) Dataset(name string) (*Dataset, error) {
	if name == "" {
		return nil, fmt.Errorf("dataset name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.datasets[name]; ok {
		return d, nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket([]byte(datasetsBucket))
		b, err := parent.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return fmt.Errorf("create dataset bucket %s: %w", name, err)
		}
		if _, err := b.CreateBucketIfNotExists([]byte(itemsBucket)); err != nil {
			return fmt.Errorf("create items bucket: %w", err)
		}
		if _, err := b.CreateBucketIfNotExists([]byte(indexBucket)); err != nil {
			return fmt.Errorf("create index bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d, err := newDataset(s.db, name, s.cacheSize)
	if err != nil {
		return nil, err
	}
	s.datasets[name] = d
	return d, nil
}

// Datasets lists the names of every stored dataset.
func (s *Store) Datasets() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(datasetsBucket)).ForEach(func(k, v []byte) error {
			if v == nil { // nested bucket
				names = append(names, string(k))
			}
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
