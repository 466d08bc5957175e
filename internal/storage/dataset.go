package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"imlab/internal/stream"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"go.etcd.io/bbolt"
)

// ChangeKind describes a dataset mutation.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeDeleted ChangeKind = "deleted"
	ChangeCleared ChangeKind = "cleared"
)

// Change is published after every successful mutation.
type Change struct {
	Dataset string     `json:"dataset"`
	Kind    ChangeKind `json:"kind"`
	ID      string     `json:"id,omitempty"`
	Count   int        `json:"count"`
}

// Dataset is a named, ordered collection of instances. Instances are ordered
// by commit, not by capture time.
type Dataset struct {
	db      *bbolt.DB
	name    string
	cache   *lru.Cache
	changes *stream.Value[Change]
}

func newDataset(db *bbolt.DB, name string, cacheSize int) (*Dataset, error) {
	d := &Dataset{db: db, name: name, changes: stream.NewEmpty[Change]()}
	if cacheSize > 0 {
		c, err := lru.New(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create lookup cache: %w", err)
		}
		d.cache = c
	}
	return d, nil
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// Changes publishes a Change after every Create, Delete and Clear.
func (d *Dataset) Changes() *stream.Value[Change] { return d.changes }

func (d *Dataset) bucket(tx *bbolt.Tx) (items, index *bbolt.Bucket, err error) {
	b := tx.Bucket([]byte(datasetsBucket)).Bucket([]byte(d.name))
	if b == nil {
		return nil, nil, fmt.Errorf("dataset %s: %w", d.name, ErrNotFound)
	}
	return b.Bucket([]byte(itemsBucket)), b.Bucket([]byte(indexBucket)), nil
}

// Create commits a new instance. An empty ID is replaced by a fresh uuid and
// a zero CreatedAt by the current time. Returns the stored instance.
func (d *Dataset) Create(ctx context.Context, inst Instance) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now()
	}

	err := d.db.Update(func(tx *bbolt.Tx) error {
		items, index, err := d.bucket(tx)
		if err != nil {
			return err
		}
		if index.Get([]byte(inst.ID)) != nil {
			return fmt.Errorf("instance %s already exists", inst.ID)
		}

		data, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("marshal instance: %w", err)
		}

		seq, err := items.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		key := itob(seq)
		if err := items.Put(key, data); err != nil {
			return err
		}
		return index.Put([]byte(inst.ID), key)
	})
	if err != nil {
		return Instance{}, err
	}

	if d.cache != nil {
		d.cache.Add(inst.ID, inst)
	}
	d.changes.Set(Change{Dataset: d.name, Kind: ChangeCreated, ID: inst.ID, Count: d.committedCount()})
	return inst, nil
}

// Get looks an instance up by id.
func (d *Dataset) Get(ctx context.Context, id string) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}
	if d.cache != nil {
		if v, ok := d.cache.Get(id); ok {
			return v.(Instance), nil
		}
	}

	var inst Instance
	err := d.db.View(func(tx *bbolt.Tx) error {
		items, index, err := d.bucket(tx)
		if err != nil {
			return err
		}
		key := index.Get([]byte(id))
		if key == nil {
			return fmt.Errorf("instance %s: %w", id, ErrNotFound)
		}
		data := items.Get(key)
		if data == nil {
			return fmt.Errorf("instance %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &inst)
	})
	if err != nil {
		return Instance{}, err
	}

	if d.cache != nil {
		d.cache.Add(id, inst)
	}
	return inst, nil
}

// Items returns every instance in commit order. Malformed records are skipped.
func (d *Dataset) Items(ctx context.Context) ([]Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Instance
	err := d.db.View(func(tx *bbolt.Tx) error {
		items, _, err := d.bucket(tx)
		if err != nil {
			return err
		}
		return items.ForEach(func(_, v []byte) error {
			var inst Instance
			if err := json.Unmarshal(v, &inst); err != nil {
				return nil
			}
			out = append(out, inst)
			return nil
		})
	})
	return out, err
}

// Count returns the number of stored instances.
func (d *Dataset) Count() (int, error) {
	var n int
	err := d.db.View(func(tx *bbolt.Tx) error {
		items, _, err := d.bucket(tx)
		if err != nil {
			return err
		}
		n = items.Stats().KeyN
		return nil
	})
	return n, err
}

// committedCount is Count for change events. Bucket stats only cover
// committed pages, so it must run after the write transaction.
func (d *Dataset) committedCount() int {
	n, err := d.Count()
	if err != nil {
		return -1
	}
	return n
}

// Labels returns the distinct class names in first-seen order.
func (d *Dataset) Labels(ctx context.Context) ([]string, error) {
	items, err := d.Items(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var labels []string
	for _, inst := range items {
		c := inst.Y.Class()
		if !seen[c] {
			seen[c] = true
			labels = append(labels, c)
		}
	}
	return labels, nil
}

// Delete removes one instance.
func (d *Dataset) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.db.Update(func(tx *bbolt.Tx) error {
		items, index, err := d.bucket(tx)
		if err != nil {
			return err
		}
		key := index.Get([]byte(id))
		if key == nil {
			return fmt.Errorf("instance %s: %w", id, ErrNotFound)
		}
		if err := items.Delete(key); err != nil {
			return err
		}
		return index.Delete([]byte(id))
	})
	if err != nil {
		return err
	}
	if d.cache != nil {
		d.cache.Remove(id)
	}
	d.changes.Set(Change{Dataset: d.name, Kind: ChangeDeleted, ID: id, Count: d.committedCount()})
	return nil
}

// Clear removes every instance.
func (d *Dataset) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(datasetsBucket)).Bucket([]byte(d.name))
		if b == nil {
			return fmt.Errorf("dataset %s: %w", d.name, ErrNotFound)
		}
		for _, name := range []string{itemsBucket, indexBucket} {
			if err := b.DeleteBucket([]byte(name)); err != nil {
				return fmt.Errorf("clear %s: %w", name, err)
			}
			if _, err := b.CreateBucket([]byte(name)); err != nil {
				return fmt.Errorf("recreate %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if d.cache != nil {
		d.cache.Purge()
	}
	d.changes.Set(Change{Dataset: d.name, Kind: ChangeCleared})
	return nil
}

// ExportCSV writes one row per instance: id, created_at, label_kind, label,
// then the feature values x0..xn. Rows with fewer features than the widest
// instance are padded with empty cells.
func (d *Dataset) ExportCSV(ctx context.Context, w io.Writer) error {
	items, err := d.Items(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	width := 0
	for _, inst := range items {
		width = max(width, len(inst.X))
	}
	header := []string{"id", "created_at", "label_kind", "label"}
	for i := 0; i < width; i++ {
		header = append(header, "x"+strconv.Itoa(i))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, inst := range items {
		row := []string{inst.ID, inst.CreatedAt.Format(time.RFC3339Nano), string(inst.Y.Kind), inst.Y.Class()}
		for _, x := range inst.X {
			row = append(row, strconv.FormatFloat(x, 'g', -1, 64))
		}
		for len(row) < len(header) {
			row = append(row, "")
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
