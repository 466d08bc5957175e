// Package evaluate replays a stored training set offline: it splits it into a
// training and a holdout part, trains a model, scores it against a baseline
// and writes a report.
package evaluate

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"imlab/internal/camera"
	"imlab/internal/features"
	"imlab/internal/storage"

	"github.com/rs/zerolog/log"
)

// DataLoader holds the instances being evaluated, in commit order.
type DataLoader struct {
	items  []storage.Instance
	source string
}

func NewDataLoader() *DataLoader {
	return &DataLoader{}
}

// Items returns the loaded instances.
func (dl *DataLoader) Items() []storage.Instance {
	return dl.items
}

// Source describes where the instances came from.
func (dl *DataLoader) Source() string {
	return dl.source
}

// LoadFromStore loads every instance of a dataset.
func (dl *DataLoader) LoadFromStore(ctx context.Context, store *storage.Store, dataset string) error {
	ds, err := store.Dataset(dataset)
	if err != nil {
		return fmt.Errorf("open dataset %s: %w", dataset, err)
	}
	items, err := ds.Items(ctx)
	if err != nil {
		return fmt.Errorf("load dataset %s: %w", dataset, err)
	}
	dl.items = items
	dl.source = store.Path() + "#" + dataset

	log.Info().Str("dataset", dataset).Int("instances", len(items)).Msg("Dataset loaded from store")
	return nil
}

// LoadFromCSV loads a dataset export: id, created_at, label_kind, label, then
// the feature columns.
func (dl *DataLoader) LoadFromCSV(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	items, err := readCSV(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	dl.items = items
	dl.source = path

	log.Info().Str("file", path).Int("instances", len(items)).Msg("Dataset loaded from CSV")
	return nil
}

// LoadFromImages builds instances from a directory with one subdirectory per
// class, extracting features from every JPEG or PNG image with extractor.
func (dl *DataLoader) LoadFromImages(ctx context.Context, dir string, extractor features.Extractor, thumbSize int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read image dir: %w", err)
	}

	var items []storage.Instance
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		class := e.Name()
		files, err := camera.NewReplay(filepath.Join(dir, class), 0, false, thumbSize).Files()
		if err != nil {
			return err
		}
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			frame, err := camera.Decode(data, thumbSize)
			if err != nil {
				log.Warn().Err(err).Str("file", path).Msg("Skipping undecodable image")
				continue
			}
			x, err := extractor.Process(ctx, frame)
			if err != nil {
				return fmt.Errorf("extract %s: %w", path, err)
			}
			items = append(items, storage.Instance{
				ID:        filepath.Join(class, filepath.Base(path)),
				X:         x,
				Y:         storage.TextLabel(class),
				Thumbnail: frame.Thumbnail,
				CreatedAt: frame.Timestamp,
			})
		}
	}
	dl.items = items
	dl.source = dir

	log.Info().Str("dir", dir).Str("extractor", extractor.Name()).Int("instances", len(items)).Msg("Dataset built from images")
	return nil
}

func readCSV(r io.Reader) ([]storage.Instance, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 4 || header[0] != "id" || header[3] != "label" {
		return nil, fmt.Errorf("unexpected header %v", header)
	}

	var items []storage.Instance
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		inst, err := parseRecord(record)
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("Skipping malformed row")
			continue
		}
		items = append(items, inst)
	}
	return items, nil
}

func parseRecord(record []string) (storage.Instance, error) {
	if len(record) < 5 {
		return storage.Instance{}, fmt.Errorf("expected at least 5 columns, got %d", len(record))
	}

	created, err := time.Parse(time.RFC3339Nano, record[1])
	if err != nil {
		return storage.Instance{}, fmt.Errorf("created_at: %w", err)
	}
	label, err := parseLabel(storage.LabelKind(record[2]), record[3])
	if err != nil {
		return storage.Instance{}, err
	}

	x := make([]float64, 0, len(record)-4)
	for _, field := range record[4:] {
		if strings.TrimSpace(field) == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return storage.Instance{}, fmt.Errorf("feature %q: %w", field, err)
		}
		x = append(x, v)
	}

	return storage.Instance{ID: record[0], X: x, Y: label, CreatedAt: created}, nil
}

func parseLabel(kind storage.LabelKind, value string) (storage.Label, error) {
	switch kind {
	case storage.LabelText, "":
		return storage.TextLabel(value), nil
	case storage.LabelIndex:
		i, err := strconv.Atoi(value)
		if err != nil {
			return storage.Label{}, fmt.Errorf("index label %q: %w", value, err)
		}
		return storage.IndexLabel(i), nil
	case storage.LabelTarget:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return storage.Label{}, fmt.Errorf("target label %q: %w", value, err)
		}
		return storage.TargetLabel(v), nil
	default:
		return storage.Label{}, fmt.Errorf("unknown label kind %q", kind)
	}
}

// Split shuffles the instances with seed and holds out testFraction of them.
// At least one instance stays on each side when there are two or more.
func (dl *DataLoader) Split(testFraction float64, seed int64) (train, test []storage.Instance) {
	items := append([]storage.Instance(nil), dl.items...)
	rand.New(rand.NewSource(seed)).Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})

	n := int(float64(len(items))*testFraction + 0.5)
	if len(items) >= 2 {
		n = min(max(n, 1), len(items)-1)
	}
	return items[n:], items[:n]
}
