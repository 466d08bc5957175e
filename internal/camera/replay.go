package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Replay feeds a directory of JPEG/PNG images into a hub at a fixed interval,
// standing in for a webcam in headless runs.
type Replay struct {
	dir       string
	interval  time.Duration
	loop      bool
	thumbSize int
}

// NewReplay creates a replay source. The directory is read on Run.
func NewReplay(dir string, interval time.Duration, loop bool, thumbSize int) *Replay {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Replay{dir: dir, interval: interval, loop: loop, thumbSize: thumbSize}
}

// Files lists the image files Replay would publish, in name order.
func (r *Replay) Files() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read replay dir %s: %w", r.dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(r.dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Run publishes frames until ctx is done or, without looping, the files are
// exhausted. Undecodable files are skipped.
func (r *Replay) Run(ctx context.Context, hub *Hub) error {
	files, err := r.Files()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images in %s", r.dir)
	}

	log.Info().Str("dir", r.dir).Int("files", len(files)).Dur("interval", r.interval).Bool("loop", r.loop).Msg("starting frame replay")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for _, path := range files {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			data, err := os.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("file", path).Msg("skipping unreadable replay frame")
				continue
			}
			frame, err := Decode(data, r.thumbSize)
			if err != nil {
				log.Warn().Err(err).Str("file", path).Msg("skipping undecodable replay frame")
				continue
			}
			hub.Publish(frame)
		}
		if !r.loop {
			return nil
		}
	}
}
