package pipeline

import (
	"context"
	"sync"

	"imlab/internal/camera"
	"imlab/internal/features"
	"imlab/internal/storage"
	"imlab/internal/stream"

	"github.com/rs/zerolog/log"
)

// Source tells where a selected instance came from.
type Source string

const (
	SourceDataset Source = "dataset"
	SourceLive    Source = "live"
)

// Instance is the instance under inspection. Dataset instances carry their
// stored vector; live instances carry the frame and are extracted on demand.
type Instance struct {
	Source    Source          `json:"source"`
	ID        string          `json:"id,omitempty"`
	Frame     *camera.Frame   `json:"-"`
	Vector    features.Vector `json:"-"`
	Label     storage.Label   `json:"label,omitempty"`
	Thumbnail string          `json:"thumbnail,omitempty"`
}

// Lookup resolves stored instances by id. *storage.Dataset satisfies it.
type Lookup interface {
	Get(ctx context.Context, id string) (storage.Instance, error)
}

// Selector merges dataset selections and live frames into one sequence of
// instances under inspection.
type Selector struct {
	lookup   Lookup
	throttle *stream.Throttle
	metrics  MetricsInterface
}

func NewSelector(lookup Lookup, throttle *stream.Throttle, metrics MetricsInterface) *Selector {
	if throttle == nil {
		throttle = stream.NewThrottle(0)
	}
	return &Selector{lookup: lookup, throttle: throttle, metrics: metrics}
}

// Run starts both branches and returns the merged output. Dataset selections
// naming anything but exactly one id are suppressed; live frames are
// throttled. Whichever branch produces next is forwarded. The output closes
// when both inputs are closed or ctx is done.
func (s *Selector) Run(ctx context.Context, selections <-chan []string, live <-chan *camera.Frame) <-chan Instance {
	var branches []<-chan Instance
	if selections != nil {
		branches = append(branches, s.datasetBranch(ctx, selections))
	}
	if live != nil {
		branches = append(branches, s.liveBranch(ctx, live))
	}
	return stream.Merge(ctx, branches...)
}

func (s *Selector) datasetBranch(ctx context.Context, selections <-chan []string) <-chan Instance {
	out := make(chan Instance)
	var wg sync.WaitGroup

	go func() {
		defer func() {
			wg.Wait()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ids, ok := <-selections:
				if !ok {
					return
				}
				if len(ids) != 1 {
					s.metrics.SelectionSuppressedInc()
					continue
				}
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					inst, err := s.lookup.Get(ctx, id)
					if err != nil {
						log.Warn().Err(err).Str("id", id).Msg("Selected instance lookup failed")
						return
					}
					sel := Instance{
						Source:    SourceDataset,
						ID:        inst.ID,
						Vector:    inst.X,
						Label:     inst.Y,
						Thumbnail: inst.Thumbnail,
					}
					select {
					case out <- sel:
					case <-ctx.Done():
					}
				}(ids[0])
			}
		}
	}()
	return out
}

func (s *Selector) liveBranch(ctx context.Context, live <-chan *camera.Frame) <-chan Instance {
	out := make(chan Instance)
	throttled := stream.ThrottleChan(ctx, live, s.throttle)
	go func() {
		defer close(out)
		for f := range throttled {
			if f == nil {
				continue
			}
			select {
			case out <- Instance{Source: SourceLive, Frame: f, Thumbnail: f.Thumbnail}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
