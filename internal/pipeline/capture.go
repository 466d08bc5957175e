// Package pipeline wires frames, labels, models and the explainer together:
// the capture gate records labelled instances, the selector decides which
// instance is under inspection and the predictor publishes predictions and
// explanations for it. Watchers react to model lifecycle changes.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"imlab/internal/camera"
	"imlab/internal/features"
	"imlab/internal/storage"
	"imlab/internal/stream"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines the metrics the pipeline reports.
// *metrics.MetricsWrapper satisfies it.
type MetricsInterface interface {
	CaptureInc()
	CaptureSkippedInc()
	ExtractionFailureInc()
	InstanceCreatedInc()
	InstanceFailureInc()
	SelectionSuppressedInc()
	PredictionInc()
	PredictionFailureInc()
	PredictionLatencyObserve(seconds float64)
	ExplanationInc()
	ExplanationFailureInc()
	StaleResultInc()
}

// Sink commits captured instances. *storage.Dataset satisfies it.
type Sink interface {
	Create(ctx context.Context, inst storage.Instance) (storage.Instance, error)
}

// CaptureGate records a training instance for every frame that arrives while
// the recording control is pressed.
type CaptureGate struct {
	pressed   *stream.Value[bool]
	label     *stream.Value[storage.Label]
	thumbs    *stream.Value[string]
	extractor features.Extractor
	sink      Sink
	metrics   MetricsInterface

	wg sync.WaitGroup
}

// NewCaptureGate creates a gate. thumbs may be nil, in which case each
// instance keeps its own frame's thumbnail.
func NewCaptureGate(pressed *stream.Value[bool], label *stream.Value[storage.Label], thumbs *stream.Value[string],
	extractor features.Extractor, sink Sink, metrics MetricsInterface) *CaptureGate {
	return &CaptureGate{
		pressed:   pressed,
		label:     label,
		thumbs:    thumbs,
		extractor: extractor,
		sink:      sink,
		metrics:   metrics,
	}
}

// Run consumes frames until the channel closes or ctx is done. The pressed
// flag is read when a frame arrives; frames arriving while it is false are
// dropped. Each recorded frame is built independently, so commits may land
// out of arrival order.
func (g *CaptureGate) Run(ctx context.Context, frames <-chan *camera.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			g.Offer(ctx, f)
		}
	}
}

// Offer applies the gate to a single frame and reports whether a candidate
// build was started.
func (g *CaptureGate) Offer(ctx context.Context, f *camera.Frame) bool {
	if f == nil || !g.pressed.Get() {
		g.metrics.CaptureSkippedInc()
		return false
	}
	g.metrics.CaptureInc()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if _, err := g.build(ctx, f); err != nil {
			log.Warn().Err(err).Uint64("seq", f.Seq).Msg("Capture dropped")
		}
	}()
	return true
}

// Wait blocks until every in-flight candidate has been committed or dropped.
func (g *CaptureGate) Wait() {
	g.wg.Wait()
}

func (g *CaptureGate) build(ctx context.Context, f *camera.Frame) (storage.Instance, error) {
	x, err := g.extractor.Process(ctx, f)
	if err != nil {
		g.metrics.ExtractionFailureInc()
		return storage.Instance{}, fmt.Errorf("extract features with %s: %w", g.extractor.Name(), err)
	}

	// label and thumbnail are whatever the inputs hold now, not at frame time
	inst := storage.Instance{
		X:         x,
		Y:         g.label.Get(),
		Thumbnail: f.Thumbnail,
	}
	if g.thumbs != nil {
		if thumb := g.thumbs.Get(); thumb != "" {
			inst.Thumbnail = thumb
		}
	}

	created, err := g.sink.Create(ctx, inst)
	if err != nil {
		g.metrics.InstanceFailureInc()
		return storage.Instance{}, fmt.Errorf("commit instance: %w", err)
	}
	g.metrics.InstanceCreatedInc()
	log.Debug().Str("id", created.ID).Str("label", created.Y.Class()).Uint64("seq", f.Seq).Msg("Instance captured")
	return created, nil
}
