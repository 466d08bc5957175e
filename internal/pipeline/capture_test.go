package pipeline

import (
	"context"
	"errors"
	"image/color"
	"testing"

	"imlab/internal/camera"
	"imlab/internal/features"
	"imlab/internal/storage"
	"imlab/internal/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(extractor features.Extractor, sink Sink, thumbs *stream.Value[string]) (*CaptureGate, *stream.Value[bool], *stream.Value[storage.Label], *mockMetrics) {
	pressed := stream.NewValue(false)
	label := stream.NewValue(storage.TextLabel(""))
	metrics := newMockMetrics()
	return NewCaptureGate(pressed, label, thumbs, extractor, sink, metrics), pressed, label, metrics
}

func TestCaptureGate_RecordsOnlyWhilePressed(t *testing.T) {
	sink := &fakeSink{}
	gate, pressed, label, metrics := newTestGate(seqExtractor, sink, nil)
	ctx := context.Background()

	label.Set(storage.TextLabel("dog"))
	for seq := uint64(1); seq <= 3; seq++ {
		assert.False(t, gate.Offer(ctx, solidFrame(seq, color.Black)))
	}
	pressed.Set(true)
	label.Set(storage.TextLabel("cat"))
	assert.True(t, gate.Offer(ctx, solidFrame(4, color.Black)))
	gate.Wait()

	items := sink.all()
	require.Len(t, items, 1)
	assert.Equal(t, "cat", items[0].Y.Class())
	assert.Equal(t, []float64{4}, items[0].X)
	assert.Equal(t, "thumb", items[0].Thumbnail)

	assert.Equal(t, 3, metrics.get("capture_skipped"))
	assert.Equal(t, 1, metrics.get("capture"))
	assert.Equal(t, 1, metrics.get("instance_created"))
}

func TestCaptureGate_RunUntilClosed(t *testing.T) {
	sink := &fakeSink{}
	gate, pressed, label, _ := newTestGate(seqExtractor, sink, nil)
	pressed.Set(true)
	label.Set(storage.IndexLabel(2))

	frames := make(chan *camera.Frame, 3)
	for seq := uint64(1); seq <= 3; seq++ {
		frames <- solidFrame(seq, color.White)
	}
	close(frames)

	gate.Run(context.Background(), frames)
	gate.Wait()

	items := sink.all()
	require.Len(t, items, 3)
	for _, inst := range items {
		assert.Equal(t, "2", inst.Y.Class())
	}
}

func TestCaptureGate_LabelReadAfterExtraction(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	slow := funcExtractor(func(ctx context.Context, f *camera.Frame) (features.Vector, error) {
		close(started)
		<-release
		return features.Vector{1}, nil
	})

	sink := &fakeSink{}
	gate, pressed, label, _ := newTestGate(slow, sink, nil)
	pressed.Set(true)
	label.Set(storage.TextLabel("cat"))

	gate.Offer(context.Background(), solidFrame(1, color.Black))
	<-started
	label.Set(storage.TextLabel("dog"))
	close(release)
	gate.Wait()

	items := sink.all()
	require.Len(t, items, 1)
	assert.Equal(t, "dog", items[0].Y.Class(), "label is read when the candidate is built")
}

func TestCaptureGate_ExtractionFailureDrops(t *testing.T) {
	failing := funcExtractor(func(context.Context, *camera.Frame) (features.Vector, error) {
		return nil, errors.New("extractor offline")
	})
	sink := &fakeSink{}
	gate, pressed, _, metrics := newTestGate(failing, sink, nil)
	pressed.Set(true)

	gate.Offer(context.Background(), solidFrame(1, color.Black))
	gate.Offer(context.Background(), solidFrame(2, color.Black))
	gate.Wait()

	assert.Empty(t, sink.all())
	assert.Equal(t, 2, metrics.get("extraction_failure"))
	assert.Equal(t, 0, metrics.get("instance_created"))
}

func TestCaptureGate_SinkFailure(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	gate, pressed, _, metrics := newTestGate(seqExtractor, sink, nil)
	pressed.Set(true)

	gate.Offer(context.Background(), solidFrame(1, color.Black))
	gate.Wait()

	assert.Equal(t, 1, metrics.get("instance_failure"))
}

func TestCaptureGate_CameraThumbnail(t *testing.T) {
	thumbs := stream.NewValue("camera-thumb")
	sink := &fakeSink{}
	gate, pressed, _, _ := newTestGate(seqExtractor, sink, thumbs)
	pressed.Set(true)

	gate.Offer(context.Background(), solidFrame(1, color.Black))
	gate.Wait()

	items := sink.all()
	require.Len(t, items, 1)
	assert.Equal(t, "camera-thumb", items[0].Thumbnail)
}

func TestCaptureGate_CommitsInCompletionOrder(t *testing.T) {
	releaseFirst := make(chan struct{})
	extractor := funcExtractor(func(ctx context.Context, f *camera.Frame) (features.Vector, error) {
		if f.Seq == 1 {
			<-releaseFirst
		}
		return features.Vector{float64(f.Seq)}, nil
	})
	sink := &fakeSink{}
	gate, pressed, _, _ := newTestGate(extractor, sink, nil)
	pressed.Set(true)

	gate.Offer(context.Background(), solidFrame(1, color.Black))
	gate.Offer(context.Background(), solidFrame(2, color.Black))
	eventually(t, func() bool { return len(sink.all()) == 1 }, "second frame committed")
	close(releaseFirst)
	gate.Wait()

	items := sink.all()
	require.Len(t, items, 2)
	assert.Equal(t, []float64{2}, items[0].X)
	assert.Equal(t, []float64{1}, items[1].X)
}
