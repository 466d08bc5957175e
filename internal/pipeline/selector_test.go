package pipeline

import (
	"context"
	"image/color"
	"testing"
	"time"

	"imlab/internal/camera"
	"imlab/internal/storage"
	"imlab/internal/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLookup() fakeLookup {
	return fakeLookup{
		"id7": {ID: "id7", X: []float64{7}, Y: storage.TextLabel("cat"), Thumbnail: "t7"},
		"id9": {ID: "id9", X: []float64{9}, Y: storage.TextLabel("dog"), Thumbnail: "t9"},
	}
}

func receive(t *testing.T, out <-chan Instance) Instance {
	t.Helper()
	select {
	case inst, ok := <-out:
		require.True(t, ok, "selector output closed")
		return inst
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for selector")
		return Instance{}
	}
}

func TestSelector_OnlySingleSelectionsEmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := newMockMetrics()
	selections := make(chan []string)
	out := NewSelector(testLookup(), nil, metrics).Run(ctx, selections, nil)

	selections <- []string{"id7", "id9"}
	selections <- []string{}
	selections <- nil
	selections <- []string{"id9"}

	inst := receive(t, out)
	assert.Equal(t, SourceDataset, inst.Source)
	assert.Equal(t, "id9", inst.ID)
	assert.Equal(t, []float64{9}, []float64(inst.Vector))
	assert.Equal(t, "dog", inst.Label.Class())
	assert.Equal(t, "t9", inst.Thumbnail)
	assert.Nil(t, inst.Frame)

	assert.Equal(t, 3, metrics.get("selection_suppressed"))
}

func TestSelector_LookupFailureEmitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	selections := make(chan []string, 2)
	selections <- []string{"missing"}
	selections <- []string{"id7"}
	close(selections)

	out := NewSelector(testLookup(), nil, newMockMetrics()).Run(ctx, selections, nil)

	var got []string
	for inst := range out {
		got = append(got, inst.ID)
	}
	assert.Equal(t, []string{"id7"}, got)
}

func TestSelector_ThrottlesLiveFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	live := make(chan *camera.Frame, 3)
	for seq := uint64(1); seq <= 3; seq++ {
		live <- solidFrame(seq, color.White)
	}
	close(live)

	out := NewSelector(testLookup(), stream.NewThrottle(time.Hour), newMockMetrics()).Run(ctx, nil, live)

	var got []Instance
	for inst := range out {
		got = append(got, inst)
	}
	require.Len(t, got, 1)
	assert.Equal(t, SourceLive, got[0].Source)
	assert.Equal(t, uint64(1), got[0].Frame.Seq)
	assert.Nil(t, got[0].Vector, "live instances are extracted downstream")
}

func TestSelector_MergesBothSources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	selections := make(chan []string)
	live := make(chan *camera.Frame)
	out := NewSelector(testLookup(), stream.NewThrottle(0), newMockMetrics()).Run(ctx, selections, live)

	live <- solidFrame(1, color.White)
	assert.Equal(t, SourceLive, receive(t, out).Source)

	selections <- []string{"id7"}
	assert.Equal(t, "id7", receive(t, out).ID)

	live <- solidFrame(2, color.White)
	assert.Equal(t, uint64(2), receive(t, out).Frame.Seq)

	// both branches stay subscribed after emitting
	selections <- []string{"id9"}
	assert.Equal(t, "id9", receive(t, out).ID)
}

func TestSelector_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := NewSelector(testLookup(), nil, newMockMetrics()).Run(ctx, make(chan []string), make(chan *camera.Frame))
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("selector output not closed after cancel")
	}
}
