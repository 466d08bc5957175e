package pipeline

import (
	"context"
	"image/color"
	"testing"
	"time"

	"imlab/internal/camera"
	"imlab/internal/cfg"
	"imlab/internal/ml"
	"imlab/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() cfg.Settings {
	return cfg.Settings{
		DatasetName:  "training-set-test",
		ModelName:    "classifierKNN",
		LabelKind:    "text",
		Model:        cfg.ModelConfig{Kind: "knn", K: 1},
		Extractor:    cfg.ExtractorConfig{Kind: "pixels", Grid: 2},
		FrameBuffer:  8,
		DiscardStale: true,
	}
}

func publishUntil(t *testing.T, hub *camera.Hub, c color.Color, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		hub.Publish(solidFrame(0, c))
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

// settle waits until n stops changing and returns its final value.
func settle(t *testing.T, n func() int) int {
	t.Helper()
	last := n()
	for i := 0; i < 100; i++ {
		time.Sleep(20 * time.Millisecond)
		cur := n()
		if cur == last {
			return cur
		}
		last = cur
	}
	t.Fatal("count did not settle")
	return 0
}

func TestSession_CaptureTrainInspect(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	hub := camera.NewHub("webcam", nil)
	session, err := NewSession(testSettings(), store, hub, newMockMetrics())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, session.Start(ctx))
	assert.Error(t, session.Start(ctx), "second start is rejected")

	count := func() int {
		n, _ := session.Dataset().Count()
		return n
	}

	// record three dark and three bright instances
	session.Label().Set(storage.TextLabel("dark"))
	session.Pressed().Set(true)
	publishUntil(t, hub, color.Black, func() bool { return count() >= 3 }, "dark instances captured")
	session.Pressed().Set(false)
	dark := settle(t, count)
	session.Label().Set(storage.TextLabel("bright"))
	session.Pressed().Set(true)
	publishUntil(t, hub, color.White, func() bool { return count() >= dark+3 }, "bright instances captured")
	session.Pressed().Set(false)
	settle(t, count)

	assert.Empty(t, session.Options().Get(), "no options before training")

	require.NoError(t, session.Train(ctx))
	session.Trainer().Wait()
	assert.Equal(t, []string{"dark", "bright"}, session.Options().Get())
	assert.NotEmpty(t, session.ModelVersion(), "checkpoint saved after training")

	pred, err := session.Predict(ctx, solidFrame(0, color.White))
	require.NoError(t, err)
	assert.Equal(t, "bright", pred.Label)

	// live frames reach the predictor
	publishUntil(t, hub, color.White, func() bool {
		res, ok := session.Predictor().Predictions().Latest()
		return ok && res.Instance.Source == SourceLive && res.Prediction.Label == "bright"
	}, "live prediction")

	// a dataset selection is predicted and sets the class of interest
	items, err := session.Dataset().Items(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Select(ctx, []string{items[0].ID}))
	eventually(t, func() bool {
		res, ok := session.Predictor().Predictions().Latest()
		return ok && res.Instance.ID == items[0].ID && res.Prediction.Label == "dark"
	}, "dataset prediction")

	session.Stop()
	session.Stop()
}

func TestSession_RestoresCheckpoint(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	first, err := NewSession(testSettings(), store, camera.NewHub("webcam", nil), newMockMetrics())
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))

	ds := first.Dataset()
	for _, label := range []string{"cat", "dog"} {
		_, err := ds.Create(context.Background(), storage.Instance{X: []float64{0, 0, 0, 0}, Y: storage.TextLabel(label)})
		require.NoError(t, err)
	}
	require.NoError(t, first.Train(context.Background()))
	first.Trainer().Wait()
	version := first.ModelVersion()
	first.Stop()

	second, err := NewSession(testSettings(), store, camera.NewHub("webcam", nil), newMockMetrics())
	require.NoError(t, err)
	require.NoError(t, second.Start(context.Background()))
	defer second.Stop()

	assert.Equal(t, version, second.ModelVersion())
	assert.Equal(t, []string{"cat", "dog"}, second.Options().Get(), "loaded model publishes its labels")
	assert.Equal(t, second.Model(), second.Explainer().Model())
}

func TestSession_ParamsAndTrainingHistory(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	session, err := NewSession(testSettings(), store, camera.NewHub("webcam", nil), newMockMetrics())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, session.Start(ctx))
	defer session.Stop()

	params, err := session.Params()
	require.NoError(t, err)
	assert.Equal(t, 1, params.K)
	assert.ErrorIs(t, session.SetParams(ml.Params{K: 0}), ml.ErrInvalidParams)
	require.NoError(t, session.SetParams(ml.Params{K: 2}))

	assert.Zero(t, session.TrainingHistory().Run, "no run yet")

	for _, label := range []string{"cat", "dog", "dog"} {
		_, err := session.Dataset().Create(ctx, storage.Instance{X: []float64{0, 0, 0, 0}, Y: storage.TextLabel(label)})
		require.NoError(t, err)
	}
	require.NoError(t, session.Train(ctx))
	session.Trainer().Wait()

	history := session.TrainingHistory()
	assert.Equal(t, 1, history.Run)
	assert.Equal(t, ml.StatusTrained, history.Status)
	assert.Len(t, history.Records, 1)

	params, err = session.Params()
	require.NoError(t, err)
	assert.Equal(t, 2, params.K)
}

func TestSession_RestartAfterStopIsRejected(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	session, err := NewSession(testSettings(), store, camera.NewHub("webcam", nil), newMockMetrics())
	require.NoError(t, err)
	require.NoError(t, session.Start(context.Background()))
	session.Stop()

	err = session.Start(context.Background())
	assert.ErrorIs(t, err, ErrSessionStopped)
	assert.Zero(t, session.Predictor().Submit(Instance{Source: SourceDataset, Vector: []float64{1}}),
		"the stopped predictor accepts no work")
	session.Stop()
}

func TestNewSession_InvalidSettings(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	settings := testSettings()
	settings.Model.Kind = "transformer"
	_, err = NewSession(settings, store, camera.NewHub("webcam", nil), newMockMetrics())
	assert.Error(t, err)

	settings = testSettings()
	settings.Extractor.Kind = "mobilenet"
	_, err = NewSession(settings, store, camera.NewHub("webcam", nil), newMockMetrics())
	assert.Error(t, err)
}
