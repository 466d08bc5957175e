package explain

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"imlab/internal/ml"
	"imlab/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fourPixels is a 2x2 grid where cats are bright on the left column.
func fourPixels() ml.Instances {
	var out ml.Instances
	for i := 0; i < 10; i++ {
		d := float64(i%3) * 0.02
		out = append(out,
			storage.Instance{X: []float64{0.9 - d, 0.1 + d, 0.9 - d, 0.1 + d}, Y: storage.TextLabel("cat")},
			storage.Instance{X: []float64{0.1 + d, 0.9 - d, 0.1 + d, 0.9 - d}, Y: storage.TextLabel("dog")},
		)
	}
	return out
}

func trainedMLP(t *testing.T) *ml.MLPClassifier {
	t.Helper()
	model := ml.NewMLPClassifier("classifierMLP", ml.MLPConfig{Hidden: []int{4}, Epochs: 40, LearningRate: 0.2, Seed: 11})
	require.NoError(t, model.Train(context.Background(), fourPixels()))
	return model
}

func decodeHeatmap(t *testing.T, url string) (w, h int) {
	t.Helper()
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestGrid(t *testing.T) {
	testCases := []struct {
		n          int
		rows, cols int
	}{
		{0, 0, 0},
		{1, 1, 1},
		{4, 2, 2},
		{256, 16, 16},
		{24, 1, 24},
		{3, 1, 3},
	}
	for _, tc := range testCases {
		rows, cols := Grid(tc.n)
		assert.Equal(t, tc.rows, rows, "rows for %d", tc.n)
		assert.Equal(t, tc.cols, cols, "cols for %d", tc.n)
	}
}

func TestRender(t *testing.T) {
	url, err := Render([]float64{0, 1, 2, 3}, 2, 2, 32)
	require.NoError(t, err)
	w, h := decodeHeatmap(t, url)
	assert.Equal(t, 32, w)
	assert.Equal(t, 32, h)

	url, err = Render([]float64{1, 0, 0, 0, 0, 0, 0, 1}, 1, 8, 64)
	require.NoError(t, err)
	w, h = decodeHeatmap(t, url)
	assert.Equal(t, 64, w)
	assert.Equal(t, 8, h)

	_, err = Render([]float64{1, 2, 3}, 2, 2, 32)
	assert.Error(t, err)

	_, err = Render([]float64{0, 0, 0, 0}, 2, 2, 16)
	assert.NoError(t, err, "all-zero attribution still renders")
}

func TestJet(t *testing.T) {
	cold, hot := jet(0), jet(1)
	assert.Greater(t, cold.B, cold.R)
	assert.Greater(t, hot.R, hot.B)
}

func TestEngine_NotReady(t *testing.T) {
	engine := NewEngine(0)
	_, err := engine.Explain(context.Background(), []float64{1, 0, 1, 0}, 0)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, engine.SelectLayer(), ErrNotReady)

	// bound but untrained
	model := ml.NewMLPClassifier("m", ml.MLPConfig{Hidden: []int{4}})
	engine.SetModel(model)
	require.NoError(t, engine.SelectLayer())
	_, err = engine.Explain(context.Background(), []float64{1, 0, 1, 0}, 0)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestEngine_NotExplainable(t *testing.T) {
	knn := ml.NewKNNClassifier("knn", 1)
	require.NoError(t, knn.Train(context.Background(), fourPixels()))

	engine := NewEngine(16)
	engine.SetModel(knn)
	assert.ErrorIs(t, engine.SelectLayer(), ErrNotExplainable)
	_, err := engine.Explain(context.Background(), []float64{1, 0, 1, 0}, 0)
	assert.Error(t, err)
}

func TestEngine_Explain(t *testing.T) {
	model := trainedMLP(t)
	engine := NewEngine(32)
	engine.SetModel(model)
	require.NoError(t, engine.SelectLayer())
	assert.Equal(t, "input", engine.Layer())

	x := []float64{0.9, 0.1, 0.9, 0.1}
	exp, err := engine.Explain(context.Background(), x, 0)
	require.NoError(t, err)
	assert.Equal(t, "classifierMLP", exp.Model)
	assert.Equal(t, "cat", exp.Class)
	assert.Equal(t, 2, exp.Rows)
	assert.Equal(t, 2, exp.Cols)
	require.Len(t, exp.Weights, 4)
	for _, w := range exp.Weights {
		assert.GreaterOrEqual(t, w, 0.0)
	}
	w, h := decodeHeatmap(t, exp.Heatmap)
	assert.Equal(t, 32, w)
	assert.Equal(t, 32, h)

	_, err = engine.Explain(context.Background(), x, 2)
	assert.ErrorIs(t, err, ErrClassOutOfRange)
	_, err = engine.Explain(context.Background(), x, -1)
	assert.ErrorIs(t, err, ErrClassOutOfRange)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Explain(ctx, x, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_SelectLayer(t *testing.T) {
	model := trainedMLP(t)
	engine := NewEngine(16)
	engine.SetModel(model)

	require.NoError(t, engine.SelectLayer("conv_pw_13", "hidden_1"))
	assert.Equal(t, "hidden_1", engine.Layer())

	exp, err := engine.Explain(context.Background(), []float64{0.9, 0.1, 0.9, 0.1}, 1)
	require.NoError(t, err)
	assert.Len(t, exp.Weights, 4)
	assert.Equal(t, "dog", exp.Class)

	assert.ErrorIs(t, engine.SelectLayer("conv_pw_13"), ErrUnknownLayer)
	assert.Equal(t, "hidden_1", engine.Layer(), "failed selection keeps the previous layer")

	// rebinding the same model keeps the layer, a new model clears it
	engine.SetModel(model)
	assert.Equal(t, "hidden_1", engine.Layer())
	engine.SetModel(trainedMLP(t))
	assert.Empty(t, engine.Layer())
}

func TestEngine_Regressor(t *testing.T) {
	var set ml.Instances
	for i := 0; i < 12; i++ {
		x1, x2 := float64(i)/10, float64(i%4)/4
		set = append(set, storage.Instance{X: []float64{x1, x2}, Y: storage.TargetLabel(2*x1 - x2)})
	}
	model := ml.NewRidgeRegressor("ridge", 0.1)
	require.NoError(t, model.Train(context.Background(), set))

	engine := NewEngine(16)
	engine.SetModel(model)
	require.NoError(t, engine.SelectLayer())

	exp, err := engine.Explain(context.Background(), []float64{0.5, 0.5}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, exp.Rows)
	assert.Equal(t, 2, exp.Cols)
	assert.Empty(t, exp.Class)

	_, err = engine.Explain(context.Background(), []float64{0.5, 0.5}, 1)
	assert.ErrorIs(t, err, ErrClassOutOfRange)
}
