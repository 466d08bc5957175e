package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imlab/internal/features"
	"imlab/internal/ml"
	"imlab/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clusters(n int) []storage.Instance {
	var items []storage.Instance
	for i := 0; i < n; i++ {
		off := float64(i%5) * 0.1
		items = append(items,
			storage.Instance{ID: fmt.Sprintf("a%d", i), X: []float64{off, off}, Y: storage.TextLabel("a")},
			storage.Instance{ID: fmt.Sprintf("b%d", i), X: []float64{10 + off, 10 - off}, Y: storage.TextLabel("b")},
		)
	}
	return items
}

func line(n int) []storage.Instance {
	var items []storage.Instance
	for i := 0; i < n; i++ {
		x := float64(i)
		items = append(items, storage.Instance{ID: fmt.Sprintf("p%d", i), X: []float64{x}, Y: storage.TargetLabel(2*x + 1)})
	}
	return items
}

func loaderWith(items []storage.Instance) *DataLoader {
	return &DataLoader{items: items, source: "memory"}
}

func TestDataLoader_Split(t *testing.T) {
	dl := loaderWith(clusters(10))

	train, test := dl.Split(0.25, 7)
	assert.Len(t, test, 5)
	assert.Len(t, train, 15)

	seen := make(map[string]bool)
	for _, inst := range append(append([]storage.Instance(nil), train...), test...) {
		assert.False(t, seen[inst.ID], "instance %s in both parts", inst.ID)
		seen[inst.ID] = true
	}
	assert.Len(t, seen, 20)

	train2, test2 := dl.Split(0.25, 7)
	assert.Equal(t, train, train2, "same seed, same split")
	assert.Equal(t, test, test2)

	// tiny sets keep one instance on each side
	train, test = loaderWith(clusters(1)).Split(0.01, 1)
	assert.Len(t, train, 1)
	assert.Len(t, test, 1)
}

func TestDataLoader_CSVRoundTrip(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ds, err := store.Dataset("export")
	require.NoError(t, err)
	ctx := context.Background()
	_, err = ds.Create(ctx, storage.Instance{X: []float64{0.5, 1}, Y: storage.TextLabel("cat")})
	require.NoError(t, err)
	_, err = ds.Create(ctx, storage.Instance{X: []float64{2, 3.25}, Y: storage.IndexLabel(4)})
	require.NoError(t, err)
	_, err = ds.Create(ctx, storage.Instance{X: []float64{7, 8}, Y: storage.TargetLabel(1.5)})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "export.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, ds.ExportCSV(ctx, f))
	require.NoError(t, f.Close())

	fromCSV := NewDataLoader()
	require.NoError(t, fromCSV.LoadFromCSV(path))
	fromStore := NewDataLoader()
	require.NoError(t, fromStore.LoadFromStore(ctx, store, "export"))

	require.Len(t, fromCSV.Items(), 3)
	for i, inst := range fromStore.Items() {
		got := fromCSV.Items()[i]
		assert.Equal(t, inst.ID, got.ID)
		assert.Equal(t, []float64(inst.X), []float64(got.X))
		assert.Equal(t, inst.Y, got.Y)
		assert.True(t, inst.CreatedAt.Equal(got.CreatedAt))
	}
	assert.Equal(t, path, fromCSV.Source())
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestDataLoader_LoadFromImages(t *testing.T) {
	dir := t.TempDir()
	for class, c := range map[string]color.Color{"dark": color.Black, "bright": color.White} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, class), 0755))
		for i := 0; i < 3; i++ {
			writePNG(t, filepath.Join(dir, class, fmt.Sprintf("%d.png", i)), c)
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dark", "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dark", "broken.png"), []byte("not a png"), 0644))

	extractor, err := features.New(features.Config{Kind: "pixels", Grid: 2})
	require.NoError(t, err)

	dl := NewDataLoader()
	require.NoError(t, dl.LoadFromImages(context.Background(), dir, extractor, 16))
	require.Len(t, dl.Items(), 6)

	classes := make(map[string]int)
	for _, inst := range dl.Items() {
		classes[inst.Y.Class()]++
		assert.NotEmpty(t, inst.X)
		assert.NotEmpty(t, inst.Thumbnail)
	}
	assert.Equal(t, map[string]int{"dark": 3, "bright": 3}, classes)

	results, err := NewEngine(Config{Model: ml.Spec{Kind: "knn", K: 1}, TestFraction: 0.5, Seed: 2}, dl).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, results.Accuracy)
}

func TestReadCSV_SkipsMalformedRows(t *testing.T) {
	data := "id,created_at,label_kind,label,x0\n" +
		"ok,2024-01-02T03:04:05Z,text,cat,1\n" +
		"bad-time,yesterday,text,cat,1\n" +
		"bad-kind,2024-01-02T03:04:05Z,emoji,cat,1\n" +
		"bad-x,2024-01-02T03:04:05Z,text,cat,one\n"
	items, err := readCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ok", items[0].ID)

	_, err = readCSV(strings.NewReader("a,b\n"))
	assert.Error(t, err)
}

func TestEngine_Classification(t *testing.T) {
	engine := NewEngine(Config{
		ModelName:    "classifierKNN",
		Model:        ml.Spec{Kind: "knn", K: 1},
		TestFraction: 0.3,
		Seed:         3,
	}, loaderWith(clusters(10)))

	results, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ml.Classification, results.Task)
	assert.Equal(t, 14, results.TrainSize)
	assert.Equal(t, 6, results.TestSize)
	assert.Equal(t, 1.0, results.Accuracy)
	assert.LessOrEqual(t, results.BaselineAccuracy, results.Accuracy)
	require.NotNil(t, results.Confusion)
	assert.Subset(t, []string{"a", "b"}, results.Confusion.Labels)

	total := 0
	for i, row := range results.Confusion.Matrix {
		for j, n := range row {
			total += n
			if i != j {
				assert.Zero(t, n)
			}
		}
	}
	assert.Equal(t, results.TestSize, total)
	assert.Len(t, results.Records, results.TestSize)
}

func TestEngine_Regression(t *testing.T) {
	engine := NewEngine(Config{
		Model: ml.Spec{Kind: "ridge", Lambda: 1e-6},
		Seed:  5,
	}, loaderWith(line(30)))

	results, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ml.Regression, results.Task)
	assert.Equal(t, 6, results.TestSize, "default holdout is 20%")
	assert.Less(t, results.MAE, 0.01)
	assert.Less(t, results.RMSE, 0.01)
	assert.Greater(t, results.BaselineMAE, 1.0)
	assert.InDelta(t, 1.0, results.R2, 1e-3)
	assert.Nil(t, results.Confusion)
}

func TestEngine_Errors(t *testing.T) {
	_, err := NewEngine(Config{Model: ml.Spec{Kind: "svm"}}, loaderWith(clusters(3))).Run(context.Background())
	assert.Error(t, err)

	_, err = NewEngine(Config{Model: ml.Spec{Kind: "knn", K: 1}}, loaderWith(nil)).Run(context.Background())
	assert.Error(t, err)

	texts := []storage.Instance{
		{ID: "1", X: []float64{1}, Y: storage.TextLabel("one")},
		{ID: "2", X: []float64{2}, Y: storage.TextLabel("two")},
		{ID: "3", X: []float64{3}, Y: storage.TextLabel("three")},
	}
	_, err = NewEngine(Config{Model: ml.Spec{Kind: "ridge"}}, loaderWith(texts)).Run(context.Background())
	assert.Error(t, err, "non-numeric targets")
}

func TestReporter_GenerateReport(t *testing.T) {
	results, err := NewEngine(Config{
		Model: ml.Spec{Kind: "knn", K: 1},
		Seed:  1,
	}, loaderWith(clusters(5))).Run(context.Background())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "report")
	require.NoError(t, NewReporter(results, dir).GenerateReport())

	summary, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Accuracy: 100.00%")
	assert.Contains(t, string(summary), "CONFUSION MATRIX")

	predictions, err := os.ReadFile(filepath.Join(dir, PredictionsFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(predictions)), "\n")
	assert.Len(t, lines, results.TestSize+1)
	assert.True(t, strings.HasPrefix(lines[0], "ID,Actual,Predicted"))

	data, err := os.ReadFile(filepath.Join(dir, JSONFile))
	require.NoError(t, err)
	var report struct {
		Results Results `json:"results"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, results.TestSize, report.Results.TestSize)
	assert.Equal(t, results.Accuracy, report.Results.Accuracy)
}

func TestEngine_Importance(t *testing.T) {
	items := line(30)
	for i := range items {
		items[i].X = append(items[i].X, 1)
	}
	results, err := NewEngine(Config{
		Model:             ml.Spec{Kind: "ridge", Lambda: 1e-6},
		Seed:              2,
		ImportanceRepeats: 3,
	}, loaderWith(items)).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, results.Importance, 2)
	assert.Equal(t, 0, results.Importance[0].Index, "the slope feature ranks first")
	assert.Greater(t, results.Importance[0].ImportanceScore, 1.0)
	assert.Zero(t, results.Importance[1].ImportanceScore)

	dir := t.TempDir()
	require.NoError(t, NewReporter(results, dir).GenerateReport())
	summary, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "TOP FEATURES")
	assert.Contains(t, string(summary), "x0: ")
}
