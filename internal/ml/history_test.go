package ml

import (
	"context"
	"testing"
)

func TestHistory_RecordsLatestRun(t *testing.T) {
	ctx := context.Background()
	model := NewMLPClassifier("classifierMLP", MLPConfig{Hidden: []int{4}, Epochs: 4, LearningRate: 0.2, BatchSize: 4, Seed: 1})
	history := NewHistory(model)
	defer history.Close()

	if h := history.Snapshot(); h.Run != 0 || h.Status != StatusIdle || len(h.Records) != 0 {
		t.Fatalf("Expected an empty history before training, got %+v", h)
	}

	if err := model.Train(ctx, clusters(10, 3)); err != nil {
		t.Fatalf("Training failed: %v", err)
	}
	h := history.Snapshot()
	if h.Run != 1 || h.Status != StatusTrained || h.Epochs != 4 {
		t.Errorf("Unexpected history after first run: %+v", h)
	}
	if len(h.Records) != 4 {
		t.Fatalf("Expected 4 epoch records, got %d", len(h.Records))
	}
	for i, r := range h.Records {
		if r.Epoch != i+1 {
			t.Errorf("Expected epoch %d at %d, got %d", i+1, i, r.Epoch)
		}
		if r.Loss <= 0 || r.Accuracy < 0 || r.Accuracy > 1 {
			t.Errorf("Unexpected record %+v", r)
		}
	}

	// a second run replaces the curve
	if err := model.SetParams(Params{Epochs: 2, HiddenLayers: []int{4}, LearningRate: 0.2}); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}
	if err := model.Train(ctx, clusters(10, 3)); err != nil {
		t.Fatalf("Training failed: %v", err)
	}
	h = history.Snapshot()
	if h.Run != 2 || len(h.Records) != 2 || h.Epochs != 2 {
		t.Errorf("Expected the second run only, got %+v", h)
	}

	// snapshots are copies
	h.Records[0].Loss = -1
	if history.Snapshot().Records[0].Loss == -1 {
		t.Error("Snapshot must not share records with the history")
	}
}

func TestHistory_FailedRunAndSingleStepModels(t *testing.T) {
	ctx := context.Background()
	model := NewKNNClassifier("knn", 1)
	history := NewHistory(model)

	if err := model.Train(ctx, Instances{}); err == nil {
		t.Fatal("Expected training on an empty set to fail")
	}
	h := history.Snapshot()
	if h.Run != 1 || h.Status != StatusFailed || h.Error == "" {
		t.Errorf("Expected a failed run, got %+v", h)
	}

	if err := model.Train(ctx, clusters(5, 1)); err != nil {
		t.Fatalf("Training failed: %v", err)
	}
	h = history.Snapshot()
	if h.Run != 2 || h.Status != StatusTrained || len(h.Records) != 1 || h.Records[0].Epoch != 1 {
		t.Errorf("Expected one record for the knn run, got %+v", h)
	}

	history.Close()
	if err := model.Train(ctx, clusters(5, 1)); err != nil {
		t.Fatalf("Training failed: %v", err)
	}
	if history.Snapshot().Run != 2 {
		t.Error("A closed history must not follow the model")
	}
}
