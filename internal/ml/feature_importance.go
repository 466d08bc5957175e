package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"imlab/internal/storage"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// FeatureStats is the permutation importance of one feature.
type FeatureStats struct {
	Index             int     `json:"index"`
	ImportanceScore   float64 `json:"importance_score"`
	StandardDeviation float64 `json:"standard_deviation"`
	AverageValue      float64 `json:"average_value"`
}

// Score is accuracy for classifiers and negated mean absolute error for
// regressors, so higher is better for both.
func Score(ctx context.Context, model Model, items []storage.Instance) (float64, error) {
	if len(items) == 0 {
		return 0, ErrEmptyTrainingSet
	}
	var sum float64
	for _, inst := range items {
		pred, err := model.Predict(ctx, inst.X)
		if err != nil {
			return 0, err
		}
		if model.Task() == Regression {
			y, ok := inst.Y.Target()
			if !ok {
				return 0, fmt.Errorf("instance %s has no numeric target", inst.ID)
			}
			sum -= math.Abs(pred.Value - y)
		} else if pred.Label == inst.Y.Class() {
			sum++
		}
	}
	return sum / float64(len(items)), nil
}

// PermutationImportance measures how much the model's score drops when one
// feature column is shuffled across items, repeated repeats times per feature.
// The result is in feature order.
func PermutationImportance(ctx context.Context, model Model, items []storage.Instance, repeats int, seed int64) ([]FeatureStats, error) {
	base, err := Score(ctx, model, items)
	if err != nil {
		return nil, fmt.Errorf("baseline score: %w", err)
	}
	repeats = max(repeats, 1)
	dim := len(items[0].X)
	rng := rand.New(rand.NewSource(seed))

	permuted := make([]storage.Instance, len(items))
	for i, inst := range items {
		permuted[i] = inst
		permuted[i].X = append([]float64(nil), inst.X...)
	}

	out := make([]FeatureStats, dim)
	column := make([]float64, len(items))
	drops := make([]float64, repeats)
	for j := 0; j < dim; j++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, inst := range items {
			column[i] = inst.X[j]
		}
		for r := 0; r < repeats; r++ {
			perm := rng.Perm(len(items))
			for i := range permuted {
				permuted[i].X[j] = column[perm[i]]
			}
			score, err := Score(ctx, model, permuted)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", j, err)
			}
			drops[r] = base - score
		}
		for i := range permuted {
			permuted[i].X[j] = column[i]
		}

		mean, std := stat.MeanStdDev(drops, nil)
		if repeats == 1 {
			std = 0
		}
		out[j] = FeatureStats{
			Index:             j,
			ImportanceScore:   mean,
			StandardDeviation: std,
			AverageValue:      stat.Mean(column, nil),
		}
	}

	log.Debug().Str("model", model.Name()).Int("features", dim).Int("repeats", repeats).Float64("base_score", base).Msg("Permutation importance computed")
	return out, nil
}

// TopFeatures returns the n features with the largest importance, most
// important first.
func TopFeatures(stats []FeatureStats, n int) []FeatureStats {
	sorted := append([]FeatureStats(nil), stats...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ImportanceScore > sorted[j].ImportanceScore
	})
	return sorted[:min(n, len(sorted))]
}
