package evaluate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"imlab/internal/ml"
	"imlab/internal/storage"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// Config selects the model and the holdout split.
type Config struct {
	ModelName    string
	Model        ml.Spec
	TestFraction float64
	Seed         int64
	// ImportanceRepeats enables permutation feature importance on the
	// holdout part with this many shuffles per feature.
	ImportanceRepeats int
}

// topImportance is how many features the report keeps.
const topImportance = 10

// Record is the outcome for one holdout instance.
type Record struct {
	ID         string  `json:"id"`
	Actual     string  `json:"actual"`
	Predicted  string  `json:"predicted"`
	Baseline   string  `json:"baseline"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      float64 `json:"error,omitempty"`
	Correct    bool    `json:"correct"`
}

// Confusion counts holdout predictions: Matrix[actual][predicted], both
// indexed by Labels.
type Confusion struct {
	Labels []string `json:"labels"`
	Matrix [][]int  `json:"matrix"`
}

// Results summarises an evaluation run.
type Results struct {
	Source    string        `json:"source"`
	Model     string        `json:"model"`
	Kind      string        `json:"kind"`
	Task      ml.Task       `json:"task"`
	Seed      int64         `json:"seed"`
	TrainSize int           `json:"train_size"`
	TestSize  int           `json:"test_size"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	TrainTime time.Duration `json:"train_time_ns"`

	// classification
	Accuracy         float64    `json:"accuracy,omitempty"`
	BaselineAccuracy float64    `json:"baseline_accuracy,omitempty"`
	Confusion        *Confusion `json:"confusion,omitempty"`

	// regression
	MAE          float64 `json:"mae,omitempty"`
	RMSE         float64 `json:"rmse,omitempty"`
	R2           float64 `json:"r2,omitempty"`
	BaselineMAE  float64 `json:"baseline_mae,omitempty"`
	BaselineRMSE float64 `json:"baseline_rmse,omitempty"`

	Importance []ml.FeatureStats `json:"importance,omitempty"`

	Records []Record `json:"records"`
}

// Engine trains and scores one model on a loaded dataset.
type Engine struct {
	config Config
	data   *DataLoader
}

func NewEngine(config Config, data *DataLoader) *Engine {
	if config.TestFraction <= 0 || config.TestFraction >= 1 {
		config.TestFraction = 0.2
	}
	if config.ModelName == "" {
		config.ModelName = "evaluation"
	}
	return &Engine{config: config, data: data}
}

// Run splits, trains the model and a baseline on the training part and scores
// both on the holdout part.
func (e *Engine) Run(ctx context.Context) (*Results, error) {
	model, err := ml.New(e.config.ModelName, e.config.Model)
	if err != nil {
		return nil, err
	}
	baseline := ml.NewBaseline(e.config.ModelName+"-baseline", model.Task())

	train, test := e.data.Split(e.config.TestFraction, e.config.Seed)
	if len(train) == 0 || len(test) == 0 {
		return nil, fmt.Errorf("need at least two instances, have %d", len(e.data.Items()))
	}

	results := &Results{
		Source:    e.data.Source(),
		Model:     model.Name(),
		Kind:      model.Kind(),
		Task:      model.Task(),
		Seed:      e.config.Seed,
		TrainSize: len(train),
		TestSize:  len(test),
		StartTime: time.Now(),
	}

	log.Info().
		Str("model", model.Name()).
		Str("kind", model.Kind()).
		Int("train", len(train)).
		Int("test", len(test)).
		Msg("Training model for evaluation")

	if err := model.Train(ctx, ml.Instances(train)); err != nil {
		return nil, fmt.Errorf("train %s: %w", model.Name(), err)
	}
	results.TrainTime = time.Since(results.StartTime)
	if err := baseline.Train(ctx, ml.Instances(train)); err != nil {
		return nil, fmt.Errorf("train baseline: %w", err)
	}

	if model.Task() == ml.Regression {
		err = e.scoreRegression(ctx, model, baseline, test, results)
	} else {
		err = e.scoreClassification(ctx, model, baseline, test, results)
	}
	if err != nil {
		return nil, err
	}

	if e.config.ImportanceRepeats > 0 {
		stats, err := ml.PermutationImportance(ctx, model, test, e.config.ImportanceRepeats, e.config.Seed)
		if err != nil {
			return nil, fmt.Errorf("feature importance: %w", err)
		}
		results.Importance = ml.TopFeatures(stats, topImportance)
	}

	results.EndTime = time.Now()
	log.Info().
		Str("model", model.Name()).
		Float64("accuracy", results.Accuracy).
		Float64("mae", results.MAE).
		Dur("duration", results.EndTime.Sub(results.StartTime)).
		Msg("Evaluation completed")
	return results, nil
}

func (e *Engine) scoreClassification(ctx context.Context, model, baseline ml.Model, test []storage.Instance, results *Results) error {
	var correct, baselineCorrect int
	for _, inst := range test {
		pred, err := model.Predict(ctx, inst.X)
		if err != nil {
			return fmt.Errorf("predict %s: %w", inst.ID, err)
		}
		base, err := baseline.Predict(ctx, inst.X)
		if err != nil {
			return fmt.Errorf("baseline %s: %w", inst.ID, err)
		}

		actual := inst.Y.Class()
		rec := Record{
			ID:        inst.ID,
			Actual:    actual,
			Predicted: pred.Label,
			Baseline:  base.Label,
			Correct:   pred.Label == actual,
		}
		for _, c := range pred.Confidences {
			if c.Label == pred.Label {
				rec.Confidence = c.Score
			}
		}
		if rec.Correct {
			correct++
		}
		if base.Label == actual {
			baselineCorrect++
		}
		results.Records = append(results.Records, rec)
	}

	results.Accuracy = float64(correct) / float64(len(test))
	results.BaselineAccuracy = float64(baselineCorrect) / float64(len(test))
	results.Confusion = confusion(results.Records)
	return nil
}

func (e *Engine) scoreRegression(ctx context.Context, model, baseline ml.Model, test []storage.Instance, results *Results) error {
	var actual, predicted, absErr, sqErr, baseAbs, baseSq []float64
	for _, inst := range test {
		y, ok := inst.Y.Target()
		if !ok {
			return fmt.Errorf("instance %s has no numeric target", inst.ID)
		}
		pred, err := model.Predict(ctx, inst.X)
		if err != nil {
			return fmt.Errorf("predict %s: %w", inst.ID, err)
		}
		base, err := baseline.Predict(ctx, inst.X)
		if err != nil {
			return fmt.Errorf("baseline %s: %w", inst.ID, err)
		}

		diff := pred.Value - y
		actual = append(actual, y)
		predicted = append(predicted, pred.Value)
		absErr = append(absErr, math.Abs(diff))
		sqErr = append(sqErr, diff*diff)
		baseAbs = append(baseAbs, math.Abs(base.Value-y))
		baseSq = append(baseSq, (base.Value-y)*(base.Value-y))

		results.Records = append(results.Records, Record{
			ID:        inst.ID,
			Actual:    inst.Y.Class(),
			Predicted: formatValue(pred.Value),
			Baseline:  formatValue(base.Value),
			Error:     diff,
		})
	}

	results.MAE = stat.Mean(absErr, nil)
	results.RMSE = math.Sqrt(stat.Mean(sqErr, nil))
	results.BaselineMAE = stat.Mean(baseAbs, nil)
	results.BaselineRMSE = math.Sqrt(stat.Mean(baseSq, nil))
	if len(actual) > 1 {
		results.R2 = stat.RSquaredFrom(predicted, actual, nil)
	}
	return nil
}

func formatValue(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

func confusion(records []Record) *Confusion {
	seen := make(map[string]bool)
	for _, r := range records {
		seen[r.Actual] = true
		seen[r.Predicted] = true
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	matrix := make([][]int, len(labels))
	for i := range matrix {
		matrix[i] = make([]int, len(labels))
	}
	for _, r := range records {
		matrix[index[r.Actual]][index[r.Predicted]]++
	}
	return &Confusion{Labels: labels, Matrix: matrix}
}
