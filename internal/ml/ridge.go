package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// RidgeRegressor is an L2-regularised linear model fitted in closed form on
// centred data. The intercept is not regularised.
type RidgeRegressor struct {
	lifecycle
	name string

	mu         sync.RWMutex
	lambda     float64
	nextLambda float64
	weights    []float64
	intercept  float64
}

func NewRidgeRegressor(name string, lambda float64) *RidgeRegressor {
	if lambda < 0 {
		lambda = 0
	}
	return &RidgeRegressor{lifecycle: newLifecycle(), name: name, lambda: lambda, nextLambda: lambda}
}

func (m *RidgeRegressor) Params() Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Params{Lambda: m.nextLambda}
}

// SetParams changes the regularisation strength of the next fit.
func (m *RidgeRegressor) SetParams(p Params) error {
	if p.Lambda < 0 {
		return invalidParams("lambda must not be negative, got %g", p.Lambda)
	}
	m.mu.Lock()
	m.nextLambda = p.Lambda
	m.mu.Unlock()
	return nil
}

func (m *RidgeRegressor) Name() string     { return m.name }
func (m *RidgeRegressor) Kind() string     { return "ridge" }
func (m *RidgeRegressor) Task() Task       { return Regression }
func (m *RidgeRegressor) Labels() []string { return nil }
func (m *RidgeRegressor) Layers() []string { return []string{"input"} }

func (m *RidgeRegressor) Train(ctx context.Context, set TrainingSet) error {
	m.publish(TrainingStatus{Status: StatusTraining, Epochs: 1})

	items, err := set.Items(ctx)
	if err != nil {
		return m.fail(fmt.Errorf("load training set: %w", err))
	}
	rows, targets, err := targetData(items)
	if err != nil {
		return m.fail(err)
	}

	n, d := len(rows), len(rows[0])
	means := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := range rows {
			col[i] = rows[i][j]
		}
		means[j] = stat.Mean(col, nil)
	}
	yMean := stat.Mean(targets, nil)

	x := mat.NewDense(n, d, nil)
	y := mat.NewVecDense(n, nil)
	for i, row := range rows {
		for j, v := range row {
			x.Set(i, j, v-means[j])
		}
		y.SetVec(i, targets[i]-yMean)
	}

	var a mat.Dense
	a.Mul(x.T(), x)
	m.mu.RLock()
	requested := m.nextLambda
	m.mu.RUnlock()
	lambda := requested
	if lambda == 0 {
		lambda = 1e-9
	}
	for j := 0; j < d; j++ {
		a.Set(j, j, a.At(j, j)+lambda)
	}
	var b mat.VecDense
	b.MulVec(x.T(), y)

	var w mat.VecDense
	if err := w.SolveVec(&a, &b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return m.fail(fmt.Errorf("solve normal equations: %w", err))
		}
		log.Warn().Str("model", m.name).Float64("condition", float64(cond)).Msg("Ridge system is ill-conditioned")
	}

	weights := append([]float64(nil), w.RawVector().Data...)
	intercept := yMean - floats.Dot(weights, means)

	var sq float64
	for i, row := range rows {
		diff := floats.Dot(weights, row) + intercept - targets[i]
		sq += diff * diff
	}
	mse := sq / float64(n)
	if math.IsNaN(mse) {
		return m.fail(fmt.Errorf("ridge fit produced NaN"))
	}

	m.mu.Lock()
	m.weights, m.intercept, m.lambda = weights, intercept, requested
	m.mu.Unlock()

	log.Info().Str("model", m.name).Int("samples", n).Float64("mse", mse).Msg("Ridge training completed")
	m.publish(TrainingStatus{Status: StatusTrained, Epoch: 1, Epochs: 1, Loss: mse})
	return nil
}

func (m *RidgeRegressor) Predict(ctx context.Context, x []float64) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.weights == nil {
		return Prediction{}, ErrNotTrained
	}
	if len(x) != len(m.weights) {
		return Prediction{}, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), len(m.weights))
	}
	return Prediction{Task: Regression, Value: floats.Dot(m.weights, x) + m.intercept}, nil
}

// Attribution returns the positive part of weight times input. Regression has
// a single output, so class must be 0.
func (m *RidgeRegressor) Attribution(layer string, x []float64, class int) ([]float64, error) {
	if layer != "input" {
		return nil, fmt.Errorf("unknown layer %q", layer)
	}
	if class != 0 {
		return nil, fmt.Errorf("class index %d out of range [0,1)", class)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.weights == nil {
		return nil, ErrNotTrained
	}
	if len(x) != len(m.weights) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), len(m.weights))
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = math.Max(0, m.weights[i]*x[i])
	}
	return out, nil
}

type ridgeSnapshot struct {
	Lambda    float64   `json:"lambda"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

func (m *RidgeRegressor) Snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.weights == nil {
		return nil, ErrNotTrained
	}
	return json.Marshal(ridgeSnapshot{Lambda: m.lambda, Weights: m.weights, Intercept: m.intercept})
}

func (m *RidgeRegressor) Restore(data []byte) error {
	var snap ridgeSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode ridge snapshot: %w", err)
	}
	if len(snap.Weights) == 0 {
		return fmt.Errorf("malformed ridge snapshot")
	}
	m.mu.Lock()
	m.weights, m.intercept = snap.Weights, snap.Intercept
	m.mu.Unlock()

	m.publish(TrainingStatus{Status: StatusLoaded})
	return nil
}
