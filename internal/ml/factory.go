package ml

import "fmt"

// Spec describes a model to build. Fields irrelevant to Kind are ignored.
type Spec struct {
	Kind         string
	HiddenLayers []int
	Epochs       int
	LearningRate float64
	BatchSize    int
	K            int
	Lambda       float64
	Seed         int64
}

// New builds the model named by spec.Kind: mlp, knn or ridge.
func New(name string, spec Spec) (Model, error) {
	switch spec.Kind {
	case "", "mlp":
		return NewMLPClassifier(name, MLPConfig{
			Hidden:       spec.HiddenLayers,
			Epochs:       spec.Epochs,
			LearningRate: spec.LearningRate,
			BatchSize:    spec.BatchSize,
			Seed:         spec.Seed,
		}), nil
	case "knn":
		return NewKNNClassifier(name, spec.K), nil
	case "ridge":
		return NewRidgeRegressor(name, spec.Lambda), nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", spec.Kind)
	}
}
