package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"imlab/internal/cfg"
	"imlab/internal/evaluate"
	"imlab/internal/features"
	"imlab/internal/ml"
	"imlab/internal/storage"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type args struct {
	Data         string  `arg:"--data" help:"bbolt data directory (defaults to DATA_PATH)"`
	Dataset      string  `arg:"--dataset" help:"dataset to evaluate (defaults to DATASET_NAME)"`
	CSV          string  `arg:"--csv" help:"evaluate a dataset CSV export instead of the store"`
	Images       string  `arg:"--images" help:"evaluate a directory with one subdirectory of images per class"`
	Model        string  `arg:"--model" help:"model kind: mlp, knn or ridge (defaults to MODEL_KIND)"`
	TestFraction float64 `arg:"--test-fraction" help:"share of instances held out for scoring"`
	Seed         int64   `arg:"--seed" help:"split and training seed (defaults to SEED)"`
	Importance   int     `arg:"--importance" help:"permutation importance repeats per feature, 0 to skip"`
	Output       string  `arg:"--output" help:"report directory"`
	LogLevel     string  `arg:"--log-level" help:"debug, info, warn or error"`
}

func (args) Description() string {
	return "Trains a model on part of a recorded training set and scores it on the rest."
}

func main() {
	a := args{
		TestFraction: 0.2,
		Output:       "evaluation",
		LogLevel:     "info",
	}
	arg.MustParse(&a)

	level, err := zerolog.ParseLevel(a.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if a.Data == "" {
		a.Data = config.DataPath
	}
	if a.Dataset == "" {
		a.Dataset = config.DatasetName
	}
	if a.Model != "" {
		config.Model.Kind = strings.ToLower(a.Model)
	}
	if a.Seed != 0 {
		config.Model.Seed = a.Seed
	}

	fmt.Println("=== Evaluation Configuration ===")
	fmt.Printf("Source: %s\n", source(a))
	fmt.Printf("Model: %s\n", config.Model.Kind)
	fmt.Printf("Test Fraction: %.2f\n", a.TestFraction)
	fmt.Printf("Seed: %d\n", config.Model.Seed)
	fmt.Printf("Output Directory: %s\n", a.Output)
	fmt.Println("================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	loader := evaluate.NewDataLoader()
	if err := load(ctx, loader, a, config); err != nil {
		log.Fatal().Err(err).Msg("Failed to load data")
	}

	engine := evaluate.NewEngine(evaluate.Config{
		ModelName: config.ModelName,
		Model: ml.Spec{
			Kind:         config.Model.Kind,
			HiddenLayers: config.Model.HiddenLayers,
			Epochs:       config.Model.Epochs,
			LearningRate: config.Model.LearningRate,
			BatchSize:    config.Model.BatchSize,
			K:            config.Model.K,
			Lambda:       config.Model.Lambda,
			Seed:         config.Model.Seed,
		},
		TestFraction:      a.TestFraction,
		Seed:              config.Model.Seed,
		ImportanceRepeats: a.Importance,
	}, loader)

	results, err := engine.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Evaluation failed")
	}

	reporter := evaluate.NewReporter(results, a.Output)
	if err := reporter.GenerateReport(); err != nil {
		log.Error().Err(err).Msg("Failed to generate reports")
	}
	reporter.PrintSummary()

	log.Info().Str("output", a.Output).Msg("Evaluation completed successfully")
}

func source(a args) string {
	switch {
	case a.Images != "":
		return a.Images
	case a.CSV != "":
		return a.CSV
	default:
		return a.Data + "#" + a.Dataset
	}
}

func load(ctx context.Context, loader *evaluate.DataLoader, a args, config cfg.Settings) error {
	switch {
	case a.Images != "":
		extractor, err := features.New(features.Config{
			Kind:    config.Extractor.Kind,
			Grid:    config.Extractor.Grid,
			Bins:    config.Extractor.Bins,
			URL:     config.Extractor.URL,
			Timeout: config.Extractor.Timeout,
		})
		if err != nil {
			return err
		}
		return loader.LoadFromImages(ctx, a.Images, extractor, config.ThumbnailSize)
	case a.CSV != "":
		return loader.LoadFromCSV(a.CSV)
	default:
		store, err := storage.New(a.Data)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()
		return loader.LoadFromStore(ctx, store, a.Dataset)
	}
}
