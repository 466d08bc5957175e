package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"imlab/internal/storage"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type args struct {
	Data     string `arg:"--data" help:"bbolt data directory"`
	Dataset  string `arg:"--dataset" help:"only inspect this dataset"`
	Samples  int    `arg:"--samples" help:"newest instances to print per dataset"`
	Rollback string `arg:"--rollback" help:"drop the latest checkpoint of this model"`
}

func (args) Description() string {
	return "Prints the datasets and model checkpoints stored in an imlab data directory."
}

func main() {
	a := args{Data: "data", Samples: 5}
	arg.MustParse(&a)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	fmt.Printf("Inspecting data in: %s\n", a.Data)

	store, err := storage.New(a.Data)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.Close()

	if a.Rollback != "" {
		cp, err := store.Rollback(a.Rollback)
		if err != nil {
			log.Fatal().Err(err).Str("model", a.Rollback).Msg("Rollback failed")
		}
		fmt.Printf("Rolled back %s to version %s\n", a.Rollback, cp.Version)
	}

	ctx := context.Background()
	names := []string{a.Dataset}
	if a.Dataset == "" {
		if names, err = store.Datasets(); err != nil {
			log.Fatal().Err(err).Msg("Failed to list datasets")
		}
	}

	fmt.Println("\nDatasets:")
	if len(names) == 0 {
		fmt.Println("  (none)")
	}
	for _, name := range names {
		if err := inspectDataset(ctx, store, name, a.Samples); err != nil {
			log.Error().Err(err).Str("dataset", name).Msg("Failed to inspect dataset")
		}
	}

	models, err := store.Models()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list models")
	}
	fmt.Println("\nModels:")
	if len(models) == 0 {
		fmt.Println("  (none)")
	}
	for _, name := range models {
		versions, err := store.ListVersions(name)
		if err != nil {
			log.Error().Err(err).Str("model", name).Msg("Failed to list versions")
			continue
		}
		fmt.Printf("  %s: %d version(s)\n", name, len(versions))
		for i, cp := range versions {
			marker := " "
			if i == 0 {
				marker = "*"
			}
			fmt.Printf("   %s %s  kind=%s samples=%d labels=[%s] saved=%s\n",
				marker, cp.Version, cp.Kind, cp.TrainingSamples, strings.Join(cp.Labels, ","), cp.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	}
}

func inspectDataset(ctx context.Context, store *storage.Store, name string, samples int) error {
	ds, err := store.Dataset(name)
	if err != nil {
		return err
	}
	items, err := ds.Items(ctx)
	if err != nil {
		return err
	}
	labels, err := ds.Labels(ctx)
	if err != nil {
		return err
	}

	counts := make(map[string]int, len(labels))
	for _, inst := range items {
		counts[inst.Y.Class()]++
	}
	fmt.Printf("  %s: %d instance(s)\n", name, len(items))
	for _, l := range labels {
		fmt.Printf("    %-20s %d\n", l, counts[l])
	}

	for _, inst := range items[max(0, len(items)-max(samples, 0)):] {
		fmt.Printf("    - %s  label=%s features=%d created=%s\n",
			inst.ID, inst.Y.Class(), len(inst.X), inst.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
