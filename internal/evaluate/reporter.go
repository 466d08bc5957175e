package evaluate

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imlab/internal/ml"

	"github.com/rs/zerolog/log"
)

// Report file names written into the output directory.
const (
	SummaryFile     = "evaluation_summary.txt"
	PredictionsFile = "predictions.csv"
	JSONFile        = "evaluation.json"
)

// Reporter writes evaluation reports
type Reporter struct {
	results    *Results
	outputPath string
}

func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport writes every report format into the output directory.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generatePredictions(); err != nil {
		return err
	}
	return r.generateJSONReport()
}

func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, SummaryFile)
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	r.writeSummary(file)

	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

func (r *Reporter) writeSummary(w io.Writer) {
	r.writeMetrics(w)
	if len(r.results.Importance) > 0 {
		fmt.Fprintf(w, "\nTOP FEATURES (permutation importance)\n")
		fmt.Fprintf(w, "-------------------------------------\n")
		for _, f := range r.results.Importance {
			fmt.Fprintf(w, "x%d: %.4f ± %.4f\n", f.Index, f.ImportanceScore, f.StandardDeviation)
		}
	}
}

func (r *Reporter) writeMetrics(w io.Writer) {
	res := r.results
	fmt.Fprintf(w, "EVALUATION RESULTS SUMMARY\n")
	fmt.Fprintf(w, "==========================\n\n")

	fmt.Fprintf(w, "Source: %s\n", res.Source)
	fmt.Fprintf(w, "Model: %s (%s, %s)\n", res.Model, res.Kind, res.Task)
	fmt.Fprintf(w, "Seed: %d\n", res.Seed)
	fmt.Fprintf(w, "Train/Test: %d/%d\n", res.TrainSize, res.TestSize)
	fmt.Fprintf(w, "Training Time: %s\n\n", res.TrainTime)

	if res.Task == ml.Regression {
		fmt.Fprintf(w, "REGRESSION METRICS\n")
		fmt.Fprintf(w, "------------------\n")
		fmt.Fprintf(w, "MAE: %.4f (baseline %.4f)\n", res.MAE, res.BaselineMAE)
		fmt.Fprintf(w, "RMSE: %.4f (baseline %.4f)\n", res.RMSE, res.BaselineRMSE)
		fmt.Fprintf(w, "R2: %.4f\n", res.R2)
		return
	}

	fmt.Fprintf(w, "CLASSIFICATION METRICS\n")
	fmt.Fprintf(w, "----------------------\n")
	fmt.Fprintf(w, "Accuracy: %.2f%%\n", res.Accuracy*100)
	fmt.Fprintf(w, "Baseline Accuracy: %.2f%%\n", res.BaselineAccuracy*100)

	if res.Confusion != nil && len(res.Confusion.Labels) > 0 {
		fmt.Fprintf(w, "\nCONFUSION MATRIX (rows: actual, columns: predicted)\n")
		fmt.Fprintf(w, "%12s", "")
		for _, l := range res.Confusion.Labels {
			fmt.Fprintf(w, " %10s", truncate(l, 10))
		}
		fmt.Fprintln(w)
		for i, row := range res.Confusion.Matrix {
			fmt.Fprintf(w, "%12s", truncate(res.Confusion.Labels[i], 12))
			for _, n := range row {
				fmt.Fprintf(w, " %10d", n)
			}
			fmt.Fprintln(w)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// generatePredictions writes one CSV row per holdout instance.
func (r *Reporter) generatePredictions() error {
	csvPath := filepath.Join(r.outputPath, PredictionsFile)
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create predictions file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"ID", "Actual", "Predicted", "Baseline", "Confidence", "Error", "Correct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range r.results.Records {
		record := []string{
			rec.ID,
			rec.Actual,
			rec.Predicted,
			rec.Baseline,
			fmt.Sprintf("%.4f", rec.Confidence),
			fmt.Sprintf("%.4f", rec.Error),
			fmt.Sprintf("%t", rec.Correct),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}

	log.Info().Str("file", csvPath).Msg("Predictions written")
	return nil
}

func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, JSONFile)

	report := map[string]interface{}{
		"results":      r.results,
		"generated_at": time.Now(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

// PrintSummary prints a summary to stdout.
func (r *Reporter) PrintSummary() {
	var b strings.Builder
	r.writeSummary(&b)
	fmt.Println()
	fmt.Print(b.String())
	fmt.Println("==========================")
}
