package cfg

import (
	"strings"
	"testing"
	"time"
)

func createValidSettings() *Settings {
	return &Settings{
		DataPath:    "data",
		DatasetName: "training-set-dashboard",
		ModelName:   "classifierMLP",
		LabelKind:   "text",
		CacheSize:   256,
		Model: ModelConfig{
			Kind:         "mlp",
			HiddenLayers: []int{64, 32},
			Epochs:       20,
			LearningRate: 0.05,
			BatchSize:    16,
			K:            3,
			Lambda:       1,
			Seed:         42,
		},
		Extractor: ExtractorConfig{
			Kind:    "pixels",
			Timeout: 5 * time.Second,
			Grid:    16,
			Bins:    8,
		},
		ThrottleInterval: 500 * time.Millisecond,
		ThumbnailSize:    64,
		FrameBuffer:      4,
		DiscardStale:     true,
		Port:             3000,
		MetricsPort:      8080,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	settings := createValidSettings()
	if err := validateSettings(settings); err != nil {
		t.Errorf("expected valid settings to pass, got %v", err)
	}
}

func TestValidateSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"empty data path", func(s *Settings) { s.DataPath = "" }, "data path"},
		{"empty dataset", func(s *Settings) { s.DatasetName = "" }, "dataset name"},
		{"empty model name", func(s *Settings) { s.ModelName = "" }, "model name"},
		{"unknown label kind", func(s *Settings) { s.LabelKind = "bbox" }, "label kind"},
		{"unknown model kind", func(s *Settings) { s.Model.Kind = "svm" }, "model kind"},
		{"classifier on targets", func(s *Settings) { s.LabelKind = "target" }, "cannot train on target"},
		{"ridge on text", func(s *Settings) { s.Model.Kind = "ridge" }, "requires target"},
		{"zero hidden layer", func(s *Settings) { s.Model.HiddenLayers = []int{64, 0} }, "hidden layer"},
		{"zero epochs", func(s *Settings) { s.Model.Epochs = 0 }, "epochs"},
		{"negative learning rate", func(s *Settings) { s.Model.LearningRate = -0.1 }, "learning rate"},
		{"zero batch", func(s *Settings) { s.Model.BatchSize = 0 }, "batch size"},
		{"zero k", func(s *Settings) { s.Model.K = 0 }, "knn k"},
		{"negative lambda", func(s *Settings) { s.Model.Lambda = -1 }, "lambda"},
		{"unknown extractor", func(s *Settings) { s.Extractor.Kind = "mobilenet" }, "extractor kind"},
		{"remote without url", func(s *Settings) { s.Extractor.Kind = "remote" }, "EXTRACTOR_URL"},
		{"short extractor timeout", func(s *Settings) { s.Extractor.Timeout = time.Millisecond }, "extractor timeout"},
		{"zero grid", func(s *Settings) { s.Extractor.Grid = 0 }, "feature grid"},
		{"huge bins", func(s *Settings) { s.Extractor.Bins = 1000 }, "feature bins"},
		{"negative throttle", func(s *Settings) { s.ThrottleInterval = -time.Second }, "throttle"},
		{"tiny thumbnail", func(s *Settings) { s.ThumbnailSize = 4 }, "thumbnail"},
		{"zero frame buffer", func(s *Settings) { s.FrameBuffer = 0 }, "frame buffer"},
		{"negative cache", func(s *Settings) { s.CacheSize = -1 }, "cache size"},
		{"replay too fast", func(s *Settings) { s.ReplayDir = "frames"; s.ReplayInterval = time.Millisecond }, "replay interval"},
		{"camera over http", func(s *Settings) { s.CameraURL = "http://cam.local/stream"; s.CameraPing = 15 * time.Second }, "ws:// or wss://"},
		{"camera ping too short", func(s *Settings) { s.CameraURL = "ws://cam.local/stream"; s.CameraPing = time.Millisecond }, "camera ping"},
		{"privileged port", func(s *Settings) { s.Port = 80 }, "port must be"},
		{"metrics port out of range", func(s *Settings) { s.MetricsPort = 70000 }, "metrics port"},
		{"same ports", func(s *Settings) { s.MetricsPort = s.Port }, "must differ"},
		{"unknown log format", func(s *Settings) { s.LogFormat = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.mutate(settings)

			err := validateSettings(settings)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateSettings_Boundaries(t *testing.T) {
	settings := createValidSettings()
	settings.ThrottleInterval = 0 // disabled throttle is allowed
	settings.CacheSize = 0        // disabled cache is allowed
	settings.Model.HiddenLayers = nil
	if err := validateSettings(settings); err != nil {
		t.Errorf("expected boundary values to pass, got %v", err)
	}

	settings = createValidSettings()
	settings.Model.Kind = "ridge"
	settings.LabelKind = "target"
	settings.Model.Lambda = 0
	if err := validateSettings(settings); err != nil {
		t.Errorf("expected ridge with lambda 0 to pass, got %v", err)
	}
}
