package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"imlab/internal/common"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	DataPath    string
	DatasetName string
	ModelName   string
	LabelKind   string
	CacheSize   int

	Model     ModelConfig
	Extractor ExtractorConfig

	ThrottleInterval time.Duration
	ThumbnailSize    int
	FrameBuffer      int
	DiscardStale     bool

	Port        int
	MetricsPort int

	ReplayDir      string
	ReplayInterval time.Duration
	ReplayLoop     bool

	// CameraURL is a websocket that pushes encoded frames; empty disables it.
	CameraURL  string
	CameraPing time.Duration

	LogLevel  string
	LogFormat string
}

type ModelConfig struct {
	Kind         string  `yaml:"kind"`
	HiddenLayers []int   `yaml:"hiddenLayers"`
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"learningRate"`
	BatchSize    int     `yaml:"batchSize"`
	K            int     `yaml:"k"`
	Lambda       float64 `yaml:"lambda"`
	Seed         int64   `yaml:"seed"`
}

type ExtractorConfig struct {
	Kind    string        `yaml:"kind"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"-"`
	Grid    int           `yaml:"grid"`
	Bins    int           `yaml:"bins"`
}

type ConfigFile struct {
	Dataset struct {
		Name      string `yaml:"name"`
		LabelKind string `yaml:"labelKind"`
		CacheSize int    `yaml:"cacheSize"`
	} `yaml:"dataset"`

	Model struct {
		Name        string `yaml:"name"`
		ModelConfig `yaml:",inline"`
	} `yaml:"model"`

	Features struct {
		ExtractorConfig `yaml:",inline"`
		Timeout         string `yaml:"timeout"`
	} `yaml:"features"`

	Pipeline struct {
		ThrottleInterval string `yaml:"throttleInterval"`
		ThumbnailSize    int    `yaml:"thumbnailSize"`
		FrameBuffer      int    `yaml:"frameBuffer"`
		DiscardStale     *bool  `yaml:"discardStale"`
	} `yaml:"pipeline"`

	Replay struct {
		Dir      string `yaml:"dir"`
		Interval string `yaml:"interval"`
		Loop     bool   `yaml:"loop"`
	} `yaml:"replay"`

	Camera struct {
		URL  string `yaml:"url"`
		Ping string `yaml:"ping"`
	} `yaml:"camera"`

	System struct {
		DataPath    string `yaml:"dataPath"`
		Port        int    `yaml:"port"`
		MetricsPort int    `yaml:"metricsPort"`
		LogLevel    string `yaml:"logLevel"`
		LogFormat   string `yaml:"logFormat"`
	} `yaml:"system"`
}

// Load reads settings from the file named by CONFIG_FILE, with environment
// overrides, or from the environment alone. A .env file in the working
// directory is applied first when present; variables already set win.
func Load() (Settings, error) {
	_ = godotenv.Load()

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	discardStale := true
	if config.Pipeline.DiscardStale != nil {
		discardStale = *config.Pipeline.DiscardStale
	}

	settings := Settings{
		DataPath:    getEnvOrDefault(common.EnvDataPath, orString(config.System.DataPath, common.DefaultDataPath)),
		DatasetName: getEnvOrDefault(common.EnvDatasetName, orString(config.Dataset.Name, common.DefaultDatasetName)),
		ModelName:   getEnvOrDefault(common.EnvModelName, orString(config.Model.Name, common.DefaultModelName)),
		LabelKind:   getEnvOrDefault(common.EnvLabelKind, orString(config.Dataset.LabelKind, common.DefaultLabelKind)),
		CacheSize:   getIntFromEnvOrConfig(common.EnvCacheSize, config.Dataset.CacheSize, common.DefaultCacheSize),
		Model: ModelConfig{
			Kind:         getEnvOrDefault(common.EnvModelKind, orString(config.Model.Kind, common.DefaultModelKind)),
			HiddenLayers: getIntsFromEnvOrConfig(common.EnvHiddenLayers, config.Model.HiddenLayers, common.DefaultHiddenLayers),
			Epochs:       getIntFromEnvOrConfig(common.EnvEpochs, config.Model.Epochs, common.DefaultEpochs),
			LearningRate: getFloatFromEnvOrConfig(common.EnvLearningRate, config.Model.LearningRate, common.DefaultLearningRate),
			BatchSize:    getIntFromEnvOrConfig(common.EnvBatchSize, config.Model.BatchSize, common.DefaultBatchSize),
			K:            getIntFromEnvOrConfig(common.EnvKNNK, config.Model.K, common.DefaultKNNK),
			Lambda:       getFloatFromEnvOrConfig(common.EnvRidgeLambda, config.Model.Lambda, common.DefaultRidgeLambda),
			Seed:         int64(getIntFromEnvOrConfig(common.EnvSeed, int(config.Model.Seed), common.DefaultSeed)),
		},
		Extractor: ExtractorConfig{
			Kind:    getEnvOrDefault(common.EnvExtractorKind, orString(config.Features.Kind, common.DefaultExtractorKind)),
			URL:     getEnvOrDefault(common.EnvExtractorURL, config.Features.URL),
			Timeout: getDurationFromEnvOrConfig(common.EnvExtractorTimeout, config.Features.Timeout, common.DefaultExtractorTimeout),
			Grid:    getIntFromEnvOrConfig(common.EnvGrid, config.Features.Grid, common.DefaultGrid),
			Bins:    getIntFromEnvOrConfig(common.EnvBins, config.Features.Bins, common.DefaultBins),
		},
		ThrottleInterval: getDurationFromEnvOrConfig(common.EnvThrottleInterval, config.Pipeline.ThrottleInterval, common.DefaultThrottleInterval),
		ThumbnailSize:    getIntFromEnvOrConfig(common.EnvThumbnailSize, config.Pipeline.ThumbnailSize, common.DefaultThumbnailSize),
		FrameBuffer:      getIntFromEnvOrConfig(common.EnvFrameBuffer, config.Pipeline.FrameBuffer, common.DefaultFrameBuffer),
		DiscardStale:     getBoolOrDefault(common.EnvDiscardStale, discardStale),
		Port:             getIntFromEnvOrConfig(common.EnvPort, config.System.Port, common.DefaultPort),
		MetricsPort:      getIntFromEnvOrConfig(common.EnvMetricsPort, config.System.MetricsPort, common.DefaultMetricsPort),
		ReplayDir:        getEnvOrDefault(common.EnvReplayDir, config.Replay.Dir),
		ReplayInterval:   getDurationFromEnvOrConfig(common.EnvReplayInterval, config.Replay.Interval, common.DefaultReplayInterval),
		ReplayLoop:       getBoolOrDefault(common.EnvReplayLoop, config.Replay.Loop),
		CameraURL:        getEnvOrDefault(common.EnvCameraURL, config.Camera.URL),
		CameraPing:       getDurationFromEnvOrConfig(common.EnvCameraPing, config.Camera.Ping, common.DefaultCameraPing),
		LogLevel:         getEnvOrDefault(common.EnvLogLevel, orString(config.System.LogLevel, common.DefaultLogLevel)),
		LogFormat:        getEnvOrDefault(common.EnvLogFormat, orString(config.System.LogFormat, common.DefaultLogFormat)),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		DataPath:    getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		DatasetName: getEnvOrDefault(common.EnvDatasetName, common.DefaultDatasetName),
		ModelName:   getEnvOrDefault(common.EnvModelName, common.DefaultModelName),
		LabelKind:   getEnvOrDefault(common.EnvLabelKind, common.DefaultLabelKind),
		CacheSize:   getIntOrDefault(common.EnvCacheSize, common.DefaultCacheSize),
		Model: ModelConfig{
			Kind:         getEnvOrDefault(common.EnvModelKind, common.DefaultModelKind),
			HiddenLayers: getIntsOrDefault(common.EnvHiddenLayers, common.DefaultHiddenLayers),
			Epochs:       getIntOrDefault(common.EnvEpochs, common.DefaultEpochs),
			LearningRate: getFloatOrDefault(common.EnvLearningRate, common.DefaultLearningRate),
			BatchSize:    getIntOrDefault(common.EnvBatchSize, common.DefaultBatchSize),
			K:            getIntOrDefault(common.EnvKNNK, common.DefaultKNNK),
			Lambda:       getFloatOrDefault(common.EnvRidgeLambda, common.DefaultRidgeLambda),
			Seed:         int64(getIntOrDefault(common.EnvSeed, common.DefaultSeed)),
		},
		Extractor: ExtractorConfig{
			Kind:    getEnvOrDefault(common.EnvExtractorKind, common.DefaultExtractorKind),
			URL:     os.Getenv(common.EnvExtractorURL),
			Timeout: getDurationOrDefault(common.EnvExtractorTimeout, mustDuration(common.DefaultExtractorTimeout)),
			Grid:    getIntOrDefault(common.EnvGrid, common.DefaultGrid),
			Bins:    getIntOrDefault(common.EnvBins, common.DefaultBins),
		},
		ThrottleInterval: getDurationOrDefault(common.EnvThrottleInterval, mustDuration(common.DefaultThrottleInterval)),
		ThumbnailSize:    getIntOrDefault(common.EnvThumbnailSize, common.DefaultThumbnailSize),
		FrameBuffer:      getIntOrDefault(common.EnvFrameBuffer, common.DefaultFrameBuffer),
		DiscardStale:     getBoolOrDefault(common.EnvDiscardStale, true),
		Port:             getIntOrDefault(common.EnvPort, common.DefaultPort),
		MetricsPort:      getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		ReplayDir:        os.Getenv(common.EnvReplayDir), // optional
		ReplayInterval:   getDurationOrDefault(common.EnvReplayInterval, mustDuration(common.DefaultReplayInterval)),
		ReplayLoop:       getBoolOrDefault(common.EnvReplayLoop, false),
		CameraURL:        os.Getenv(common.EnvCameraURL),
		CameraPing:       getDurationOrDefault(common.EnvCameraPing, mustDuration(common.DefaultCameraPing)),
		LogLevel:         getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFormat:        getEnvOrDefault(common.EnvLogFormat, common.DefaultLogFormat),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntsOrDefault(key string, defaultValue []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return append([]int(nil), defaultValue...)
	}
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return append([]int(nil), defaultValue...)
		}
		out = append(out, i)
	}
	return out
}

func getIntsFromEnvOrConfig(key string, configValue, defaultValue []int) []int {
	if len(configValue) > 0 {
		defaultValue = configValue
	}
	return getIntsOrDefault(key, defaultValue)
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if configValue != 0 {
		defaultValue = configValue
	}
	return getIntOrDefault(key, defaultValue)
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if configValue != 0 {
		defaultValue = configValue
	}
	return getFloatOrDefault(key, defaultValue)
}

func getDurationFromEnvOrConfig(key, configValue, defaultValue string) time.Duration {
	d := mustDuration(defaultValue)
	if configValue != "" {
		if parsed, err := time.ParseDuration(configValue); err == nil {
			d = parsed
		}
	}
	return getDurationOrDefault(key, d)
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.DatasetName == "" {
		return fmt.Errorf("dataset name cannot be empty")
	}
	if settings.ModelName == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	switch settings.LabelKind {
	case "text", "index", "target":
	default:
		return fmt.Errorf("label kind must be one of text, index, target, got %q", settings.LabelKind)
	}

	// Model
	switch settings.Model.Kind {
	case common.ModelMLP, common.ModelKNN:
		if settings.LabelKind == "target" {
			return fmt.Errorf("model kind %s is a classifier and cannot train on target labels", settings.Model.Kind)
		}
	case common.ModelRidge:
		if settings.LabelKind != "target" {
			return fmt.Errorf("model kind ridge requires target labels, got %q", settings.LabelKind)
		}
	default:
		return fmt.Errorf("model kind must be one of mlp, knn, ridge, got %q", settings.Model.Kind)
	}
	for _, h := range settings.Model.HiddenLayers {
		if h <= 0 || h > 4096 {
			return fmt.Errorf("hidden layer sizes must be between 1 and 4096, got %v", settings.Model.HiddenLayers)
		}
	}
	if settings.Model.Epochs <= 0 || settings.Model.Epochs > 10000 {
		return fmt.Errorf("epochs must be between 1 and 10000, got %d", settings.Model.Epochs)
	}
	if settings.Model.LearningRate <= 0 || settings.Model.LearningRate > 10 {
		return fmt.Errorf("learning rate must be between 0 and 10, got %f", settings.Model.LearningRate)
	}
	if settings.Model.BatchSize <= 0 || settings.Model.BatchSize > 4096 {
		return fmt.Errorf("batch size must be between 1 and 4096, got %d", settings.Model.BatchSize)
	}
	if settings.Model.K <= 0 || settings.Model.K > 100 {
		return fmt.Errorf("knn k must be between 1 and 100, got %d", settings.Model.K)
	}
	if settings.Model.Lambda < 0 {
		return fmt.Errorf("ridge lambda cannot be negative, got %f", settings.Model.Lambda)
	}

	// Feature extractor
	switch settings.Extractor.Kind {
	case "pixels", "histogram", "raw":
	case "remote":
		if settings.Extractor.URL == "" {
			return fmt.Errorf("remote extractor requires %s", common.EnvExtractorURL)
		}
	default:
		return fmt.Errorf("extractor kind must be one of pixels, histogram, raw, remote, got %q", settings.Extractor.Kind)
	}
	if settings.Extractor.Timeout < 100*time.Millisecond || settings.Extractor.Timeout > time.Minute {
		return fmt.Errorf("extractor timeout must be between 100ms and 1m, got %v", settings.Extractor.Timeout)
	}
	if settings.Extractor.Grid <= 0 || settings.Extractor.Grid > 256 {
		return fmt.Errorf("feature grid must be between 1 and 256, got %d", settings.Extractor.Grid)
	}
	if settings.Extractor.Bins <= 0 || settings.Extractor.Bins > 256 {
		return fmt.Errorf("feature bins must be between 1 and 256, got %d", settings.Extractor.Bins)
	}

	// Pipeline
	if settings.ThrottleInterval < 0 || settings.ThrottleInterval > time.Minute {
		return fmt.Errorf("throttle interval must be between 0 and 1m, got %v", settings.ThrottleInterval)
	}
	if settings.ThumbnailSize < 8 || settings.ThumbnailSize > 512 {
		return fmt.Errorf("thumbnail size must be between 8 and 512, got %d", settings.ThumbnailSize)
	}
	if settings.FrameBuffer <= 0 || settings.FrameBuffer > 1024 {
		return fmt.Errorf("frame buffer must be between 1 and 1024, got %d", settings.FrameBuffer)
	}
	if settings.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative, got %d", settings.CacheSize)
	}
	if settings.ReplayDir != "" && (settings.ReplayInterval < 10*time.Millisecond || settings.ReplayInterval > time.Minute) {
		return fmt.Errorf("replay interval must be between 10ms and 1m, got %v", settings.ReplayInterval)
	}
	if settings.CameraURL != "" {
		if !strings.HasPrefix(settings.CameraURL, "ws://") && !strings.HasPrefix(settings.CameraURL, "wss://") {
			return fmt.Errorf("camera URL must be a ws:// or wss:// URL, got %q", settings.CameraURL)
		}
		if settings.CameraPing < time.Second || settings.CameraPing > time.Minute {
			return fmt.Errorf("camera ping must be between 1s and 1m, got %v", settings.CameraPing)
		}
	}

	// Ports
	if settings.Port < 1024 || settings.Port > 65535 {
		return fmt.Errorf("port must be between 1024 and 65535, got %d", settings.Port)
	}
	if settings.MetricsPort < 1024 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.Port == settings.MetricsPort {
		return fmt.Errorf("port and metrics port must differ, both are %d", settings.Port)
	}

	switch settings.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json, got %q", settings.LogFormat)
	}

	return nil
}
