package common

// Environment variable keys
const (
	EnvConfigFile       = "CONFIG_FILE"
	EnvDataPath         = "DATA_PATH"
	EnvDatasetName      = "DATASET_NAME"
	EnvModelName        = "MODEL_NAME"
	EnvModelKind        = "MODEL_KIND"
	EnvHiddenLayers     = "HIDDEN_LAYERS"
	EnvEpochs           = "EPOCHS"
	EnvLearningRate     = "LEARNING_RATE"
	EnvBatchSize        = "BATCH_SIZE"
	EnvKNNK             = "KNN_K"
	EnvRidgeLambda      = "RIDGE_LAMBDA"
	EnvSeed             = "SEED"
	EnvExtractorKind    = "EXTRACTOR_KIND"
	EnvExtractorURL     = "EXTRACTOR_URL"
	EnvExtractorTimeout = "EXTRACTOR_TIMEOUT"
	EnvGrid             = "FEATURE_GRID"
	EnvBins             = "FEATURE_BINS"
	EnvThrottleInterval = "THROTTLE_INTERVAL"
	EnvThumbnailSize    = "THUMBNAIL_SIZE"
	EnvLabelKind        = "LABEL_KIND"
	EnvDiscardStale     = "DISCARD_STALE"
	EnvPort             = "PORT"
	EnvMetricsPort      = "METRICS_PORT"
	EnvCacheSize        = "CACHE_SIZE"
	EnvFrameBuffer      = "FRAME_BUFFER"
	EnvReplayDir        = "REPLAY_DIR"
	EnvReplayInterval   = "REPLAY_INTERVAL"
	EnvReplayLoop       = "REPLAY_LOOP"
	EnvCameraURL        = "CAMERA_URL"
	EnvCameraPing       = "CAMERA_PING"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
)

// Configuration defaults
const (
	DefaultDataPath         = "data"
	DefaultDatasetName      = "training-set-dashboard"
	DefaultModelName        = "classifierMLP"
	DefaultModelKind        = "mlp"
	DefaultEpochs           = 20
	DefaultLearningRate     = 0.05
	DefaultBatchSize        = 16
	DefaultKNNK             = 3
	DefaultRidgeLambda      = 1.0
	DefaultSeed             = 42
	DefaultExtractorKind    = "pixels"
	DefaultGrid             = 16
	DefaultBins             = 8
	DefaultThumbnailSize    = 64
	DefaultLabelKind        = "text"
	DefaultPort             = 3000
	DefaultMetricsPort      = 8080
	DefaultCacheSize        = 256
	DefaultFrameBuffer      = 4
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "console"
	DefaultExtractorTimeout = "5s"
	DefaultThrottleInterval = "500ms"
	DefaultReplayInterval   = "200ms"
	DefaultCameraPing       = "15s"
)

// DefaultHiddenLayers is the MLP topology used when none is configured.
var DefaultHiddenLayers = []int{64, 32}

// Model kinds
const (
	ModelMLP   = "mlp"
	ModelKNN   = "knn"
	ModelRidge = "ridge"
)

// Dashboard pages, in navigation order.
const (
	PageDataManagement     = "Data Management"
	PageTraining           = "Training"
	PageInspectPredictions = "Inspect Predictions"
)

// Websocket event types pushed to the browser.
const (
	EventPrediction  = "prediction"
	EventExplanation = "explanation"
	EventStatus      = "status"
	EventOptions     = "options"
	EventDataset     = "dataset"
	EventInstance    = "instance"
	EventCapture     = "capture"
)
