package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ModelServer provides an HTTP API for predictions on raw feature vectors.
// The dashboard mounts its handler under /api/model; it can also run
// standalone.
type ModelServer struct {
	model   Model
	version func() string
	handler http.Handler
	server  *http.Server
}

// PredictionRequest represents the incoming prediction request
type PredictionRequest struct {
	Features  []float64 `json:"features"`
	RequestID string    `json:"request_id,omitempty"`
}

// PredictionResponse represents the prediction result
type PredictionResponse struct {
	Prediction
	RequestID    string    `json:"request_id,omitempty"`
	Model        string    `json:"model"`
	ModelVersion string    `json:"model_version,omitempty"`
	Latency      float64   `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewModelServer creates a new HTTP server for model serving. version may be
// nil.
func NewModelServer(model Model, version func() string, port int) *ModelServer {
	ms := &ModelServer{model: model, version: version}

	mux := http.NewServeMux()
	mux.HandleFunc("/predict", ms.handlePredict)
	mux.HandleFunc("/health", ms.handleHealth)
	mux.HandleFunc("/model/info", ms.handleModelInfo)
	ms.handler = mux

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return ms
}

// Handler returns the routes without a listener.
func (ms *ModelServer) Handler() http.Handler {
	return ms.handler
}

// Start begins serving HTTP requests
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) currentVersion() string {
	if ms.version == nil {
		return ""
	}
	return ms.version()
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	// Validate request
	if len(req.Features) == 0 {
		http.Error(w, "features cannot be empty", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pred, err := ms.model.Predict(ctx, req.Features)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrNotTrained):
			status = http.StatusServiceUnavailable
		case errors.Is(err, ErrDimensionMismatch):
			status = http.StatusBadRequest
		}
		log.Error().Err(err).Str("model", ms.model.Name()).Msg("prediction failed")
		http.Error(w, fmt.Sprintf("prediction failed: %v", err), status)
		return
	}

	resp := PredictionResponse{
		Prediction:   pred,
		RequestID:    req.RequestID,
		Model:        ms.model.Name(),
		ModelVersion: ms.currentVersion(),
		Latency:      float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:    time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := ms.model.Status().Get()

	status := http.StatusOK
	if !st.Status.Ready() {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(st)
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":    ms.model.Name(),
		"kind":    ms.model.Kind(),
		"task":    ms.model.Task(),
		"labels":  ms.model.Labels(),
		"status":  ms.model.Status().Get().Status,
		"version": ms.currentVersion(),
	}
	if e, ok := ms.model.(Explainable); ok {
		info["layers"] = e.Layers()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}
