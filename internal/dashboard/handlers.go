package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"imlab/internal/camera"
	"imlab/internal/common"
	"imlab/internal/ml"
	"imlab/internal/storage"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const maxFrameBytes = 8 << 20

// Pages lists the dashboard pages in navigation order.
var Pages = []string{common.PageDataManagement, common.PageTraining, common.PageInspectPredictions}

// Status is the snapshot served by /api/status and sent to new websocket
// clients.
type Status struct {
	Dataset      string            `json:"dataset"`
	Instances    int               `json:"instances"`
	Model        string            `json:"model"`
	Kind         string            `json:"kind"`
	ModelVersion string            `json:"model_version,omitempty"`
	Training     ml.TrainingStatus `json:"training"`
	CameraActive bool              `json:"camera_active"`
	Pressed      bool              `json:"pressed"`
	Label        storage.Label     `json:"label"`
	Options      []string          `json:"options"`
	Class        string            `json:"class,omitempty"`
	LastFrame    uint64            `json:"last_frame"`
}

func (d *Dashboard) status() Status {
	s := d.session
	n, err := s.Dataset().Count()
	if err != nil {
		log.Warn().Err(err).Str("dataset", s.Dataset().Name()).Msg("Failed to count instances")
	}
	return Status{
		Dataset:      s.Dataset().Name(),
		Instances:    n,
		Model:        s.Model().Name(),
		Kind:         s.Model().Kind(),
		ModelVersion: s.ModelVersion(),
		Training:     s.Model().Status().Get(),
		CameraActive: s.Hub().Active().Get(),
		Pressed:      s.Pressed().Get(),
		Label:        s.Label().Get(),
		Options:      s.Options().Get(),
		Class:        s.Predictor().Class().Get(),
		LastFrame:    s.Hub().LastSeq(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (d *Dashboard) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"model":     d.session.Model().Status().Get().Status,
		"timestamp": time.Now(),
	})
}

func (d *Dashboard) handlePages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Pages)
}

func (d *Dashboard) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.status())
}

// readImage accepts either a raw encoded image or a JSON body
// {"image": "data:image/...;base64,..."} as sent by the browser canvas.
func readImage(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return body, nil
	}

	var req struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return camera.DecodeDataURL(req.Image)
}

func (d *Dashboard) decodeFrame(w http.ResponseWriter, r *http.Request) (*camera.Frame, bool) {
	data, err := readImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	f, err := camera.Decode(data, d.thumbSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return f, true
}

// handleFrame publishes one webcam frame to the camera hub.
func (d *Dashboard) handleFrame(w http.ResponseWriter, r *http.Request) {
	f, ok := d.decodeFrame(w, r)
	if !ok {
		return
	}
	if !d.session.Hub().Publish(f) {
		writeError(w, http.StatusConflict, "camera is not active")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"seq": f.Seq})
}

func (d *Dashboard) handleCamera(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d.session.Hub().Active().Set(req.Active)
	writeJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

// handleCapture sets the hold-to-record state.
func (d *Dashboard) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pressed bool `json:"pressed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d.session.Pressed().Set(req.Pressed)
	writeJSON(w, http.StatusOK, map[string]bool{"pressed": req.Pressed})
}

func (d *Dashboard) handleLabel(w http.ResponseWriter, r *http.Request) {
	var label storage.Label
	if err := json.NewDecoder(r.Body).Decode(&label); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch label.Kind {
	case storage.LabelText, storage.LabelIndex, storage.LabelTarget:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown label kind %q", label.Kind))
		return
	}
	d.session.Label().Set(label)
	writeJSON(w, http.StatusOK, label)
}

func (d *Dashboard) handleTrain(w http.ResponseWriter, r *http.Request) {
	err := d.session.Train(r.Context())
	switch {
	case errors.Is(err, ml.ErrTrainingInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		d.countError()
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, d.session.Model().Status().Get())
	}
}

// paramsResponse is served by both /api/model/params methods.
type paramsResponse struct {
	Model    string    `json:"model"`
	Kind     string    `json:"kind"`
	Training bool      `json:"training"`
	Params   ml.Params `json:"params"`
}

func (d *Dashboard) writeParams(w http.ResponseWriter) {
	p, err := d.session.Params()
	if err != nil {
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, paramsResponse{
		Model:    d.session.Model().Name(),
		Kind:     d.session.Model().Kind(),
		Training: d.session.Trainer().IsTraining(),
		Params:   p,
	})
}

func (d *Dashboard) handleGetParams(w http.ResponseWriter, r *http.Request) {
	d.writeParams(w)
}

// handlePutParams edits the parameters of the next training run.
func (d *Dashboard) handlePutParams(w http.ResponseWriter, r *http.Request) {
	var p ml.Params
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := d.session.SetParams(p)
	switch {
	case errors.Is(err, ml.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ml.ErrNotTunable):
		writeError(w, http.StatusNotImplemented, err.Error())
	case err != nil:
		d.countError()
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		d.writeParams(w)
	}
}

func (d *Dashboard) handleTrainingHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.session.TrainingHistory())
}

// handleSelection forwards the dataset table selection. Only single-row
// selections reach the predictor.
func (d *Dashboard) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := d.session.Select(r.Context(), req.IDs); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"selected": len(req.IDs)})
}

// handleClass sets the class of interest for explanations.
func (d *Dashboard) handleClass(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Class string `json:"class"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	options := d.session.Options().Get()
	if len(options) == 0 || !slices.Contains(options, req.Class) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("class %q is not one of %v", req.Class, options))
		return
	}
	d.session.Predictor().Class().Set(req.Class)
	writeJSON(w, http.StatusOK, map[string]string{"class": req.Class})
}

// handlePredict predicts one uploaded image synchronously.
func (d *Dashboard) handlePredict(w http.ResponseWriter, r *http.Request) {
	f, ok := d.decodeFrame(w, r)
	if !ok {
		return
	}
	pred, err := d.session.Predict(r.Context(), f)
	switch {
	case errors.Is(err, ml.ErrNotTrained):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		d.countError()
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, pred)
	}
}

// dataset resolves the {name} route variable. Only the session's dataset is
// served.
func (d *Dashboard) dataset(w http.ResponseWriter, r *http.Request) (*storage.Dataset, bool) {
	name := mux.Vars(r)["name"]
	ds := d.session.Dataset()
	if name != ds.Name() {
		writeError(w, http.StatusNotFound, fmt.Sprintf("dataset %q not found", name))
		return nil, false
	}
	return ds, true
}

// instanceRow is the table view of an instance; feature vectors stay server
// side.
type instanceRow struct {
	ID        string        `json:"id"`
	Label     storage.Label `json:"label"`
	Class     string        `json:"class"`
	Thumbnail string        `json:"thumbnail"`
	CreatedAt time.Time     `json:"created_at"`
}

func toRow(inst storage.Instance) instanceRow {
	return instanceRow{
		ID:        inst.ID,
		Label:     inst.Y,
		Class:     inst.Y.Class(),
		Thumbnail: inst.Thumbnail,
		CreatedAt: inst.CreatedAt,
	}
}

func (d *Dashboard) handleListInstances(w http.ResponseWriter, r *http.Request) {
	ds, ok := d.dataset(w, r)
	if !ok {
		return
	}
	items, err := ds.Items(r.Context())
	if err != nil {
		d.countError()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rows := make([]instanceRow, 0, len(items))
	for _, inst := range items {
		rows = append(rows, toRow(inst))
	}
	writeJSON(w, http.StatusOK, rows)
}

func (d *Dashboard) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	ds, ok := d.dataset(w, r)
	if !ok {
		return
	}
	inst, err := ds.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		d.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRow(inst))
}

func (d *Dashboard) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	ds, ok := d.dataset(w, r)
	if !ok {
		return
	}
	if err := ds.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		d.storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dashboard) handleClearInstances(w http.ResponseWriter, r *http.Request) {
	ds, ok := d.dataset(w, r)
	if !ok {
		return
	}
	if err := ds.Clear(r.Context()); err != nil {
		d.storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dashboard) handleExport(w http.ResponseWriter, r *http.Request) {
	ds, ok := d.dataset(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ds.Name()+".csv"))
	if err := ds.ExportCSV(r.Context(), w); err != nil {
		d.countError()
		log.Error().Err(err).Str("dataset", ds.Name()).Msg("Failed to export dataset")
	}
}

func (d *Dashboard) storageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	d.countError()
	writeError(w, http.StatusInternalServerError, err.Error())
}
