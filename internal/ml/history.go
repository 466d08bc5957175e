package ml

import (
	"sync"
	"time"
)

// EpochRecord is one finished epoch of a training run.
type EpochRecord struct {
	Epoch    int       `json:"epoch"`
	Loss     float64   `json:"loss"`
	Accuracy float64   `json:"accuracy"`
	Time     time.Time `json:"time"`
}

// TrainingHistory is the loss and accuracy curve of the latest run.
type TrainingHistory struct {
	Model   string        `json:"model"`
	Run     int           `json:"run"`
	Status  Status        `json:"status"`
	Epochs  int           `json:"epochs"`
	Records []EpochRecord `json:"records"`
	Error   string        `json:"error,omitempty"`
}

// History follows a model's status stream and keeps the epochs of its latest
// training run, so clients that connect late can still draw the curve. A new
// run starts when the model reports training without an epoch.
type History struct {
	model string

	mu      sync.RWMutex
	current TrainingHistory

	unsubscribe func()
}

func NewHistory(model Model) *History {
	h := &History{model: model.Name()}
	h.current = TrainingHistory{Model: h.model, Status: model.Status().Get().Status, Records: []EpochRecord{}}
	h.unsubscribe = model.Status().Subscribe(h.observe)
	return h
}

func (h *History) observe(ts TrainingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ts.Status == StatusTraining && ts.Epoch == 0 {
		h.current = TrainingHistory{
			Model:   h.model,
			Run:     h.current.Run + 1,
			Status:  StatusTraining,
			Epochs:  ts.Epochs,
			Records: []EpochRecord{},
		}
		return
	}

	h.current.Status = ts.Status
	h.current.Error = ts.Error
	if ts.Epochs > 0 {
		h.current.Epochs = ts.Epochs
	}
	n := len(h.current.Records)
	if ts.Epoch > 0 && (n == 0 || ts.Epoch > h.current.Records[n-1].Epoch) {
		h.current.Records = append(h.current.Records, EpochRecord{
			Epoch:    ts.Epoch,
			Loss:     ts.Loss,
			Accuracy: ts.Accuracy,
			Time:     ts.Time,
		})
	}
}

// Snapshot returns a copy of the latest run.
func (h *History) Snapshot() TrainingHistory {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := h.current
	out.Records = append([]EpochRecord{}, h.current.Records...)
	return out
}

// Close stops following the model.
func (h *History) Close() {
	h.unsubscribe()
}
