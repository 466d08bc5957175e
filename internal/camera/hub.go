package camera

import (
	"sync"
	"sync/atomic"

	"imlab/internal/stream"

	"github.com/rs/zerolog/log"
)

// MetricsInterface is the subset of metrics the hub reports to.
type MetricsInterface interface {
	FramesReceivedInc()
	FramesDroppedInc()
}

// Hub distributes frames from one camera to any number of subscribers.
type Hub struct {
	name    string
	seq     atomic.Uint64
	active  *stream.Value[bool]
	thumbs  *stream.Value[string]
	metrics MetricsInterface

	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool
}

type subscriber struct {
	ch    chan *Frame
	drops atomic.Uint64
}

// SubscriberStats describes one subscriber's mailbox.
type SubscriberStats struct {
	ID      string `json:"id"`
	Pending int    `json:"pending"`
	Drops   uint64 `json:"drops"`
}

// NewHub creates an active hub. metrics may be nil.
func NewHub(name string, metrics MetricsInterface) *Hub {
	return &Hub{
		name:    name,
		active:  stream.NewValue(true),
		thumbs:  stream.NewValue(""),
		metrics: metrics,
		subs:    make(map[string]*subscriber),
	}
}

// Name returns the camera name.
func (h *Hub) Name() string { return h.name }

// Active is the camera activation flag. Frames published while inactive are
// discarded.
func (h *Hub) Active() *stream.Value[bool] { return h.active }

// Thumbnails holds the thumbnail of the most recent frame.
func (h *Hub) Thumbnails() *stream.Value[string] { return h.thumbs }

// Publish assigns the frame its sequence number and offers it to every
// subscriber without blocking. Returns false if the frame was discarded
// because the camera is inactive or the hub is closed.
func (h *Hub) Publish(f *Frame) bool {
	if f == nil || !h.active.Get() {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return false
	}

	f.Seq = h.seq.Add(1)
	if h.metrics != nil {
		h.metrics.FramesReceivedInc()
	}
	if f.Thumbnail != "" {
		h.thumbs.Set(f.Thumbnail)
	}

	for id, s := range h.subs {
		select {
		case s.ch <- f:
		default:
			s.drops.Add(1)
			if h.metrics != nil {
				h.metrics.FramesDroppedInc()
			}
			log.Debug().Str("camera", h.name).Str("subscriber", id).Uint64("seq", f.Seq).Msg("subscriber mailbox full, frame dropped")
		}
	}
	return true
}

// Subscribe registers a subscriber with a mailbox of buf frames (minimum 1).
// Subscribing twice with the same id replaces the previous mailbox.
func (h *Hub) Subscribe(id string, buf int) <-chan *Frame {
	if buf < 1 {
		buf = 1
	}
	s := &subscriber{ch: make(chan *Frame, buf)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s.ch
	}
	if old, ok := h.subs[id]; ok {
		close(old.ch)
	}
	h.subs[id] = s
	return s.ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are
// ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		close(s.ch)
		delete(h.subs, id)
	}
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
}

// Stats returns a snapshot of subscriber mailboxes.
func (h *Hub) Stats() []SubscriberStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SubscriberStats, 0, len(h.subs))
	for id, s := range h.subs {
		out = append(out, SubscriberStats{ID: id, Pending: len(s.ch), Drops: s.drops.Load()})
	}
	return out
}

// LastSeq returns the sequence number of the last published frame.
func (h *Hub) LastSeq() uint64 { return h.seq.Load() }
