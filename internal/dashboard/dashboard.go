// Package dashboard serves the browser front end of a pipeline session.
//
// The browser is a thin client: it uploads webcam frames and user input over
// a REST API and receives every pipeline result (predictions, explanations,
// training status, label options, dataset changes) as events on a websocket.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"imlab/internal/common"
	"imlab/internal/metrics"
	"imlab/internal/ml"
	"imlab/internal/pipeline"
	"imlab/internal/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event is one websocket message.
type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Dashboard serves pages, the REST API and the event websocket for one
// session.
type Dashboard struct {
	session        *pipeline.Session
	metricsWrapper *metrics.MetricsWrapper
	thumbSize      int

	router           *mux.Router
	server           *http.Server
	upgrader         websocket.Upgrader
	clients          map[*client]bool
	clientsMu        sync.RWMutex
	broadcastChannel chan Event
	stopChannel      chan struct{}
	unsubscribe      []func()
	isRunning        bool
	mu               sync.RWMutex
}

// NewDashboard creates a dashboard for session listening on port.
// metricsWrapper may be nil.
func NewDashboard(session *pipeline.Session, metricsWrapper *metrics.MetricsWrapper, port, thumbSize int) *Dashboard {
	d := &Dashboard{
		session:          session,
		metricsWrapper:   metricsWrapper,
		thumbSize:        thumbSize,
		upgrader:         websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:          make(map[*client]bool),
		broadcastChannel: make(chan Event, 100),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", d.handlePage).Methods("GET")
	r.HandleFunc("/health", d.handleHealth).Methods("GET")
	r.HandleFunc("/ws", d.handleWebSocket).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pages", d.handlePages).Methods("GET")
	api.HandleFunc("/frames", d.handleFrame).Methods("POST")
	api.HandleFunc("/camera", d.handleCamera).Methods("PUT")
	api.HandleFunc("/capture", d.handleCapture).Methods("PUT")
	api.HandleFunc("/label", d.handleLabel).Methods("PUT")
	api.HandleFunc("/train", d.handleTrain).Methods("POST")
	api.HandleFunc("/status", d.handleStatus).Methods("GET")
	api.HandleFunc("/selection", d.handleSelection).Methods("PUT")
	api.HandleFunc("/class", d.handleClass).Methods("PUT")
	api.HandleFunc("/predict", d.handlePredict).Methods("POST")
	api.HandleFunc("/datasets/{name}/instances", d.handleListInstances).Methods("GET")
	api.HandleFunc("/datasets/{name}/instances", d.handleClearInstances).Methods("DELETE")
	api.HandleFunc("/datasets/{name}/instances/{id}", d.handleGetInstance).Methods("GET")
	api.HandleFunc("/datasets/{name}/instances/{id}", d.handleDeleteInstance).Methods("DELETE")
	api.HandleFunc("/datasets/{name}/export", d.handleExport).Methods("GET")

	api.HandleFunc("/training/history", d.handleTrainingHistory).Methods("GET")
	api.HandleFunc("/model/params", d.handleGetParams).Methods("GET")
	api.HandleFunc("/model/params", d.handlePutParams).Methods("PUT")

	modelServer := ml.NewModelServer(session.Model(), session.ModelVersion, port)
	api.PathPrefix("/model/").Handler(http.StripPrefix("/api/model", modelServer.Handler()))

	d.router = r
	d.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return d
}

// Handler returns the routes without a listener.
func (d *Dashboard) Handler() http.Handler {
	return d.router
}

// Start subscribes to the session's streams and, if listen is true, starts
// the HTTP server.
func (d *Dashboard) Start(listen bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("dashboard is already running")
	}

	d.stopChannel = make(chan struct{})
	d.subscribe()
	go d.clientBroadcaster()

	if listen {
		go func() {
			log.Info().Str("address", d.server.Addr).Msg("Starting dashboard server")
			if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Dashboard server failed")
			}
		}()
	}

	d.isRunning = true
	log.Info().Msg("Dashboard started")
	return nil
}

// Stop closes every websocket and shuts the server down.
func (d *Dashboard) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isRunning {
		return nil
	}

	for _, unsub := range d.unsubscribe {
		unsub()
	}
	d.unsubscribe = nil
	close(d.stopChannel)

	d.clientsMu.Lock()
	for c := range d.clients {
		c.conn.Close()
	}
	d.clients = make(map[*client]bool)
	d.clientsMu.Unlock()
	d.setClientGauge(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown dashboard server")
		return err
	}

	d.isRunning = false
	log.Info().Msg("Dashboard stopped")
	return nil
}

// subscribe turns every session stream the browser displays into events.
func (d *Dashboard) subscribe() {
	s := d.session
	p := s.Predictor()
	d.unsubscribe = append(d.unsubscribe,
		p.Predictions().Subscribe(func(r pipeline.PredictionResult) {
			d.publish(common.EventPrediction, r)
		}),
		p.Explanations().Subscribe(func(r pipeline.ExplanationResult) {
			d.publish(common.EventExplanation, r)
		}),
		p.Current().Subscribe(func(inst pipeline.Instance) {
			d.publish(common.EventInstance, inst)
		}),
		p.Class().Subscribe(func(class string) {
			d.publish(common.EventOptions, map[string]interface{}{"options": s.Options().Get(), "selected": class})
		}),
		s.Options().Subscribe(func(options []string) {
			d.publish(common.EventOptions, map[string]interface{}{"options": options, "selected": p.Class().Get()})
		}),
		s.Model().Status().Subscribe(func(ts ml.TrainingStatus) {
			d.publish(common.EventStatus, ts)
		}),
		s.Dataset().Changes().Subscribe(func(c storage.Change) {
			d.publish(common.EventDataset, c)
		}),
		s.Pressed().Subscribe(func(pressed bool) {
			d.publish(common.EventCapture, map[string]bool{"pressed": pressed})
		}),
	)
}

// publish queues an event for broadcast. Subscribers call it synchronously,
// so it never blocks: a full queue drops the event.
func (d *Dashboard) publish(kind string, payload interface{}) {
	select {
	case d.broadcastChannel <- Event{Type: kind, Payload: payload, Timestamp: time.Now()}:
	default:
		log.Debug().Str("type", kind).Msg("Event queue full, event dropped")
	}
}

func (d *Dashboard) clientBroadcaster() {
	for {
		select {
		case evt := <-d.broadcastChannel:
			d.broadcastToClients(evt)
		case <-d.stopChannel:
			return
		}
	}
}

func (d *Dashboard) broadcastToClients(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("type", evt.Type).Msg("Failed to marshal event for broadcast")
		return
	}

	d.clientsMu.RLock()
	clients := make([]*client, 0, len(d.clients))
	for c := range d.clients {
		clients = append(clients, c)
	}
	d.clientsMu.RUnlock()

	for _, c := range clients {
		if err := c.send(data); err != nil {
			log.Warn().Err(err).Msg("Failed to send event to websocket client")
			d.removeClient(c)
		}
	}
}

func (d *Dashboard) removeClient(c *client) {
	d.clientsMu.Lock()
	if _, ok := d.clients[c]; ok {
		delete(d.clients, c)
		c.conn.Close()
	}
	n := len(d.clients)
	d.clientsMu.Unlock()
	d.setClientGauge(n)
}

func (d *Dashboard) setClientGauge(n int) {
	if d.metricsWrapper != nil {
		d.metricsWrapper.WSClients().Set(float64(n))
	}
}

func (d *Dashboard) countError() {
	if d.metricsWrapper != nil {
		d.metricsWrapper.ErrorsTotal().Inc()
	}
}

// handleWebSocket registers a client and sends it the current state.
func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}
	c := &client{conn: conn}

	d.clientsMu.Lock()
	d.clients[c] = true
	n := len(d.clients)
	d.clientsMu.Unlock()
	d.setClientGauge(n)

	if data, err := json.Marshal(Event{Type: common.EventStatus, Payload: d.status(), Timestamp: time.Now()}); err == nil {
		c.send(data)
	}

	// the browser only sends keep-alives; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	d.removeClient(c)
}
