package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/vacdash/internal/gauge"
	"github.com/shaunagostinho/vacdash/internal/instrument"
	"github.com/shaunagostinho/vacdash/internal/ionpump"
	"github.com/shaunagostinho/vacdash/internal/logger"
	"github.com/shaunagostinho/vacdash/internal/metrics"
)

// Publisher receives every successful reading. store.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, device string, reading any) error
}

// Devices holds the open instrument drivers. Either may be nil.
type Devices struct {
	Gauge   *gauge.Hornet
	IonPump *ionpump.NEXTorr
}

// Server polls the instruments and broadcasts readings to WebSocket clients.
//
// Each driver is guarded by its own mutex: the poll loop and the control API
// share one half-duplex link per device and must never interleave.
type Server struct {
	cfg     *Config
	webFS   fs.FS
	logger  *logger.Logger
	metrics *metrics.Collector
	pub     Publisher

	gauge   *gauge.Hornet
	gaugeMu sync.Mutex
	pump    *ionpump.NEXTorr
	pumpMu  sync.Mutex

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	latestMu sync.RWMutex
	latest   Frame
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Gauge       *gauge.Reading          `json:"gauge,omitempty"`
	IonPump     *ionpump.Reading        `json:"ionpump,omitempty"`
	Diagnostics []instrument.Diagnostic `json:"diagnostics,omitempty"`
	Errors      map[string]string       `json:"errors,omitempty"` // device -> poll error
	Stamp       int64                   `json:"stamp"`            // Unix ms
}

// New creates a new Server. m and pub may be nil.
func New(cfg *Config, dev Devices, m *metrics.Collector, pub Publisher, webFS fs.FS) *Server {
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		cfg:     cfg,
		webFS:   webFS,
		metrics: m,
		pub:     pub,
		gauge:   dev.Gauge,
		pump:    dev.IonPump,
		logger:  logger.New(cfg.Logging),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", s.metrics.Handler())

	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/status", s.handleStatus)

	mux.HandleFunc("/api/pump/voltage", s.handleSetVoltage)
	mux.HandleFunc("/api/pump/on", s.pumpCommand((*ionpump.NEXTorr).PumpOn))
	mux.HandleFunc("/api/pump/off", s.pumpCommand((*ionpump.NEXTorr).PumpOff))
	mux.HandleFunc("/api/neg/on", s.pumpCommand((*ionpump.NEXTorr).NEGOn))
	mux.HandleFunc("/api/neg/off", s.pumpCommand((*ionpump.NEXTorr).NEGOff))
	mux.HandleFunc("/api/neg/mode", s.handleActivationMode)
	return mux
}

// Run starts the HTTP server and the poll loop.
func (s *Server) Run(ctx context.Context) error {
	go s.pollLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Send the latest snapshot straight away
	if latest := s.Latest(); latest.Stamp != 0 {
		if data, err := json.Marshal(latest); err == nil {
			client.send <- data
		}
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive; clients send nothing we act on)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.SetEnabled(s.cfg.Logging.Enabled)
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type deviceStatus struct {
	Name        string                  `json:"name"`
	Version     string                  `json:"version,omitempty"`
	Diagnostics []instrument.Diagnostic `json:"diagnostics,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

type statusResponse struct {
	Gauge   *deviceStatus `json:"gauge,omitempty"`
	IonPump *deviceStatus `json:"ionpump,omitempty"`
	Logging bool          `json:"logging"`
	Latest  Frame         `json:"latest"`
}

// handleStatus reads both version strings live and returns them with the
// latest snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{Logging: s.logger.IsEnabled(), Latest: s.Latest()}

	if s.gauge != nil {
		s.gaugeMu.Lock()
		res, err := s.gauge.SelfTest()
		s.gaugeMu.Unlock()
		resp.Gauge = newDeviceStatus(s.gauge.Name(), res, err)
	}
	if s.pump != nil {
		s.pumpMu.Lock()
		res, err := s.pump.SelfTest()
		s.pumpMu.Unlock()
		resp.IonPump = newDeviceStatus(s.pump.Name(), res, err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func newDeviceStatus(name string, res instrument.Result[string], err error) *deviceStatus {
	st := &deviceStatus{Name: name, Version: res.Value, Diagnostics: res.Diagnostics}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

type commandResponse struct {
	Status      string                  `json:"status"`
	Reply       string                  `json:"reply"`
	Diagnostics []instrument.Diagnostic `json:"diagnostics,omitempty"`
}

func (s *Server) handleSetVoltage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volts int `json:"volts"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	s.runPump(w, func(p *ionpump.NEXTorr) (instrument.Result[string], error) {
		return p.SetVoltage(req.Volts)
	})
}

func (s *Server) handleActivationMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode int `json:"mode"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	s.runPump(w, func(p *ionpump.NEXTorr) (instrument.Result[string], error) {
		return p.SetActivationMode(ionpump.ActivationMode(req.Mode))
	})
}

func (s *Server) pumpCommand(fn func(*ionpump.NEXTorr) (instrument.Result[string], error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.runPump(w, fn)
	}
}

// runPump executes one controller operation under the pump lock and maps
// the outcome to an HTTP status.
func (s *Server) runPump(w http.ResponseWriter, fn func(*ionpump.NEXTorr) (instrument.Result[string], error)) {
	if s.pump == nil {
		http.Error(w, "ion pump controller not connected", http.StatusServiceUnavailable)
		return
	}
	s.pumpMu.Lock()
	res, err := fn(s.pump)
	s.pumpMu.Unlock()

	switch {
	case errors.Is(err, instrument.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		log.Printf("[ionpump] command failed: %v", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	status := "ok"
	if !res.Clean() {
		status = "warning"
	}
	writeJSON(w, http.StatusOK, commandResponse{Status: status, Reply: res.Value, Diagnostics: res.Diagnostics})
}

func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

// Latest returns the most recent poll snapshot.
func (s *Server) Latest() Frame {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	return s.latest
}

// pollLoop polls the instruments one after the other, then broadcasts the
// combined frame. The interval is re-read every cycle so config updates
// apply without a restart.
func (s *Server) pollLoop(ctx context.Context) {
	defer s.logger.Close()
	for {
		s.PollOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.PollInterval()):
		}
	}
}

// PollOnce reads every connected instrument, sequentially, and fans the
// snapshot out to clients, the CSV log, Redis and metrics.
func (s *Server) PollOnce(ctx context.Context) Frame {
	frame := Frame{}
	fail := func(device string, err error) {
		if frame.Errors == nil {
			frame.Errors = make(map[string]string)
		}
		frame.Errors[device] = err.Error()
		s.metrics.PollError(device)
		log.Printf("[%s] poll failed: %v", device, err)
	}

	if s.gauge != nil {
		start := time.Now()
		s.gaugeMu.Lock()
		r, diags, err := s.gauge.Read()
		s.gaugeMu.Unlock()
		s.metrics.ObservePoll("gauge", time.Since(start))
		frame.Diagnostics = append(frame.Diagnostics, diags...)
		if err != nil {
			fail("gauge", err)
		} else {
			frame.Gauge = r
			s.metrics.ObserveGauge(r)
		}
	}

	if s.pump != nil {
		if s.gauge != nil {
			time.Sleep(s.pump.QueryDelay())
		}
		start := time.Now()
		s.pumpMu.Lock()
		r, diags, err := s.pump.Read()
		s.pumpMu.Unlock()
		s.metrics.ObservePoll("ionpump", time.Since(start))
		frame.Diagnostics = append(frame.Diagnostics, diags...)
		if err != nil {
			fail("ionpump", err)
		} else {
			frame.IonPump = r
			s.metrics.ObservePump(r)
		}
	}

	frame.Stamp = time.Now().UnixMilli()

	s.latestMu.Lock()
	s.latest = frame
	s.latestMu.Unlock()

	if frame.Gauge == nil && frame.IonPump == nil && frame.Errors == nil {
		return frame
	}
	s.broadcast(frame)
	s.logger.Record(frame.Gauge, frame.IonPump)
	s.publish(ctx, frame)
	return frame
}

func (s *Server) publish(ctx context.Context, frame Frame) {
	if s.pub == nil {
		return
	}
	if frame.Gauge != nil {
		if err := s.pub.Publish(ctx, "gauge", frame.Gauge); err != nil {
			log.Printf("[store] %v", err)
		}
	}
	if frame.IonPump != nil {
		if err := s.pub.Publish(ctx, "ionpump", frame.IonPump); err != nil {
			log.Printf("[store] %v", err)
		}
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
