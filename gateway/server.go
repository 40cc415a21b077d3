package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tablecraft/voiceorder/errors"
	"github.com/tablecraft/voiceorder/metric"
	"github.com/tablecraft/voiceorder/order"
	"github.com/tablecraft/voiceorder/session"
	"github.com/tablecraft/voiceorder/transport"
)

// Config holds gateway settings.
type Config struct {
	// CORSOrigins lists allowed origins; "*" allows any. Empty disables CORS.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// MaxRequestSize caps request bodies in bytes.
	MaxRequestSize int64 `json:"max_request_size"`

	// WriteTimeout bounds a single WebSocket write.
	WriteTimeout time.Duration `json:"write_timeout"`

	// PingInterval paces WebSocket keepalives.
	PingInterval time.Duration `json:"ping_interval"`
}

// DefaultConfig returns sensible gateway defaults.
func DefaultConfig() Config {
	return Config{
		MaxRequestSize: 1 << 20,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRequestSize <= 0 {
		c.MaxRequestSize = def.MaxRequestSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	return c
}

// Metrics holds Prometheus metrics for the gateway.
type Metrics struct {
	requests    *prometheus.CounterVec
	wsConnected prometheus.Gauge
}

func newMetrics(registry metric.Registrar, name string) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "status"}),
		wsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voiceorder",
			Subsystem: "gateway",
			Name:      "websocket_connections",
			Help:      "Currently connected event stream subscribers",
		}),
	}
	_ = registry.RegisterCounterVec(name, "requests", m.requests)
	_ = registry.RegisterGauge(name, "websocket_connections", m.wsConnected)
	return m
}

// Server is the HTTP surface of the voice-ordering service.
type Server struct {
	cfg      Config
	manager  *session.Manager
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	mu   sync.Mutex
	hubs map[string]*hub
}

// NewServer creates a gateway over a session manager.
func NewServer(cfg Config, manager *session.Manager, logger *slog.Logger, registry metric.Registrar) (*Server, error) {
	if manager == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("session manager is required"),
			"gateway", "NewServer", "validate dependencies")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	s := &Server{
		cfg:     cfg,
		manager: manager,
		logger:  logger,
		metrics: newMetrics(registry, "gateway"),
		hubs:    make(map[string]*hub),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Routes registers the gateway endpoints on a mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}/items", s.handleListItems)
	mux.HandleFunc("DELETE /v1/sessions/{id}/items/{itemID}", s.handleRemoveItem)
	mux.HandleFunc("POST /v1/sessions/{id}/submit", s.handleSubmit)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleCloseSession)
	mux.HandleFunc("GET /v1/sessions/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// uiEvent is the envelope relayed on the WebSocket.
type uiEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// sessionEvents builds the session callback surface that projects into a hub.
func sessionEvents(h *hub) session.Events {
	return session.Events{
		ConnectionStateChanged: func(state transport.State) {
			h.publish(uiEvent{Type: "connection_state", Data: state.String()})
		},
		TranscriptUpdated: func(itemID, text string, final bool) {
			h.publish(uiEvent{Type: "transcript", Data: map[string]any{
				"item_id": itemID, "text": text, "final": final,
			}})
		},
		OrderItemsChanged: func(items []order.Item) {
			h.publish(uiEvent{Type: "order_items", Data: items})
		},
		SubmissionStateChanged: func(state order.SubmissionState) {
			h.publish(uiEvent{Type: "submission_state", Data: state.String()})
		},
		OrderAbandoned: func(items []order.Item) {
			h.publish(uiEvent{Type: "order_abandoned", Data: items})
		},
		SessionError: func(code, message string) {
			h.publish(uiEvent{Type: "session_error", Data: map[string]string{
				"code": code, "message": message,
			}})
		},
	}
}

type createSessionRequest struct {
	RestaurantID string `json:"restaurant_id"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)

	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxRequestSize))
	if err != nil {
		s.writeError(w, "create_session", http.StatusBadRequest, "failed to read request body")
		return
	}
	var req createSessionRequest
	if err := json.Unmarshal(body, &req); err != nil || req.RestaurantID == "" {
		s.writeError(w, "create_session", http.StatusBadRequest, "restaurant_id is required")
		return
	}

	h := newHub()
	sess, err := s.manager.Create(r.Context(), req.RestaurantID, sessionEvents(h))
	if err != nil {
		h.close()
		s.writeMappedError(w, "create_session", err)
		return
	}

	s.mu.Lock()
	s.hubs[sess.ID()] = h
	s.mu.Unlock()

	s.logger.Info("session created via gateway",
		"session_id", sess.ID(), "restaurant_id", req.RestaurantID)
	s.writeJSON(w, "create_session", http.StatusCreated, createSessionResponse{SessionID: sess.ID()})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	sess, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, "list_items", http.StatusNotFound, "session not found")
		return
	}
	items := sess.Items()
	if items == nil {
		items = []order.Item{}
	}
	s.writeJSON(w, "list_items", http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	sess, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, "remove_item", http.StatusNotFound, "session not found")
		return
	}
	if !sess.RemoveItem(r.PathValue("itemID")) {
		s.writeError(w, "remove_item", http.StatusNotFound, "item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
	s.countRequest("remove_item", http.StatusNoContent)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	id := r.PathValue("id")
	receipt, err := s.manager.Submit(r.Context(), id)
	if err != nil {
		s.writeMappedError(w, "submit", err)
		return
	}
	s.writeJSON(w, "submit", http.StatusOK, map[string]any{
		"order_id":    receipt.OrderID,
		"items":       receipt.SubmittedItems,
		"total_cents": receipt.TotalCents,
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	id := r.PathValue("id")
	err := s.manager.Close(id)

	s.mu.Lock()
	h, ok := s.hubs[id]
	delete(s.hubs, id)
	s.mu.Unlock()
	if ok {
		h.close()
	}

	if err != nil {
		s.writeMappedError(w, "close_session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	s.countRequest("close_session", http.StatusNoContent)
}

// handleEvents upgrades to a WebSocket and streams the session's events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	h, ok := s.hubs[id]
	s.mu.Unlock()
	if !ok {
		s.writeError(w, "events", http.StatusNotFound, "session not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		s.countRequest("events", http.StatusBadRequest)
		return
	}
	s.countRequest("events", http.StatusSwitchingProtocols)
	if s.metrics != nil {
		s.metrics.wsConnected.Inc()
	}
	defer func() {
		if s.metrics != nil {
			s.metrics.wsConnected.Dec()
		}
	}()

	events, cancel := h.subscribe()
	defer cancel()
	defer conn.Close()

	// Reads only service close/pong frames.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case data, open := <-events:
			if !open {
				deadline := time.Now().Add(s.cfg.WriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, "healthz", http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.manager.Len(),
	})
}

// Shutdown closes every event hub; sessions themselves are torn down by the
// manager.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	hubs := make([]*hub, 0, len(s.hubs))
	for _, h := range s.hubs {
		hubs = append(hubs, h)
	}
	s.hubs = make(map[string]*hub)
	s.mu.Unlock()
	for _, h := range hubs {
		h.close()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.CORSOrigins) == 0 {
		// Same-origin policy is the browser's concern; non-browser POS
		// clients send no Origin header.
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	if len(s.cfg.CORSOrigins) == 0 {
		return
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			return
		}
	}
}

// writeMappedError converts a classified error to an HTTP status with a
// sanitized message; internal details stay in the logs.
func (s *Server) writeMappedError(w http.ResponseWriter, route string, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"
	switch {
	case errors.IsInvalid(err):
		status, message = http.StatusBadRequest, "invalid request"
		if strings.Contains(err.Error(), "unknown session") {
			status, message = http.StatusNotFound, "session not found"
		}
	case errors.IsTransient(err):
		status, message = http.StatusServiceUnavailable, "service temporarily unavailable"
	}
	s.logger.Warn("request failed", "route", route, "status", status, "error", err)
	s.writeError(w, route, status, message)
}

func (s *Server) writeError(w http.ResponseWriter, route string, status int, message string) {
	s.writeJSON(w, route, status, map[string]any{
		"error":  message,
		"status": status,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, route string, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
	s.countRequest(route, status)
}

func (s *Server) countRequest(route string, status int) {
	if s.metrics != nil {
		s.metrics.requests.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
}
