// Package gateway exposes the agent over HTTP: a synchronous chat
// endpoint, a streaming chat endpoint over WebSocket, and a live feed
// of operational events. Transport concerns only; the pipeline itself
// lives in internal/agent.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sable-ai/sable/internal/agent"
	"github.com/sable-ai/sable/internal/buildinfo"
	"github.com/sable-ai/sable/internal/events"
	"github.com/sable-ai/sable/internal/react"
)

// ChannelID tags sessions that arrive through this gateway.
const ChannelID = "web"

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP gateway.
type Server struct {
	address string
	port    int
	handler *agent.Handler
	bus     *events.Bus
	logger  *slog.Logger
	server  *http.Server

	upgrader websocket.Upgrader
}

// NewServer creates a gateway over the given handler. The bus may be
// nil; the event feed then serves nothing.
func NewServer(address string, port int, handler *agent.Handler, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		handler: handler,
		bus:     bus,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.withLogging(mux),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: WebSocket connections are long-lived.
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting gateway", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Content == "" {
		s.errorResponse(w, http.StatusBadRequest, "user_id and content are required")
		return
	}

	reply, err := s.handler.HandleRequest(r.Context(), agent.InboundMessage{
		UserID:    req.UserID,
		ChannelID: ChannelID,
		Content:   req.Content,
	}, nil)
	if err != nil {
		s.logger.Error("chat request failed", "user_id", req.UserID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "request failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, reply, s.logger)
}

// wireEvent is one loop event as sent over the chat stream socket.
type wireEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleChatStream upgrades to WebSocket, reads one ChatRequest, and
// streams loop events back, ending with a final reply frame.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var req ChatRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(wireEvent{Type: "error", Error: "invalid request"})
		return
	}

	reply, err := s.handler.HandleRequest(r.Context(), agent.InboundMessage{
		UserID:    req.UserID,
		ChannelID: ChannelID,
		Content:   req.Content,
	}, func(ev react.Event) {
		we := wireEvent{Type: string(ev.Type), Content: ev.Content}
		if ev.Tool != nil {
			we.Tool = ev.Tool.Name
		}
		if ev.Err != nil {
			we.Error = ev.Err.Error()
		}
		if err := conn.WriteJSON(we); err != nil {
			s.logger.Debug("stream write failed", "error", err)
		}
	})
	if err != nil {
		_ = conn.WriteJSON(wireEvent{Type: "error", Error: "request failed"})
		return
	}
	_ = conn.WriteJSON(reply)
}

// handleEvents upgrades to WebSocket and forwards bus events until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusNotFound, "event feed not enabled")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	// Reader goroutine: we never expect client frames, but reading is
	// the only way to notice the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				s.logger.Debug("event feed write failed", "error", err)
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}
