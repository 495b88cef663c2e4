// Package api exposes the bridge's entity states over HTTP and websocket
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"entitybridge/internal/core"
)

// Server provides the HTTP API: entity states, service calls and a
// websocket stream of state changes.
type Server struct {
	machine  *core.Machine
	bus      *core.Bus
	logger   *zap.Logger
	server   *http.Server
	upgrader websocket.Upgrader

	// websocket connections are hijacked, so Shutdown does not cover them
	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}
	wsWg   sync.WaitGroup
}

// NewServer creates the API server
func NewServer(machine *core.Machine, bus *core.Bus, logger *zap.Logger, port int) *Server {
	s := &Server{
		machine: machine,
		bus:     bus,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/states", s.handleStates)
	mux.HandleFunc("/api/states/", s.handleState)
	mux.HandleFunc("/api/services/", s.handleService)
	mux.HandleFunc("/api/websocket", s.handleWebsocket)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// handleStates returns every entity state as JSON
func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.machine.All()); err != nil {
		s.logger.Error("Failed to encode states", zap.Error(err))
		return
	}

	s.logger.Debug("States request served", zap.String("remote_addr", r.RemoteAddr))
}

// handleState returns a single entity state by entity ID
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entityID := strings.TrimPrefix(r.URL.Path, "/api/states/")
	if entityID == "" {
		http.NotFound(w, r)
		return
	}

	state := s.machine.Get(entityID)
	if state == nil {
		http.Error(w, "Entity not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

// handleService executes a service call: POST /api/services/<domain>/<service>
// with a JSON body of service data.
func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/services/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.Error(w, "Expected /api/services/<domain>/<service>", http.StatusBadRequest)
		return
	}
	domain, service := parts[0], parts[1]

	var data map[string]interface{}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
	}

	if err := s.bus.Call(domain, service, data); err != nil {
		s.logger.Warn("Service call failed",
			zap.String("domain", domain),
			zap.String("service", service),
			zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"result": "ok",
	})
}

// eventFrame is the websocket message for a state change
type eventFrame struct {
	Type  string `json:"type"`
	Event struct {
		EventType string                 `json:"event_type"`
		Data      core.StateChangedEvent `json:"data"`
	} `json:"event"`
}

// handleWebsocket upgrades the connection and streams state_changed events
// until the client goes away.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	s.logger.Info("Websocket client connected", zap.String("remote_addr", r.RemoteAddr))

	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()

	events := make(chan core.StateChangedEvent, 64)
	sub := s.machine.Subscribe(core.WildcardEntity, func(event core.StateChangedEvent) {
		select {
		case events <- event:
		default:
			s.logger.Warn("Dropping state change for slow websocket client",
				zap.String("entity_id", event.EntityID))
		}
	})

	done := make(chan struct{})

	// reader drains control frames and signals when the client disconnects
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.wsWg.Add(1)
	go func() {
		defer func() {
			sub.Unsubscribe()
			conn.Close()
			s.connMu.Lock()
			delete(s.conns, conn)
			s.connMu.Unlock()
			s.logger.Info("Websocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
			s.wsWg.Done()
		}()

		for {
			select {
			case <-done:
				return
			case event := <-events:
				frame := eventFrame{Type: "event"}
				frame.Event.EventType = "state_changed"
				frame.Event.Data = event

				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			}
		}
	}()
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	// Shutdown skips hijacked connections; close websocket clients directly
	// and wait for their stream goroutines to finish.
	s.connMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()
	s.wsWg.Wait()

	return nil
}
