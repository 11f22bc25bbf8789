// Package dashboard provides a real-time WebSocket feed of the offline
// subsystem for the app shell.
//
// The dashboard broadcasts status changes, cache invalidations, discarded
// operations, and sync completions to connected WebSocket clients, exposes
// the manual "sync now" trigger over HTTP, and serves the cached read views
// the app shell shows while offline.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/clientdossiers/dsync/internal/offline/daemon"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeStatus carries the full status snapshot
	MessageTypeStatus MessageType = "status"

	// MessageTypeInvalidate lists read views the UI must reload
	MessageTypeInvalidate MessageType = "invalidate"

	// MessageTypeOperationDiscarded reports a queued change the backend
	// refused for good
	MessageTypeOperationDiscarded MessageType = "operation_discarded"

	// MessageTypeSyncComplete indicates a sync run finished
	MessageTypeSyncComplete MessageType = "sync_complete"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Controller is the coordinator as seen by the HTTP endpoints.
type Controller interface {
	Status() daemon.Status
	SyncNow(ctx context.Context) (bool, error)
}

// ViewCache stores read-view snapshots by key. Keys are dropped when a sync
// run invalidates them.
type ViewCache interface {
	GetCache(ctx context.Context, key string) ([]byte, bool, error)
	PutCache(ctx context.Context, key string, data []byte) error
}

const maxViewBytes = 8 << 20

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr       string
	listener   net.Listener
	server     *http.Server
	controller Controller
	views      ViewCache

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Host to bind (default: 127.0.0.1)
	Host string

	// Controller backs /status and /sync. Optional.
	Controller Controller

	// Views backs /views/. Optional.
	Views ViewCache

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Host:   "127.0.0.1",
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:       net.JoinHostPort(host, fmt.Sprint(config.Port)),
		controller: config.Controller,
		views:      config.Views,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Message, 100),
		ctx:        ctx,
		cancel:     cancel,
		logger:     config.Logger,
	}
}

// SetController attaches the coordinator. It must be called before Start.
func (s *Server) SetController(c Controller) {
	s.controller = c
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	// Create listener
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /sync", s.handleSync)
	mux.HandleFunc("GET /views/{key...}", s.handleGetView)
	mux.HandleFunc("PUT /views/{key...}", s.handlePutView)

	// No WriteTimeout: POST /sync holds the response until the run ends.
	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	// Start broadcast handler
	s.wg.Add(1)
	go s.broadcastLoop()

	// Start HTTP server
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	// Signal shutdown
	s.cancel()

	// Close all WebSocket connections
	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	// Shutdown HTTP server
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	// Wait for goroutines
	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			// Add timestamp if not set
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			// Marshal message to JSON
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			// Snapshot clients, then write outside the read lock
			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades the connection and greets the client with the
// current status so it never has to poll for the initial state.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade connection
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// Send initial status message
	welcome := Message{
		Type:      MessageTypeStatus,
		Timestamp: time.Now(),
	}
	if s.controller != nil {
		data, err := json.Marshal(s.controller.Status())
		if err != nil {
			s.logger.Printf("Failed to marshal status: %v", err)
		} else {
			welcome.Data = data
		}
	}
	if welcomeData, err := json.Marshal(welcome); err != nil {
		s.logger.Printf("Failed to marshal welcome message: %v", err)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := conn.Write(ctx, websocket.MessageText, welcomeData); err != nil {
			s.logger.Printf("Failed to send welcome message: %v", err)
		}
		cancel()
	}

	// Register after the welcome so it is always the first frame.
	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Keep connection alive (read loop)
	go s.readLoop(conn)
}

// readLoop keeps the connection open until the client goes away.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		// Client messages are ignored
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no coordinator attached"})
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

// handleSync is the manual "sync now" button.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no coordinator attached"})
		return
	}

	ran, err := s.controller.SyncNow(r.Context())
	switch {
	case errors.Is(err, daemon.ErrOffline):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case !ran && err == nil:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "sync already in progress"})
	case err != nil:
		s.logger.Printf("Manual sync failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  err.Error(),
			"status": s.controller.Status(),
		})
	default:
		writeJSON(w, http.StatusOK, s.controller.Status())
	}
}

// handleGetView returns the cached snapshot of a read view.
func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	if s.views == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no view cache attached"})
		return
	}

	key := r.PathValue("key")
	data, ok, err := s.views.GetCache(r.Context(), key)
	switch {
	case err != nil:
		s.logger.Printf("Failed to read view %s: %v", key, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	case !ok:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "view not cached", "key": key})
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// handlePutView stores a snapshot the app shell fetched while online.
func (s *Server) handlePutView(w http.ResponseWriter, r *http.Request) {
	if s.views == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no view cache attached"})
		return
	}

	key := r.PathValue("key")
	data, err := io.ReadAll(io.LimitReader(r.Body, maxViewBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(data) > maxViewBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "view too large"})
		return
	}
	if !json.Valid(data) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "view must be JSON"})
		return
	}

	if err := s.views.PutCache(r.Context(), key, data); err != nil {
		s.logger.Printf("Failed to store view %s: %v", key, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
