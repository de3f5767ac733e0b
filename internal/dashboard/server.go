// Package dashboard provides a real-time WebSocket server for sync
// monitoring.
//
// The server broadcasts run lifecycle events (run started, page fetched,
// day materialized, run complete) to connected WebSocket clients and
// serves the recent sync history over HTTP.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jmcveigh/convosync/internal/state"
	"github.com/jmcveigh/convosync/internal/syncer"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeRunStarted indicates a sync run began.
	MessageTypeRunStarted MessageType = "run_started"

	// MessageTypePageFetched indicates one listing page was fetched.
	MessageTypePageFetched MessageType = "page_fetched"

	// MessageTypeDayMaterialized indicates one day's documents were written.
	MessageTypeDayMaterialized MessageType = "day_materialized"

	// MessageTypeRunComplete indicates a sync run finished.
	MessageTypeRunComplete MessageType = "run_complete"
)

// Message represents a dashboard broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RunStartedData announces a new run.
type RunStartedData struct {
	Action string `json:"action"`
}

// PageFetchedData reports pagination progress.
type PageFetchedData struct {
	Page    int `json:"page"`
	Records int `json:"records"`
}

// DayMaterializedData reports one written day shard.
type DayMaterializedData struct {
	Date    string `json:"date"`
	Records int    `json:"records"`
}

// RunCompleteData reports a finished run.
type RunCompleteData struct {
	Status        string `json:"status"` // success, error, cancelled
	RecordsSynced int    `json:"records_synced"`
	StoppedEarly  bool   `json:"stopped_early"`
	APICalls      int    `json:"api_calls"`
	Error         string `json:"error,omitempty"`
}

// HistorySource serves the /history endpoint. *state.Store satisfies it.
type HistorySource interface {
	RecentHistory(ctx context.Context, limit int) ([]state.HistoryEntry, error)
}

// Server manages WebSocket connections and broadcasts sync events.
// It implements syncer.EventSink, so it can be wired straight into the
// coordinator.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	history  HistorySource

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on. Zero picks a free port (used by tests).
	Port int

	// History backs the /history endpoint; nil disables it.
	History HistorySource

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// NewServer creates a dashboard server. Use Start to begin listening.
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      fmt.Sprintf("127.0.0.1:%d", config.Port),
		history:   config.History,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Dashboard server stopped")
	return nil
}

// RunStarted implements syncer.EventSink.
func (s *Server) RunStarted(action string) {
	s.send(MessageTypeRunStarted, RunStartedData{Action: action})
}

// PageFetched implements syncer.EventSink.
func (s *Server) PageFetched(page, records int) {
	s.send(MessageTypePageFetched, PageFetchedData{Page: page, Records: records})
}

// DayMaterialized implements syncer.EventSink.
func (s *Server) DayMaterialized(date string, records int) {
	s.send(MessageTypeDayMaterialized, DayMaterializedData{Date: date, Records: records})
}

// RunCompleted implements syncer.EventSink.
func (s *Server) RunCompleted(outcome syncer.Outcome, err error) {
	data := RunCompleteData{
		RecordsSynced: outcome.RecordsSynced,
		StoppedEarly:  outcome.StoppedEarly,
		APICalls:      outcome.APICalls,
	}
	switch {
	case outcome.Cancelled:
		data.Status = state.TypeCancelled
	case err != nil:
		data.Status = state.TypeError
		data.Error = err.Error()
	default:
		data.Status = state.TypeSuccess
	}
	s.send(MessageTypeRunComplete, data)
}

func (s *Server) send(mt MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s payload: %v", mt, err)
		return
	}
	s.Broadcast(Message{Type: mt, Data: raw})
}

// Broadcast sends a message to all connected clients. It never blocks the
// sync path: if the channel is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop fans messages out to all connected clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now().UTC()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Writes happen outside the lock so a slow client can't
			// stall new connections.
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

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)
	go s.readLoop(conn)
}

// readLoop keeps the connection alive and detects client disconnects.
// Client messages are not processed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
	}
}

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

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": clientCount,
	})
}

// handleHistory returns the recent sync history, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history unavailable", http.StatusNotFound)
		return
	}
	entries, err := s.history.RecentHistory(r.Context(), 100)
	if err != nil {
		s.logger.Printf("Failed to load history: %v", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// handleRoot returns basic server information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Convosync Dashboard</title>
</head>
<body>
    <h1>Convosync Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Sync history: <a href="/history">/history</a></p>
    <p>Connect a WebSocket client to receive real-time sync events.</p>
</body>
</html>`, r.Host)
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
