// Package dashboard serves the offline subsystem's notification surface over
// WebSocket.
//
// A UI shell connects to /ws and receives toasts, the pending-changes count,
// connectivity changes and sync summaries as they happen. The same socket
// carries connectivity signals and sync requests back from the shell.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/taskmasterpro/tm/internal/offline/connectivity"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeToast carries a transient user notification.
	MessageTypeToast MessageType = "toast"

	// MessageTypePendingCount carries the number of unsynced changes.
	MessageTypePendingCount MessageType = "pending_count"

	// MessageTypeConnectivity carries the online indicator. Shells send it
	// in the other direction to report the browser-level network state.
	MessageTypeConnectivity MessageType = "connectivity"

	// MessageTypeSyncComplete carries the summary of a sync pass.
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeStats carries task counts from the local cache.
	MessageTypeStats MessageType = "stats"

	// MessageTypeSync is sent by a shell to request a sync pass.
	MessageTypeSync MessageType = "sync"
)

// Message is the envelope for every frame in either direction.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ToastData is the payload of a toast message.
type ToastData struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// PendingData is the payload of a pending_count message.
type PendingData struct {
	Count int `json:"count"`
}

// ConnectivityData is the payload of a connectivity message.
type ConnectivityData struct {
	Online bool `json:"online"`
}

// StatsData is the payload of a stats message.
type StatsData struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
}

// Server manages WebSocket connections and broadcasts dashboard messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Latest indicator messages, replayed to clients on connect.
	sticky map[MessageType]Message

	broadcast chan Message

	// Inbound routing
	setter  connectivity.Setter
	trigger func()
	status  func() any

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Host to bind (default: 127.0.0.1).
	Host string

	// Port to listen on (default: 8765, 0 picks a free port).
	Port int

	// Connectivity receives connectivity messages from shells (optional).
	Connectivity connectivity.Setter

	// Trigger is called when a shell requests a sync (optional).
	Trigger func()

	// Status produces the /status document (optional).
	Status func() any

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   8765,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a new dashboard WebSocket server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		clients:   make(map[*websocket.Conn]bool),
		sticky:    make(map[MessageType]Message),
		broadcast: make(chan Message, 100),
		setter:    config.Connectivity,
		trigger:   config.Trigger,
		status:    config.Status,
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Handler returns the HTTP routes served by the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// Start begins the HTTP server and broadcast loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every client and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down dashboard: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return nil
}

// Broadcast queues msg for every connected client. It never blocks; when the
// queue is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.broadcast <- msg:
	default:
		s.logger.Println("WARNING: broadcast channel full, dropping message")
	}
}

// Publish marshals data and broadcasts it as a message of type typ.
func (s *Server) Publish(typ MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", typ, err)
		return
	}
	s.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: raw})
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.Lock()
			if isSticky(msg.Type) {
				s.sticky[msg.Type] = msg
			}
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.Unlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
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

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	initial := make([]Message, 0, len(s.sticky))
	for _, typ := range []MessageType{MessageTypeConnectivity, MessageTypePendingCount, MessageTypeStats, MessageTypeSyncComplete} {
		if msg, ok := s.sticky[typ]; ok {
			initial = append(initial, msg)
		}
	}
	s.clientsMu.Unlock()
	s.logger.Printf("Client connected (total: %d)", count)

	for _, msg := range initial {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err = conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.removeClient(conn)
			return
		}
	}

	s.readLoop(conn)
}

// isSticky reports whether the latest message of typ describes current state
// rather than an event.
func isSticky(typ MessageType) bool {
	switch typ {
	case MessageTypeConnectivity, MessageTypePendingCount, MessageTypeStats, MessageTypeSyncComplete:
		return true
	}
	return false
}

// readLoop routes shell messages until the client disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Printf("Ignoring malformed client message: %v", err)
			continue
		}
		s.route(msg)
	}
}

func (s *Server) route(msg Message) {
	switch msg.Type {
	case MessageTypeConnectivity:
		var d ConnectivityData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			s.logger.Printf("Ignoring malformed connectivity message: %v", err)
			return
		}
		if s.setter == nil {
			return
		}
		state := connectivity.Offline
		if d.Online {
			state = connectivity.Online
		}
		s.setter.Set(state)

	case MessageTypeSync:
		if s.trigger != nil {
			s.trigger()
		}

	default:
		s.logger.Printf("Ignoring client message of type %q", msg.Type)
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", count)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		http.Error(w, "status not available", http.StatusNotFound)
		return
	}
	writeJSON(w, s.status())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
