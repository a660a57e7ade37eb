package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// Server represents the WebSocket server
type Server struct {
	addr        string
	upgrader    websocket.Upgrader
	httpServer  *http.Server
	connections map[string]*Connection
	register    chan *Connection
	unregister  chan *Connection
	logger      *log.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	gateway     *Gateway
}

// NewServer creates a new WebSocket server
func NewServer(addr string, logger *log.Logger, gateway *Gateway) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// For development, allow all origins
				// In production, implement proper origin checking
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		logger:      logger.WithPrefix("server"),
		ctx:         ctx,
		cancel:      cancel,
		gateway:     gateway,
	}

	// Dedicated mux for this server instance
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	return s
}

// Start runs the listener until Stop is called. A shutdown initiated by
// Stop returns nil.
func (s *Server) Start() error {
	go s.run()

	s.logger.Info("Starting WebSocket server", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down and closes every live connection,
// unblocking Start.
func (s *Server) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)

	s.cancel()

	// Close all connections
	s.mu.Lock()
	for _, conn := range s.connections {
		_ = conn.Close() // Ignore close errors during shutdown
	}
	s.mu.Unlock()

	return err
}

// run handles connection lifecycle
func (s *Server) run() {
	for {
		select {
		case conn := <-s.register:
			s.mu.Lock()
			s.connections[conn.ID()] = conn
			total := len(s.connections)
			s.mu.Unlock()
			s.logger.Info("Client connected", "conn", conn.ID(), "total", total)

		case conn := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.connections[conn.ID()]; ok {
				delete(s.connections, conn.ID())
				_ = conn.Close() // Ignore close errors during unregistration
			}
			total := len(s.connections)
			s.mu.Unlock()
			s.logger.Info("Client disconnected", "conn", conn.ID(), "total", total)

		case <-s.ctx.Done():
			return
		}
	}
}

// handleWebSocket handles WebSocket upgrade requests
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(conn, s.logger, s.gateway)
	s.register <- client
	client.Start()

	// Connection cleanup is handled by the connection itself
	go func() {
		<-client.ctx.Done()
		s.unregister <- client
	}()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK") // Ignore write errors for health check
}

// Send delivers a message to the connection with the given id. Unknown
// ids, including synthetic opponent ids, are dropped silently.
func (s *Server) Send(connID string, msg *Message) {
	if IsBotConn(connID) {
		return
	}

	s.mu.RLock()
	conn, ok := s.connections[connID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	if err := conn.SendMessage(msg); err != nil {
		s.logger.Error("Failed to send message to client", "error", err, "conn", connID)
	}
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}
