// Package server implements a small WebSocket relay speaking the client wire
// format. It acknowledges heartbeats, echoes correlated requests and
// broadcasts everything else within a room.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zeusync/wsclient/internal/core/observability/log"
	"github.com/zeusync/wsclient/internal/core/protocol"
	"github.com/zeusync/wsclient/internal/core/protocol/websocket"
	"github.com/zeusync/wsclient/pkg/concurrent"
)

// Server is the relay server
type Server struct {
	config   Config
	logger   log.Log
	auth     Authenticator
	upgrader *websocket.Upgrader

	// Client management
	clients     sync.Map // map[string]*ClientSession
	clientCount atomic.Int64

	// Rooms; membership changes happen under roomsMu
	rooms   map[string]*Room
	roomsMu sync.Mutex

	// Server state
	running atomic.Bool
	closed  atomic.Bool

	httpServer *http.Server
	listener   net.Listener

	stats serverCounters

	// Background workers
	workerGroup sync.WaitGroup
	stopChan    chan struct{}
}

type serverCounters struct {
	relayed     atomic.Uint64
	echoed      atomic.Uint64
	heartbeats  atomic.Uint64
	parseErrors atomic.Uint64
	rejected    atomic.Uint64
	rateLimited atomic.Uint64
}

// Stats contains server statistics
type Stats struct {
	ClientCount     int64  `json:"clients"`
	RoomCount       int    `json:"rooms"`
	MessagesRelayed uint64 `json:"messages_relayed"`
	MessagesEchoed  uint64 `json:"messages_echoed"`
	HeartbeatsAcked uint64 `json:"heartbeats_acked"`
	ParseErrors     uint64 `json:"parse_errors"`
	Rejected        uint64 `json:"rejected"`
	RateLimited     uint64 `json:"rate_limited"`
	Running         bool   `json:"running"`
}

// NewServer creates a relay server. A nil logger is replaced by one built
// from config.LogLevel.
func NewServer(config Config, logger log.Log) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		level, err := log.ParseLevel(config.LogLevel)
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, err)
		}
		logger = log.New(level)
	}

	wsConfig := websocket.DefaultConfig()
	wsConfig.MaxMessageSize = config.MaxMessageSize
	wsConfig.WriteTimeout = config.WriteTimeout

	server := &Server{
		config:   config,
		logger:   logger.With(log.String("component", "server")),
		upgrader: websocket.NewUpgrader(wsConfig),
		rooms:    make(map[string]*Room),
		stopChan: make(chan struct{}),
	}

	if m := NewTokenAuthMiddleware(config.Tokens); m != nil {
		server.auth = m
	} else {
		server.auth = anonymous{}
	}

	server.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.String("auth", server.auth.Name()),
		log.Int("max_clients", config.MaxClients))

	return server, nil
}

// Handler returns the HTTP handler serving the websocket endpoint and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start listens on ListenAddr and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	s.logger.Info("Starting server")

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.running.Store(false)
		s.logger.Error("Failed to create listener", log.Error(err))
		return errors.Join(ErrListenerFailed, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", log.Error(err))
		}
	}()

	s.startWorkers()

	s.logger.Info("Server listening", log.String("addr", listener.Addr().String()))

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop disconnects every session and stops serving.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")

	close(s.stopChan)

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.disconnectAll(protocol.CloseGoingAway, "server shutting down")
	s.stopWorkers()

	s.logger.Info("Server stopped")

	return err
}

// Close closes the server and releases all resources
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if s.running.Load() {
		return s.Stop(context.Background())
	}
	// handler-only use (Handler mounted elsewhere) still owns sessions
	s.disconnectAll(protocol.CloseGoingAway, "server shutting down")
	return nil
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	s.roomsMu.Lock()
	rooms := len(s.rooms)
	s.roomsMu.Unlock()

	return Stats{
		ClientCount:     s.clientCount.Load(),
		RoomCount:       rooms,
		MessagesRelayed: s.stats.relayed.Load(),
		MessagesEchoed:  s.stats.echoed.Load(),
		HeartbeatsAcked: s.stats.heartbeats.Load(),
		ParseErrors:     s.stats.parseErrors.Load(),
		Rejected:        s.stats.rejected.Load(),
		RateLimited:     s.stats.rateLimited.Load(),
		Running:         s.running.Load(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.GetStats())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	if int(s.clientCount.Load()) >= s.config.MaxClients {
		s.stats.rejected.Add(1)
		s.logger.Warn("Maximum clients reached, rejecting connection",
			log.String("remote_addr", r.RemoteAddr))
		http.Error(w, ErrMaxClientsReached.Error(), http.StatusServiceUnavailable)
		return
	}

	userID, err := s.auth.Authenticate(r)
	if err != nil {
		s.stats.rejected.Add(1)
		s.logger.Warn("Rejected connection",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err))
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	roomName := r.URL.Query().Get("room")
	if roomName == "" {
		roomName = s.config.DefaultRoom
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", log.Error(err))
		return
	}

	session := &ClientSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		Room:        roomName,
		Connection:  conn,
		ConnectedAt: time.Now(),
	}
	if s.config.MessageRate > 0 {
		session.limiter = rate.NewLimiter(rate.Limit(s.config.MessageRate), s.config.MessageBurst)
	}
	if session.UserID == "" {
		session.UserID = "user_" + session.ID[:8]
	}
	session.LastSeen.Store(session.ConnectedAt.UnixNano())

	s.clients.Store(session.ID, session)
	s.clientCount.Add(1)
	room := s.join(session)

	s.logger.Info("Client connected",
		log.String("session_id", session.ID),
		log.String("user_id", session.UserID),
		log.String("room", roomName),
		log.String("remote_addr", r.RemoteAddr),
		log.Int64("total_clients", s.clientCount.Load()))

	s.sendTo(session, MessageTypeWelcome, "", Presence{
		UserID:    session.UserID,
		SessionID: session.ID,
		Room:      room.Name,
		Clients:   room.Len(),
		Members:   room.Members(),
	})
	s.announce(room, MessageTypeUserJoined, session)

	defer func() {
		s.clients.Delete(session.ID)
		s.clientCount.Add(-1)
		s.leave(session, room)
		_ = session.Connection.Close(protocol.CloseNormalClosure, "")
		s.announce(room, MessageTypeUserLeft, session)

		s.logger.Info("Client disconnected",
			log.String("session_id", session.ID),
			log.Int64("total_clients", s.clientCount.Load()))
	}()

	s.handleSession(session)
}

func (s *Server) join(session *ClientSession) *Room {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()

	room, ok := s.rooms[session.Room]
	if !ok {
		room = newRoom(session.Room)
		s.rooms[session.Room] = room
		s.logger.Debug("Room created", log.String("room", room.Name))
	}
	room.add(session)
	return room
}

func (s *Server) leave(session *ClientSession, room *Room) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()

	if room.remove(session) == 0 && s.rooms[room.Name] == room {
		delete(s.rooms, room.Name)
		s.logger.Debug("Room removed", log.String("room", room.Name))
	}
}

func (s *Server) room(name string) *Room {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	return s.rooms[name]
}

func (s *Server) disconnectAll(code int, reason string) {
	var sessions []*ClientSession
	s.clients.Range(func(_, value any) bool {
		if session, ok := value.(*ClientSession); ok {
			sessions = append(sessions, session)
		}
		return true
	})

	err := concurrent.Concurrent(sessions, broadcastWorkers, func(session *ClientSession) error {
		return session.Connection.Close(code, reason)
	})
	if err != nil {
		s.logger.Debug("Session close failed during shutdown", log.Error(err))
	}
}

// startWorkers starts background worker goroutines
func (s *Server) startWorkers() {
	s.workerGroup.Add(1)

	go func() {
		defer s.workerGroup.Done()
		s.healthMonitor()
	}()
}

// stopWorkers stops background worker goroutines
func (s *Server) stopWorkers() {
	s.workerGroup.Wait()
}

// healthMonitor monitors client liveness
func (s *Server) healthMonitor() {
	s.logger.Debug("Health monitor started")

	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthChecks()
		case <-s.stopChan:
			s.logger.Debug("Health monitor stopped")
			return
		}
	}
}

// performHealthChecks closes sessions that have been silent for longer than
// ClientTimeout.
func (s *Server) performHealthChecks() {
	if s.config.ClientTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.config.ClientTimeout).UnixNano()

	var idle []*ClientSession
	s.clients.Range(func(_, value any) bool {
		session := value.(*ClientSession)
		if session.LastSeen.Load() < cutoff {
			idle = append(idle, session)
		}
		return true
	})

	for _, session := range idle {
		s.logger.Info("Disconnecting inactive client", log.String("session_id", session.ID))
		_ = session.Connection.Close(protocol.CloseGoingAway, "idle timeout")
	}

	if len(idle) > 0 {
		s.logger.Info("Health check completed",
			log.Int("disconnected_clients", len(idle)),
			log.Int64("active_clients", s.clientCount.Load()))
	}
}
