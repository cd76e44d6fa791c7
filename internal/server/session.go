package server

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/zeusync/wsclient/internal/core/observability/log"
	"github.com/zeusync/wsclient/internal/core/protocol"
	"github.com/zeusync/wsclient/internal/core/protocol/websocket"
)

// ClientSession represents a connected client session
type ClientSession struct {
	ID          string
	UserID      string
	Room        string
	Connection  *websocket.Connection
	ConnectedAt time.Time
	LastSeen    atomic.Int64 // unix nanoseconds

	limiter *rate.Limiter // nil when unlimited
}

// Presence is the payload of user_joined, user_left and welcome messages.
type Presence struct {
	UserID    string   `json:"user_id"`
	SessionID string   `json:"session_id"`
	Room      string   `json:"room"`
	Clients   int      `json:"clients"`
	Members   []string `json:"members,omitempty"`
}

// ErrorPayload is sent back to a client whose frame could not be handled.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Relay message types
const (
	MessageTypeWelcome    = "welcome"
	MessageTypeUserJoined = "user_joined"
	MessageTypeUserLeft   = "user_left"
	MessageTypeError      = "server_error"
)

// handleSession reads frames until the connection ends.
func (s *Server) handleSession(session *ClientSession) {
	clientLogger := s.logger.With(
		log.String("session_id", session.ID),
		log.String("room", session.Room))
	clientLogger.Debug("Session handler started")

	for {
		frame, err := session.Connection.ReadFrame()
		if err != nil {
			if protocol.IsCleanClose(err) {
				clientLogger.Debug("Client closed the connection")
			} else {
				clientLogger.Debug("Session read ended", log.Error(err))
			}
			break
		}

		session.LastSeen.Store(time.Now().UnixNano())
		s.handleFrame(session, frame, clientLogger)
	}

	clientLogger.Debug("Session handler stopped")
}

// handleFrame acks heartbeats, echoes correlated messages back to the sender
// and broadcasts everything else to the sender's room.
func (s *Server) handleFrame(session *ClientSession, frame []byte, logger log.Log) {
	msg, err := protocol.ParseMessage(frame)
	if err != nil {
		s.stats.parseErrors.Add(1)
		logger.Warn("Failed to parse client frame", log.Error(err))
		s.sendTo(session, MessageTypeError, "", ErrorPayload{
			Code:    protocol.CodeOf(err).String(),
			Message: err.Error(),
		})
		return
	}

	// heartbeats are never rate limited
	if msg.Type != s.config.HeartbeatType && session.limiter != nil && !session.limiter.Allow() {
		s.stats.rateLimited.Add(1)
		logger.Warn("Rate limit exceeded", log.String("message_type", msg.Type))
		s.sendTo(session, MessageTypeError, msg.ID, ErrorPayload{
			Code:    "rate-limited",
			Message: "message rate exceeded, frame dropped",
		})
		return
	}

	switch {
	case msg.Type == s.config.HeartbeatType:
		s.stats.heartbeats.Add(1)
		s.sendTo(session, s.config.HeartbeatAckType, msg.ID, nil)

	case msg.ID != "":
		s.stats.echoed.Add(1)
		if err = session.Connection.WriteFrame(frame); err != nil {
			logger.Error("Failed to send echo response", log.Error(err))
		}

	default:
		room := s.room(session.Room)
		if room == nil {
			return
		}
		n := room.broadcast(frame, session.ID, logger)
		s.stats.relayed.Add(uint64(n))
	}
}

func (s *Server) sendTo(session *ClientSession, msgType, id string, data any) {
	msg, err := protocol.NewMessage(msgType, data)
	if err != nil {
		return
	}
	msg.ID = id

	frame, err := msg.Serialize()
	if err != nil {
		return
	}
	if err = session.Connection.WriteFrame(frame); err != nil {
		s.logger.Debug("Failed to send to session",
			log.String("session_id", session.ID),
			log.String("type", msgType),
			log.Error(err))
	}
}

func (s *Server) announce(room *Room, msgType string, session *ClientSession) {
	msg, err := protocol.NewMessage(msgType, Presence{
		UserID:    session.UserID,
		SessionID: session.ID,
		Room:      room.Name,
		Clients:   room.Len(),
	})
	if err != nil {
		return
	}
	frame, err := msg.Serialize()
	if err != nil {
		return
	}
	room.broadcast(frame, session.ID, s.logger)
}
