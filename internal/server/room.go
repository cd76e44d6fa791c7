package server

import (
	"sort"
	"sync"
	"time"

	"github.com/zeusync/wsclient/internal/core/observability/log"
	"github.com/zeusync/wsclient/pkg/concurrent"
)

// slow peers must not hold up the rest of the room
const broadcastWorkers = 8

// Room is a named set of sessions that see each other's broadcasts.
type Room struct {
	Name      string
	CreatedAt time.Time

	sessions map[string]*ClientSession
	mu       sync.RWMutex
}

func newRoom(name string) *Room {
	return &Room{
		Name:      name,
		CreatedAt: time.Now(),
		sessions:  make(map[string]*ClientSession),
	}
}

func (r *Room) add(session *ClientSession) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return len(r.sessions)
}

func (r *Room) remove(session *ClientSession) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, session.ID)
	return len(r.sessions)
}

// Len returns the number of sessions in the room
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Members returns the user IDs in the room, sorted.
func (r *Room) Members() []string {
	r.mu.RLock()
	members := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		members = append(members, s.UserID)
	}
	r.mu.RUnlock()

	sort.Strings(members)
	return members
}

// broadcast writes frame to every session except exceptID and returns the
// number of successful deliveries.
func (r *Room) broadcast(frame []byte, exceptID string, logger log.Log) int {
	r.mu.RLock()
	targets := make([]*ClientSession, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id != exceptID {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	return concurrent.ParallelMute(targets, broadcastWorkers, func(s *ClientSession) error {
		err := s.Connection.WriteFrame(frame)
		if err != nil {
			logger.Debug("Failed to deliver broadcast",
				log.String("room", r.Name),
				log.String("session_id", s.ID),
				log.Error(err))
		}
		return err
	})
}
