package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/spot-finder/internal/models"
)

// WSSession is one open notification socket.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Ping writes a ping control frame. It shares the write lock with Send.
func (s *WSSession) Ping(deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// WSRegistry holds the open sockets of each user. A user may be connected
// from several devices.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[*WSSession]struct{}
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]map[*WSSession]struct{}), logger: logger}
}

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[userID] == nil {
		r.sessions[userID] = make(map[*WSSession]struct{})
	}
	r.sessions[userID][s] = struct{}{}
	return s
}

func (r *WSRegistry) Remove(userID string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions[userID], s)
	if len(r.sessions[userID]) == 0 {
		delete(r.sessions, userID)
	}
}

// Connected reports how many sockets the user has open.
func (r *WSRegistry) Connected(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

func (r *WSRegistry) Deliver(ctx context.Context, n models.Notification) error {
	r.mu.RLock()
	targets := make([]*WSSession, 0, len(r.sessions[n.UserID]))
	for s := range r.sessions[n.UserID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	if len(targets) == 0 {
		return ErrNoSession
	}
	var lastErr error
	delivered := 0
	for _, s := range targets {
		if err := s.Send(n); err != nil {
			r.logger.Warn("ws send failed, dropping session", "user_id", n.UserID, "err", err)
			r.Remove(n.UserID, s)
			_ = s.conn.Close()
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return lastErr
	}
	return nil
}
