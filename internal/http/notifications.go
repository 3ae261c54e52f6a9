package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.Notifications.List(r.Context(), identity(r).UserID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.Notifications.MarkRead(r.Context(), mux.Vars(r)["id"], identity(r).UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.Notifications.MarkAllRead(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.Notifications.Delete(r.Context(), mux.Vars(r)["id"], identity(r).UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

const (
	defaultWSPongWait = 60 * time.Second
	wsWriteWait       = 10 * time.Second
)

// handleWS registers a notification socket for the caller. Browsers cannot
// set headers on websocket requests, so the token may also come as the
// access_token query parameter.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.WS == nil {
		http.Error(w, "notifications socket disabled", http.StatusNotFound)
		return
	}
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	id, err := s.Auth.Verify(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid bearer token"})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "user_id", id.UserID, "err", err)
		return
	}
	sess := s.WS.Add(id.UserID, conn)
	s.logger.Info("notification socket opened", "user_id", id.UserID)

	wait := s.wsPongWait
	done := make(chan struct{})

	// read until the client goes away; inbound frames are ignored
	go func() {
		defer func() {
			close(done)
			s.WS.Remove(id.UserID, sess)
			conn.Close()
			s.logger.Info("notification socket closed", "user_id", id.UserID)
		}()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wait)) })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(wait))
		}
	}()

	// ping before the read deadline so listen-only clients stay connected
	go func() {
		ticker := time.NewTicker(wait * 9 / 10)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sess.Ping(time.Now().Add(wsWriteWait)); err != nil {
					s.logger.Warn("notification socket ping failed", "user_id", id.UserID, "err", err)
					conn.Close()
					return
				}
			}
		}
	}()
}
