package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/spot-finder/internal/models"
)

type startSessionRequest struct {
	SpotID    string `json:"spotId"`
	VehicleID string `json:"vehicleId"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.SpotID == "" {
		s.writeError(w, r, &models.ValidationError{Field: "spotId", Reason: "is required"})
		return
	}
	sess, err := s.Sessions.Start(r.Context(), identity(r).UserID, req.SpotID, req.VehicleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.ActiveFor(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	history, err := s.Sessions.HistoryFor(r.Context(), identity(r).UserID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": history})
}

// ownSession loads the session in the path and checks the caller owns it.
func (s *Server) ownSession(r *http.Request) (models.ParkingSession, error) {
	id := mux.Vars(r)["id"]
	sess, err := s.Sessions.Get(r.Context(), id)
	if err != nil {
		return models.ParkingSession{}, err
	}
	if sess.UserID != identity(r).UserID {
		return models.ParkingSession{}, fmt.Errorf("session %q: %w", id, models.ErrUnauthorized)
	}
	return sess, nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ownSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Delete(r.Context(), mux.Vars(r)["id"], identity(r).UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ownSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ended, err := s.Sessions.End(r.Context(), sess.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ended)
}

type reminderRequest struct {
	ReminderTime time.Time `json:"reminderTime"`
}

func (s *Server) handleSetReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.ownSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.Sessions.SetReminder(r.Context(), sess.ID, req.ReminderTime)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleCancelReminder(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ownSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.Sessions.CancelReminder(r.Context(), sess.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
