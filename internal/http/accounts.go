package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/spot-finder/internal/models"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.Accounts.Get(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleAddVehicle(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if err := decodeJSON(r, &v); err != nil {
		s.writeError(w, r, err)
		return
	}
	added, err := s.Accounts.AddVehicle(r.Context(), identity(r).UserID, v)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleRemoveVehicle(w http.ResponseWriter, r *http.Request) {
	if err := s.Accounts.RemoveVehicle(r.Context(), identity(r).UserID, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := s.Accounts.Preferences(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var p models.UserPreferences
	if err := decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.Accounts.UpdatePreferences(r.Context(), identity(r).UserID, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
