package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/spot-finder/internal/models"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.Points.Balance(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"points": balance})
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	rank, err := s.Points.Rank(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rank": rank})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	board, err := s.Points.Leaderboard(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": board})
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rewards, err := s.Points.Rewards(r.Context(), identity(r).UserID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rewards": rewards})
}

func (s *Server) handleClaimReward(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	reward, err := s.Points.Reward(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if reward.UserID != identity(r).UserID {
		s.writeError(w, r, fmt.Errorf("reward %q: %w", id, models.ErrUnauthorized))
		return
	}
	claimed, err := s.Points.Claim(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimed)
}
