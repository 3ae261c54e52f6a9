package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/spot-finder/internal/accounts"
	"github.com/example/spot-finder/internal/auth"
	"github.com/example/spot-finder/internal/dispatch"
	"github.com/example/spot-finder/internal/eta"
	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/notify"
	"github.com/example/spot-finder/internal/points"
	"github.com/example/spot-finder/internal/sessions"
	"github.com/example/spot-finder/internal/spots"
)

// Checker reports whether a backing dependency is reachable.
type Checker func(ctx context.Context) error

// Deps are the services the API exposes. ETA, WS and Checks are optional.
type Deps struct {
	Accounts      *accounts.Service
	Spots         *spots.Service
	Sessions      *sessions.Ledger
	Points        *points.Ledger
	Notifications *notify.Service
	ETA           *eta.Estimator
	Auth          *auth.Verifier
	WS            *dispatch.WSRegistry
	Checks        map[string]Checker

	NearbyRadiusKm float64
	NearbyLimit    int
	RateLimitRPS   float64
	RateLimitBurst int

	Logger *slog.Logger
}

type Server struct {
	Deps
	limiter *userLimiter
	logger  *slog.Logger
	mux     *mux.Router
	// wsPongWait is how long a notification socket may stay silent.
	wsPongWait time.Duration
}

func NewServer(d Deps) *Server {
	s := &Server{Deps: d, logger: d.Logger, mux: mux.NewRouter(), wsPongWait: defaultWSPongWait}
	if d.RateLimitRPS > 0 {
		s.limiter = newUserLimiter(d.RateLimitRPS, d.RateLimitBurst)
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/notifications", s.handleWS)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/me", s.handleMe).Methods("GET")
	api.HandleFunc("/me/vehicles", s.handleAddVehicle).Methods("POST")
	api.HandleFunc("/me/vehicles/{id}", s.handleRemoveVehicle).Methods("DELETE")
	api.HandleFunc("/me/preferences", s.handleGetPreferences).Methods("GET")
	api.HandleFunc("/me/preferences", s.handleUpdatePreferences).Methods("PUT")

	// nearby routes come before {id} so they are not taken for spot ids
	api.HandleFunc("/spots", s.handleReportSpot).Methods("POST")
	api.HandleFunc("/spots/nearby", s.handleNearby).Methods("GET")
	api.HandleFunc("/spots/nearby.geojson", s.handleNearbyGeoJSON).Methods("GET")
	api.HandleFunc("/spots/{id}", s.handleGetSpot).Methods("GET")
	api.HandleFunc("/spots/{id}", s.handleDeleteSpot).Methods("DELETE")
	api.HandleFunc("/spots/{id}/verify", s.handleVerifySpot).Methods("POST")

	api.HandleFunc("/sessions", s.handleStartSession).Methods("POST")
	api.HandleFunc("/sessions", s.handleSessionHistory).Methods("GET")
	api.HandleFunc("/sessions/active", s.handleActiveSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/end", s.handleEndSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/reminder", s.handleSetReminder).Methods("PUT")
	api.HandleFunc("/sessions/{id}/reminder", s.handleCancelReminder).Methods("DELETE")

	api.HandleFunc("/points", s.handleBalance).Methods("GET")
	api.HandleFunc("/rank", s.handleRank).Methods("GET")
	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods("GET")
	api.HandleFunc("/rewards", s.handleRewards).Methods("GET")
	api.HandleFunc("/rewards/{id}/claim", s.handleClaimReward).Methods("POST")

	api.HandleFunc("/notifications", s.handleListNotifications).Methods("GET")
	api.HandleFunc("/notifications/read-all", s.handleMarkAllRead).Methods("POST")
	api.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods("POST")
	api.HandleFunc("/notifications/{id}", s.handleDeleteNotification).Methods("DELETE")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	ready := true
	for name, check := range s.Checks {
		if err := check(r.Context()); err != nil {
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrAlreadyEnded), errors.Is(err, models.ErrAlreadyClaimed), errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code >= 500 {
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "err", err)
		if code == http.StatusInternalServerError {
			msg = "internal error"
		} else {
			msg = "a backing service is unavailable, try again shortly"
		}
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return &models.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// queryInt reads an optional integer parameter; absent means def.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &models.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return v, nil
}

func queryFloat(r *http.Request, name string, def float64, required bool) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return 0, &models.ValidationError{Field: name, Reason: "is required"}
		}
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &models.ValidationError{Field: name, Reason: "must be a number"}
	}
	return v, nil
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
