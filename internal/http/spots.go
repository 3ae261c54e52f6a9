package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/spot-finder/internal/geo"
	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/spots"
)

const (
	maxReportBytes = 12 << 20
	// maxNearbyLimit bounds the result size a caller can ask for.
	maxNearbyLimit = 100
)

// handleReportSpot accepts either a JSON body or a multipart form with the
// spot JSON in the "spot" field and an optional "photo" file.
func (s *Server) handleReportSpot(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var (
		in    spots.NewSpot
		photo *spots.Photo
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxReportBytes)
		if err := r.ParseMultipartForm(4 << 20); err != nil {
			s.writeError(w, r, &models.ValidationError{Field: "form", Reason: err.Error()})
			return
		}
		defer r.MultipartForm.RemoveAll()
		if err := json.Unmarshal([]byte(r.FormValue("spot")), &in); err != nil {
			s.writeError(w, r, &models.ValidationError{Field: "spot", Reason: err.Error()})
			return
		}
		if f, hdr, err := r.FormFile("photo"); err == nil {
			defer f.Close()
			photo = &spots.Photo{Filename: hdr.Filename, Body: f}
		}
	} else if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	spot, err := s.Spots.Report(r.Context(), spots.Reporter{ID: id.UserID, DisplayName: id.Name}, in, photo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, spot)
}

func (s *Server) nearby(r *http.Request) (models.Location, []geo.Match, error) {
	lat, err := queryFloat(r, "lat", 0, true)
	if err != nil {
		return models.Location{}, nil, err
	}
	lon, err := queryFloat(r, "lon", 0, true)
	if err != nil {
		return models.Location{}, nil, err
	}
	radius, err := queryFloat(r, "radius_km", s.NearbyRadiusKm, false)
	if err != nil {
		return models.Location{}, nil, err
	}
	limit, err := queryInt(r, "limit", s.NearbyLimit)
	if err != nil {
		return models.Location{}, nil, err
	}
	if limit > maxNearbyLimit {
		limit = maxNearbyLimit
	}
	center := models.Location{Latitude: lat, Longitude: lon}
	matches, err := s.Spots.Nearby(r.Context(), center, radius, limit)
	if err != nil {
		return models.Location{}, nil, err
	}
	if withETA, _ := strconv.ParseBool(r.URL.Query().Get("eta")); withETA && s.ETA != nil {
		s.ETA.Annotate(r.Context(), center, matches)
	}
	return center, matches, nil
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	_, matches, err := s.nearby(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"spots": matches})
}

func (s *Server) handleNearbyGeoJSON(w http.ResponseWriter, r *http.Request) {
	_, matches, err := s.nearby(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := geo.FeatureCollection(matches).MarshalJSON()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(b)
}

func (s *Server) handleGetSpot(w http.ResponseWriter, r *http.Request) {
	spot, err := s.Spots.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spot)
}

func (s *Server) handleDeleteSpot(w http.ResponseWriter, r *http.Request) {
	if err := s.Spots.Delete(r.Context(), mux.Vars(r)["id"], identity(r).UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifySpot(w http.ResponseWriter, r *http.Request) {
	spot, err := s.Spots.Verify(r.Context(), mux.Vars(r)["id"], identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spot)
}
