package geo

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/observability"
	"github.com/example/spot-finder/internal/storage"
)

// DefaultPrefetchFactor multiplies maxResults to size the prefilter fetch.
const DefaultPrefetchFactor = 2

// CandidateSource returns available spots inside a box, at most limit of them.
// Implementations may return spots outside the longitude range of box.
type CandidateSource interface {
	Candidates(ctx context.Context, box Box, limit int) ([]models.ParkingSpot, error)
}

// StoreSource reads candidates with a single latitude range query.
type StoreSource struct {
	Spots storage.SpotStore
}

func (s StoreSource) Candidates(ctx context.Context, box Box, limit int) ([]models.ParkingSpot, error) {
	return s.Spots.AvailableInLatitudeBand(ctx, box.MinLat, box.MaxLat, limit)
}

// Match is a spot together with its exact distance from the query center.
type Match struct {
	Spot           models.ParkingSpot `json:"spot"`
	DistanceMeters float64            `json:"distanceMeters"`
	// ETASeconds is filled in by callers that annotate travel time.
	ETASeconds *float64 `json:"etaSeconds,omitempty"`
}

type Finder struct {
	Source CandidateSource
	// PrefetchFactor*maxResults candidates are fetched before the exact
	// distance filter. Dense latitude bands can exceed that and under-fetch.
	PrefetchFactor int
}

// FindNearby returns the available spots within radiusKm of center, nearest
// first, capped at maxResults.
func (f *Finder) FindNearby(ctx context.Context, center models.Location, radiusKm float64, maxResults int) ([]Match, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if !(radiusKm > 0) {
		return nil, &models.ValidationError{Field: "radius_km", Reason: "must be positive"}
	}
	if maxResults <= 0 {
		return nil, &models.ValidationError{Field: "limit", Reason: "must be positive"}
	}
	factor := f.PrefetchFactor
	if factor <= 0 {
		factor = DefaultPrefetchFactor
	}

	start := time.Now()
	box := BoundingBox(center, radiusKm)
	fetch := factor * maxResults
	if fetch/factor != maxResults {
		fetch = math.MaxInt32
	}
	cands, err := f.Source.Candidates(ctx, box, fetch)
	if err != nil {
		return nil, models.Upstream("nearby candidates", err)
	}
	observability.NearbyCandidates.Observe(float64(len(cands)))

	maxMeters := radiusKm * 1000
	out := make([]Match, 0, len(cands))
	for _, s := range cands {
		if s.Status != models.SpotAvailable || !box.ContainsLon(s.Location.Longitude) {
			continue
		}
		d := DistanceMeters(center, s.Location)
		if d > maxMeters {
			continue
		}
		out = append(out, Match{Spot: s, DistanceMeters: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	observability.NearbyQueryDuration.Observe(time.Since(start).Seconds())
	return out, nil
}
