// Package eta estimates how long the caller needs to reach each nearby spot.
package eta

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/spot-finder/internal/geo"
	"github.com/example/spot-finder/internal/models"
)

// DefaultSpeedMps is ~28.8 km/h, a city driving speed.
const DefaultSpeedMps = 8.0

// Client is a routing engine that returns travel time in seconds.
type Client interface {
	EstimateSeconds(ctx context.Context, from, to models.Location) (float64, error)
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

// keys round to ~11 m so callers walking around reuse entries
func keyFor(a, b models.Location) string {
	return fmtLocation(a) + "->" + fmtLocation(b)
}

func fmtLocation(l models.Location) string {
	return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Location) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Location, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// EstimateSeconds is the naive estimate: great-circle distance over speed.
func EstimateSeconds(from, to models.Location, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = DefaultSpeedMps
	}
	return geo.DistanceMeters(from, to) / speedMps
}

// Estimator fills in Match.ETASeconds. It asks the routing client when one
// is set and falls back to the naive estimate when it is missing or fails.
type Estimator struct {
	Client   Client
	Cache    *Cache
	SpeedMps float64
	Logger   *slog.Logger
}

func (e *Estimator) Seconds(ctx context.Context, from, to models.Location) float64 {
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			return v
		}
	}
	if e.Client != nil {
		v, err := e.Client.EstimateSeconds(ctx, from, to)
		if err == nil {
			if e.Cache != nil {
				e.Cache.Set(from, to, v)
			}
			return v
		}
		if e.Logger != nil {
			e.Logger.Debug("routing eta failed, using straight-line estimate", "err", err)
		}
	}
	return EstimateSeconds(from, to, e.SpeedMps)
}

// Annotate sets the ETA from origin on every match in place.
func (e *Estimator) Annotate(ctx context.Context, origin models.Location, matches []geo.Match) {
	for i := range matches {
		v := e.Seconds(ctx, origin, matches[i].Spot.Location)
		matches[i].ETASeconds = &v
	}
}
