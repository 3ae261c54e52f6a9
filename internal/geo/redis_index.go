package geo

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/storage"
)

// RedisIndex keeps available spots in a Redis GEO set. It is fed by spot
// events and serves as a CandidateSource that searches the full box instead
// of a latitude band. Members are hydrated from the store, which stays the
// source of truth.
type RedisIndex struct {
	client *redis.Client
	key    string
	spots  storage.SpotStore
}

func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password})
}

func NewRedisIndex(client *redis.Client, key string, spots storage.SpotStore) *RedisIndex {
	return &RedisIndex{client: client, key: key, spots: spots}
}

func (r *RedisIndex) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

// Apply brings the index in line with ev: available spots are added, anything
// else is removed.
func (r *RedisIndex) Apply(ctx context.Context, ev models.SpotEvent) error {
	if ev.Kind != models.SpotDeleted && ev.Status == models.SpotAvailable {
		return r.Upsert(ctx, ev)
	}
	return r.Remove(ctx, ev.SpotID)
}

func (r *RedisIndex) Upsert(ctx context.Context, ev models.SpotEvent) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Name: ev.SpotID, Longitude: ev.Longitude, Latitude: ev.Latitude})
		pipe.HSet(ctx, metaKey(ev.SpotID), map[string]interface{}{
			"status":  string(ev.Status),
			"updated": ev.At.Format(time.RFC3339),
		})
		return nil
	})
	return err
}

func (r *RedisIndex) Remove(ctx context.Context, spotID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.key, spotID)
		pipe.Del(ctx, metaKey(spotID))
		return nil
	})
	return err
}

func (r *RedisIndex) Candidates(ctx context.Context, box Box, limit int) ([]models.ParkingSpot, error) {
	center := box.Center()
	width, height := box.SizeKm()
	ids, err := r.client.GeoSearch(ctx, r.key, &redis.GeoSearchQuery{
		Longitude: center.Longitude,
		Latitude:  center.Latitude,
		BoxWidth:  width,
		BoxHeight: height,
		BoxUnit:   "km",
		Sort:      "ASC",
		Count:     limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.ParkingSpot, 0, len(ids))
	for _, id := range ids {
		s, err := r.spots.GetSpot(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			// stale member; the consumer will catch up
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.Status == models.SpotAvailable {
			out = append(out, s)
		}
	}
	return out, nil
}

func metaKey(id string) string { return "spot:meta:" + id }
