// Package spots implements the parking spot lifecycle: report, verify,
// take, expire and delete.
package spots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/spot-finder/internal/geo"
	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/observability"
	"github.com/example/spot-finder/internal/points"
	"github.com/example/spot-finder/internal/storage"
)

type PhotoUploader interface {
	Upload(ctx context.Context, filename string, body io.Reader) (string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.SpotEvent) error
}

type NearbyNotifier interface {
	NotifyNearbyUsers(ctx context.Context, spot models.ParkingSpot) (int, error)
}

type Granter interface {
	Grant(ctx context.Context, userID string, delta int64, description string) (int64, error)
}

// Service wires the lifecycle to its collaborators. Photos, Events and
// Notify are optional.
type Service struct {
	Store  storage.Store
	Points Granter
	Finder *geo.Finder
	Photos PhotoUploader
	Events EventPublisher
	Notify NearbyNotifier
	// Strict runs verification and its points grant in one transaction.
	Strict bool
	Logger *slog.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type Reporter struct {
	ID          string
	DisplayName string
}

// NewSpot is the reporter-supplied part of a spot.
type NewSpot struct {
	Location             models.Location     `json:"location"`
	ExpiresAt            time.Time           `json:"expiresAt"`
	Type                 models.SpotType     `json:"type"`
	Cost                 decimal.NullDecimal `json:"cost"`
	TimeLimit            *int                `json:"timeLimit"`
	IsHandicapAccessible bool                `json:"isHandicapAccessible"`
	IsEVCharging         bool                `json:"isEVCharging"`
}

func (n NewSpot) Validate() error {
	if err := n.Location.Validate(); err != nil {
		return err
	}
	if !n.Type.Valid() {
		return &models.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown spot type %q", n.Type)}
	}
	if n.Cost.Valid && n.Cost.Decimal.IsNegative() {
		return &models.ValidationError{Field: "cost", Reason: "must not be negative"}
	}
	if n.TimeLimit != nil && *n.TimeLimit <= 0 {
		return &models.ValidationError{Field: "timeLimit", Reason: "must be a positive number of minutes"}
	}
	if n.ExpiresAt.IsZero() {
		return &models.ValidationError{Field: "expiresAt", Reason: "is required"}
	}
	return nil
}

// Photo is an optional image attached to a report.
type Photo struct {
	Filename string
	Body     io.Reader
}

// Report creates an available spot and credits the reporter. The photo
// upload, points grant, event and nearby alerts are best-effort: their
// failures are logged and the created spot is still returned.
func (s *Service) Report(ctx context.Context, reporter Reporter, in NewSpot, photo *Photo) (models.ParkingSpot, error) {
	if err := in.Validate(); err != nil {
		return models.ParkingSpot{}, err
	}
	now := s.now()

	photos := []string{}
	if photo != nil && s.Photos != nil {
		url, err := s.Photos.Upload(ctx, photo.Filename, photo.Body)
		if err != nil {
			s.bestEffortFailed("photo_upload", "photo upload failed, continuing without photo", "user_id", reporter.ID, "err", err)
		} else {
			photos = append(photos, url)
		}
	}

	name := reporter.DisplayName
	if name == "" {
		name = "Anonymous"
	}
	loc := in.Location
	loc.Cell = geo.CellToken(loc)
	spot := models.ParkingSpot{
		ReporterID:           reporter.ID,
		ReporterName:         name,
		Location:             loc,
		Timestamp:            now,
		ExpiresAt:            in.ExpiresAt,
		Type:                 in.Type,
		Cost:                 in.Cost,
		TimeLimit:            in.TimeLimit,
		Photos:               photos,
		IsHandicapAccessible: in.IsHandicapAccessible,
		IsEVCharging:         in.IsEVCharging,
		Status:               models.SpotAvailable,
		UpdatedAt:            now,
	}
	if err := s.Store.CreateSpot(ctx, &spot); err != nil {
		return models.ParkingSpot{}, err
	}
	observability.SpotsReported.Inc()

	// two independent writes: a failed grant leaves the spot in place
	if _, err := s.Points.Grant(ctx, reporter.ID, points.ForReporting, ""); err != nil {
		s.bestEffortFailed("points_grant", "points grant failed, spot was created", "user_id", reporter.ID, "spot_id", spot.ID, "err", err)
	}
	s.announce(ctx, models.SpotReported, spot)
	if s.Notify != nil {
		if _, err := s.Notify.NotifyNearbyUsers(ctx, spot); err != nil {
			s.bestEffortFailed("nearby_notify", "nearby notification failed", "spot_id", spot.ID, "err", err)
		}
	}
	return spot, nil
}

func (s *Service) Get(ctx context.Context, spotID string) (models.ParkingSpot, error) {
	return s.Store.GetSpot(ctx, spotID)
}

// Nearby returns available spots around center, nearest first.
func (s *Service) Nearby(ctx context.Context, center models.Location, radiusKm float64, limit int) ([]geo.Match, error) {
	return s.Finder.FindNearby(ctx, center, radiusKm, limit)
}

// Verify records one community confirmation and credits the verifier. The
// same user may verify repeatedly; every call counts.
func (s *Service) Verify(ctx context.Context, spotID, userID string) (models.ParkingSpot, error) {
	now := s.now()
	if s.Strict {
		var out models.ParkingSpot
		err := s.Store.Atomically(ctx, func(tx storage.Store) error {
			spot, err := bumpVerification(ctx, tx, spotID, now)
			if err != nil {
				return err
			}
			r := points.NewGrant(userID, points.ForVerifying, "", now)
			if _, err := points.Record(ctx, tx, &r); err != nil {
				return err
			}
			out = spot
			return nil
		})
		if err != nil {
			return models.ParkingSpot{}, err
		}
		observability.SpotVerifications.Inc()
		observability.PointsGranted.Add(points.ForVerifying)
		return out, nil
	}

	spot, err := bumpVerification(ctx, s.Store, spotID, now)
	if err != nil {
		return models.ParkingSpot{}, err
	}
	observability.SpotVerifications.Inc()
	if _, err := s.Points.Grant(ctx, userID, points.ForVerifying, ""); err != nil {
		s.bestEffortFailed("points_grant", "points grant failed, verification was recorded", "user_id", userID, "spot_id", spotID, "err", err)
	}
	return spot, nil
}

func bumpVerification(ctx context.Context, store storage.SpotStore, spotID string, now time.Time) (models.ParkingSpot, error) {
	spot, err := store.GetSpot(ctx, spotID)
	if err != nil {
		return models.ParkingSpot{}, err
	}
	spot.VerifiedCount++
	spot.Verified = spot.VerifiedCount >= models.VerificationThreshold
	spot.UpdatedAt = now
	if err := store.UpdateSpot(ctx, spot); err != nil {
		return models.ParkingSpot{}, err
	}
	return spot, nil
}

// Take moves the spot to taken against store, which may be a transaction.
func Take(ctx context.Context, store storage.SpotStore, spotID string, now time.Time) (models.ParkingSpot, error) {
	return setStatus(ctx, store, spotID, models.SpotTaken, now)
}

// Expire moves the spot to expired unconditionally.
func Expire(ctx context.Context, store storage.SpotStore, spotID string, now time.Time) (models.ParkingSpot, error) {
	return setStatus(ctx, store, spotID, models.SpotExpired, now)
}

func setStatus(ctx context.Context, store storage.SpotStore, spotID string, status models.SpotStatus, now time.Time) (models.ParkingSpot, error) {
	spot, err := store.GetSpot(ctx, spotID)
	if err != nil {
		return models.ParkingSpot{}, err
	}
	spot.Status = status
	spot.UpdatedAt = now
	if err := store.UpdateSpot(ctx, spot); err != nil {
		return models.ParkingSpot{}, err
	}
	return spot, nil
}

func (s *Service) MarkTaken(ctx context.Context, spotID string) (models.ParkingSpot, error) {
	spot, err := Take(ctx, s.Store, spotID, s.now())
	if err != nil {
		return models.ParkingSpot{}, err
	}
	s.Announce(ctx, spot)
	return spot, nil
}

func (s *Service) MarkExpired(ctx context.Context, spotID string) (models.ParkingSpot, error) {
	spot, err := Expire(ctx, s.Store, spotID, s.now())
	if err != nil {
		return models.ParkingSpot{}, err
	}
	s.Announce(ctx, spot)
	return spot, nil
}

// Announce publishes the spot's new status. Callers that changed the status
// inside a transaction announce after it commits.
func (s *Service) Announce(ctx context.Context, spot models.ParkingSpot) {
	s.announce(ctx, models.SpotStatusChanged, spot)
}

// Delete removes the spot if the requester reported it or it has expired.
func (s *Service) Delete(ctx context.Context, spotID, requesterID string) error {
	spot, err := s.Store.GetSpot(ctx, spotID)
	if err != nil {
		return err
	}
	if !spot.Deletable(requesterID) {
		return fmt.Errorf("spot %q: %w", spotID, models.ErrUnauthorized)
	}
	if err := s.Store.DeleteSpot(ctx, spotID); err != nil {
		return err
	}
	s.announce(ctx, models.SpotDeleted, spot)
	return nil
}

// ExpireOverdue expires up to batch available spots whose expiresAt has
// passed. Spots taken in the meantime are left alone.
func (s *Service) ExpireOverdue(ctx context.Context, batch int) (int, error) {
	now := s.now()
	due, err := s.Store.OverdueSpots(ctx, now, batch)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, d := range due {
		var (
			spot models.ParkingSpot
			ok   bool
		)
		expire := func(store storage.Store) error {
			spot, ok, err = expireIfOverdue(ctx, store, d.ID, now)
			return err
		}
		if s.Strict {
			err = s.Store.Atomically(ctx, expire)
		} else {
			err = expire(s.Store)
		}
		if errors.Is(err, models.ErrNotFound) {
			// deleted since the overdue query
			continue
		}
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
			observability.SpotsExpired.Inc()
			s.Announce(ctx, spot)
		}
	}
	return expired, nil
}

func expireIfOverdue(ctx context.Context, store storage.SpotStore, spotID string, now time.Time) (models.ParkingSpot, bool, error) {
	spot, err := store.GetSpot(ctx, spotID)
	if err != nil {
		return models.ParkingSpot{}, false, err
	}
	if spot.Status != models.SpotAvailable || !spot.ExpiresAt.Before(now) {
		return spot, false, nil
	}
	spot.Status = models.SpotExpired
	spot.UpdatedAt = now
	if err := store.UpdateSpot(ctx, spot); err != nil {
		return models.ParkingSpot{}, false, err
	}
	return spot, true, nil
}

func (s *Service) announce(ctx context.Context, kind models.SpotEventKind, spot models.ParkingSpot) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, models.EventFor(kind, spot, s.now())); err != nil {
		s.bestEffortFailed("event_publish", "spot event publish failed", "spot_id", spot.ID, "kind", kind, "err", err)
	}
}

func (s *Service) bestEffortFailed(kind, msg string, args ...any) {
	observability.BestEffortFailures.WithLabelValues(kind).Inc()
	s.Logger.Warn(msg, args...)
}
