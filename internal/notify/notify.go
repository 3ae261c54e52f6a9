// Package notify stores user notifications and hands them to the delivery
// channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/spot-finder/internal/dispatch"
	"github.com/example/spot-finder/internal/geo"
	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/observability"
	"github.com/example/spot-finder/internal/storage"
)

const (
	DefaultListLimit = 20
	metersPerMile    = 1609.344
)

// Store is the subset of storage the notification service needs.
type Store interface {
	storage.NotificationStore
	storage.PreferencesStore
}

type Service struct {
	Store    Store
	Delivery dispatch.Deliverer
	Logger   *slog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Send stores a notification for the user and pushes it out. It returns an
// empty id when the user has turned notifications off.
func (s *Service) Send(ctx context.Context, userID, title, message string, payload models.NotificationPayload) (string, error) {
	if payload == nil {
		return "", &models.ValidationError{Field: "payload", Reason: "is required"}
	}
	prefs, err := s.Store.GetPreferences(ctx, userID)
	if err != nil {
		return "", err
	}
	if !prefs.NotificationsEnabled {
		return "", nil
	}
	n := models.Notification{
		UserID:    userID,
		Title:     title,
		Message:   message,
		Timestamp: s.now(),
		Payload:   payload,
	}
	if err := s.Store.CreateNotification(ctx, &n); err != nil {
		return "", err
	}
	if s.Delivery != nil {
		if err := s.Delivery.Deliver(ctx, n); err != nil {
			observability.BestEffortFailures.WithLabelValues("notification_delivery").Inc()
			s.Logger.Warn("notification delivery failed", "user_id", userID, "notification_id", n.ID, "err", err)
		}
	}
	return n.ID, nil
}

func (s *Service) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.Store.NotificationsForUser(ctx, userID, limit)
}

// MarkRead flags one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	if _, err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	return s.Store.MarkNotificationRead(ctx, id)
}

// MarkAllRead returns how many notifications changed.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.Store.MarkAllNotificationsRead(ctx, userID)
}

func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if _, err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	return s.Store.DeleteNotification(ctx, id)
}

func (s *Service) owned(ctx context.Context, id, userID string) (models.Notification, error) {
	n, err := s.Store.GetNotification(ctx, id)
	if err != nil {
		return models.Notification{}, err
	}
	if n.UserID != userID {
		return models.Notification{}, fmt.Errorf("notification %q: %w", id, models.ErrUnauthorized)
	}
	return n, nil
}

// NotifyNearbyUsers alerts every user whose preferences match a newly
// reported spot. The reporter is skipped. Failures for one user do not stop
// the others; they come back joined.
func (s *Service) NotifyNearbyUsers(ctx context.Context, spot models.ParkingSpot) (int, error) {
	all, err := s.Store.ListPreferences(ctx)
	if err != nil {
		return 0, err
	}
	var (
		sent int
		errs []error
	)
	for _, p := range all {
		if p.UserID == spot.ReporterID || !wantsSpot(p, spot) {
			continue
		}
		id, err := s.Send(ctx, p.UserID, "Parking Spot Available!",
			fmt.Sprintf("A new %s parking spot was just reported nearby", spot.Type),
			models.SpotFoundPayload{
				SpotID:    spot.ID,
				Latitude:  spot.Location.Latitude,
				Longitude: spot.Location.Longitude,
				Type:      spot.Type,
				Cost:      spot.Cost,
			})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", p.UserID, err))
			continue
		}
		if id != "" {
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

func wantsSpot(p models.UserPreferences, spot models.ParkingSpot) bool {
	if !p.NotificationsEnabled || !p.Prefers(spot.Type) || !p.Affords(spot.Cost) {
		return false
	}
	if p.HomeLocation == nil {
		return true
	}
	return geo.DistanceMeters(*p.HomeLocation, spot.Location) <= p.NotificationRadius*metersPerMile
}

func (s *Service) RewardEarned(ctx context.Context, userID string, points int64, description string) error {
	_, err := s.Send(ctx, userID, "You Earned Points!",
		fmt.Sprintf("You earned %d points: %s", points, description),
		models.RewardEarnedPayload{PointsEarned: points, Description: description})
	return err
}

// ParkingExpiring warns the user that the session's time is nearly up.
func (s *Service) ParkingExpiring(ctx context.Context, userID, sessionID string, minutesRemaining int) error {
	message := fmt.Sprintf("Your parking time will expire in %d minutes", minutesRemaining)
	if minutesRemaining <= 0 {
		message = "Your parking time is up"
	}
	_, err := s.Send(ctx, userID, "Parking Time Expiring", message,
		models.TimeExpiringPayload{SessionID: sessionID, MinutesRemaining: minutesRemaining})
	return err
}

// SpotTaken tells the reporter that a session started on their spot.
func (s *Service) SpotTaken(ctx context.Context, reporterID, spotID, sessionID string) error {
	_, err := s.Send(ctx, reporterID, "Your Spot Was Taken",
		"Someone just parked in the spot you reported. Thanks for sharing!",
		models.SpotTakenPayload{SpotID: spotID, SessionID: sessionID})
	return err
}
