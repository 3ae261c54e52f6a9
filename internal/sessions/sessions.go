// Package sessions tracks parking sessions from start to end and keeps the
// occupied spot's status in step.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/observability"
	"github.com/example/spot-finder/internal/spots"
	"github.com/example/spot-finder/internal/storage"
)

const DefaultHistoryLimit = 10

// Charger takes payment for a priced session and returns a payment reference.
type Charger interface {
	Charge(ctx context.Context, amount decimal.Decimal, currency, reference string) (string, error)
}

// TakenNotifier tells a spot's reporter that someone parked there.
type TakenNotifier interface {
	SpotTaken(ctx context.Context, reporterID, spotID, sessionID string) error
}

type Ledger struct {
	Store storage.Store
	Spots *spots.Service
	// Notify and Payments are optional.
	Notify   TakenNotifier
	Payments Charger
	// Reminders delivers due reminders; without it reminders stay metadata.
	Reminders ExpiryNotifier
	// Pricing bills spot cost as an hourly rate, rounded up to whole hours.
	Pricing  bool
	Currency string
	// Strict runs start and end as single transactions and refuses to start
	// on a spot that is not available or for a user already parked.
	Strict bool
	Logger *slog.Logger
	Now    func() time.Time
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Start opens a session for the user's vehicle on the spot and marks the spot taken.
func (l *Ledger) Start(ctx context.Context, userID, spotID, vehicleID string) (models.ParkingSession, error) {
	if vehicleID == "" {
		return models.ParkingSession{}, &models.ValidationError{Field: "vehicleId", Reason: "a vehicle must be selected"}
	}
	user, err := l.Store.GetUser(ctx, userID)
	if err != nil {
		return models.ParkingSession{}, err
	}
	if !user.HasVehicle(vehicleID) {
		return models.ParkingSession{}, &models.ValidationError{Field: "vehicleId", Reason: "is not one of the user's vehicles"}
	}

	now := l.now()
	sess := models.ParkingSession{
		UserID:    userID,
		SpotID:    spotID,
		VehicleID: vehicleID,
		StartTime: now,
		IsActive:  true,
	}
	var spot models.ParkingSpot
	if l.Strict {
		err = l.Store.Atomically(ctx, func(tx storage.Store) error {
			current, err := tx.GetSpot(ctx, spotID)
			if err != nil {
				return err
			}
			if current.Status != models.SpotAvailable {
				return fmt.Errorf("spot %q is %s: %w", spotID, current.Status, models.ErrConflict)
			}
			active, err := tx.ActiveSessions(ctx, userID, 1)
			if err != nil {
				return err
			}
			if len(active) > 0 {
				return fmt.Errorf("user %q already parked in session %q: %w", userID, active[0].ID, models.ErrConflict)
			}
			if err := tx.CreateSession(ctx, &sess); err != nil {
				return err
			}
			spot, err = spots.Take(ctx, tx, spotID, now)
			return err
		})
		if err != nil {
			return models.ParkingSession{}, err
		}
		l.Spots.Announce(ctx, spot)
	} else {
		if _, err := l.Store.GetSpot(ctx, spotID); err != nil {
			return models.ParkingSession{}, err
		}
		if err := l.Store.CreateSession(ctx, &sess); err != nil {
			return models.ParkingSession{}, err
		}
		if spot, err = l.Spots.MarkTaken(ctx, spotID); err != nil {
			return models.ParkingSession{}, fmt.Errorf("mark spot %q taken for session %q: %w", spotID, sess.ID, err)
		}
	}
	observability.SessionsStarted.Inc()

	if l.Notify != nil && spot.ReporterID != "" && spot.ReporterID != userID {
		if err := l.Notify.SpotTaken(ctx, spot.ReporterID, spotID, sess.ID); err != nil {
			l.bestEffortFailed("spot_taken_notice", "spot taken notice failed", "session_id", sess.ID, "user_id", spot.ReporterID, "err", err)
		}
	}
	return sess, nil
}

// End closes an active session, records its duration and expires the spot.
func (l *Ledger) End(ctx context.Context, sessionID string) (models.ParkingSession, error) {
	now := l.now()
	var (
		sess    models.ParkingSession
		spot    models.ParkingSpot
		hasSpot bool
	)
	finish := func(store storage.Store) error {
		hasSpot = false
		var err error
		sess, err = store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !sess.IsActive {
			return fmt.Errorf("session %q: %w", sessionID, models.ErrAlreadyEnded)
		}
		end := now
		minutes := models.DurationMinutes(sess.StartTime, end)
		sess.EndTime = &end
		sess.Duration = &minutes
		sess.IsActive = false

		spot, err = spots.Expire(ctx, store, sess.SpotID, now)
		switch {
		case errors.Is(err, models.ErrNotFound):
			// the reporter may delete a taken spot; the session still ends
			l.Logger.Warn("session spot no longer exists", "session_id", sessionID, "spot_id", sess.SpotID)
		case err != nil:
			return err
		default:
			hasSpot = true
		}
		if l.Pricing && hasSpot {
			sess.Cost = Price(spot.Cost, minutes)
		}
		return store.UpdateSession(ctx, sess)
	}

	var err error
	if l.Strict {
		err = l.Store.Atomically(ctx, finish)
	} else {
		err = finish(l.Store)
	}
	if err != nil {
		return models.ParkingSession{}, err
	}
	if hasSpot {
		l.Spots.Announce(ctx, spot)
	}
	observability.SessionsEnded.Inc()

	if l.Payments != nil && sess.Cost.Valid && sess.Cost.Decimal.IsPositive() {
		ref, err := l.Payments.Charge(ctx, sess.Cost.Decimal, l.Currency, sess.ID)
		if err != nil {
			l.bestEffortFailed("payment_capture", "session payment failed", "session_id", sess.ID, "user_id", sess.UserID, "err", err)
			return sess, nil
		}
		sess.PaymentRef = ref
		if err := l.Store.UpdateSession(ctx, sess); err != nil {
			l.bestEffortFailed("payment_capture", "storing payment reference failed", "session_id", sess.ID, "payment_ref", ref, "err", err)
		}
	}
	return sess, nil
}

// Price bills an hourly rate for every started hour, with a one hour
// minimum. Free spots cost zero.
func Price(rate decimal.NullDecimal, minutes int) decimal.NullDecimal {
	if !rate.Valid {
		return decimal.NewNullDecimal(decimal.Zero)
	}
	hours := int64((minutes + 59) / 60)
	if hours < 1 {
		hours = 1
	}
	return decimal.NewNullDecimal(rate.Decimal.Mul(decimal.NewFromInt(hours)))
}

// SetReminder records when the user wants to be reminded. SendDueReminders
// delivers it once the time passes.
func (l *Ledger) SetReminder(ctx context.Context, sessionID string, at time.Time) (models.ParkingSession, error) {
	if at.IsZero() {
		return models.ParkingSession{}, &models.ValidationError{Field: "reminderTime", Reason: "is required"}
	}
	return l.update(ctx, sessionID, func(s *models.ParkingSession) {
		s.ReminderSet = true
		s.ReminderTime = &at
	})
}

func (l *Ledger) CancelReminder(ctx context.Context, sessionID string) (models.ParkingSession, error) {
	return l.update(ctx, sessionID, func(s *models.ParkingSession) {
		s.ReminderSet = false
		s.ReminderTime = nil
	})
}

func (l *Ledger) update(ctx context.Context, sessionID string, mutate func(*models.ParkingSession)) (models.ParkingSession, error) {
	sess, err := l.Store.GetSession(ctx, sessionID)
	if err != nil {
		return models.ParkingSession{}, err
	}
	mutate(&sess)
	if err := l.Store.UpdateSession(ctx, sess); err != nil {
		return models.ParkingSession{}, err
	}
	return sess, nil
}

// ActiveFor returns the user's most recently started active session, or nil.
func (l *Ledger) ActiveFor(ctx context.Context, userID string) (*models.ParkingSession, error) {
	active, err := l.Store.ActiveSessions(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}
	return &active[0], nil
}

// HistoryFor lists the user's sessions, newest first.
func (l *Ledger) HistoryFor(ctx context.Context, userID string, limit int) ([]models.ParkingSession, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return l.Store.SessionsForUser(ctx, userID, limit)
}

func (l *Ledger) Get(ctx context.Context, sessionID string) (models.ParkingSession, error) {
	return l.Store.GetSession(ctx, sessionID)
}

// Delete removes a session. Only its owner may do so.
func (l *Ledger) Delete(ctx context.Context, sessionID, userID string) error {
	sess, err := l.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return fmt.Errorf("session %q: %w", sessionID, models.ErrUnauthorized)
	}
	return l.Store.DeleteSession(ctx, sessionID)
}

func (l *Ledger) bestEffortFailed(kind, msg string, args ...any) {
	observability.BestEffortFailures.WithLabelValues(kind).Inc()
	l.Logger.Warn(msg, args...)
}
