package sessions

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/observability"
	"github.com/example/spot-finder/internal/storage"
)

// ExpiryNotifier warns a parked user that their time is running out.
type ExpiryNotifier interface {
	ParkingExpiring(ctx context.Context, userID, sessionID string, minutesRemaining int) error
}

// SendDueReminders notifies active sessions whose reminder time has passed,
// at most batch of them, and clears each reminder so it fires once. It
// returns how many reminders fired.
func (l *Ledger) SendDueReminders(ctx context.Context, batch int) (int, error) {
	if l.Reminders == nil {
		return 0, nil
	}
	now := l.now()
	due, err := l.Store.DueReminders(ctx, now, batch)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, d := range due {
		var (
			sess    models.ParkingSession
			cleared bool
		)
		clearReminder := func(store storage.Store) error {
			cleared = false
			cur, err := store.GetSession(ctx, d.ID)
			if err != nil {
				return err
			}
			// cancelled, moved or ended since the query
			if !cur.IsActive || !cur.ReminderSet || cur.ReminderTime == nil || cur.ReminderTime.After(now) {
				return nil
			}
			cur.ReminderSet = false
			cur.ReminderTime = nil
			if err := store.UpdateSession(ctx, cur); err != nil {
				return err
			}
			sess, cleared = cur, true
			return nil
		}
		if l.Strict {
			err = l.Store.Atomically(ctx, clearReminder)
		} else {
			err = clearReminder(l.Store)
		}
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return fired, err
		}
		if !cleared {
			continue
		}
		fired++
		observability.RemindersSent.Inc()
		minutes := l.minutesRemaining(ctx, sess, now)
		if err := l.Reminders.ParkingExpiring(ctx, sess.UserID, sess.ID, minutes); err != nil {
			l.bestEffortFailed("expiry_notice", "parking expiry notice failed", "session_id", sess.ID, "user_id", sess.UserID, "err", err)
		}
	}
	return fired, nil
}

// minutesRemaining counts whole minutes, rounded up, until the spot's time
// limit runs out. Spots without a limit, or gone, report 0.
func (l *Ledger) minutesRemaining(ctx context.Context, sess models.ParkingSession, now time.Time) int {
	spot, err := l.Store.GetSpot(ctx, sess.SpotID)
	if err != nil || spot.TimeLimit == nil {
		return 0
	}
	left := sess.StartTime.Add(time.Duration(*spot.TimeLimit) * time.Minute).Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Minutes()))
}

// ReminderLoop fires due session reminders on a fixed interval.
type ReminderLoop struct {
	Sessions *Ledger
	Interval time.Duration
	Batch    int
	Logger   *slog.Logger
}

// Run fires reminders until ctx is cancelled.
func (w *ReminderLoop) Run(ctx context.Context) error {
	t := time.NewTicker(w.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.fire(ctx)
		}
	}
}

func (w *ReminderLoop) fire(ctx context.Context) {
	for {
		n, err := w.Sessions.SendDueReminders(ctx, w.Batch)
		if err != nil {
			w.Logger.Error("reminder pass failed", "err", err)
			return
		}
		if n > 0 {
			w.Logger.Info("sent parking reminders", "count", n)
		}
		if n < w.Batch {
			return
		}
	}
}
