package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/spot-finder/internal/logging"
	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/spots"
)

type expiryNotice struct {
	userID, sessionID string
	minutes           int
}

type expiryNotices struct {
	mu  sync.Mutex
	got []expiryNotice
}

func (n *expiryNotices) ParkingExpiring(ctx context.Context, userID, sessionID string, minutesRemaining int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, expiryNotice{userID, sessionID, minutesRemaining})
	return nil
}

func (n *expiryNotices) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.got)
}

func (f *fixture) reportLimited(t *testing.T, minutes int) models.ParkingSpot {
	t.Helper()
	spot, err := f.spots.Report(context.Background(), spots.Reporter{ID: "reporter"}, spots.NewSpot{
		Location:  models.Location{Latitude: 40, Longitude: -74},
		ExpiresAt: f.clock.Now().Add(3 * time.Hour),
		Type:      models.SpotStreet,
		TimeLimit: &minutes,
	}, nil)
	require.NoError(t, err)
	return spot
}

func TestDueRemindersFireOnce(t *testing.T) {
	for _, strict := range []bool{false, true} {
		ctx := context.Background()
		f := newFixture(t, strict)
		notices := &expiryNotices{}
		f.ledger.Reminders = notices

		sess, err := f.ledger.Start(ctx, "driver", f.reportLimited(t, 60).ID, "V")
		require.NoError(t, err)
		_, err = f.ledger.SetReminder(ctx, sess.ID, f.clock.Now().Add(40*time.Minute))
		require.NoError(t, err)

		n, err := f.ledger.SendDueReminders(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "reminder is not due yet")

		f.clock.Advance(45 * time.Minute)
		n, err = f.ledger.SendDueReminders(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []expiryNotice{{"driver", sess.ID, 15}}, notices.got)

		got, err := f.ledger.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.False(t, got.ReminderSet)
		assert.Nil(t, got.ReminderTime)
		assert.True(t, got.IsActive)

		n, err = f.ledger.SendDueReminders(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Len(t, notices.got, 1)
	}
}

func TestDueRemindersSkipCancelledAndEnded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	notices := &expiryNotices{}
	f.ledger.Reminders = notices

	cancelled, _ := f.ledger.Start(ctx, "driver", f.report(t, "").ID, "V")
	ended, _ := f.ledger.Start(ctx, "other", f.report(t, "").ID, "W")
	at := f.clock.Now().Add(time.Minute)
	_, _ = f.ledger.SetReminder(ctx, cancelled.ID, at)
	_, _ = f.ledger.SetReminder(ctx, ended.ID, at)
	_, err := f.ledger.CancelReminder(ctx, cancelled.ID)
	require.NoError(t, err)
	_, err = f.ledger.End(ctx, ended.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	n, err := f.ledger.SendDueReminders(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, notices.got)
}

func TestDueReminderWithoutTimeLimitReportsZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	notices := &expiryNotices{}
	f.ledger.Reminders = notices

	sess, _ := f.ledger.Start(ctx, "driver", f.report(t, "").ID, "V")
	_, _ = f.ledger.SetReminder(ctx, sess.ID, f.clock.Now())

	n, err := f.ledger.SendDueReminders(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []expiryNotice{{"driver", sess.ID, 0}}, notices.got)
}

func TestRemindersStayPendingWithoutNotifier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	sess, _ := f.ledger.Start(ctx, "driver", f.report(t, "").ID, "V")
	_, _ = f.ledger.SetReminder(ctx, sess.ID, f.clock.Now())

	n, err := f.ledger.SendDueReminders(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	got, _ := f.ledger.Get(ctx, sess.ID)
	assert.True(t, got.ReminderSet)
}

func TestReminderLoopFiresAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, false)
	notices := &expiryNotices{}
	f.ledger.Reminders = notices

	sess, _ := f.ledger.Start(ctx, "driver", f.report(t, "").ID, "V")
	_, _ = f.ledger.SetReminder(ctx, sess.ID, f.clock.Now().Add(-time.Minute))

	loop := &ReminderLoop{Sessions: f.ledger, Interval: 5 * time.Millisecond, Batch: 1, Logger: logging.Discard()}
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return notices.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reminder loop did not stop")
	}
	assert.Equal(t, 1, notices.count())
}
