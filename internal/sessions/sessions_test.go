package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/spot-finder/internal/geo"
	"github.com/example/spot-finder/internal/logging"
	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/points"
	"github.com/example/spot-finder/internal/spots"
	"github.com/example/spot-finder/internal/storage"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeCharger struct {
	amounts []decimal.Decimal
	err     error
}

func (f *fakeCharger) Charge(ctx context.Context, amount decimal.Decimal, currency, reference string) (string, error) {
	f.amounts = append(f.amounts, amount)
	if f.err != nil {
		return "", f.err
	}
	return "pi_" + reference, nil
}

type takenNotices struct{ reporters []string }

func (n *takenNotices) SpotTaken(ctx context.Context, reporterID, spotID, sessionID string) error {
	n.reporters = append(n.reporters, reporterID)
	return nil
}

type fixture struct {
	ledger *Ledger
	spots  *spots.Service
	store  *storage.MemoryStore
	clock  *clock
}

func newFixture(t *testing.T, strict bool) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	for _, u := range []models.User{
		{ID: "reporter", Points: 100},
		{ID: "driver", Points: 100, Vehicles: []models.Vehicle{{ID: "V", UserID: "driver", Make: "Honda"}}},
		{ID: "other", Points: 100, Vehicles: []models.Vehicle{{ID: "W", UserID: "other"}}},
		{ID: "v1", Points: 100},
		{ID: "v2", Points: 100},
		{ID: "v3", Points: 100},
	} {
		require.NoError(t, store.CreateUser(ctx, u))
	}
	c := &clock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	svc := &spots.Service{
		Store:  store,
		Points: &points.Ledger{Store: store, Strict: strict, Logger: logging.Discard(), Now: c.Now},
		Finder: &geo.Finder{Source: geo.StoreSource{Spots: store}},
		Strict: strict,
		Logger: logging.Discard(),
		Now:    c.Now,
	}
	return &fixture{
		ledger: &Ledger{Store: store, Spots: svc, Strict: strict, Currency: "usd", Logger: logging.Discard(), Now: c.Now},
		spots:  svc,
		store:  store,
		clock:  c,
	}
}

func (f *fixture) report(t *testing.T, cost string) models.ParkingSpot {
	t.Helper()
	in := spots.NewSpot{
		Location:  models.Location{Latitude: 40, Longitude: -74},
		ExpiresAt: f.clock.Now().Add(3 * time.Hour),
		Type:      models.SpotStreet,
	}
	if cost != "" {
		in.Cost = decimal.NewNullDecimal(decimal.RequireFromString(cost))
	}
	spot, err := f.spots.Report(context.Background(), spots.Reporter{ID: "reporter", DisplayName: "Rita"}, in, nil)
	require.NoError(t, err)
	return spot
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Points
}

func (f *fixture) status(t *testing.T, spotID string) models.SpotStatus {
	t.Helper()
	spot, err := f.spots.Get(context.Background(), spotID)
	require.NoError(t, err)
	return spot.Status
}

func TestCommunityParkingScenario(t *testing.T) {
	for _, strict := range []bool{false, true} {
		ctx := context.Background()
		f := newFixture(t, strict)

		spot := f.report(t, "2.50")
		assert.Equal(t, int64(150), f.balance(t, "reporter"))
		assert.Equal(t, models.SpotAvailable, spot.Status)

		matches, err := f.spots.Nearby(ctx, models.Location{Latitude: 40.001, Longitude: -74.001}, 1, 20)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.InDelta(t, 140, matches[0].DistanceMeters, 2)

		for i, verifier := range []string{"v1", "v2", "v3"} {
			got, err := f.spots.Verify(ctx, spot.ID, verifier)
			require.NoError(t, err)
			assert.Equal(t, i == 2, got.Verified)
			assert.Equal(t, int64(110), f.balance(t, verifier))
		}

		sess, err := f.ledger.Start(ctx, "driver", spot.ID, "V")
		require.NoError(t, err)
		assert.True(t, sess.IsActive)
		assert.Nil(t, sess.EndTime)
		assert.Equal(t, models.SpotTaken, f.status(t, spot.ID))

		f.clock.Advance(45 * time.Minute)
		ended, err := f.ledger.End(ctx, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, ended.Duration)
		assert.Equal(t, 45, *ended.Duration)
		assert.False(t, ended.IsActive)
		assert.Equal(t, f.clock.Now(), *ended.EndTime)
		assert.False(t, ended.Cost.Valid)
		assert.Equal(t, models.SpotExpired, f.status(t, spot.ID))

		require.NoError(t, f.spots.Delete(ctx, spot.ID, "v2"))
	}
}

func TestDurationRoundsToNearestMinute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	spot := f.report(t, "")

	sess, err := f.ledger.Start(ctx, "driver", spot.ID, "V")
	require.NoError(t, err)
	f.clock.Advance(90 * time.Second)
	ended, err := f.ledger.End(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, *ended.Duration)
}

func TestStartValidatesVehicle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	spot := f.report(t, "")

	_, err := f.ledger.Start(ctx, "driver", spot.ID, "")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.ledger.Start(ctx, "driver", spot.ID, "W")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.ledger.Start(ctx, "driver", "missing", "V")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.ledger.Start(ctx, "nobody", spot.ID, "V")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, models.SpotAvailable, f.status(t, spot.ID))
	history, err := f.ledger.HistoryFor(ctx, "driver", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEndErrors(t *testing.T) {
	for _, strict := range []bool{false, true} {
		ctx := context.Background()
		f := newFixture(t, strict)
		spot := f.report(t, "")

		_, err := f.ledger.End(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)

		sess, err := f.ledger.Start(ctx, "driver", spot.ID, "V")
		require.NoError(t, err)
		_, err = f.ledger.End(ctx, sess.ID)
		require.NoError(t, err)
		_, err = f.ledger.End(ctx, sess.ID)
		assert.ErrorIs(t, err, models.ErrAlreadyEnded)
	}
}

func TestLenientStartAllowsDoubleBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	spot := f.report(t, "")

	_, err := f.ledger.Start(ctx, "driver", spot.ID, "V")
	require.NoError(t, err)
	_, err = f.ledger.Start(ctx, "other", spot.ID, "W")
	require.NoError(t, err)
}

func TestStrictStartRejectsTakenSpotAndSecondSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	first := f.report(t, "")
	second := f.report(t, "")

	_, err := f.ledger.Start(ctx, "driver", first.ID, "V")
	require.NoError(t, err)

	_, err = f.ledger.Start(ctx, "other", first.ID, "W")
	assert.ErrorIs(t, err, models.ErrConflict)
	_, err = f.ledger.Start(ctx, "driver", second.ID, "V")
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, models.SpotAvailable, f.status(t, second.ID))
}

func TestStrictConcurrentStartsBookOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	spot := f.report(t, "")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, clash int
	)
	for _, attempt := range []struct{ user, vehicle string }{{"driver", "V"}, {"other", "W"}, {"driver", "V"}, {"other", "W"}} {
		wg.Add(1)
		go func(user, vehicle string) {
			defer wg.Done()
			_, err := f.ledger.Start(ctx, user, spot.ID, vehicle)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrConflict):
				clash++
			}
		}(attempt.user, attempt.vehicle)
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, clash)
}

func TestStartNotifiesReporter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	notices := &takenNotices{}
	f.ledger.Notify = notices
	spot := f.report(t, "")

	_, err := f.ledger.Start(ctx, "driver", spot.ID, "V")
	require.NoError(t, err)
	assert.Equal(t, []string{"reporter"}, notices.reporters)
}

func TestPricing(t *testing.T) {
	cases := []struct {
		rate    string
		elapsed time.Duration
		want    string
	}{
		{"2.50", 45 * time.Minute, "2.5"},
		{"2.50", 61 * time.Minute, "5"},
		{"2.50", 0, "2.5"},
		{"", 3 * time.Hour, "0"},
	}
	for _, tc := range cases {
		ctx := context.Background()
		f := newFixture(t, false)
		charger := &fakeCharger{}
		f.ledger.Pricing = true
		f.ledger.Payments = charger
		spot := f.report(t, tc.rate)

		sess, err := f.ledger.Start(ctx, "driver", spot.ID, "V")
		require.NoError(t, err)
		f.clock.Advance(tc.elapsed)
		ended, err := f.ledger.End(ctx, sess.ID)
		require.NoError(t, err)

		require.True(t, ended.Cost.Valid)
		assert.True(t, ended.Cost.Decimal.Equal(decimal.RequireFromString(tc.want)), "rate %q after %s: got %s", tc.rate, tc.elapsed, ended.Cost.Decimal)
		if tc.rate == "" {
			assert.Empty(t, charger.amounts)
			assert.Empty(t, ended.PaymentRef)
			continue
		}
		assert.Equal(t, "pi_"+sess.ID, ended.PaymentRef)
		stored, err := f.ledger.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, ended.PaymentRef, stored.PaymentRef)
	}
}

func TestFailedPaymentStillEndsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.ledger.Pricing = true
	f.ledger.Payments = &fakeCharger{err: errors.New("card declined")}
	spot := f.report(t, "4")

	sess, _ := f.ledger.Start(ctx, "driver", spot.ID, "V")
	ended, err := f.ledger.End(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
	assert.Empty(t, ended.PaymentRef)
	assert.Equal(t, models.SpotExpired, f.status(t, spot.ID))
}

func TestEndAfterReporterDeletedSpot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	spot := f.report(t, "")

	sess, _ := f.ledger.Start(ctx, "driver", spot.ID, "V")
	require.NoError(t, f.spots.Delete(ctx, spot.ID, "reporter"))
	ended, err := f.ledger.End(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
}

func TestReminderFieldsStayConsistent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	spot := f.report(t, "")
	sess, _ := f.ledger.Start(ctx, "driver", spot.ID, "V")

	at := f.clock.Now().Add(30 * time.Minute)
	got, err := f.ledger.SetReminder(ctx, sess.ID, at)
	require.NoError(t, err)
	assert.True(t, got.ReminderSet)
	require.NotNil(t, got.ReminderTime)
	assert.Equal(t, at, *got.ReminderTime)

	got, err = f.ledger.CancelReminder(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.ReminderSet)
	assert.Nil(t, got.ReminderTime)

	_, err = f.ledger.SetReminder(ctx, sess.ID, time.Time{})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.ledger.CancelReminder(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestActiveAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	active, err := f.ledger.ActiveFor(ctx, "driver")
	require.NoError(t, err)
	assert.Nil(t, active)

	var ids []string
	for i := 0; i < 12; i++ {
		spot := f.report(t, "")
		sess, err := f.ledger.Start(ctx, "driver", spot.ID, "V")
		require.NoError(t, err)
		ids = append(ids, sess.ID)
		f.clock.Advance(time.Minute)
		if i < 11 {
			_, err = f.ledger.End(ctx, sess.ID)
			require.NoError(t, err)
		}
	}

	active, err = f.ledger.ActiveFor(ctx, "driver")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, ids[11], active.ID)

	history, err := f.ledger.HistoryFor(ctx, "driver", 0)
	require.NoError(t, err)
	require.Len(t, history, DefaultHistoryLimit)
	assert.Equal(t, ids[11], history[0].ID)
	assert.Equal(t, ids[2], history[9].ID)
}

func TestDeleteOwnerOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	spot := f.report(t, "")
	sess, _ := f.ledger.Start(ctx, "driver", spot.ID, "V")

	assert.ErrorIs(t, f.ledger.Delete(ctx, sess.ID, "other"), models.ErrUnauthorized)
	require.NoError(t, f.ledger.Delete(ctx, sess.ID, "driver"))
	_, err := f.ledger.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, f.ledger.Delete(ctx, sess.ID, "driver"), models.ErrNotFound)
}
