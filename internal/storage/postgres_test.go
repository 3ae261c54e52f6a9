package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"
	"github.com/lib/pq"

	"github.com/example/spot-finder/internal/models"
)

var (
	db    *sql.DB
	mock  sqlmock.Sqlmock
	store *PostgresStore
)

func setUp() {
	db, mock, _ = sqlmock.New()
	store = NewPostgresStoreFromDB(db)
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

var spotCols = []string{"id", "reporter_id", "reporter_name", "latitude", "longitude", "address", "cell",
	"created_at", "expires_at", "spot_type", "cost", "time_limit", "verified", "verified_count", "photos",
	"handicap_accessible", "ev_charging", "rating", "status", "updated_at"}

func TestGetSpot(t *testing.T) {
	it(func() {
		created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`SELECT .* FROM parking_spots WHERE id=\$1`).
			WithArgs("s1").
			WillReturnRows(sqlmock.NewRows(spotCols).AddRow("s1", "u1", "Ann", 40.0, -74.0, "5th Ave", "89c25",
				created, created.Add(time.Hour), "street", "2.50", int64(60), false, int64(1),
				"{https://img/1.jpg}", true, false, 0.0, "available", created))

		s, err := store.GetSpot(context.Background(), "s1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Type != models.SpotStreet || s.Status != models.SpotAvailable {
			t.Fatalf("unexpected enums: %+v", s)
		}
		if !s.Cost.Valid || s.Cost.Decimal.String() != "2.5" {
			t.Fatalf("unexpected cost: %+v", s.Cost)
		}
		if s.TimeLimit == nil || *s.TimeLimit != 60 {
			t.Fatalf("unexpected time limit: %v", s.TimeLimit)
		}
		if len(s.Photos) != 1 || s.Photos[0] != "https://img/1.jpg" {
			t.Fatalf("unexpected photos: %v", s.Photos)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestGetSpotMissing(t *testing.T) {
	it(func() {
		mock.ExpectQuery(`SELECT .* FROM parking_spots WHERE id=\$1`).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows(spotCols))

		_, err := store.GetSpot(context.Background(), "nope")
		if !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdateSpotWithoutRowIsNotFound(t *testing.T) {
	it(func() {
		mock.ExpectExec(`UPDATE parking_spots SET`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdateSpot(context.Background(), models.ParkingSpot{ID: "gone", Status: models.SpotTaken})
		if !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAvailableInLatitudeBand(t *testing.T) {
	it(func() {
		now := time.Now()
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE status=$1 AND latitude >= $2 AND latitude <= $3`)).
			WithArgs("available", 39.99, 40.01, int64(40)).
			WillReturnRows(sqlmock.NewRows(spotCols).
				AddRow("a", "u1", "Ann", 39.995, -74.0, "", "", now, now, "lot", nil, nil, false, int64(0), "{}",
					false, true, 0.0, "available", now).
				AddRow("b", "u2", "Bob", 40.005, -74.0, "", "", now, now, "garage", "4.00", nil, true, int64(3), "{}",
					false, false, 4.5, "available", now))

		out, err := store.AvailableInLatitudeBand(context.Background(), 39.99, 40.01, 40)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(out) != 2 || out[0].ID != "a" || out[1].ID != "b" {
			t.Fatalf("unexpected rows: %+v", out)
		}
		if out[0].Cost.Valid {
			t.Fatalf("expected free spot, got cost %v", out[0].Cost)
		}
		if out[0].TimeLimit != nil {
			t.Fatalf("expected no time limit")
		}
	})
}

func TestCreateUserDuplicateIsConflict(t *testing.T) {
	it(func() {
		mock.ExpectExec(`INSERT INTO users`).WillReturnError(&pq.Error{Code: "23505"})

		err := store.CreateUser(context.Background(), models.User{ID: "u1", CreatedAt: time.Now()})
		if !errors.Is(err, models.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})
}

func TestUpstreamErrorsAreWrapped(t *testing.T) {
	it(func() {
		mock.ExpectExec(`DELETE FROM parking_spots`).WillReturnError(errors.New("connection reset"))

		err := store.DeleteSpot(context.Background(), "s1")
		if !errors.Is(err, models.ErrUpstream) {
			t.Fatalf("expected ErrUpstream, got %v", err)
		}
	})
}

func TestAtomicallyCommits(t *testing.T) {
	it(func() {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE users SET`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO rewards`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.Atomically(context.Background(), func(tx Store) error {
			if err := tx.UpdateUser(context.Background(), models.User{ID: "u1", Points: 150}); err != nil {
				return err
			}
			return tx.AppendReward(context.Background(), &models.Reward{UserID: "u1", PointsEarned: 50})
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestAtomicallyRollsBackOnError(t *testing.T) {
	it(func() {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE users SET`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO rewards`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := store.Atomically(context.Background(), func(tx Store) error {
			if err := tx.UpdateUser(context.Background(), models.User{ID: "u1", Points: 150}); err != nil {
				return err
			}
			return tx.AppendReward(context.Background(), &models.Reward{UserID: "u1", PointsEarned: 50})
		})
		if !errors.Is(err, models.ErrUpstream) {
			t.Fatalf("expected ErrUpstream, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestAtomicallyRetriesSerializationFailures(t *testing.T) {
	it(func() {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE parking_spots SET`).WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE parking_spots SET`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		calls := 0
		err := store.Atomically(context.Background(), func(tx Store) error {
			calls++
			return tx.UpdateSpot(context.Background(), models.ParkingSpot{ID: "s1", Status: models.SpotTaken})
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 2 {
			t.Fatalf("expected 2 attempts, got %d", calls)
		}
	})
}

func TestRankOfUnknownUser(t *testing.T) {
	it(func() {
		mock.ExpectQuery(`SELECT COUNT\(\*\) \+ 1 FROM users`).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"rank"}).AddRow(int64(1)))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		rank, err := store.RankOf(context.Background(), "ghost")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rank != -1 {
			t.Fatalf("expected -1, got %d", rank)
		}
	})
}

func TestMarkAllNotificationsRead(t *testing.T) {
	it(func() {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications SET read=TRUE WHERE user_id=$1 AND NOT read`)).
			WithArgs("u1").
			WillReturnResult(sqlmock.NewResult(0, 3))

		n, err := store.MarkAllNotificationsRead(context.Background(), "u1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 3 {
			t.Fatalf("expected 3, got %d", n)
		}
	})
}

func TestNotificationsDecodeTypedPayload(t *testing.T) {
	it(func() {
		now := time.Now()
		mock.ExpectQuery(`FROM notifications WHERE user_id=\$1`).
			WithArgs("u1", int64(20)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "notification_type", "title", "message", "created_at", "read", "data"}).
				AddRow("n1", "u1", "reward_earned", "You Earned Points!", "You earned 50 points", now, false,
					[]byte(`{"pointsEarned":50,"description":"report"}`)))

		out, err := store.NotificationsForUser(context.Background(), "u1", 20)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p, ok := out[0].Payload.(models.RewardEarnedPayload)
		if !ok || p.PointsEarned != 50 {
			t.Fatalf("unexpected payload: %#v", out[0].Payload)
		}
	})
}

var sessionCols = []string{"id", "user_id", "spot_id", "vehicle_id", "start_time", "end_time", "duration_minutes",
	"cost", "payment_ref", "is_active", "reminder_set", "reminder_time"}

func TestDueReminders(t *testing.T) {
	it(func() {
		now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE is_active AND reminder_set AND reminder_time <= $1`)).
			WithArgs(now, int64(50)).
			WillReturnRows(sqlmock.NewRows(sessionCols).
				AddRow("p1", "u1", "s1", "v1", now.Add(-time.Hour), nil, nil, nil, "", true, true, now.Add(-time.Minute)))

		out, err := store.DueReminders(context.Background(), now, 50)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(out) != 1 || out[0].ID != "p1" || out[0].ReminderTime == nil || !out[0].ReminderSet {
			t.Fatalf("unexpected rows: %+v", out)
		}
		if out[0].EndTime != nil || out[0].Duration != nil {
			t.Fatalf("active session should have no end: %+v", out[0])
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})
}
