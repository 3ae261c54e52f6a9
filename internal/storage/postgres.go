package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/spot-finder/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const maxTxAttempts = 3

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresStore struct {
	db   *sql.DB
	q    queryer
	inTx bool
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresStoreFromDB(db), nil
}

// NewPostgresStoreFromDB wraps an already opened handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate applies the embedded schema files in name order.
func (p *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	applied := make([]string, 0, len(names))
	for _, name := range names {
		b, err := migrationFiles.ReadFile(name)
		if err != nil {
			return applied, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return applied, fmt.Errorf("migration %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// Atomically runs fn inside a SERIALIZABLE transaction, retrying when
// postgres aborts it with a serialization failure.
func (p *PostgresStore) Atomically(ctx context.Context, fn func(tx Store) error) error {
	if p.inTx {
		return fn(p)
	}
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = p.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return models.Upstream("transaction retries exhausted", err)
}

func (p *PostgresStore) runTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return models.Upstream("begin tx", err)
	}
	if err := fn(&PostgresStore{db: p.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return models.Upstream("rows affected", err)
	}
	if n == 0 {
		return models.NotFound(kind, id)
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

// spots

const spotColumns = `id, reporter_id, reporter_name, latitude, longitude, address, cell, created_at, expires_at,
	spot_type, cost, time_limit, verified, verified_count, photos, handicap_accessible, ev_charging, rating, status, updated_at`

func scanSpot(row rowScanner) (models.ParkingSpot, error) {
	var (
		s         models.ParkingSpot
		timeLimit sql.NullInt64
		photos    []string
	)
	err := row.Scan(&s.ID, &s.ReporterID, &s.ReporterName, &s.Location.Latitude, &s.Location.Longitude,
		&s.Location.Address, &s.Location.Cell, &s.Timestamp, &s.ExpiresAt, &s.Type, &s.Cost, &timeLimit,
		&s.Verified, &s.VerifiedCount, pq.Array(&photos), &s.IsHandicapAccessible, &s.IsEVCharging,
		&s.Rating, &s.Status, &s.UpdatedAt)
	if err != nil {
		return models.ParkingSpot{}, err
	}
	s.TimeLimit = intPtr(timeLimit)
	if photos == nil {
		photos = []string{}
	}
	s.Photos = photos
	return s, nil
}

func (p *PostgresStore) querySpots(ctx context.Context, op, q string, args ...any) ([]models.ParkingSpot, error) {
	rows, err := p.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, models.Upstream(op, err)
	}
	defer rows.Close()
	out := make([]models.ParkingSpot, 0)
	for rows.Next() {
		s, err := scanSpot(rows)
		if err != nil {
			return nil, models.Upstream(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Upstream(op, err)
	}
	return out, nil
}

func (p *PostgresStore) CreateSpot(ctx context.Context, s *models.ParkingSpot) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	photos := s.Photos
	if photos == nil {
		photos = []string{}
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO parking_spots(`+spotColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		s.ID, s.ReporterID, s.ReporterName, s.Location.Latitude, s.Location.Longitude, s.Location.Address,
		s.Location.Cell, s.Timestamp, s.ExpiresAt, string(s.Type), s.Cost, nullInt(s.TimeLimit), s.Verified,
		s.VerifiedCount, pq.Array(photos), s.IsHandicapAccessible, s.IsEVCharging, s.Rating, string(s.Status), s.UpdatedAt)
	if isUniqueViolation(err) {
		return models.ErrConflict
	}
	return models.Upstream("insert spot", err)
}

func (p *PostgresStore) GetSpot(ctx context.Context, id string) (models.ParkingSpot, error) {
	s, err := scanSpot(p.q.QueryRowContext(ctx, `SELECT `+spotColumns+` FROM parking_spots WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ParkingSpot{}, models.NotFound("spot", id)
	}
	if err != nil {
		return models.ParkingSpot{}, models.Upstream("get spot", err)
	}
	return s, nil
}

func (p *PostgresStore) UpdateSpot(ctx context.Context, s models.ParkingSpot) error {
	photos := s.Photos
	if photos == nil {
		photos = []string{}
	}
	res, err := p.q.ExecContext(ctx, `UPDATE parking_spots SET reporter_name=$2, address=$3, expires_at=$4, spot_type=$5,
		cost=$6, time_limit=$7, verified=$8, verified_count=$9, photos=$10, handicap_accessible=$11, ev_charging=$12,
		rating=$13, status=$14, updated_at=$15 WHERE id=$1`,
		s.ID, s.ReporterName, s.Location.Address, s.ExpiresAt, string(s.Type), s.Cost, nullInt(s.TimeLimit),
		s.Verified, s.VerifiedCount, pq.Array(photos), s.IsHandicapAccessible, s.IsEVCharging, s.Rating,
		string(s.Status), s.UpdatedAt)
	if err != nil {
		return models.Upstream("update spot", err)
	}
	return expectOne(res, "spot", s.ID)
}

func (p *PostgresStore) DeleteSpot(ctx context.Context, id string) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM parking_spots WHERE id=$1`, id)
	if err != nil {
		return models.Upstream("delete spot", err)
	}
	return expectOne(res, "spot", id)
}

func (p *PostgresStore) AvailableInLatitudeBand(ctx context.Context, minLat, maxLat float64, limit int) ([]models.ParkingSpot, error) {
	return p.querySpots(ctx, "spots in band", `SELECT `+spotColumns+` FROM parking_spots
		WHERE status=$1 AND latitude >= $2 AND latitude <= $3
		ORDER BY latitude ASC, created_at DESC LIMIT $4`,
		string(models.SpotAvailable), minLat, maxLat, sqlLimit(limit))
}

func (p *PostgresStore) OverdueSpots(ctx context.Context, now time.Time, limit int) ([]models.ParkingSpot, error) {
	return p.querySpots(ctx, "overdue spots", `SELECT `+spotColumns+` FROM parking_spots
		WHERE status=$1 AND expires_at < $2 ORDER BY expires_at ASC LIMIT $3`,
		string(models.SpotAvailable), now, sqlLimit(limit))
}

// sessions

const sessionColumns = `id, user_id, spot_id, vehicle_id, start_time, end_time, duration_minutes, cost, payment_ref,
	is_active, reminder_set, reminder_time`

func scanSession(row rowScanner) (models.ParkingSession, error) {
	var (
		s        models.ParkingSession
		endTime  sql.NullTime
		duration sql.NullInt64
		reminder sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.SpotID, &s.VehicleID, &s.StartTime, &endTime, &duration, &s.Cost,
		&s.PaymentRef, &s.IsActive, &s.ReminderSet, &reminder)
	if err != nil {
		return models.ParkingSession{}, err
	}
	s.EndTime = timePtr(endTime)
	s.Duration = intPtr(duration)
	s.ReminderTime = timePtr(reminder)
	return s, nil
}

func (p *PostgresStore) querySessions(ctx context.Context, op, q string, args ...any) ([]models.ParkingSession, error) {
	rows, err := p.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, models.Upstream(op, err)
	}
	defer rows.Close()
	out := make([]models.ParkingSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, models.Upstream(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Upstream(op, err)
	}
	return out, nil
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *models.ParkingSession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO parking_sessions(`+sessionColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		s.ID, s.UserID, s.SpotID, s.VehicleID, s.StartTime, nullTime(s.EndTime), nullInt(s.Duration), s.Cost,
		s.PaymentRef, s.IsActive, s.ReminderSet, nullTime(s.ReminderTime))
	if isUniqueViolation(err) {
		return models.ErrConflict
	}
	return models.Upstream("insert session", err)
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (models.ParkingSession, error) {
	s, err := scanSession(p.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM parking_sessions WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ParkingSession{}, models.NotFound("session", id)
	}
	if err != nil {
		return models.ParkingSession{}, models.Upstream("get session", err)
	}
	return s, nil
}

func (p *PostgresStore) UpdateSession(ctx context.Context, s models.ParkingSession) error {
	res, err := p.q.ExecContext(ctx, `UPDATE parking_sessions SET end_time=$2, duration_minutes=$3, cost=$4,
		payment_ref=$5, is_active=$6, reminder_set=$7, reminder_time=$8 WHERE id=$1`,
		s.ID, nullTime(s.EndTime), nullInt(s.Duration), s.Cost, s.PaymentRef, s.IsActive, s.ReminderSet,
		nullTime(s.ReminderTime))
	if err != nil {
		return models.Upstream("update session", err)
	}
	return expectOne(res, "session", s.ID)
}

func (p *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM parking_sessions WHERE id=$1`, id)
	if err != nil {
		return models.Upstream("delete session", err)
	}
	return expectOne(res, "session", id)
}

func (p *PostgresStore) ActiveSessions(ctx context.Context, userID string, limit int) ([]models.ParkingSession, error) {
	return p.querySessions(ctx, "active sessions", `SELECT `+sessionColumns+` FROM parking_sessions
		WHERE user_id=$1 AND is_active ORDER BY start_time DESC LIMIT $2`, userID, sqlLimit(limit))
}

func (p *PostgresStore) SessionsForUser(ctx context.Context, userID string, limit int) ([]models.ParkingSession, error) {
	return p.querySessions(ctx, "session history", `SELECT `+sessionColumns+` FROM parking_sessions
		WHERE user_id=$1 ORDER BY start_time DESC LIMIT $2`, userID, sqlLimit(limit))
}

func (p *PostgresStore) DueReminders(ctx context.Context, now time.Time, limit int) ([]models.ParkingSession, error) {
	return p.querySessions(ctx, "due reminders", `SELECT `+sessionColumns+` FROM parking_sessions
		WHERE is_active AND reminder_set AND reminder_time <= $1 ORDER BY reminder_time, id LIMIT $2`, now, sqlLimit(limit))
}

// sqlLimit maps "no limit" onto LIMIT NULL, which postgres treats as LIMIT ALL.
func sqlLimit(limit int) sql.NullInt64 {
	if limit <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(limit), Valid: true}
}

// users

const userColumns = `id, email, display_name, photo_url, created_at, points, vehicles`

func scanUser(row rowScanner) (models.User, error) {
	var (
		u        models.User
		vehicles []byte
	)
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PhotoURL, &u.CreatedAt, &u.Points, &vehicles); err != nil {
		return models.User{}, err
	}
	u.Vehicles = []models.Vehicle{}
	if len(vehicles) > 0 {
		if err := json.Unmarshal(vehicles, &u.Vehicles); err != nil {
			return models.User{}, fmt.Errorf("decode vehicles: %w", err)
		}
	}
	return u, nil
}

func encodeVehicles(v []models.Vehicle) ([]byte, error) {
	if v == nil {
		v = []models.Vehicle{}
	}
	return json.Marshal(v)
}

func (p *PostgresStore) CreateUser(ctx context.Context, u models.User) error {
	vehicles, err := encodeVehicles(u.Vehicles)
	if err != nil {
		return err
	}
	_, err = p.q.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Email, u.DisplayName, u.PhotoURL, u.CreatedAt, u.Points, vehicles)
	if isUniqueViolation(err) {
		return models.ErrConflict
	}
	return models.Upstream("insert user", err)
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (models.User, error) {
	u, err := scanUser(p.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, models.NotFound("user", id)
	}
	if err != nil {
		return models.User{}, models.Upstream("get user", err)
	}
	return u, nil
}

func (p *PostgresStore) UpdateUser(ctx context.Context, u models.User) error {
	vehicles, err := encodeVehicles(u.Vehicles)
	if err != nil {
		return err
	}
	res, err := p.q.ExecContext(ctx, `UPDATE users SET email=$2, display_name=$3, photo_url=$4, points=$5, vehicles=$6
		WHERE id=$1`, u.ID, u.Email, u.DisplayName, u.PhotoURL, u.Points, vehicles)
	if err != nil {
		return models.Upstream("update user", err)
	}
	return expectOne(res, "user", u.ID)
}

func (p *PostgresStore) TopUsers(ctx context.Context, limit int) ([]models.User, error) {
	rows, err := p.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY points DESC, id ASC LIMIT $1`, sqlLimit(limit))
	if err != nil {
		return nil, models.Upstream("top users", err)
	}
	defer rows.Close()
	out := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, models.Upstream("top users", err)
		}
		out = append(out, u)
	}
	return out, models.Upstream("top users", rows.Err())
}

func (p *PostgresStore) RankOf(ctx context.Context, userID string) (int, error) {
	var rank int
	err := p.q.QueryRowContext(ctx, `SELECT COUNT(*) + 1 FROM users
		WHERE points > (SELECT points FROM users WHERE id=$1)`, userID).Scan(&rank)
	if err != nil {
		return -1, models.Upstream("rank", err)
	}
	// the subquery yields NULL for unknown users, so nothing compares greater
	if rank == 1 {
		var exists bool
		if err := p.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID).Scan(&exists); err != nil {
			return -1, models.Upstream("rank", err)
		}
		if !exists {
			return -1, nil
		}
	}
	return rank, nil
}

// rewards

const rewardColumns = `id, user_id, reward_type, points_earned, description, created_at, claimed`

func scanReward(row rowScanner) (models.Reward, error) {
	var r models.Reward
	err := row.Scan(&r.ID, &r.UserID, &r.Type, &r.PointsEarned, &r.Description, &r.Timestamp, &r.Claimed)
	return r, err
}

func (p *PostgresStore) AppendReward(ctx context.Context, r *models.Reward) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO rewards(`+rewardColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.UserID, string(r.Type), r.PointsEarned, r.Description, r.Timestamp, r.Claimed)
	if isUniqueViolation(err) {
		return models.ErrConflict
	}
	return models.Upstream("insert reward", err)
}

func (p *PostgresStore) GetReward(ctx context.Context, id string) (models.Reward, error) {
	r, err := scanReward(p.q.QueryRowContext(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reward{}, models.NotFound("reward", id)
	}
	if err != nil {
		return models.Reward{}, models.Upstream("get reward", err)
	}
	return r, nil
}

func (p *PostgresStore) UpdateReward(ctx context.Context, r models.Reward) error {
	res, err := p.q.ExecContext(ctx, `UPDATE rewards SET description=$2, claimed=$3 WHERE id=$1`, r.ID, r.Description, r.Claimed)
	if err != nil {
		return models.Upstream("update reward", err)
	}
	return expectOne(res, "reward", r.ID)
}

func (p *PostgresStore) RewardsForUser(ctx context.Context, userID string, limit int) ([]models.Reward, error) {
	rows, err := p.q.QueryContext(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE user_id=$1
		ORDER BY created_at DESC LIMIT $2`, userID, sqlLimit(limit))
	if err != nil {
		return nil, models.Upstream("rewards", err)
	}
	defer rows.Close()
	out := make([]models.Reward, 0)
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, models.Upstream("rewards", err)
		}
		out = append(out, r)
	}
	return out, models.Upstream("rewards", rows.Err())
}

// notifications

const notificationColumns = `id, user_id, notification_type, title, message, created_at, read, data`

func scanNotification(row rowScanner) (models.Notification, error) {
	var (
		n    models.Notification
		kind models.NotificationType
		data []byte
	)
	if err := row.Scan(&n.ID, &n.UserID, &kind, &n.Title, &n.Message, &n.Timestamp, &n.Read, &data); err != nil {
		return models.Notification{}, err
	}
	payload, err := models.DecodePayload(kind, data)
	if err != nil {
		return models.Notification{}, err
	}
	n.Payload = payload
	return n, nil
}

func (p *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	data, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}
	_, err = p.q.ExecContext(ctx, `INSERT INTO notifications(`+notificationColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.UserID, string(n.Type()), n.Title, n.Message, n.Timestamp, n.Read, data)
	if isUniqueViolation(err) {
		return models.ErrConflict
	}
	return models.Upstream("insert notification", err)
}

func (p *PostgresStore) GetNotification(ctx context.Context, id string) (models.Notification, error) {
	n, err := scanNotification(p.q.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, models.NotFound("notification", id)
	}
	if err != nil {
		return models.Notification{}, models.Upstream("get notification", err)
	}
	return n, nil
}

func (p *PostgresStore) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := p.q.ExecContext(ctx, `UPDATE notifications SET read=TRUE WHERE id=$1`, id)
	if err != nil {
		return models.Upstream("mark read", err)
	}
	return expectOne(res, "notification", id)
}

func (p *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	res, err := p.q.ExecContext(ctx, `UPDATE notifications SET read=TRUE WHERE user_id=$1 AND NOT read`, userID)
	if err != nil {
		return 0, models.Upstream("mark all read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, models.Upstream("mark all read", err)
	}
	return int(n), nil
}

func (p *PostgresStore) DeleteNotification(ctx context.Context, id string) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM notifications WHERE id=$1`, id)
	if err != nil {
		return models.Upstream("delete notification", err)
	}
	return expectOne(res, "notification", id)
}

func (p *PostgresStore) NotificationsForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	rows, err := p.q.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE user_id=$1
		ORDER BY created_at DESC LIMIT $2`, userID, sqlLimit(limit))
	if err != nil {
		return nil, models.Upstream("notifications", err)
	}
	defer rows.Close()
	out := make([]models.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, models.Upstream("notifications", err)
		}
		out = append(out, n)
	}
	return out, models.Upstream("notifications", rows.Err())
}

// preferences

const prefColumns = `user_id, notification_radius, notifications_enabled, dark_mode_enabled, preferred_types,
	max_parking_cost, home_latitude, home_longitude`

func scanPreferences(row rowScanner) (models.UserPreferences, error) {
	var (
		p       models.UserPreferences
		types   []string
		homeLat sql.NullFloat64
		homeLon sql.NullFloat64
	)
	err := row.Scan(&p.UserID, &p.NotificationRadius, &p.NotificationsEnabled, &p.DarkModeEnabled,
		pq.Array(&types), &p.MaxParkingCost, &homeLat, &homeLon)
	if err != nil {
		return models.UserPreferences{}, err
	}
	p.PreferredParkingTypes = make([]models.SpotType, 0, len(types))
	for _, t := range types {
		p.PreferredParkingTypes = append(p.PreferredParkingTypes, models.SpotType(t))
	}
	if homeLat.Valid && homeLon.Valid {
		p.HomeLocation = &models.Location{Latitude: homeLat.Float64, Longitude: homeLon.Float64}
	}
	return p, nil
}

func (p *PostgresStore) GetPreferences(ctx context.Context, userID string) (models.UserPreferences, error) {
	prefs, err := scanPreferences(p.q.QueryRowContext(ctx, `SELECT `+prefColumns+` FROM user_preferences WHERE user_id=$1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserPreferences{}, models.NotFound("preferences", userID)
	}
	if err != nil {
		return models.UserPreferences{}, models.Upstream("get preferences", err)
	}
	return prefs, nil
}

func (p *PostgresStore) PutPreferences(ctx context.Context, prefs models.UserPreferences) error {
	types := make([]string, 0, len(prefs.PreferredParkingTypes))
	for _, t := range prefs.PreferredParkingTypes {
		types = append(types, string(t))
	}
	var homeLat, homeLon sql.NullFloat64
	if prefs.HomeLocation != nil {
		homeLat = sql.NullFloat64{Float64: prefs.HomeLocation.Latitude, Valid: true}
		homeLon = sql.NullFloat64{Float64: prefs.HomeLocation.Longitude, Valid: true}
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO user_preferences(`+prefColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (user_id) DO UPDATE SET notification_radius=EXCLUDED.notification_radius,
		notifications_enabled=EXCLUDED.notifications_enabled, dark_mode_enabled=EXCLUDED.dark_mode_enabled,
		preferred_types=EXCLUDED.preferred_types, max_parking_cost=EXCLUDED.max_parking_cost,
		home_latitude=EXCLUDED.home_latitude, home_longitude=EXCLUDED.home_longitude`,
		prefs.UserID, prefs.NotificationRadius, prefs.NotificationsEnabled, prefs.DarkModeEnabled, pq.Array(types),
		prefs.MaxParkingCost, homeLat, homeLon)
	return models.Upstream("put preferences", err)
}

func (p *PostgresStore) ListPreferences(ctx context.Context) ([]models.UserPreferences, error) {
	rows, err := p.q.QueryContext(ctx, `SELECT `+prefColumns+` FROM user_preferences ORDER BY user_id`)
	if err != nil {
		return nil, models.Upstream("list preferences", err)
	}
	defer rows.Close()
	out := make([]models.UserPreferences, 0)
	for rows.Next() {
		prefs, err := scanPreferences(rows)
		if err != nil {
			return nil, models.Upstream("list preferences", err)
		}
		out = append(out, prefs)
	}
	return out, models.Upstream("list preferences", rows.Err())
}
