package storage

import (
	"context"
	"time"

	"github.com/example/spot-finder/internal/models"
)

// SpotStore persists parking spots.
type SpotStore interface {
	// CreateSpot inserts s, assigning an id when s.ID is empty.
	CreateSpot(ctx context.Context, s *models.ParkingSpot) error
	GetSpot(ctx context.Context, id string) (models.ParkingSpot, error)
	UpdateSpot(ctx context.Context, s models.ParkingSpot) error
	DeleteSpot(ctx context.Context, id string) error
	// AvailableInLatitudeBand returns available spots with minLat <= latitude <= maxLat,
	// ordered by latitude ascending then newest first, capped at limit.
	AvailableInLatitudeBand(ctx context.Context, minLat, maxLat float64, limit int) ([]models.ParkingSpot, error)
	// OverdueSpots returns available spots whose expiresAt is before now, oldest expiry first.
	OverdueSpots(ctx context.Context, now time.Time, limit int) ([]models.ParkingSpot, error)
}

// SessionStore persists parking sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.ParkingSession) error
	GetSession(ctx context.Context, id string) (models.ParkingSession, error)
	UpdateSession(ctx context.Context, s models.ParkingSession) error
	DeleteSession(ctx context.Context, id string) error
	// ActiveSessions returns the user's active sessions, most recently started first.
	ActiveSessions(ctx context.Context, userID string, limit int) ([]models.ParkingSession, error)
	// SessionsForUser returns all of the user's sessions, most recently started first.
	SessionsForUser(ctx context.Context, userID string, limit int) ([]models.ParkingSession, error)
	// DueReminders returns active sessions whose reminder time is at or before
	// now, earliest reminder first.
	DueReminders(ctx context.Context, now time.Time, limit int) ([]models.ParkingSession, error)
}

// UserStore persists user documents and their vehicles.
type UserStore interface {
	// CreateUser fails with models.ErrConflict when the id is taken.
	CreateUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)
	UpdateUser(ctx context.Context, u models.User) error
	// TopUsers orders by points descending. limit <= 0 returns every user.
	TopUsers(ctx context.Context, limit int) ([]models.User, error)
	// RankOf is 1-based; users with equal points share a rank. Unknown users rank -1.
	RankOf(ctx context.Context, userID string) (int, error)
}

// RewardStore is the append-only points ledger.
type RewardStore interface {
	AppendReward(ctx context.Context, r *models.Reward) error
	GetReward(ctx context.Context, id string) (models.Reward, error)
	UpdateReward(ctx context.Context, r models.Reward) error
	RewardsForUser(ctx context.Context, userID string, limit int) ([]models.Reward, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	// MarkAllNotificationsRead flips every unread notification of the user and
	// returns how many changed.
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
	DeleteNotification(ctx context.Context, id string) error
	NotificationsForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
}

type PreferencesStore interface {
	GetPreferences(ctx context.Context, userID string) (models.UserPreferences, error)
	PutPreferences(ctx context.Context, p models.UserPreferences) error
	ListPreferences(ctx context.Context) ([]models.UserPreferences, error)
}

// Store is the document store every service works against.
type Store interface {
	SpotStore
	SessionStore
	UserStore
	RewardStore
	NotificationStore
	PreferencesStore

	// Atomically runs fn against a transactional view of the store. Either
	// every write fn makes is applied or none is. Calls nest: inside fn,
	// Atomically on the view runs in the same transaction.
	Atomically(ctx context.Context, fn func(tx Store) error) error
}

func capped(limit, n int) int {
	if limit <= 0 || limit > n {
		return n
	}
	return limit
}
