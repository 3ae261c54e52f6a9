// Package points keeps user balances and the reward records that explain them.
package points

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/observability"
	"github.com/example/spot-finder/internal/storage"
)

const (
	ForReporting = 50
	ForVerifying = 10

	DefaultRewardsLimit     = 20
	DefaultLeaderboardLimit = 10
)

// Notifier tells a user about points they can claim.
type Notifier interface {
	RewardEarned(ctx context.Context, userID string, points int64, description string) error
}

type Ledger struct {
	Store storage.Store
	// Strict runs each read-modify-write inside one store transaction.
	Strict bool
	Notify Notifier
	Logger *slog.Logger
	Now    func() time.Time
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// DefaultDescription is the ledger text used when a grant carries none.
func DefaultDescription(delta int64) string {
	if delta > 0 {
		return fmt.Sprintf("Earned %d points for contributing to the community", delta)
	}
	if delta < 0 {
		delta = -delta
	}
	return fmt.Sprintf("Used %d points", delta)
}

// Grant adds delta to the user's balance and appends a reward describing it.
// Outside strict mode a failed append is logged and the new balance kept.
func (l *Ledger) Grant(ctx context.Context, userID string, delta int64, description string) (int64, error) {
	reward := NewGrant(userID, delta, description, l.now())

	var balance int64
	if l.Strict {
		err := l.Store.Atomically(ctx, func(tx storage.Store) error {
			var err error
			balance, err = Record(ctx, tx, &reward)
			return err
		})
		if err != nil {
			return 0, err
		}
	} else {
		var err error
		if balance, err = addPoints(ctx, l.Store, userID, delta); err != nil {
			return 0, err
		}
		if err := l.Store.AppendReward(ctx, &reward); err != nil {
			observability.BestEffortFailures.WithLabelValues("reward_append").Inc()
			l.Logger.Error("reward append failed after balance update",
				"user_id", userID, "delta", delta, "err", err)
		}
	}
	if delta > 0 {
		observability.PointsGranted.Add(float64(delta))
	}
	return balance, nil
}

// NewGrant builds the already-claimed ledger entry for a direct balance change.
func NewGrant(userID string, delta int64, description string, at time.Time) models.Reward {
	if description == "" {
		description = DefaultDescription(delta)
	}
	return models.Reward{
		UserID:       userID,
		Type:         models.RewardPoints,
		PointsEarned: delta,
		Description:  description,
		Timestamp:    at,
		Claimed:      true,
	}
}

// Record applies r to its owner's balance and appends it, both against s.
// Callers run it inside Atomically to make the pair atomic.
func Record(ctx context.Context, s storage.Store, r *models.Reward) (int64, error) {
	balance, err := addPoints(ctx, s, r.UserID, r.PointsEarned)
	if err != nil {
		return 0, err
	}
	if err := s.AppendReward(ctx, r); err != nil {
		return 0, err
	}
	return balance, nil
}

func addPoints(ctx context.Context, s storage.UserStore, userID string, delta int64) (int64, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	u.Points += delta
	if err := s.UpdateUser(ctx, u); err != nil {
		return 0, err
	}
	return u.Points, nil
}

// Award records an unclaimed reward and tells the user about it. The balance
// only moves once the reward is claimed.
func (l *Ledger) Award(ctx context.Context, userID string, points int64, description string) (models.Reward, error) {
	if points <= 0 {
		return models.Reward{}, &models.ValidationError{Field: "points", Reason: "must be positive"}
	}
	if _, err := l.Store.GetUser(ctx, userID); err != nil {
		return models.Reward{}, err
	}
	if description == "" {
		description = DefaultDescription(points)
	}
	r := models.Reward{
		UserID:       userID,
		Type:         models.RewardPoints,
		PointsEarned: points,
		Description:  description,
		Timestamp:    l.now(),
	}
	if err := l.Store.AppendReward(ctx, &r); err != nil {
		return models.Reward{}, err
	}
	if l.Notify != nil {
		if err := l.Notify.RewardEarned(ctx, userID, points, description); err != nil {
			observability.BestEffortFailures.WithLabelValues("reward_notice").Inc()
			l.Logger.Warn("reward notice failed", "user_id", userID, "reward_id", r.ID, "err", err)
		}
	}
	return r, nil
}

// Claim marks the reward claimed and credits its points to the owner.
func (l *Ledger) Claim(ctx context.Context, rewardID string) (models.Reward, error) {
	var out models.Reward
	claim := func(s storage.Store) error {
		r, err := s.GetReward(ctx, rewardID)
		if err != nil {
			return err
		}
		if r.Claimed {
			return fmt.Errorf("reward %q: %w", rewardID, models.ErrAlreadyClaimed)
		}
		r.Claimed = true
		if err := s.UpdateReward(ctx, r); err != nil {
			return err
		}
		if _, err := addPoints(ctx, s, r.UserID, r.PointsEarned); err != nil {
			return err
		}
		out = r
		return nil
	}
	var err error
	if l.Strict {
		err = l.Store.Atomically(ctx, claim)
	} else {
		err = claim(l.Store)
	}
	return out, err
}

func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	u, err := l.Store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Points, nil
}

// Rewards lists the user's ledger entries, newest first.
func (l *Ledger) Rewards(ctx context.Context, userID string, limit int) ([]models.Reward, error) {
	if limit <= 0 {
		limit = DefaultRewardsLimit
	}
	return l.Store.RewardsForUser(ctx, userID, limit)
}

// Rank is the user's 1-based position by points, or -1 for unknown users.
// Users with equal points share a rank.
func (l *Ledger) Rank(ctx context.Context, userID string) (int, error) {
	return l.Store.RankOf(ctx, userID)
}

func (l *Ledger) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	users, err := l.Store.TopUsers(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.LeaderboardEntry, 0, len(users))
	for _, u := range users {
		name := u.DisplayName
		if name == "" {
			name = "Anonymous"
		}
		out = append(out, models.LeaderboardEntry{ID: u.ID, DisplayName: name, Points: u.Points})
	}
	return out, nil
}

func (l *Ledger) Reward(ctx context.Context, rewardID string) (models.Reward, error) {
	return l.Store.GetReward(ctx, rewardID)
}
