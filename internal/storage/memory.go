package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/spot-finder/internal/models"
)

// MemoryStore keeps every collection in process memory. It backs local runs
// and tests; the zero value is not usable, call NewMemoryStore.
type MemoryStore struct {
	// mu is nil on the transactional view handed to Atomically callbacks,
	// whose parent already holds the write lock.
	mu *sync.RWMutex

	spots         map[string]models.ParkingSpot
	sessions      map[string]models.ParkingSession
	users         map[string]models.User
	rewards       map[string]models.Reward
	notifications map[string]models.Notification
	prefs         map[string]models.UserPreferences
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:            &sync.RWMutex{},
		spots:         make(map[string]models.ParkingSpot),
		sessions:      make(map[string]models.ParkingSession),
		users:         make(map[string]models.User),
		rewards:       make(map[string]models.Reward),
		notifications: make(map[string]models.Notification),
		prefs:         make(map[string]models.UserPreferences),
	}
}

func (m *MemoryStore) lock() func() {
	if m.mu == nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemoryStore) rlock() func() {
	if m.mu == nil {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

func (m *MemoryStore) Atomically(ctx context.Context, fn func(tx Store) error) error {
	if m.mu == nil {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	view := m.snapshot()
	if err := fn(view); err != nil {
		return err
	}
	m.spots, m.sessions, m.users = view.spots, view.sessions, view.users
	m.rewards, m.notifications, m.prefs = view.rewards, view.notifications, view.prefs
	return nil
}

func (m *MemoryStore) snapshot() *MemoryStore {
	view := &MemoryStore{
		spots:         make(map[string]models.ParkingSpot, len(m.spots)),
		sessions:      make(map[string]models.ParkingSession, len(m.sessions)),
		users:         make(map[string]models.User, len(m.users)),
		rewards:       make(map[string]models.Reward, len(m.rewards)),
		notifications: make(map[string]models.Notification, len(m.notifications)),
		prefs:         make(map[string]models.UserPreferences, len(m.prefs)),
	}
	for k, v := range m.spots {
		view.spots[k] = v.Clone()
	}
	for k, v := range m.sessions {
		view.sessions[k] = v.Clone()
	}
	for k, v := range m.users {
		view.users[k] = v.Clone()
	}
	for k, v := range m.rewards {
		view.rewards[k] = v
	}
	for k, v := range m.notifications {
		view.notifications[k] = v
	}
	for k, v := range m.prefs {
		view.prefs[k] = v.Clone()
	}
	return view
}

// spots

func (m *MemoryStore) CreateSpot(ctx context.Context, s *models.ParkingSpot) error {
	defer m.lock()()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, ok := m.spots[s.ID]; ok {
		return models.ErrConflict
	}
	m.spots[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) GetSpot(ctx context.Context, id string) (models.ParkingSpot, error) {
	defer m.rlock()()
	s, ok := m.spots[id]
	if !ok {
		return models.ParkingSpot{}, models.NotFound("spot", id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) UpdateSpot(ctx context.Context, s models.ParkingSpot) error {
	defer m.lock()()
	if _, ok := m.spots[s.ID]; !ok {
		return models.NotFound("spot", s.ID)
	}
	m.spots[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) DeleteSpot(ctx context.Context, id string) error {
	defer m.lock()()
	if _, ok := m.spots[id]; !ok {
		return models.NotFound("spot", id)
	}
	delete(m.spots, id)
	return nil
}

func (m *MemoryStore) AvailableInLatitudeBand(ctx context.Context, minLat, maxLat float64, limit int) ([]models.ParkingSpot, error) {
	defer m.rlock()()
	out := make([]models.ParkingSpot, 0)
	for _, s := range m.spots {
		if s.Status != models.SpotAvailable {
			continue
		}
		if s.Location.Latitude < minLat || s.Location.Latitude > maxLat {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Location.Latitude != b.Location.Latitude {
			return a.Location.Latitude < b.Location.Latitude
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})
	return out[:capped(limit, len(out))], nil
}

func (m *MemoryStore) OverdueSpots(ctx context.Context, now time.Time, limit int) ([]models.ParkingSpot, error) {
	defer m.rlock()()
	out := make([]models.ParkingSpot, 0)
	for _, s := range m.spots {
		if s.Status == models.SpotAvailable && !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out[:capped(limit, len(out))], nil
}

// sessions

func (m *MemoryStore) CreateSession(ctx context.Context, s *models.ParkingSession) error {
	defer m.lock()()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, ok := m.sessions[s.ID]; ok {
		return models.ErrConflict
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (models.ParkingSession, error) {
	defer m.rlock()()
	s, ok := m.sessions[id]
	if !ok {
		return models.ParkingSession{}, models.NotFound("session", id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, s models.ParkingSession) error {
	defer m.lock()()
	if _, ok := m.sessions[s.ID]; !ok {
		return models.NotFound("session", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	defer m.lock()()
	if _, ok := m.sessions[id]; !ok {
		return models.NotFound("session", id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) ActiveSessions(ctx context.Context, userID string, limit int) ([]models.ParkingSession, error) {
	return m.userSessions(userID, true, limit), nil
}

func (m *MemoryStore) SessionsForUser(ctx context.Context, userID string, limit int) ([]models.ParkingSession, error) {
	return m.userSessions(userID, false, limit), nil
}

func (m *MemoryStore) DueReminders(ctx context.Context, now time.Time, limit int) ([]models.ParkingSession, error) {
	defer m.rlock()()
	out := make([]models.ParkingSession, 0)
	for _, s := range m.sessions {
		if !s.IsActive || !s.ReminderSet || s.ReminderTime == nil || s.ReminderTime.After(now) {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReminderTime.Equal(*out[j].ReminderTime) {
			return out[i].ReminderTime.Before(*out[j].ReminderTime)
		}
		return out[i].ID < out[j].ID
	})
	return out[:capped(limit, len(out))], nil
}

func (m *MemoryStore) userSessions(userID string, activeOnly bool, limit int) []models.ParkingSession {
	defer m.rlock()()
	out := make([]models.ParkingSession, 0)
	for _, s := range m.sessions {
		if s.UserID != userID || (activeOnly && !s.IsActive) {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out[:capped(limit, len(out))]
}

// users

func (m *MemoryStore) CreateUser(ctx context.Context, u models.User) error {
	defer m.lock()()
	if _, ok := m.users[u.ID]; ok {
		return models.ErrConflict
	}
	m.users[u.ID] = u.Clone()
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (models.User, error) {
	defer m.rlock()()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, models.NotFound("user", id)
	}
	return u.Clone(), nil
}

func (m *MemoryStore) UpdateUser(ctx context.Context, u models.User) error {
	defer m.lock()()
	if _, ok := m.users[u.ID]; !ok {
		return models.NotFound("user", u.ID)
	}
	m.users[u.ID] = u.Clone()
	return nil
}

func (m *MemoryStore) TopUsers(ctx context.Context, limit int) ([]models.User, error) {
	defer m.rlock()()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].ID < out[j].ID
	})
	return out[:capped(limit, len(out))], nil
}

func (m *MemoryStore) RankOf(ctx context.Context, userID string) (int, error) {
	defer m.rlock()()
	u, ok := m.users[userID]
	if !ok {
		return -1, nil
	}
	rank := 1
	for _, other := range m.users {
		if other.Points > u.Points {
			rank++
		}
	}
	return rank, nil
}

// rewards

func (m *MemoryStore) AppendReward(ctx context.Context, r *models.Reward) error {
	defer m.lock()()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, ok := m.rewards[r.ID]; ok {
		return models.ErrConflict
	}
	m.rewards[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetReward(ctx context.Context, id string) (models.Reward, error) {
	defer m.rlock()()
	r, ok := m.rewards[id]
	if !ok {
		return models.Reward{}, models.NotFound("reward", id)
	}
	return r, nil
}

func (m *MemoryStore) UpdateReward(ctx context.Context, r models.Reward) error {
	defer m.lock()()
	if _, ok := m.rewards[r.ID]; !ok {
		return models.NotFound("reward", r.ID)
	}
	m.rewards[r.ID] = r
	return nil
}

func (m *MemoryStore) RewardsForUser(ctx context.Context, userID string, limit int) ([]models.Reward, error) {
	defer m.rlock()()
	out := make([]models.Reward, 0)
	for _, r := range m.rewards {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out[:capped(limit, len(out))], nil
}

// notifications

func (m *MemoryStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	defer m.lock()()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if _, ok := m.notifications[n.ID]; ok {
		return models.ErrConflict
	}
	m.notifications[n.ID] = *n
	return nil
}

func (m *MemoryStore) GetNotification(ctx context.Context, id string) (models.Notification, error) {
	defer m.rlock()()
	n, ok := m.notifications[id]
	if !ok {
		return models.Notification{}, models.NotFound("notification", id)
	}
	return n, nil
}

func (m *MemoryStore) MarkNotificationRead(ctx context.Context, id string) error {
	defer m.lock()()
	n, ok := m.notifications[id]
	if !ok {
		return models.NotFound("notification", id)
	}
	n.Read = true
	m.notifications[id] = n
	return nil
}

func (m *MemoryStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	defer m.lock()()
	changed := 0
	for id, n := range m.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			m.notifications[id] = n
			changed++
		}
	}
	return changed, nil
}

func (m *MemoryStore) DeleteNotification(ctx context.Context, id string) error {
	defer m.lock()()
	if _, ok := m.notifications[id]; !ok {
		return models.NotFound("notification", id)
	}
	delete(m.notifications, id)
	return nil
}

func (m *MemoryStore) NotificationsForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	defer m.rlock()()
	out := make([]models.Notification, 0)
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out[:capped(limit, len(out))], nil
}

// preferences

func (m *MemoryStore) GetPreferences(ctx context.Context, userID string) (models.UserPreferences, error) {
	defer m.rlock()()
	p, ok := m.prefs[userID]
	if !ok {
		return models.UserPreferences{}, models.NotFound("preferences", userID)
	}
	return p.Clone(), nil
}

func (m *MemoryStore) PutPreferences(ctx context.Context, p models.UserPreferences) error {
	defer m.lock()()
	m.prefs[p.UserID] = p.Clone()
	return nil
}

func (m *MemoryStore) ListPreferences(ctx context.Context) ([]models.UserPreferences, error) {
	defer m.rlock()()
	out := make([]models.UserPreferences, 0, len(m.prefs))
	for _, p := range m.prefs {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
