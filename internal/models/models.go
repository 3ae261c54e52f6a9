package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// costs travel as JSON numbers, matching the document schema
	decimal.MarshalJSONWithoutQuotes = true
}

// Location is a WGS84 point with an optional street address.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	// Cell is the s2 cell token of the point, filled in when a spot is reported.
	Cell string `json:"cell,omitempty"`
}

// Validate checks that the coordinates are finite and inside the WGS84 ranges.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return &ValidationError{Field: "latitude", Reason: "must be within [-90, 90]"}
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return &ValidationError{Field: "longitude", Reason: "must be within [-180, 180]"}
	}
	return nil
}

type SpotType string

const (
	SpotStreet SpotType = "street"
	SpotGarage SpotType = "garage"
	SpotLot    SpotType = "lot"
)

// AllSpotTypes lists every spot type, in display order.
var AllSpotTypes = []SpotType{SpotStreet, SpotGarage, SpotLot}

func (t SpotType) Valid() bool {
	switch t {
	case SpotStreet, SpotGarage, SpotLot:
		return true
	}
	return false
}

type SpotStatus string

const (
	SpotAvailable SpotStatus = "available"
	SpotTaken     SpotStatus = "taken"
	SpotExpired   SpotStatus = "expired"
)

// VerificationThreshold is the number of confirmations after which a spot counts as verified.
const VerificationThreshold = 3

type ParkingSpot struct {
	ID           string    `json:"id"`
	ReporterID   string    `json:"reporterId"`
	ReporterName string    `json:"reporterName"`
	Location     Location  `json:"location"`
	Timestamp    time.Time `json:"timestamp"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Type         SpotType  `json:"type"`
	// Cost is absent for free spots.
	Cost decimal.NullDecimal `json:"cost"`
	// TimeLimit is in minutes; nil means no limit.
	TimeLimit            *int       `json:"timeLimit"`
	Verified             bool       `json:"verified"`
	VerifiedCount        int        `json:"verifiedCount"`
	Photos               []string   `json:"photos"`
	IsHandicapAccessible bool       `json:"isHandicapAccessible"`
	IsEVCharging         bool       `json:"isEVCharging"`
	Rating               float64    `json:"rating"`
	Status               SpotStatus `json:"status"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy of the spot.
func (s ParkingSpot) Clone() ParkingSpot {
	out := s
	if s.TimeLimit != nil {
		v := *s.TimeLimit
		out.TimeLimit = &v
	}
	out.Photos = append([]string(nil), s.Photos...)
	return out
}

// Deletable reports whether requesterID may delete the spot.
func (s ParkingSpot) Deletable(requesterID string) bool {
	return s.ReporterID == requesterID || s.Status == SpotExpired
}

type ParkingSession struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	SpotID    string     `json:"spotId"`
	VehicleID string     `json:"vehicleId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	// Duration is in whole minutes, set when the session ends.
	Duration     *int                `json:"duration"`
	Cost         decimal.NullDecimal `json:"cost"`
	PaymentRef   string              `json:"paymentRef,omitempty"`
	IsActive     bool                `json:"isActive"`
	ReminderSet  bool                `json:"reminderSet"`
	ReminderTime *time.Time          `json:"reminderTime"`
}

func (s ParkingSession) Clone() ParkingSession {
	out := s
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	if s.Duration != nil {
		d := *s.Duration
		out.Duration = &d
	}
	if s.ReminderTime != nil {
		t := *s.ReminderTime
		out.ReminderTime = &t
	}
	return out
}

// DurationMinutes rounds the elapsed time between start and end to whole minutes.
func DurationMinutes(start, end time.Time) int {
	return int(math.Round(float64(end.Sub(start).Milliseconds()) / 60000))
}

type Vehicle struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
	LicensePlate string `json:"licensePlate"`
	Color        string `json:"color"`
}

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL"`
	CreatedAt   time.Time `json:"createdAt"`
	Points      int64     `json:"points"`
	Vehicles    []Vehicle `json:"vehicles"`
}

func (u User) Clone() User {
	out := u
	out.Vehicles = append([]Vehicle(nil), u.Vehicles...)
	return out
}

// HasVehicle reports whether the user owns the vehicle with the given id.
func (u User) HasVehicle(id string) bool {
	for _, v := range u.Vehicles {
		if v.ID == id {
			return true
		}
	}
	return false
}

// LeaderboardEntry is one row of the points leaderboard.
type LeaderboardEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Points      int64  `json:"points"`
}

type RewardType string

const (
	RewardPoints  RewardType = "points"
	RewardBadge   RewardType = "badge"
	RewardLevelUp RewardType = "level_up"
)

// Reward is an entry of the append-only points ledger.
type Reward struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Type         RewardType `json:"type"`
	PointsEarned int64      `json:"pointsEarned"`
	Description  string     `json:"description"`
	Timestamp    time.Time  `json:"timestamp"`
	Claimed      bool       `json:"claimed"`
}

type UserPreferences struct {
	UserID string `json:"userId"`
	// NotificationRadius is in miles.
	NotificationRadius    float64             `json:"notificationRadius"`
	NotificationsEnabled  bool                `json:"notificationsEnabled"`
	DarkModeEnabled       bool                `json:"darkModeEnabled"`
	PreferredParkingTypes []SpotType          `json:"preferredParkingTypes"`
	MaxParkingCost        decimal.NullDecimal `json:"maxParkingCost"`
	// HomeLocation narrows spot alerts to NotificationRadius around it when set.
	HomeLocation *Location `json:"homeLocation,omitempty"`
}

func (p UserPreferences) Clone() UserPreferences {
	out := p
	out.PreferredParkingTypes = append([]SpotType(nil), p.PreferredParkingTypes...)
	if p.HomeLocation != nil {
		l := *p.HomeLocation
		out.HomeLocation = &l
	}
	return out
}

// Prefers reports whether t is one of the preferred parking types.
func (p UserPreferences) Prefers(t SpotType) bool {
	for _, pt := range p.PreferredParkingTypes {
		if pt == t {
			return true
		}
	}
	return false
}

// Affords reports whether a spot with the given cost fits under MaxParkingCost.
// Free spots and users without a limit always match.
func (p UserPreferences) Affords(cost decimal.NullDecimal) bool {
	if !p.MaxParkingCost.Valid || !cost.Valid {
		return true
	}
	return cost.Decimal.LessThanOrEqual(p.MaxParkingCost.Decimal)
}

// DefaultPreferences are written for every new account.
func DefaultPreferences(userID string) UserPreferences {
	return UserPreferences{
		UserID:                userID,
		NotificationRadius:    1,
		NotificationsEnabled:  true,
		PreferredParkingTypes: append([]SpotType(nil), AllSpotTypes...),
	}
}

type SpotEventKind string

const (
	SpotReported      SpotEventKind = "reported"
	SpotStatusChanged SpotEventKind = "status_changed"
	SpotDeleted       SpotEventKind = "deleted"
)

// SpotEvent is published on every spot lifecycle change so that derived
// indexes (the Redis GEO set) can follow the store.
type SpotEvent struct {
	Kind      SpotEventKind `json:"kind"`
	SpotID    string        `json:"spot_id"`
	Latitude  float64       `json:"lat"`
	Longitude float64       `json:"lon"`
	Status    SpotStatus    `json:"status"`
	At        time.Time     `json:"at"`
}

// EventFor builds the event describing the spot's current state.
func EventFor(kind SpotEventKind, s ParkingSpot, at time.Time) SpotEvent {
	return SpotEvent{
		Kind:      kind,
		SpotID:    s.ID,
		Latitude:  s.Location.Latitude,
		Longitude: s.Location.Longitude,
		Status:    s.Status,
		At:        at,
	}
}
