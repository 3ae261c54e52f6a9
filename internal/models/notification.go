package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type NotificationType string

const (
	NotifySpotFound    NotificationType = "spot_found"
	NotifyTimeExpiring NotificationType = "time_expiring"
	NotifyRewardEarned NotificationType = "reward_earned"
	NotifySpotTaken    NotificationType = "spot_taken"
)

// NotificationPayload is the typed data attached to a notification. Each
// notification type has exactly one payload type.
type NotificationPayload interface {
	NotificationType() NotificationType
}

type SpotFoundPayload struct {
	SpotID    string              `json:"spotId"`
	Latitude  float64             `json:"latitude"`
	Longitude float64             `json:"longitude"`
	Type      SpotType            `json:"type"`
	Cost      decimal.NullDecimal `json:"cost"`
}

type TimeExpiringPayload struct {
	SessionID        string `json:"sessionId"`
	MinutesRemaining int    `json:"minutesRemaining"`
}

type RewardEarnedPayload struct {
	PointsEarned int64  `json:"pointsEarned"`
	Description  string `json:"description"`
}

type SpotTakenPayload struct {
	SpotID    string `json:"spotId"`
	SessionID string `json:"sessionId,omitempty"`
}

func (SpotFoundPayload) NotificationType() NotificationType    { return NotifySpotFound }
func (TimeExpiringPayload) NotificationType() NotificationType { return NotifyTimeExpiring }
func (RewardEarnedPayload) NotificationType() NotificationType { return NotifyRewardEarned }
func (SpotTakenPayload) NotificationType() NotificationType    { return NotifySpotTaken }

// DecodePayload parses raw JSON data into the payload type matching t.
func DecodePayload(t NotificationType, raw []byte) (NotificationPayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	var (
		p   NotificationPayload
		err error
	)
	switch t {
	case NotifySpotFound:
		var v SpotFoundPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case NotifyTimeExpiring:
		var v TimeExpiringPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case NotifyRewardEarned:
		var v RewardEarnedPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case NotifySpotTaken:
		var v SpotTakenPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown notification type %q", t)}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Timestamp time.Time
	Read      bool
	Payload   NotificationPayload
}

// Type is derived from the payload.
func (n Notification) Type() NotificationType {
	if n.Payload == nil {
		return ""
	}
	return n.Payload.NotificationType()
}

type notificationJSON struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Read      bool             `json:"read"`
	Data      json.RawMessage  `json:"data"`
}

func (n Notification) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(n.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(notificationJSON{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type(),
		Title:     n.Title,
		Message:   n.Message,
		Timestamp: n.Timestamp,
		Read:      n.Read,
		Data:      data,
	})
}

func (n *Notification) UnmarshalJSON(b []byte) error {
	var raw notificationJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p, err := DecodePayload(raw.Type, raw.Data)
	if err != nil {
		return err
	}
	*n = Notification{
		ID:        raw.ID,
		UserID:    raw.UserID,
		Title:     raw.Title,
		Message:   raw.Message,
		Timestamp: raw.Timestamp,
		Read:      raw.Read,
		Payload:   p,
	}
	return nil
}
