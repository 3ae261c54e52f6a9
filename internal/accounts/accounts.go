// Package accounts keeps the user documents that back an authenticated
// identity: profile, vehicles and preferences.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/spot-finder/internal/auth"
	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/storage"
)

// StartingPoints is the balance of a new account.
const StartingPoints = 100

type Service struct {
	Store  storage.Store
	Logger *slog.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Ensure returns the user document for id, creating it with default
// preferences on first sight.
func (s *Service) Ensure(ctx context.Context, id auth.Identity) (models.User, error) {
	u, err := s.Store.GetUser(ctx, id.UserID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.User{}, err
	}

	u = models.User{
		ID:          id.UserID,
		Email:       id.Email,
		DisplayName: id.Name,
		PhotoURL:    id.Picture,
		CreatedAt:   s.now(),
		Points:      StartingPoints,
		Vehicles:    []models.Vehicle{},
	}
	err = s.Store.Atomically(ctx, func(tx storage.Store) error {
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		return tx.PutPreferences(ctx, models.DefaultPreferences(u.ID))
	})
	if errors.Is(err, models.ErrConflict) {
		// a concurrent first request created it
		return s.Store.GetUser(ctx, id.UserID)
	}
	if err != nil {
		return models.User{}, err
	}
	s.Logger.Info("account created", "user_id", u.ID)
	return u, nil
}

func (s *Service) Get(ctx context.Context, userID string) (models.User, error) {
	return s.Store.GetUser(ctx, userID)
}

// AddVehicle registers a vehicle under the user and returns it with its new id.
func (s *Service) AddVehicle(ctx context.Context, userID string, v models.Vehicle) (models.Vehicle, error) {
	v.Make = strings.TrimSpace(v.Make)
	v.Model = strings.TrimSpace(v.Model)
	v.LicensePlate = strings.ToUpper(strings.TrimSpace(v.LicensePlate))
	if v.Make == "" || v.Model == "" {
		return models.Vehicle{}, &models.ValidationError{Field: "vehicle", Reason: "make and model are required"}
	}
	if v.Year != 0 && (v.Year < 1900 || v.Year > s.now().Year()+1) {
		return models.Vehicle{}, &models.ValidationError{Field: "year", Reason: fmt.Sprintf("%d is not a plausible model year", v.Year)}
	}
	v.ID = uuid.NewString()
	v.UserID = userID

	err := s.Store.Atomically(ctx, func(tx storage.Store) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		u.Vehicles = append(u.Vehicles, v)
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		return models.Vehicle{}, err
	}
	return v, nil
}

func (s *Service) RemoveVehicle(ctx context.Context, userID, vehicleID string) error {
	return s.Store.Atomically(ctx, func(tx storage.Store) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		kept := u.Vehicles[:0]
		for _, v := range u.Vehicles {
			if v.ID != vehicleID {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(u.Vehicles) {
			return models.NotFound("vehicle", vehicleID)
		}
		u.Vehicles = kept
		return tx.UpdateUser(ctx, u)
	})
}

func (s *Service) Preferences(ctx context.Context, userID string) (models.UserPreferences, error) {
	return s.Store.GetPreferences(ctx, userID)
}

// UpdatePreferences replaces the user's preferences wholesale.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, p models.UserPreferences) (models.UserPreferences, error) {
	p.UserID = userID
	if p.NotificationRadius <= 0 {
		return models.UserPreferences{}, &models.ValidationError{Field: "notificationRadius", Reason: "must be positive"}
	}
	for _, t := range p.PreferredParkingTypes {
		if !t.Valid() {
			return models.UserPreferences{}, &models.ValidationError{Field: "preferredParkingTypes", Reason: fmt.Sprintf("unknown spot type %q", t)}
		}
	}
	if p.MaxParkingCost.Valid && p.MaxParkingCost.Decimal.IsNegative() {
		return models.UserPreferences{}, &models.ValidationError{Field: "maxParkingCost", Reason: "must not be negative"}
	}
	if p.HomeLocation != nil {
		if err := p.HomeLocation.Validate(); err != nil {
			return models.UserPreferences{}, err
		}
	}
	if _, err := s.Store.GetUser(ctx, userID); err != nil {
		return models.UserPreferences{}, err
	}
	if err := s.Store.PutPreferences(ctx, p); err != nil {
		return models.UserPreferences{}, err
	}
	return p, nil
}
