// Package fleet manages owners' vehicles and their driver assignment.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-coordination/internal/models"
	"github.com/example/ride-coordination/internal/storage"
)

var (
	ErrForbidden    = errors.New("only owners can manage vehicles")
	ErrNotFound     = errors.New("vehicle not found")
	ErrInvalidInput = errors.New("invalid vehicle")
	ErrPlateTaken   = errors.New("plate already registered")
	ErrNotADriver   = errors.New("user is not a driver")
	ErrUnknownUser  = errors.New("driver not found")
	ErrVehicleInUse = errors.New("vehicle has rides and cannot be deleted")
	ErrUnavailable  = errors.New("storage unavailable")
)

var platePattern = regexp.MustCompile(`^[A-Z0-9]{6,8}$`)

const minYear = 1980

type Store interface {
	storage.VehicleStore
	storage.UserStore
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service { return &Service{store: store, now: time.Now} }

// VehicleInput holds the owner-editable fields. Zero values mean "unchanged"
// on Update.
type VehicleInput struct {
	Plate string
	Brand string
	Model string
	Color string
	Year  int
}

func (s *Service) validate(in VehicleInput) (VehicleInput, error) {
	in.Plate = strings.ToUpper(strings.TrimSpace(in.Plate))
	in.Brand, in.Model, in.Color = strings.TrimSpace(in.Brand), strings.TrimSpace(in.Model), strings.TrimSpace(in.Color)
	if in.Plate == "" || in.Brand == "" || in.Model == "" || in.Color == "" || in.Year == 0 {
		return in, fmt.Errorf("%w: all fields are required", ErrInvalidInput)
	}
	if !platePattern.MatchString(in.Plate) {
		return in, fmt.Errorf("%w: plate must be 6-8 letters or digits", ErrInvalidInput)
	}
	if maxYear := s.now().Year() + 1; in.Year < minYear || in.Year > maxYear {
		return in, fmt.Errorf("%w: year must be between %d and %d", ErrInvalidInput, minYear, maxYear)
	}
	return in, nil
}

func requireOwner(p models.Principal) error {
	if p.Role != models.RoleOwner {
		return ErrForbidden
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrDuplicate):
		return ErrPlateTaken
	case errors.Is(err, storage.ErrInUse):
		return ErrVehicleInUse
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (s *Service) Create(ctx context.Context, p models.Principal, in VehicleInput) (*models.Vehicle, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}
	in, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	v := &models.Vehicle{
		ID:        uuid.NewString(),
		Plate:     in.Plate,
		Brand:     in.Brand,
		Model:     in.Model,
		Color:     in.Color,
		Year:      in.Year,
		OwnerID:   p.ID,
		IsActive:  true,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateVehicle(ctx, v); err != nil {
		return nil, translate(err)
	}
	return v, nil
}

func (s *Service) List(ctx context.Context, p models.Principal) ([]models.Vehicle, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}
	vs, err := s.store.ListVehiclesByOwner(ctx, p.ID)
	return vs, translate(err)
}

func (s *Service) Get(ctx context.Context, p models.Principal, id string) (*models.Vehicle, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}
	v, err := s.store.GetVehicle(ctx, id, p.ID)
	return v, translate(err)
}

// Update applies the non-zero fields of in.
func (s *Service) Update(ctx context.Context, p models.Principal, id string, in VehicleInput) (*models.Vehicle, error) {
	v, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	merged := VehicleInput{Plate: v.Plate, Brand: v.Brand, Model: v.Model, Color: v.Color, Year: v.Year}
	if in.Plate != "" {
		merged.Plate = in.Plate
	}
	if in.Brand != "" {
		merged.Brand = in.Brand
	}
	if in.Model != "" {
		merged.Model = in.Model
	}
	if in.Color != "" {
		merged.Color = in.Color
	}
	if in.Year != 0 {
		merged.Year = in.Year
	}
	if merged, err = s.validate(merged); err != nil {
		return nil, err
	}
	v.Plate, v.Brand, v.Model, v.Color, v.Year = merged.Plate, merged.Brand, merged.Model, merged.Color, merged.Year
	if err := s.store.UpdateVehicle(ctx, v); err != nil {
		return nil, translate(err)
	}
	return v, nil
}

func (s *Service) Delete(ctx context.Context, p models.Principal, id string) error {
	if err := requireOwner(p); err != nil {
		return err
	}
	return translate(s.store.DeleteVehicle(ctx, id, p.ID))
}

// AssignDriver makes driverID the vehicle's driver. The target must exist
// and have the driver role.
func (s *Service) AssignDriver(ctx context.Context, p models.Principal, vehicleID, driverID string) (*models.Vehicle, error) {
	if strings.TrimSpace(driverID) == "" {
		return nil, fmt.Errorf("%w: driver id is required", ErrInvalidInput)
	}
	v, err := s.Get(ctx, p, vehicleID)
	if err != nil {
		return nil, err
	}
	d, err := s.store.GetUser(ctx, driverID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, translate(err)
	}
	if d.Role != models.RoleDriver {
		return nil, ErrNotADriver
	}
	v.AssignedDriver = d.ID
	if err := s.store.UpdateVehicle(ctx, v); err != nil {
		return nil, translate(err)
	}
	return v, nil
}

// Drivers lists every user with the driver role.
func (s *Service) Drivers(ctx context.Context) ([]models.User, error) {
	us, err := s.store.ListUsersByRole(ctx, models.RoleDriver)
	return us, translate(err)
}
