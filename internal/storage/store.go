package storage

import (
	"context"
	"errors"

	"github.com/example/ride-coordination/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict reports a conditional write whose precondition no longer holds.
	ErrConflict = errors.New("record changed concurrently")
	// ErrInUse reports a delete blocked by records that still refer to the target.
	ErrInUse = errors.New("record in use")
	// ErrUnavailable wraps every infrastructure failure of a store.
	ErrUnavailable = errors.New("storage unavailable")
)

// RideStore persists rides and resolves the records a ride refers to.
type RideStore interface {
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	// SaveRide is a whole-record upsert.
	SaveRide(ctx context.Context, r *models.Ride) error
	// UpdateRideStatus writes r's status and timestamps only if the stored
	// ride still has status prev; otherwise it returns ErrConflict.
	UpdateRideStatus(ctx context.Context, r *models.Ride, prev models.Status) error
	// FindAvailableDriverVehicle returns an active vehicle with an assigned
	// driver. ok is false when none exists.
	FindAvailableDriverVehicle(ctx context.Context) (a models.Assignment, ok bool, err error)
	GetRideOwnerIdentities(ctx context.Context, r *models.Ride) (models.Contacts, error)
	// ResolveRide attaches rider, driver and vehicle display fields.
	ResolveRide(ctx context.Context, r *models.Ride) (models.RideView, error)
	ListRidesByRider(ctx context.Context, riderID string) ([]models.RideView, error)
	ListRidesByDriver(ctx context.Context, driverID string) ([]models.RideView, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
}

type VehicleStore interface {
	CreateVehicle(ctx context.Context, v *models.Vehicle) error
	// GetVehicle returns ErrNotFound when the vehicle is missing or not owned by ownerID.
	GetVehicle(ctx context.Context, id, ownerID string) (*models.Vehicle, error)
	ListVehiclesByOwner(ctx context.Context, ownerID string) ([]models.Vehicle, error)
	UpdateVehicle(ctx context.Context, v *models.Vehicle) error
	// DeleteVehicle returns ErrInUse when a ride refers to the vehicle.
	DeleteVehicle(ctx context.Context, id, ownerID string) error
}

// Store is the full record-store collaborator.
type Store interface {
	RideStore
	UserStore
	VehicleStore
	Ping(ctx context.Context) error
	Close() error
}
