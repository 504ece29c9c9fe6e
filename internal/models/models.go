package models

import (
	"strings"
	"time"
)

// Role is the actor role carried by an authenticated principal.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleOwner  Role = "owner"
)

func (r Role) Valid() bool {
	switch r {
	case RoleRider, RoleDriver, RoleOwner:
		return true
	}
	return false
}

// Principal is an already-authenticated actor.
type Principal struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Phone string `json:"phone,omitempty"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusEnRoute   Status = "en_route"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus accepts the canonical wire values plus the hyphenated "en-route".
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")); st {
	case StatusPending, StatusAccepted, StatusEnRoute, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

type User struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}

type Vehicle struct {
	ID             string    `json:"id"`
	Plate          string    `json:"plate"`
	Brand          string    `json:"brand"`
	Model          string    `json:"model"`
	Color          string    `json:"color"`
	Year           int       `json:"year"`
	OwnerID        string    `json:"ownerId"`
	AssignedDriver string    `json:"assignedDriver,omitempty"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Ride is one transportation request. Timestamps are set once, by the
// transition that owns them.
type Ride struct {
	ID          string     `json:"id"`
	RiderID     string     `json:"riderId"`
	DriverID    string     `json:"driverId"`
	VehicleID   string     `json:"vehicleId"`
	Pickup      string     `json:"pickupLocation"`
	Destination string     `json:"destination"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
}

// Assignment is a driver+vehicle pair offered for a new ride.
type Assignment struct {
	DriverID       string
	VehicleID      string
	DriverIdentity string
}

// Contacts holds the notification identities of a ride's parties.
type Contacts struct {
	RiderIdentity  string
	DriverIdentity string
}

// PartyBrief is the denormalized display info for a rider or driver.
type PartyBrief struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type VehicleBrief struct {
	ID    string `json:"id"`
	Plate string `json:"plate"`
	Brand string `json:"brand"`
	Model string `json:"model"`
	Color string `json:"color"`
}

// RideView is a ride plus the display fields resolved by the store.
type RideView struct {
	Ride
	Rider   *PartyBrief   `json:"user,omitempty"`
	Driver  *PartyBrief   `json:"driver,omitempty"`
	Vehicle *VehicleBrief `json:"vehicle,omitempty"`
}

type EventKind string

const (
	EventNewRide           EventKind = "new_ride"
	EventRideStatusUpdated EventKind = "ride_status_updated"
	EventRideCancelled     EventKind = "ride_cancelled"
)

// RideEvent is the payload shape pushed to clients for every event kind.
type RideEvent struct {
	Ride    RideView `json:"ride"`
	Message string   `json:"message,omitempty"`
}

// LifecycleEvent is the record published to the ride event stream for every
// accepted create or transition.
type LifecycleEvent struct {
	Kind    EventKind `json:"kind"`
	RideID  string    `json:"ride_id"`
	From    Status    `json:"from,omitempty"`
	To      Status    `json:"to"`
	ActorID string    `json:"actor_id"`
	At      time.Time `json:"at"`
}
