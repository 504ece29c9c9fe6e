package matcher

import (
	"context"

	"github.com/example/ride-coordination/internal/models"
)

// Assigner picks the driver+vehicle pair for a new ride. ok is false when
// nothing is available.
type Assigner interface {
	Assign(ctx context.Context, req Request) (a models.Assignment, ok bool, err error)
}

// Request carries what a strategy may use to choose a pair.
type Request struct {
	RiderID     string
	Pickup      string
	Destination string
}

// Source is the store query FirstAvailable delegates to.
type Source interface {
	FindAvailableDriverVehicle(ctx context.Context) (models.Assignment, bool, error)
}

// FirstAvailable takes whichever active vehicle with an assigned driver the
// store returns first. It does no ranking.
type FirstAvailable struct {
	Source Source
}

func (f FirstAvailable) Assign(ctx context.Context, _ Request) (models.Assignment, bool, error) {
	a, ok, err := f.Source.FindAvailableDriverVehicle(ctx)
	if err != nil || !ok {
		return models.Assignment{}, false, err
	}
	if a.DriverID == "" || a.VehicleID == "" {
		return models.Assignment{}, false, nil
	}
	return a, true, nil
}

// Func adapts a plain function to Assigner.
type Func func(ctx context.Context, req Request) (models.Assignment, bool, error)

func (f Func) Assign(ctx context.Context, req Request) (models.Assignment, bool, error) {
	return f(ctx, req)
}
