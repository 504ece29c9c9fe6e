package lifecycle

import (
	"errors"
	"fmt"

	"github.com/example/ride-coordination/internal/models"
)

var (
	ErrNotFound           = errors.New("ride not found")
	ErrUnauthorized       = errors.New("not authorized for this ride")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAlreadyFinalized   = errors.New("ride already finalized")
	ErrNoDriverAvailable  = errors.New("no vehicle with an assigned driver is available")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidInput       = errors.New("invalid input")
)

// TransitionError names the rejected edge. It matches ErrInvalidTransition.
type TransitionError struct {
	From models.Status
	To   models.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change status from %q to %q", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// Reason maps an error to a short label for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, ErrNoDriverAvailable):
		return "no_driver"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "internal"
	}
}
