package httpapi

import (
	"errors"
	"net/http"

	"github.com/example/ride-coordination/internal/auth"
	"github.com/example/ride-coordination/internal/fleet"
	"github.com/example/ride-coordination/internal/lifecycle"
)

// statusFor maps domain errors onto HTTP statuses. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, lifecycle.ErrNoDriverAvailable),
		errors.Is(err, fleet.ErrNotFound),
		errors.Is(err, fleet.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrUnauthorized),
		errors.Is(err, fleet.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrAlreadyFinalized),
		errors.Is(err, lifecycle.ErrInvalidInput),
		errors.Is(err, fleet.ErrInvalidInput),
		errors.Is(err, fleet.ErrPlateTaken),
		errors.Is(err, fleet.ErrNotADriver),
		errors.Is(err, auth.ErrInvalidPhone),
		errors.Is(err, auth.ErrInvalidCode),
		errors.Is(err, auth.ErrRegistrationRequired),
		errors.Is(err, auth.ErrInvalidRole):
		return http.StatusBadRequest
	case errors.Is(err, fleet.ErrVehicleInUse):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrStorageUnavailable),
		errors.Is(err, fleet.ErrUnavailable),
		errors.Is(err, auth.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server-side faults are logged and
// their detail is not sent to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request_failed", "route", routeTemplate(r), "error", err, "request_id", requestIDFromContext(r.Context()))
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}
