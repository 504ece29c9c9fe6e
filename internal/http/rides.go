package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-coordination/internal/lifecycle"
	"github.com/example/ride-coordination/internal/models"
)

type createRideRequest struct {
	Pickup      string `json:"pickupLocation"`
	Destination string `json:"destination"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type rideResponse struct {
	Message string          `json:"message"`
	Ride    models.RideView `json:"ride"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req createRideRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.rides.Create(r.Context(), principal(r), req.Pickup, req.Destination)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rideResponse{Message: "ride requested", Ride: view})
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, ok := models.ParseStatus(req.Status)
	if !ok {
		s.fail(w, r, fmt.Errorf("%w: unknown status %q", lifecycle.ErrInvalidInput, req.Status))
		return
	}
	view, err := s.rides.Transition(r.Context(), mux.Vars(r)["id"], principal(r), status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rideResponse{Message: "ride status updated", Ride: view})
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	view, err := s.rides.Cancel(r.Context(), mux.Vars(r)["id"], principal(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rideResponse{Message: "ride cancelled", Ride: view})
}

func (s *Server) handleRiderHistory(w http.ResponseWriter, r *http.Request) {
	rides, err := s.rides.RiderHistory(r.Context(), principal(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rides))
}

func (s *Server) handleDriverRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.rides.DriverRides(r.Context(), principal(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rides))
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
