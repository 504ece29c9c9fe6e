package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-coordination/internal/fleet"
	"github.com/example/ride-coordination/internal/models"
)

type vehicleRequest struct {
	Plate string `json:"plate"`
	Brand string `json:"brand"`
	Model string `json:"model"`
	Color string `json:"color"`
	Year  int    `json:"year"`
}

func (v vehicleRequest) input() fleet.VehicleInput {
	return fleet.VehicleInput{Plate: v.Plate, Brand: v.Brand, Model: v.Model, Color: v.Color, Year: v.Year}
}

type assignRequest struct {
	DriverID string `json:"driverId"`
}

type vehicleResponse struct {
	Message string          `json:"message"`
	Vehicle *models.Vehicle `json:"vehicle"`
}

func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var req vehicleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.fleet.Create(r.Context(), principal(r), req.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, vehicleResponse{Message: "vehicle registered", Vehicle: v})
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vs, err := s.fleet.List(r.Context(), principal(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(vs))
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.fleet.Get(r.Context(), principal(r), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleUpdateVehicle(w http.ResponseWriter, r *http.Request) {
	var req vehicleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.fleet.Update(r.Context(), principal(r), mux.Vars(r)["id"], req.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicleResponse{Message: "vehicle updated", Vehicle: v})
}

func (s *Server) handleDeleteVehicle(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.Delete(r.Context(), principal(r), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "vehicle deleted"})
}

func (s *Server) handleAssignDriver(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.fleet.AssignDriver(r.Context(), principal(r), mux.Vars(r)["id"], req.DriverID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicleResponse{Message: "driver assigned", Vehicle: v})
}

type driverBrief struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	us, err := s.fleet.Drivers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]driverBrief, 0, len(us))
	for _, u := range us {
		out = append(out, driverBrief{ID: u.ID, Name: u.Name, Phone: u.Phone})
	}
	writeJSON(w, http.StatusOK, out)
}
