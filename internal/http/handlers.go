package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-coordination/internal/auth"
	"github.com/example/ride-coordination/internal/dispatch"
	"github.com/example/ride-coordination/internal/fleet"
	"github.com/example/ride-coordination/internal/lifecycle"
)

// Pinger reports backend health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Rides    *lifecycle.Service
	Auth     *auth.Service
	Fleet    *fleet.Service
	Registry *dispatch.Registry
	Health   Pinger
	Logger   *slog.Logger

	WSSendQueue      int
	WSWriteTimeout   time.Duration
	WSAllowedOrigins []string
}

type Server struct {
	rides    *lifecycle.Service
	auth     *auth.Service
	fleet    *fleet.Service
	registry *dispatch.Registry
	health   Pinger
	logger   *slog.Logger
	upgrader websocket.Upgrader
	ws       wsSettings
	mux      *mux.Router
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		rides:    d.Rides,
		auth:     d.Auth,
		fleet:    d.Fleet,
		registry: d.Registry,
		health:   d.Health,
		logger:   d.Logger,
		ws:       wsSettings{queue: d.WSSendQueue, writeTimeout: d.WSWriteTimeout},
		mux:      mux.NewRouter(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: originChecker(d.WSAllowedOrigins)}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)

	a := s.mux.PathPrefix("/api/auth").Subrouter()
	a.HandleFunc("/request-otp", s.handleRequestOTP).Methods(http.MethodPost)
	a.HandleFunc("/verify-otp", s.handleVerifyOTP).Methods(http.MethodPost)
	a.HandleFunc("/check-phone/{phone}", s.handleCheckPhone).Methods(http.MethodGet)

	api := s.mux.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/rider", s.handleRiderHistory).Methods(http.MethodGet)
	api.HandleFunc("/rides/user", s.handleRiderHistory).Methods(http.MethodGet)
	api.HandleFunc("/rides/driver", s.handleDriverRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/status", s.handleRideStatus).Methods(http.MethodPatch)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods(http.MethodPatch)

	api.HandleFunc("/vehicles", s.handleCreateVehicle).Methods(http.MethodPost)
	api.HandleFunc("/vehicles", s.handleListVehicles).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}", s.handleGetVehicle).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}", s.handleUpdateVehicle).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/vehicles/{id}", s.handleDeleteVehicle).Methods(http.MethodDelete)
	api.HandleFunc("/vehicles/{id}/assign-driver", s.handleAssignDriver).Methods(http.MethodPatch)

	api.HandleFunc("/users/drivers", s.handleListDrivers).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
