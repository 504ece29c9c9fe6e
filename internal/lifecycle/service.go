// Package lifecycle owns ride status. Every accepted change is persisted
// first and then announced to the parties that did not cause it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-coordination/internal/matcher"
	"github.com/example/ride-coordination/internal/models"
	"github.com/example/ride-coordination/internal/observability"
	"github.com/example/ride-coordination/internal/storage"
)

// Dispatcher delivers an event to an identity, best effort.
type Dispatcher interface {
	Notify(identity string, kind models.EventKind, payload any)
}

// Publisher forwards accepted changes to the event stream. It must not block.
type Publisher interface {
	Publish(ctx context.Context, e models.LifecycleEvent) error
}

// maxSaveAttempts bounds re-checks after a conditional write finds the ride
// already changed.
const maxSaveAttempts = 3

// edges lists the driver-driven forward transitions. Cancellation is
// handled separately.
var edges = map[models.Status]models.Status{
	models.StatusPending:  models.StatusAccepted,
	models.StatusAccepted: models.StatusEnRoute,
	models.StatusEnRoute:  models.StatusCompleted,
}

type Service struct {
	store    storage.RideStore
	notify   Dispatcher
	assigner matcher.Assigner
	events   Publisher
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
	locks    *keyedLocks
}

type Option func(*Service)

func WithAssigner(a matcher.Assigner) Option { return func(s *Service) { s.assigner = a } }
func WithPublisher(p Publisher) Option       { return func(s *Service) { s.events = p } }
func WithLogger(l *slog.Logger) Option       { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithIDs(newID func() string) Option     { return func(s *Service) { s.newID = newID } }

func NewService(store storage.RideStore, notify Dispatcher, opts ...Option) *Service {
	s := &Service{
		store:  store,
		notify: notify,
		log:    slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
		locks:  newKeyedLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.assigner == nil {
		s.assigner = matcher.FirstAvailable{Source: store}
	}
	return s
}

// Create opens a pending ride for a rider and tells the assigned driver.
func (s *Service) Create(ctx context.Context, p models.Principal, pickup, destination string) (models.RideView, error) {
	view, err := s.create(ctx, p, pickup, destination)
	if err != nil {
		observability.TransitionErrorsTotal.WithLabelValues(Reason(err)).Inc()
	}
	return view, err
}

func (s *Service) create(ctx context.Context, p models.Principal, pickup, destination string) (models.RideView, error) {
	if p.Role != models.RoleRider {
		return models.RideView{}, fmt.Errorf("%w: only riders can request rides", ErrUnauthorized)
	}
	pickup, destination = strings.TrimSpace(pickup), strings.TrimSpace(destination)
	if pickup == "" || destination == "" {
		return models.RideView{}, fmt.Errorf("%w: pickup and destination are required", ErrInvalidInput)
	}

	a, ok, err := s.assigner.Assign(ctx, matcher.Request{RiderID: p.ID, Pickup: pickup, Destination: destination})
	if err != nil {
		return models.RideView{}, fmt.Errorf("%w: assign driver: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		return models.RideView{}, ErrNoDriverAvailable
	}

	ride := &models.Ride{
		ID:          s.newID(),
		RiderID:     p.ID,
		DriverID:    a.DriverID,
		VehicleID:   a.VehicleID,
		Pickup:      pickup,
		Destination: destination,
		Status:      models.StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.SaveRide(ctx, ride); err != nil {
		return models.RideView{}, fmt.Errorf("%w: save ride: %v", ErrStorageUnavailable, err)
	}
	observability.RidesCreatedTotal.Inc()

	view := s.resolve(ctx, ride)
	if a.DriverIdentity != "" {
		s.notify.Notify(a.DriverIdentity, models.EventNewRide, models.RideEvent{Ride: view, Message: "new ride requested"})
	}
	s.publish(ctx, models.LifecycleEvent{Kind: models.EventNewRide, RideID: ride.ID, To: ride.Status, ActorID: p.ID, At: ride.CreatedAt})
	return view, nil
}

// Transition moves a ride to requested. Checks run in a fixed order:
// existence, authorization, edge validity, then the finalized guard for
// cancellation.
func (s *Service) Transition(ctx context.Context, rideID string, p models.Principal, requested models.Status) (models.RideView, error) {
	view, err := s.transition(ctx, rideID, p, requested)
	if err != nil {
		observability.TransitionErrorsTotal.WithLabelValues(Reason(err)).Inc()
	}
	return view, err
}

// Cancel is Transition to cancelled.
func (s *Service) Cancel(ctx context.Context, rideID string, p models.Principal) (models.RideView, error) {
	return s.Transition(ctx, rideID, p, models.StatusCancelled)
}

func (s *Service) transition(ctx context.Context, rideID string, p models.Principal, requested models.Status) (models.RideView, error) {
	unlock, err := s.locks.lock(ctx, rideID)
	if err != nil {
		return models.RideView{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer unlock()

	// The store write is conditional on the status read here, so a change
	// made by another process between read and write is re-checked.
	var cur, next *models.Ride
	var now time.Time
	for attempt := 1; ; attempt++ {
		cur, next, now, err = s.plan(ctx, rideID, p, requested)
		if err != nil {
			return models.RideView{}, err
		}
		err = s.store.UpdateRideStatus(ctx, next, cur.Status)
		if err == nil {
			break
		}
		if errors.Is(err, storage.ErrNotFound) {
			return models.RideView{}, ErrNotFound
		}
		if !errors.Is(err, storage.ErrConflict) || attempt == maxSaveAttempts {
			return models.RideView{}, fmt.Errorf("%w: save ride: %v", ErrStorageUnavailable, err)
		}
		s.log.Info("ride_changed_concurrently", "ride_id", rideID, "attempt", attempt)
	}
	observability.TransitionsTotal.WithLabelValues(string(cur.Status), string(requested)).Inc()

	view := s.resolve(ctx, next)
	kind, msg := models.EventRideStatusUpdated, "your ride is now "+string(requested)
	if requested == models.StatusCancelled {
		kind, msg = models.EventRideCancelled, "the ride has been cancelled"
	}
	s.notifyOthers(ctx, next, p.ID, kind, models.RideEvent{Ride: view, Message: msg})
	s.publish(ctx, models.LifecycleEvent{Kind: kind, RideID: next.ID, From: cur.Status, To: requested, ActorID: p.ID, At: now})
	return view, nil
}

// plan loads the ride and runs the checks, returning the current record and
// the one that should replace it.
func (s *Service) plan(ctx context.Context, rideID string, p models.Principal, requested models.Status) (cur, next *models.Ride, now time.Time, err error) {
	cur, err = s.store.GetRide(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, now, ErrNotFound
	}
	if err != nil {
		return nil, nil, now, fmt.Errorf("%w: load ride: %v", ErrStorageUnavailable, err)
	}

	isRider := p.ID != "" && p.ID == cur.RiderID
	isDriver := p.ID != "" && p.ID == cur.DriverID

	if requested == models.StatusCancelled {
		if !isRider && !isDriver {
			return nil, nil, now, ErrUnauthorized
		}
		if cur.Status.Terminal() {
			return nil, nil, now, ErrAlreadyFinalized
		}
	} else {
		if !isDriver {
			return nil, nil, now, ErrUnauthorized
		}
		if to, ok := edges[cur.Status]; !ok || to != requested {
			return nil, nil, now, &TransitionError{From: cur.Status, To: requested}
		}
	}

	n := *cur
	n.Status = requested
	now = s.now()
	switch requested {
	case models.StatusAccepted:
		n.AcceptedAt = &now
	case models.StatusEnRoute:
		n.StartedAt = &now
	case models.StatusCompleted:
		n.CompletedAt = &now
	case models.StatusCancelled:
		n.CancelledAt = &now
	}
	return cur, &n, now, nil
}

// notifyOthers sends the event to every party of r except the initiator.
func (s *Service) notifyOthers(ctx context.Context, r *models.Ride, initiator string, kind models.EventKind, payload models.RideEvent) {
	c, err := s.store.GetRideOwnerIdentities(ctx, r)
	if err != nil {
		s.log.Warn("notify_contacts_failed", "ride_id", r.ID, "error", err)
		return
	}
	if initiator != r.RiderID && c.RiderIdentity != "" {
		s.notify.Notify(c.RiderIdentity, kind, payload)
	}
	if initiator != r.DriverID && c.DriverIdentity != "" && c.DriverIdentity != c.RiderIdentity {
		s.notify.Notify(c.DriverIdentity, kind, payload)
	}
}

// resolve attaches display fields; the bare ride is used if that fails
// since the change is already persisted.
func (s *Service) resolve(ctx context.Context, r *models.Ride) models.RideView {
	view, err := s.store.ResolveRide(ctx, r)
	if err != nil {
		s.log.Warn("resolve_ride_failed", "ride_id", r.ID, "error", err)
		return models.RideView{Ride: *r}
	}
	return view
}

func (s *Service) publish(ctx context.Context, e models.LifecycleEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("publish_event_failed", "ride_id", e.RideID, "kind", e.Kind, "error", err)
	}
}

// RiderHistory lists the caller's rides, newest first.
func (s *Service) RiderHistory(ctx context.Context, p models.Principal) ([]models.RideView, error) {
	if p.Role != models.RoleRider {
		return nil, fmt.Errorf("%w: only riders have a ride history", ErrUnauthorized)
	}
	rides, err := s.store.ListRidesByRider(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return rides, nil
}

// DriverRides lists rides assigned to the calling driver, newest first.
func (s *Service) DriverRides(ctx context.Context, p models.Principal) ([]models.RideView, error) {
	if p.Role != models.RoleDriver {
		return nil, fmt.Errorf("%w: only drivers have assigned rides", ErrUnauthorized)
	}
	rides, err := s.store.ListRidesByDriver(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return rides, nil
}
