package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-coordination/internal/matcher"
	"github.com/example/ride-coordination/internal/models"
	"github.com/example/ride-coordination/internal/storage"
)

type sent struct {
	identity string
	kind     models.EventKind
	payload  any
}

// recorder is a Dispatcher that only records calls.
type recorder struct {
	mu    sync.Mutex
	calls []sent
}

func (r *recorder) Notify(identity string, kind models.EventKind, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sent{identity, kind, payload})
}

func (r *recorder) take() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.calls
	r.calls = nil
	return out
}

type publisher struct {
	mu     sync.Mutex
	events []models.LifecycleEvent
	err    error
}

func (p *publisher) Publish(_ context.Context, e models.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

// flakyStore fails writes on demand. beforeUpdate, when set, runs once
// ahead of the next conditional write to stand in for another server
// instance changing the ride.
type flakyStore struct {
	*storage.MemoryStore
	failSave     bool
	beforeUpdate func()
}

func (f *flakyStore) SaveRide(ctx context.Context, r *models.Ride) error {
	if f.failSave {
		return fmt.Errorf("%w: connection reset", storage.ErrUnavailable)
	}
	return f.MemoryStore.SaveRide(ctx, r)
}

func (f *flakyStore) UpdateRideStatus(ctx context.Context, r *models.Ride, prev models.Status) error {
	if f.failSave {
		return fmt.Errorf("%w: connection reset", storage.ErrUnavailable)
	}
	if h := f.beforeUpdate; h != nil {
		f.beforeUpdate = nil
		h()
	}
	return f.MemoryStore.UpdateRideStatus(ctx, r, prev)
}

var (
	rider       = models.Principal{ID: "rider1", Role: models.RoleRider, Phone: "3001234567"}
	driver      = models.Principal{ID: "driver1", Role: models.RoleDriver, Phone: "3007654321"}
	otherDriver = models.Principal{ID: "driver2", Role: models.RoleDriver, Phone: "3005555555"}
	otherRider  = models.Principal{ID: "rider2", Role: models.RoleRider, Phone: "3006666666"}
)

type fixture struct {
	store *flakyStore
	disp  *recorder
	pub   *publisher
	svc   *Service
	clock time.Time
}

func newFixture(t *testing.T, withVehicle bool) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	for _, p := range []models.Principal{rider, driver, otherDriver, otherRider} {
		u := &models.User{ID: p.ID, Phone: p.Phone, Name: p.ID, Role: p.Role}
		if err := mem.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	if withVehicle {
		v := &models.Vehicle{ID: "veh1", Plate: "ABC123", OwnerID: "owner1", AssignedDriver: driver.ID, IsActive: true}
		if err := mem.CreateVehicle(ctx, v); err != nil {
			t.Fatalf("create vehicle: %v", err)
		}
	}
	f := &fixture{store: &flakyStore{MemoryStore: mem}, disp: &recorder{}, pub: &publisher{}, clock: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	tick := func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	f.svc = NewService(f.store, f.disp, WithPublisher(f.pub), WithClock(tick), WithIDs(func() string { return "ride1" }))
	return f
}

func (f *fixture) status(t *testing.T) models.Status {
	t.Helper()
	r, err := f.store.GetRide(context.Background(), "ride1")
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	return r.Status
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	view, err := f.svc.Create(ctx, rider, "A", "B")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if view.Status != models.StatusPending || view.DriverID != driver.ID {
		t.Fatalf("unexpected ride %+v", view.Ride)
	}
	calls := f.disp.take()
	if len(calls) != 1 || calls[0].identity != driver.Phone || calls[0].kind != models.EventNewRide {
		t.Fatalf("expected one new_ride to driver, got %+v", calls)
	}

	view, err = f.svc.Transition(ctx, "ride1", driver, models.StatusAccepted)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if view.Status != models.StatusAccepted || view.AcceptedAt == nil {
		t.Fatalf("unexpected ride after accept %+v", view.Ride)
	}
	calls = f.disp.take()
	if len(calls) != 1 || calls[0].identity != rider.Phone || calls[0].kind != models.EventRideStatusUpdated {
		t.Fatalf("expected one ride_status_updated to rider, got %+v", calls)
	}
	ev, ok := calls[0].payload.(models.RideEvent)
	if !ok || ev.Ride.Rider == nil || ev.Ride.Vehicle == nil {
		t.Fatalf("payload lacks display fields: %+v", calls[0].payload)
	}

	if _, err := f.svc.Transition(ctx, "ride1", otherDriver, models.StatusEnRoute); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := f.status(t); got != models.StatusAccepted {
		t.Fatalf("status changed after rejected transition: %s", got)
	}
	if len(f.disp.take()) != 0 {
		t.Fatal("rejected transition produced a notification")
	}
	if len(f.pub.events) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(f.pub.events))
	}
}

func TestFullLifecycleTimestamps(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, rider, "A", "B"); err != nil {
		t.Fatalf("create: %v", err)
	}

	var prev *models.Ride
	for _, st := range []models.Status{models.StatusAccepted, models.StatusEnRoute, models.StatusCompleted} {
		if _, err := f.svc.Transition(ctx, "ride1", driver, st); err != nil {
			t.Fatalf("transition to %s: %v", st, err)
		}
		r, _ := f.store.GetRide(ctx, "ride1")
		if prev != nil {
			for name, pair := range map[string][2]*time.Time{
				"accepted": {prev.AcceptedAt, r.AcceptedAt},
				"started":  {prev.StartedAt, r.StartedAt},
			} {
				if pair[0] != nil && !pair[0].Equal(*pair[1]) {
					t.Fatalf("%s timestamp rewritten", name)
				}
			}
		}
		prev = r
	}
	r := prev
	if r.AcceptedAt == nil || r.StartedAt == nil || r.CompletedAt == nil || r.CancelledAt != nil {
		t.Fatalf("unexpected timestamps %+v", r)
	}
	if r.AcceptedAt.Before(r.CreatedAt) || r.StartedAt.Before(*r.AcceptedAt) || r.CompletedAt.Before(*r.StartedAt) {
		t.Fatalf("timestamps not monotonic %+v", r)
	}

	if _, err := f.svc.Cancel(ctx, "ride1", rider); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if _, err := f.svc.Transition(ctx, "ride1", driver, models.StatusAccepted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from completed, got %v", err)
	}
}

func TestInvalidTransitionNamesStates(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, rider, "A", "B"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := f.svc.Transition(ctx, "ride1", driver, models.StatusCompleted)
	var te *TransitionError
	if !errors.As(err, &te) || te.From != models.StatusPending || te.To != models.StatusCompleted {
		t.Fatalf("expected TransitionError pending->completed, got %v", err)
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatal("TransitionError must match ErrInvalidTransition")
	}
	if f.status(t) != models.StatusPending {
		t.Fatal("status changed")
	}
}

func TestRiderCannotAdvance(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, _ = f.svc.Create(ctx, rider, "A", "B")
	if _, err := f.svc.Transition(ctx, "ride1", rider, models.StatusAccepted); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestErrorPrecedence(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// missing ride wins over everything
	if _, err := f.svc.Transition(ctx, "nope", otherDriver, models.StatusPending); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, _ = f.svc.Create(ctx, rider, "A", "B")
	// authorization is checked before edge validity
	if _, err := f.svc.Transition(ctx, "ride1", otherDriver, models.StatusCompleted); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	_, _ = f.svc.Cancel(ctx, "ride1", driver)
	// outsiders cancelling a finalized ride are unauthorized, not finalized
	if _, err := f.svc.Cancel(ctx, "ride1", otherRider); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, "ride1", rider); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestCancelNotifiesOtherParty(t *testing.T) {
	cases := []struct {
		name      string
		by        models.Principal
		advanceTo []models.Status
		notified  string
	}{
		{"rider from pending", rider, nil, driver.Phone},
		{"driver from pending", driver, nil, rider.Phone},
		{"rider from accepted", rider, []models.Status{models.StatusAccepted}, driver.Phone},
		{"driver from en_route", driver, []models.Status{models.StatusAccepted, models.StatusEnRoute}, rider.Phone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true)
			ctx := context.Background()
			_, _ = f.svc.Create(ctx, rider, "A", "B")
			for _, st := range tc.advanceTo {
				if _, err := f.svc.Transition(ctx, "ride1", driver, st); err != nil {
					t.Fatalf("advance: %v", err)
				}
			}
			f.disp.take()

			view, err := f.svc.Cancel(ctx, "ride1", tc.by)
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if view.Status != models.StatusCancelled || view.CancelledAt == nil {
				t.Fatalf("unexpected ride %+v", view.Ride)
			}
			if view.CompletedAt != nil {
				t.Fatal("cancel must not set completedAt")
			}
			calls := f.disp.take()
			if len(calls) != 1 || calls[0].identity != tc.notified || calls[0].kind != models.EventRideCancelled {
				t.Fatalf("expected ride_cancelled to %s, got %+v", tc.notified, calls)
			}
		})
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, driver, "A", "B"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for driver, got %v", err)
	}
	if _, err := f.svc.Create(ctx, rider, "  ", "B"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(f.disp.take()) != 0 {
		t.Fatal("failed create produced a notification")
	}
}

func TestCreateWithoutDriver(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.svc.Create(context.Background(), rider, "A", "B"); !errors.Is(err, ErrNoDriverAvailable) {
		t.Fatalf("expected ErrNoDriverAvailable, got %v", err)
	}
	if rides, _ := f.store.ListRidesByRider(context.Background(), rider.ID); len(rides) != 0 {
		t.Fatal("ride created without a driver")
	}
}

func TestCustomAssigner(t *testing.T) {
	f := newFixture(t, false)
	f.svc.assigner = matcher.Func(func(_ context.Context, req matcher.Request) (models.Assignment, bool, error) {
		if req.Pickup != "A" {
			t.Errorf("assigner got pickup %q", req.Pickup)
		}
		return models.Assignment{DriverID: otherDriver.ID, VehicleID: "veh9", DriverIdentity: otherDriver.Phone}, true, nil
	})
	view, err := f.svc.Create(context.Background(), rider, "A", "B")
	if err != nil || view.DriverID != otherDriver.ID {
		t.Fatalf("expected custom assignment, got %+v err=%v", view.Ride, err)
	}
}

func TestStorageFailureLeavesStateAndSendsNothing(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, _ = f.svc.Create(ctx, rider, "A", "B")
	f.disp.take()

	f.store.failSave = true
	if _, err := f.svc.Transition(ctx, "ride1", driver, models.StatusAccepted); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	f.store.failSave = false
	if f.status(t) != models.StatusPending {
		t.Fatal("status changed despite failed persist")
	}
	if len(f.disp.take()) != 0 {
		t.Fatal("notification sent for a failed persist")
	}

	f.store.failSave = true
	if _, err := f.svc.Create(ctx, rider, "C", "D"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable on create, got %v", err)
	}
}

func TestTransitionRechecksRideChangedElsewhere(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, _ = f.svc.Create(ctx, rider, "A", "B")
	f.disp.take()

	f.store.beforeUpdate = func() {
		r, _ := f.store.MemoryStore.GetRide(ctx, "ride1")
		r.Status = models.StatusCancelled
		_ = f.store.MemoryStore.SaveRide(ctx, r)
	}
	_, err := f.svc.Transition(ctx, "ride1", driver, models.StatusAccepted)
	var te *TransitionError
	if !errors.As(err, &te) || te.From != models.StatusCancelled {
		t.Fatalf("expected TransitionError from cancelled, got %v", err)
	}
	if f.status(t) != models.StatusCancelled {
		t.Fatalf("stale accept overwrote cancellation: %s", f.status(t))
	}
	if len(f.disp.take()) != 0 {
		t.Fatal("notification sent for a rejected change")
	}
}

func TestCancelRechecksRideFinalizedElsewhere(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, _ = f.svc.Create(ctx, rider, "A", "B")

	f.store.beforeUpdate = func() {
		r, _ := f.store.MemoryStore.GetRide(ctx, "ride1")
		r.Status = models.StatusCompleted
		_ = f.store.MemoryStore.SaveRide(ctx, r)
	}
	if _, err := f.svc.Cancel(ctx, "ride1", rider); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if f.status(t) != models.StatusCompleted {
		t.Fatalf("status = %s", f.status(t))
	}
}

func TestPublisherFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t, true)
	f.pub.err = errors.New("kafka down")
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, rider, "A", "B"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Transition(ctx, "ride1", driver, models.StatusAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func TestConcurrentTransitionsSerialize(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, _ = f.svc.Create(ctx, rider, "A", "B")

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Transition(ctx, "ride1", driver, models.StatusAccepted); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("expected exactly one accept, got %d", succeeded)
	}
	if f.svc.locks.size() != 0 {
		t.Fatalf("lock entries leaked: %d", f.svc.locks.size())
	}
}

func TestTransitionHonoursContextWhileLocked(t *testing.T) {
	f := newFixture(t, true)
	_, _ = f.svc.Create(context.Background(), rider, "A", "B")

	unlock, err := f.svc.locks.lock(context.Background(), "ride1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.svc.Transition(ctx, "ride1", driver, models.StatusAccepted); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected fail-fast error, got %v", err)
	}
}

func TestHistoryRoles(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, _ = f.svc.Create(ctx, rider, "A", "B")

	rides, err := f.svc.RiderHistory(ctx, rider)
	if err != nil || len(rides) != 1 {
		t.Fatalf("rider history: %v len=%d", err, len(rides))
	}
	if _, err := f.svc.RiderHistory(ctx, driver); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	rides, err = f.svc.DriverRides(ctx, driver)
	if err != nil || len(rides) != 1 {
		t.Fatalf("driver rides: %v len=%d", err, len(rides))
	}
	if _, err := f.svc.DriverRides(ctx, rider); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
