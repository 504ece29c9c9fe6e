package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-coordination/internal/models"
)

func seed(t *testing.T, m *MemoryStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	users := []models.User{
		{ID: "rider1", Phone: "3001234567", Name: "Ana", Role: models.RoleRider, CreatedAt: now},
		{ID: "driver1", Phone: "3007654321", Name: "Beto", Role: models.RoleDriver, CreatedAt: now},
		{ID: "owner1", Phone: "3000000000", Name: "Caro", Role: models.RoleOwner, CreatedAt: now},
	}
	for i := range users {
		if err := m.CreateUser(ctx, &users[i]); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
}

func TestMemoryStoreFindAvailableDriverVehicle(t *testing.T) {
	m := NewMemoryStore()
	seed(t, m)
	ctx := context.Background()

	if _, ok, err := m.FindAvailableDriverVehicle(ctx); err != nil || ok {
		t.Fatalf("expected no assignment, ok=%v err=%v", ok, err)
	}

	inactive := models.Vehicle{ID: "v0", Plate: "AAA111", OwnerID: "owner1", AssignedDriver: "driver1", CreatedAt: time.Now()}
	unassigned := models.Vehicle{ID: "v1", Plate: "BBB222", OwnerID: "owner1", IsActive: true, CreatedAt: time.Now()}
	for _, v := range []models.Vehicle{inactive, unassigned} {
		v := v
		if err := m.CreateVehicle(ctx, &v); err != nil {
			t.Fatalf("create vehicle: %v", err)
		}
	}
	if _, ok, _ := m.FindAvailableDriverVehicle(ctx); ok {
		t.Fatal("inactive or unassigned vehicles must not be offered")
	}

	ready := models.Vehicle{ID: "v2", Plate: "CCC333", OwnerID: "owner1", AssignedDriver: "driver1", IsActive: true, CreatedAt: time.Now()}
	if err := m.CreateVehicle(ctx, &ready); err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	a, ok, err := m.FindAvailableDriverVehicle(ctx)
	if err != nil || !ok {
		t.Fatalf("expected assignment, ok=%v err=%v", ok, err)
	}
	if a.DriverID != "driver1" || a.VehicleID != "v2" || a.DriverIdentity != "3007654321" {
		t.Fatalf("unexpected assignment %+v", a)
	}
}

func TestMemoryStoreRideRoundTripIsolated(t *testing.T) {
	m := NewMemoryStore()
	seed(t, m)
	ctx := context.Background()

	r := &models.Ride{ID: "ride1", RiderID: "rider1", DriverID: "driver1", Status: models.StatusPending, CreatedAt: time.Now()}
	if err := m.SaveRide(ctx, r); err != nil {
		t.Fatalf("save: %v", err)
	}
	r.Status = models.StatusCancelled

	got, err := m.GetRide(ctx, "ride1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Fatalf("store aliased caller's record: %s", got.Status)
	}

	c, err := m.GetRideOwnerIdentities(ctx, got)
	if err != nil || c.RiderIdentity != "3001234567" || c.DriverIdentity != "3007654321" {
		t.Fatalf("unexpected contacts %+v err=%v", c, err)
	}

	if _, err := m.GetRide(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListRidesNewestFirst(t *testing.T) {
	m := NewMemoryStore()
	seed(t, m)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		r := &models.Ride{ID: id, RiderID: "rider1", DriverID: "driver1", Status: models.StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := m.SaveRide(ctx, r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	rides, err := m.ListRidesByRider(ctx, "rider1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rides) != 3 || rides[0].ID != "new" || rides[2].ID != "old" {
		t.Fatalf("unexpected order %+v", rides)
	}
	if rides[0].Driver == nil || rides[0].Driver.Name != "Beto" {
		t.Fatalf("driver display fields not resolved: %+v", rides[0].Driver)
	}
	if got, _ := m.ListRidesByDriver(ctx, "someone-else"); len(got) != 0 {
		t.Fatalf("expected no rides, got %d", len(got))
	}
}

func TestMemoryStoreVehicleOwnershipAndPlates(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	v := &models.Vehicle{ID: "v1", Plate: "ABC123", OwnerID: "owner1", IsActive: true}
	if err := m.CreateVehicle(ctx, v); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.CreateVehicle(ctx, &models.Vehicle{ID: "v2", Plate: "ABC123", OwnerID: "owner2"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := m.GetVehicle(ctx, "v1", "owner2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign owner should not see vehicle, got %v", err)
	}
	if err := m.DeleteVehicle(ctx, "v1", "owner2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign owner should not delete vehicle, got %v", err)
	}
	if err := m.DeleteVehicle(ctx, "v1", "owner1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestMemoryStoreDuplicatePhone(t *testing.T) {
	m := NewMemoryStore()
	seed(t, m)
	err := m.CreateUser(context.Background(), &models.User{ID: "x", Phone: "3001234567", Role: models.RoleRider})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestMemoryStoreUpdateRideStatusComparesStatus(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.SaveRide(ctx, &models.Ride{ID: "ride1", Status: models.StatusPending}); err != nil {
		t.Fatalf("save: %v", err)
	}

	now := time.Now()
	accepted := &models.Ride{ID: "ride1", Status: models.StatusAccepted, AcceptedAt: &now}
	if err := m.UpdateRideStatus(ctx, accepted, models.StatusPending); err != nil {
		t.Fatalf("update: %v", err)
	}
	cancelled := &models.Ride{ID: "ride1", Status: models.StatusCancelled, CancelledAt: &now}
	if err := m.UpdateRideStatus(ctx, cancelled, models.StatusPending); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := m.GetRide(ctx, "ride1")
	if got.Status != models.StatusAccepted || got.CancelledAt != nil {
		t.Fatalf("stale write applied: %+v", got)
	}
	if err := m.UpdateRideStatus(ctx, &models.Ride{ID: "missing"}, models.StatusPending); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreDeleteVehicleInUse(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.CreateVehicle(ctx, &models.Vehicle{ID: "v1", Plate: "ABC123", OwnerID: "owner1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.SaveRide(ctx, &models.Ride{ID: "ride1", VehicleID: "v1", Status: models.StatusCompleted}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := m.DeleteVehicle(ctx, "v1", "owner1"); !errors.Is(err, ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
	if _, err := m.GetVehicle(ctx, "v1", "owner1"); err != nil {
		t.Fatalf("vehicle should survive a blocked delete: %v", err)
	}
}
