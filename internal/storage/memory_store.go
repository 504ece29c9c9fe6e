package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ride-coordination/internal/models"
)

// MemoryStore is the in-process Store used when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]models.Ride
	users    map[string]models.User
	vehicles map[string]models.Vehicle
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]models.Ride),
		users:    make(map[string]models.User),
		vehicles: make(map[string]models.Vehicle),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) SaveRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) UpdateRideStatus(_ context.Context, r *models.Ride, prev models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != prev {
		return ErrConflict
	}
	cur.Status = r.Status
	cur.AcceptedAt, cur.StartedAt, cur.CompletedAt, cur.CancelledAt = r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt
	m.rides[r.ID] = cur
	return nil
}

func (m *MemoryStore) FindAvailableDriverVehicle(context.Context) (models.Assignment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vs := make([]models.Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		if v.IsActive && v.AssignedDriver != "" {
			vs = append(vs, v)
		}
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].CreatedAt.Before(vs[j].CreatedAt) })
	for _, v := range vs {
		d, ok := m.users[v.AssignedDriver]
		if !ok {
			continue
		}
		return models.Assignment{DriverID: d.ID, VehicleID: v.ID, DriverIdentity: d.Phone}, true, nil
	}
	return models.Assignment{}, false, nil
}

func (m *MemoryStore) GetRideOwnerIdentities(_ context.Context, r *models.Ride) (models.Contacts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.Contacts{
		RiderIdentity:  m.users[r.RiderID].Phone,
		DriverIdentity: m.users[r.DriverID].Phone,
	}, nil
}

func (m *MemoryStore) ResolveRide(_ context.Context, r *models.Ride) (models.RideView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewLocked(*r), nil
}

func (m *MemoryStore) viewLocked(r models.Ride) models.RideView {
	view := models.RideView{Ride: r}
	if u, ok := m.users[r.RiderID]; ok {
		view.Rider = &models.PartyBrief{ID: u.ID, Name: u.Name, Phone: u.Phone}
	}
	if u, ok := m.users[r.DriverID]; ok {
		view.Driver = &models.PartyBrief{ID: u.ID, Name: u.Name, Phone: u.Phone}
	}
	if v, ok := m.vehicles[r.VehicleID]; ok {
		view.Vehicle = &models.VehicleBrief{ID: v.ID, Plate: v.Plate, Brand: v.Brand, Model: v.Model, Color: v.Color}
	}
	return view
}

func (m *MemoryStore) ListRidesByRider(_ context.Context, riderID string) ([]models.RideView, error) {
	return m.listRides(func(r models.Ride) bool { return r.RiderID == riderID }), nil
}

func (m *MemoryStore) ListRidesByDriver(_ context.Context, driverID string) ([]models.RideView, error) {
	return m.listRides(func(r models.Ride) bool { return r.DriverID == driverID }), nil
}

// listRides returns matching rides newest first.
func (m *MemoryStore) listRides(match func(models.Ride) bool) []models.RideView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RideView, 0)
	for _, r := range m.rides {
		if match(r) {
			out = append(out, m.viewLocked(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Phone == u.Phone {
			return ErrDuplicate
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) GetUserByPhone(_ context.Context, phone string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Phone == phone {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListUsersByRole(_ context.Context, role models.Role) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.User, 0)
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreateVehicle(_ context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.plateTakenLocked(v.Plate, "") {
		return ErrDuplicate
	}
	m.vehicles[v.ID] = *v
	return nil
}

func (m *MemoryStore) GetVehicle(_ context.Context, id, ownerID string) (*models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok || v.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *MemoryStore) ListVehiclesByOwner(_ context.Context, ownerID string) ([]models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Vehicle, 0)
	for _, v := range m.vehicles {
		if v.OwnerID == ownerID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateVehicle(_ context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.vehicles[v.ID]
	if !ok || cur.OwnerID != v.OwnerID {
		return ErrNotFound
	}
	if m.plateTakenLocked(v.Plate, v.ID) {
		return ErrDuplicate
	}
	m.vehicles[v.ID] = *v
	return nil
}

func (m *MemoryStore) DeleteVehicle(_ context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok || v.OwnerID != ownerID {
		return ErrNotFound
	}
	for _, r := range m.rides {
		if r.VehicleID == id {
			return ErrInUse
		}
	}
	delete(m.vehicles, id)
	return nil
}

func (m *MemoryStore) plateTakenLocked(plate, exceptID string) bool {
	for id, v := range m.vehicles {
		if id != exceptID && v.Plate == plate {
			return true
		}
	}
	return false
}
