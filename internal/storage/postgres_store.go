package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-coordination/internal/models"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already-open handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// Migrate applies a schema script.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return translate(err)
}

func (p *PostgresStore) Ping(ctx context.Context) error { return translate(p.db.PingContext(ctx)) }
func (p *PostgresStore) Close() error                   { return p.db.Close() }

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return ErrDuplicate
		case pqForeignKeyViolation:
			return ErrInUse
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

const rideColumns = `r.id, r.rider_id, r.driver_id, r.vehicle_id, r.pickup, r.destination, r.status,
	r.created_at, r.accepted_at, r.started_at, r.completed_at, r.cancelled_at`

const rideViewQuery = `SELECT ` + rideColumns + `,
	COALESCE(u.name, ''), COALESCE(u.phone, ''), COALESCE(d.name, ''), COALESCE(d.phone, ''),
	COALESCE(v.plate, ''), COALESCE(v.brand, ''), COALESCE(v.model, ''), COALESCE(v.color, '')
FROM rides r
LEFT JOIN users u ON u.id = r.rider_id
LEFT JOIN users d ON d.id = r.driver_id
LEFT JOIN vehicles v ON v.id = r.vehicle_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner, extra ...any) (*models.Ride, error) {
	var (
		r                            models.Ride
		status                       string
		accepted, started, completed sql.NullTime
		cancelled                    sql.NullTime
	)
	dest := append([]any{&r.ID, &r.RiderID, &r.DriverID, &r.VehicleID, &r.Pickup, &r.Destination, &status,
		&r.CreatedAt, &accepted, &started, &completed, &cancelled}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	r.Status = models.Status(status)
	r.AcceptedAt = nullTime(accepted)
	r.StartedAt = nullTime(started)
	r.CompletedAt = nullTime(completed)
	r.CancelledAt = nullTime(cancelled)
	return &r, nil
}

func scanRideView(row rowScanner) (models.RideView, error) {
	var rName, rPhone, dName, dPhone, plate, brand, model, color string
	r, err := scanRide(row, &rName, &rPhone, &dName, &dPhone, &plate, &brand, &model, &color)
	if err != nil {
		return models.RideView{}, err
	}
	view := models.RideView{Ride: *r}
	if rPhone != "" {
		view.Rider = &models.PartyBrief{ID: r.RiderID, Name: rName, Phone: rPhone}
	}
	if dPhone != "" {
		view.Driver = &models.PartyBrief{ID: r.DriverID, Name: dName, Phone: dPhone}
	}
	if plate != "" {
		view.Vehicle = &models.VehicleBrief{ID: r.VehicleID, Plate: plate, Brand: brand, Model: model, Color: color}
	}
	return view, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides r WHERE r.id = $1`, id)
	r, err := scanRide(row)
	if err != nil {
		return nil, translate(err)
	}
	return r, nil
}

func (p *PostgresStore) SaveRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides
		(id, rider_id, driver_id, vehicle_id, pickup, destination, status,
			created_at, accepted_at, started_at, completed_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			accepted_at = EXCLUDED.accepted_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			cancelled_at = EXCLUDED.cancelled_at`,
		r.ID, r.RiderID, r.DriverID, r.VehicleID, r.Pickup, r.Destination, string(r.Status),
		r.CreatedAt, r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt)
	return translate(err)
}

func (p *PostgresStore) UpdateRideStatus(ctx context.Context, r *models.Ride, prev models.Status) error {
	res, err := p.db.ExecContext(ctx, `UPDATE rides
		SET status = $2, accepted_at = $3, started_at = $4, completed_at = $5, cancelled_at = $6
		WHERE id = $1 AND status = $7`,
		r.ID, string(r.Status), r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt, string(prev))
	if err := affectedOne(res, err); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (p *PostgresStore) FindAvailableDriverVehicle(ctx context.Context) (models.Assignment, bool, error) {
	var a models.Assignment
	err := p.db.QueryRowContext(ctx, `SELECT v.id, u.id, u.phone
		FROM vehicles v JOIN users u ON u.id = v.assigned_driver
		WHERE v.is_active AND v.assigned_driver IS NOT NULL
		ORDER BY v.created_at LIMIT 1`).Scan(&a.VehicleID, &a.DriverID, &a.DriverIdentity)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Assignment{}, false, nil
	}
	if err != nil {
		return models.Assignment{}, false, translate(err)
	}
	return a, true, nil
}

func (p *PostgresStore) GetRideOwnerIdentities(ctx context.Context, r *models.Ride) (models.Contacts, error) {
	var c models.Contacts
	err := p.db.QueryRowContext(ctx, `SELECT
		COALESCE((SELECT phone FROM users WHERE id = $1), ''),
		COALESCE((SELECT phone FROM users WHERE id = $2), '')`, r.RiderID, r.DriverID).
		Scan(&c.RiderIdentity, &c.DriverIdentity)
	if err != nil {
		return models.Contacts{}, translate(err)
	}
	return c, nil
}

func (p *PostgresStore) ResolveRide(ctx context.Context, r *models.Ride) (models.RideView, error) {
	view, err := scanRideView(p.db.QueryRowContext(ctx, rideViewQuery+` WHERE r.id = $1`, r.ID))
	if err != nil {
		return models.RideView{}, translate(err)
	}
	return view, nil
}

func (p *PostgresStore) ListRidesByRider(ctx context.Context, riderID string) ([]models.RideView, error) {
	return p.listRides(ctx, rideViewQuery+` WHERE r.rider_id = $1 ORDER BY r.created_at DESC`, riderID)
}

func (p *PostgresStore) ListRidesByDriver(ctx context.Context, driverID string) ([]models.RideView, error) {
	return p.listRides(ctx, rideViewQuery+` WHERE r.driver_id = $1 ORDER BY r.created_at DESC`, driverID)
}

func (p *PostgresStore) listRides(ctx context.Context, query string, args ...any) ([]models.RideView, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := make([]models.RideView, 0)
	for rows.Next() {
		v, err := scanRideView(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, v)
	}
	return out, translate(rows.Err())
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO users (id, phone, name, role, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, u.ID, u.Phone, u.Name, string(u.Role), u.Verified, u.CreatedAt)
	return translate(err)
}

const userColumns = `id, phone, name, role, verified, created_at`

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u    models.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Phone, &u.Name, &role, &u.Verified, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

func (p *PostgresStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

func (p *PostgresStore) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY name`, string(role))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, *u)
	}
	return out, translate(rows.Err())
}

const vehicleColumns = `id, plate, brand, model, color, year, owner_id, COALESCE(assigned_driver, ''), is_active, created_at`

func scanVehicle(row rowScanner) (*models.Vehicle, error) {
	var v models.Vehicle
	if err := row.Scan(&v.ID, &v.Plate, &v.Brand, &v.Model, &v.Color, &v.Year, &v.OwnerID, &v.AssignedDriver, &v.IsActive, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func (p *PostgresStore) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO vehicles
		(id, plate, brand, model, color, year, owner_id, assigned_driver, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.Plate, v.Brand, v.Model, v.Color, v.Year, v.OwnerID, nullString(v.AssignedDriver), v.IsActive, v.CreatedAt)
	return translate(err)
}

func (p *PostgresStore) GetVehicle(ctx context.Context, id, ownerID string) (*models.Vehicle, error) {
	v, err := scanVehicle(p.db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if err != nil {
		return nil, translate(err)
	}
	return v, nil
}

func (p *PostgresStore) ListVehiclesByOwner(ctx context.Context, ownerID string) ([]models.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := make([]models.Vehicle, 0)
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, *v)
	}
	return out, translate(rows.Err())
}

func (p *PostgresStore) UpdateVehicle(ctx context.Context, v *models.Vehicle) error {
	res, err := p.db.ExecContext(ctx, `UPDATE vehicles
		SET plate = $1, brand = $2, model = $3, color = $4, year = $5, assigned_driver = $6, is_active = $7
		WHERE id = $8 AND owner_id = $9`,
		v.Plate, v.Brand, v.Model, v.Color, v.Year, nullString(v.AssignedDriver), v.IsActive, v.ID, v.OwnerID)
	return affectedOne(res, err)
}

func (p *PostgresStore) DeleteVehicle(ctx context.Context, id, ownerID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM vehicles WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
