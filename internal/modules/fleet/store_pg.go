// README: Fleet store backed by PostgreSQL.
package fleet

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"haulmatch/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) UpsertUser(ctx context.Context, u *User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (
			id, phone, role, name, transporter_id, device_token,
			is_available, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			phone = EXCLUDED.phone,
			name = EXCLUDED.name,
			transporter_id = EXCLUDED.transporter_id,
			is_available = EXCLUDED.is_available,
			updated_at = EXCLUDED.updated_at`,
		string(u.ID),
		u.Phone,
		string(u.Role),
		u.Name,
		idPtr(u.TransporterID),
		nullIfEmpty(u.DeviceToken),
		u.IsAvailable,
		u.CreatedAt,
		u.UpdatedAt,
	)
	return err
}

func (s *PGStore) GetUser(ctx context.Context, id types.ID) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, phone, role, name, transporter_id, device_token,
		       is_available, created_at, updated_at
		FROM users
		WHERE id = $1`, string(id),
	)

	var u User
	var transporterID, deviceToken sql.NullString
	err := row.Scan(
		&u.ID, &u.Phone, &u.Role, &u.Name, &transporterID, &deviceToken,
		&u.IsAvailable, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if transporterID.Valid {
		t := types.ID(transporterID.String)
		u.TransporterID = &t
	}
	if deviceToken.Valid {
		u.DeviceToken = deviceToken.String
	}
	return &u, nil
}

func (s *PGStore) SetUserAvailability(ctx context.Context, id types.ID, available bool) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET is_available = $1, updated_at = NOW()
		WHERE id = $2`, available, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SetDeviceToken(ctx context.Context, id types.ID, token string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET device_token = $1, updated_at = NOW()
		WHERE id = $2`, nullIfEmpty(token), string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PGStore) DeviceTokens(ctx context.Context, ids []types.ID) (map[types.ID]string, error) {
	if len(ids) == 0 {
		return map[types.ID]string{}, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, device_token FROM users
		WHERE id = ANY($1) AND device_token IS NOT NULL AND device_token <> ''`, raw,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make(map[types.ID]string)
	for rows.Next() {
		var id, token string
		if err := rows.Scan(&id, &token); err != nil {
			return nil, err
		}
		tokens[types.ID(id)] = token
	}
	return tokens, rows.Err()
}

func (s *PGStore) UpsertVehicle(ctx context.Context, v *Vehicle) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO vehicles (
			id, transporter_id, vehicle_number, vehicle_type, vehicle_subtype,
			vehicle_key, capacity_kg, status, current_trip_id, assigned_driver_id,
			is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			vehicle_number = EXCLUDED.vehicle_number,
			vehicle_type = EXCLUDED.vehicle_type,
			vehicle_subtype = EXCLUDED.vehicle_subtype,
			vehicle_key = EXCLUDED.vehicle_key,
			capacity_kg = EXCLUDED.capacity_kg,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		string(v.ID),
		string(v.TransporterID),
		v.VehicleNumber,
		v.VehicleType,
		v.VehicleSubtype,
		v.VehicleKey,
		v.CapacityKg,
		string(v.Status),
		idPtr(v.CurrentTripID),
		idPtr(v.AssignedDriver),
		v.IsActive,
		v.CreatedAt,
		v.UpdatedAt,
	)
	return err
}

func (s *PGStore) GetVehicle(ctx context.Context, id types.ID) (*Vehicle, error) {
	row := s.db.QueryRow(ctx, vehicleSelect+` WHERE id = $1`, string(id))
	v, err := scanVehicle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVehicleNotFound
	}
	return v, err
}

func (s *PGStore) ListVehiclesByTransporter(ctx context.Context, transporterID types.ID) ([]*Vehicle, error) {
	rows, err := s.db.Query(ctx, vehicleSelect+`
		WHERE transporter_id = $1
		ORDER BY created_at`, string(transporterID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PGStore) SetVehicleActive(ctx context.Context, id types.ID, active bool) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE vehicles SET is_active = $1, updated_at = NOW()
		WHERE id = $2`, active, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) MarkVehicleInTransit(ctx context.Context, id, tripID, driverID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE vehicles
		SET status = 'in_transit', current_trip_id = $1, assigned_driver_id = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'available' AND current_trip_id IS NULL`,
		string(tripID), string(driverID), string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) ReleaseVehicle(ctx context.Context, id, tripID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE vehicles
		SET status = 'available', current_trip_id = NULL, assigned_driver_id = NULL, updated_at = NOW()
		WHERE id = $1 AND current_trip_id = $2`,
		string(id), string(tripID),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) ListTransportersWithVehicle(ctx context.Context, vehicleKey string) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT v.transporter_id
		FROM vehicles v
		JOIN users u ON u.id = v.transporter_id
		WHERE v.vehicle_key = $1
		  AND v.is_active
		  AND v.status <> 'inactive'
		  AND u.is_available`, vehicleKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, types.ID(id))
	}
	return out, rows.Err()
}

func (s *PGStore) CountAvailableByKey(ctx context.Context, transporterID types.ID, vehicleKey string) (int, error) {
	row := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM vehicles
		WHERE transporter_id = $1
		  AND vehicle_key = $2
		  AND is_active
		  AND status = 'available'`,
		string(transporterID), vehicleKey,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PGStore) ActiveVehicleKeys(ctx context.Context, transporterID types.ID) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT vehicle_key FROM vehicles
		WHERE transporter_id = $1 AND is_active`,
		string(transporterID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

const vehicleSelect = `
	SELECT id, transporter_id, vehicle_number, vehicle_type, vehicle_subtype,
	       vehicle_key, capacity_kg, status, current_trip_id, assigned_driver_id,
	       is_active, created_at, updated_at
	FROM vehicles`

func scanVehicle(row pgx.Row) (*Vehicle, error) {
	var v Vehicle
	var tripID, driverID sql.NullString
	err := row.Scan(
		&v.ID, &v.TransporterID, &v.VehicleNumber, &v.VehicleType, &v.VehicleSubtype,
		&v.VehicleKey, &v.CapacityKg, &v.Status, &tripID, &driverID,
		&v.IsActive, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tripID.Valid {
		t := types.ID(tripID.String)
		v.CurrentTripID = &t
	}
	if driverID.Valid {
		d := types.ID(driverID.String)
		v.AssignedDriver = &d
	}
	return &v, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
