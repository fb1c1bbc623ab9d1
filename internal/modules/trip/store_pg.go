// README: Assignment store backed by PostgreSQL.
package trip

import (
	"context"
	"database/sql"
	"errors"
	"time"

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

const assignmentColumns = `
	id, order_id, truck_request_id, transporter_id,
	vehicle_id, vehicle_number, driver_id, driver_name, driver_phone,
	trip_id, status, assigned_at, completed_at, updated_at`

const assignmentSelect = `SELECT ` + assignmentColumns + ` FROM assignments`

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	var completedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.OrderID, &a.TruckRequestID, &a.TransporterID,
		&a.VehicleID, &a.VehicleNumber, &a.DriverID, &a.DriverName, &a.DriverPhone,
		&a.TripID, &a.Status, &a.AssignedAt, &completedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return &a, nil
}

func scanAssignments(rows pgx.Rows) ([]*Assignment, error) {
	defer rows.Close()
	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateAssignment(ctx context.Context, a *Assignment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO assignments (
			id, order_id, truck_request_id, transporter_id,
			vehicle_id, vehicle_number, driver_id, driver_name, driver_phone,
			trip_id, status, assigned_at, completed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		string(a.ID),
		string(a.OrderID),
		string(a.TruckRequestID),
		string(a.TransporterID),
		string(a.VehicleID),
		a.VehicleNumber,
		string(a.DriverID),
		a.DriverName,
		a.DriverPhone,
		string(a.TripID),
		string(a.Status),
		a.AssignedAt,
		a.CompletedAt,
		a.UpdatedAt,
	)
	return err
}

func (s *PGStore) GetAssignment(ctx context.Context, id types.ID) (*Assignment, error) {
	row := s.db.QueryRow(ctx, assignmentSelect+` WHERE id = $1`, string(id))
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *PGStore) ListByOrder(ctx context.Context, orderID types.ID) ([]*Assignment, error) {
	rows, err := s.db.Query(ctx, assignmentSelect+`
		WHERE order_id = $1 ORDER BY assigned_at`, string(orderID),
	)
	if err != nil {
		return nil, err
	}
	return scanAssignments(rows)
}

func (s *PGStore) ActiveByDriver(ctx context.Context, driverID types.ID) (*Assignment, error) {
	row := s.db.QueryRow(ctx, assignmentSelect+`
		WHERE driver_id = $1 AND status NOT IN ('completed','cancelled')
		ORDER BY assigned_at DESC LIMIT 1`, string(driverID),
	)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *PGStore) ActiveByOrderAndDriver(ctx context.Context, orderID, driverID types.ID) (*Assignment, error) {
	row := s.db.QueryRow(ctx, assignmentSelect+`
		WHERE order_id = $1 AND driver_id = $2 AND status NOT IN ('completed','cancelled')
		ORDER BY assigned_at DESC LIMIT 1`, string(orderID), string(driverID),
	)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from []AssignmentStatus, to AssignmentStatus) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE assignments SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		string(id), string(to), fromStrs,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) CompleteOrderAssignments(ctx context.Context, orderID types.ID, at time.Time) ([]*Assignment, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE assignments
		SET status = 'completed', completed_at = $2, updated_at = NOW()
		WHERE order_id = $1 AND status NOT IN ('completed','cancelled')
		RETURNING `+assignmentColumns,
		string(orderID), at,
	)
	if err != nil {
		return nil, err
	}
	return scanAssignments(rows)
}

func (s *PGStore) CancelOrderAssignments(ctx context.Context, orderID types.ID) ([]*Assignment, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE assignments
		SET status = 'cancelled', updated_at = NOW()
		WHERE order_id = $1 AND status NOT IN ('completed','cancelled')
		RETURNING `+assignmentColumns,
		string(orderID),
	)
	if err != nil {
		return nil, err
	}
	return scanAssignments(rows)
}
