// README: Order store backed by PostgreSQL.
package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
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

func (s *PGStore) CreateOrder(ctx context.Context, o *Order, requests []*TruckRequest) error {
	pickup, err := json.Marshal(o.Pickup)
	if err != nil {
		return err
	}
	drop, err := json.Marshal(o.Drop)
	if err != nil {
		return err
	}
	route, err := json.Marshal(o.RoutePoints)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (
				id, customer_id, customer_phone, customer_name,
				pickup, drop_point, route_points, distance_km,
				total_trucks, trucks_filled, total_amount, currency,
				goods_type, cargo_weight_kg, status, scheduled_at, expires_at,
				current_route_index, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7, $8,
				$9, $10, $11, $12,
				$13, $14, $15, $16, $17,
				$18, $19, $20
			)`,
			string(o.ID),
			string(o.CustomerID),
			o.CustomerPhone,
			o.CustomerName,
			pickup, drop, route,
			o.DistanceKm,
			o.TotalTrucks,
			o.TrucksFilled,
			o.TotalAmount.Amount,
			o.TotalAmount.Currency,
			o.GoodsType,
			o.CargoWeightKg,
			string(o.Status),
			o.ScheduledAt,
			o.ExpiresAt,
			o.CurrentRouteIndex,
			o.CreatedAt,
			o.UpdatedAt,
		)
		if err != nil {
			return err
		}
		for _, r := range requests {
			_, err := tx.Exec(ctx, `
				INSERT INTO truck_requests (
					id, order_id, request_number, vehicle_type, vehicle_subtype,
					vehicle_key, price_per_truck, currency, status,
					notified_transporters, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				string(r.ID),
				string(r.OrderID),
				r.RequestNumber,
				r.VehicleType,
				r.VehicleSubtype,
				r.VehicleKey,
				r.PricePerTruck.Amount,
				r.PricePerTruck.Currency,
				string(r.Status),
				idsToStrings(r.NotifiedTransporters),
				r.CreatedAt,
				r.UpdatedAt,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PGStore) GetOrder(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, orderSelect+` WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachTimers(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PGStore) ListOrdersByCustomer(ctx context.Context, customerID types.ID) ([]*Order, error) {
	rows, err := s.db.Query(ctx, orderSelect+`
		WHERE customer_id = $1
		ORDER BY created_at DESC`, string(customerID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachTimers(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PGStore) HasActiveByCustomer(ctx context.Context, customerID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE customer_id = $1
			  AND status IN ('active','partially_filled','fully_filled','in_progress')
		)`, string(customerID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PGStore) ListOpen(ctx context.Context) ([]*Order, error) {
	rows, err := s.db.Query(ctx, orderSelect+`
		WHERE status IN ('active','partially_filled')
		ORDER BY expires_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateOrderStatus(ctx context.Context, id types.ID, from []Status, to Status) (bool, error) {
	fromRaw := make([]string, len(from))
	for i, f := range from {
		fromRaw[i] = string(f)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`,
		string(to), string(id), fromRaw,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) IncrementFilled(ctx context.Context, id types.ID, delta int) (*Order, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE orders
		SET trucks_filled = trucks_filled + $2,
		    status = CASE
		        WHEN trucks_filled + $2 >= total_trucks THEN 'fully_filled'
		        ELSE 'partially_filled'
		    END,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('active','partially_filled')
		RETURNING `+orderColumns,
		string(id), delta,
	)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (s *PGStore) FinalizeExpired(ctx context.Context, id types.ID) (*Order, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE orders o
		SET status = CASE
		        WHEN o.trucks_filled > 0 OR EXISTS (
		            SELECT 1 FROM truck_requests tr
		            WHERE tr.order_id = o.id
		              AND tr.status IN ('assigned','in_progress','completed')
		        ) THEN 'partially_filled'
		        ELSE 'expired'
		    END,
		    updated_at = NOW()
		FROM (
		    SELECT id, status AS prev_status FROM orders
		    WHERE id = $1 AND status IN ('active','partially_filled')
		    FOR UPDATE
		) prev
		WHERE o.id = prev.id
		RETURNING `+prefixedOrderColumns("o")+`, prev.prev_status`,
		string(id),
	)
	var prevStatus string
	o, err := scanOrderWith(row, &prevStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return o, string(o.Status) != prevStatus, nil
}

func (s *PGStore) AdvanceRouteIndex(ctx context.Context, orderID types.ID, fromIndex int, arrivedAt time.Time, addTimer bool) (bool, error) {
	advanced := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET current_route_index = $2 + 1, updated_at = NOW()
			WHERE id = $1 AND current_route_index = $2`,
			string(orderID), fromIndex,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		advanced = true
		if !addTimer {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_stop_timers (order_id, stop_index, arrived_at)
			VALUES ($1, $2 + 1, $3)
			ON CONFLICT (order_id, stop_index) DO NOTHING`,
			string(orderID), fromIndex, arrivedAt,
		)
		return err
	})
	return advanced, err
}

func (s *PGStore) CloseStopTimer(ctx context.Context, orderID types.ID, stopIndex int, departedAt time.Time) (*StopWaitTimer, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE order_stop_timers
		SET departed_at = $3,
		    wait_seconds = EXTRACT(EPOCH FROM ($3 - arrived_at))::BIGINT
		WHERE order_id = $1 AND stop_index = $2 AND departed_at IS NULL
		RETURNING stop_index, arrived_at, departed_at, wait_seconds`,
		string(orderID), stopIndex, departedAt,
	)
	var t StopWaitTimer
	var departed sql.NullTime
	err := row.Scan(&t.StopIndex, &t.ArrivedAt, &departed, &t.WaitTimeSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if departed.Valid {
		d := departed.Time
		t.DepartedAt = &d
	}
	return &t, true, nil
}

func (s *PGStore) ListRequests(ctx context.Context, orderID types.ID) ([]*TruckRequest, error) {
	rows, err := s.db.Query(ctx, requestSelect+`
		WHERE order_id = $1
		ORDER BY request_number`, string(orderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *PGStore) ListSearchingByKey(ctx context.Context, orderID types.ID, vehicleKey string) ([]*TruckRequest, error) {
	rows, err := s.db.Query(ctx, requestSelect+`
		WHERE order_id = $1 AND vehicle_key = $2 AND status = 'searching'
		ORDER BY request_number`, string(orderID), vehicleKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *PGStore) ListOpenByKeys(ctx context.Context, keys []string, now time.Time) ([]*TruckRequest, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+prefixedRequestColumns("tr")+`
		FROM truck_requests tr
		JOIN orders o ON o.id = tr.order_id
		WHERE tr.status = 'searching'
		  AND tr.vehicle_key = ANY($1)
		  AND o.status IN ('active','partially_filled')
		  AND o.expires_at > $2
		ORDER BY o.created_at DESC, tr.request_number`,
		keys, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *PGStore) MarkNotified(ctx context.Context, requestIDs []types.ID, transporterIDs []types.ID) error {
	if len(requestIDs) == 0 || len(transporterIDs) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		UPDATE truck_requests
		SET notified_transporters = (
		        SELECT COALESCE(array_agg(DISTINCT t), '{}')
		        FROM unnest(notified_transporters || $2::TEXT[]) AS t
		    ),
		    updated_at = NOW()
		WHERE id = ANY($1)`,
		idsToStrings(requestIDs), idsToStrings(transporterIDs),
	)
	return err
}

func (s *PGStore) MarkHeld(ctx context.Context, id types.ID, transporterID types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE truck_requests
		SET status = 'held', held_by = $2, held_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'searching'`,
		string(id), string(transporterID), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) ReleaseHeld(ctx context.Context, id types.ID, transporterID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE truck_requests
		SET status = 'searching', held_by = NULL, held_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'held' AND held_by = $2`,
		string(id), string(transporterID),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) MarkAssigned(ctx context.Context, id types.ID, b Binding) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE truck_requests
		SET status = 'assigned',
		    assigned_transporter_id = $2,
		    assigned_vehicle_id = $3,
		    assigned_vehicle_number = $4,
		    assigned_driver_id = $5,
		    assigned_driver_name = $6,
		    trip_id = $7,
		    assigned_at = $8,
		    held_by = NULL, held_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'held' AND held_by = $2`,
		string(id),
		string(b.TransporterID),
		idPtr(b.VehicleID),
		nullIfEmpty(b.VehicleNumber),
		idPtr(b.DriverID),
		nullIfEmpty(b.DriverName),
		idPtr(b.TripID),
		b.At,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) RevertAssigned(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE truck_requests
		SET status = 'searching',
		    assigned_transporter_id = NULL,
		    assigned_vehicle_id = NULL,
		    assigned_vehicle_number = NULL,
		    assigned_driver_id = NULL,
		    assigned_driver_name = NULL,
		    trip_id = NULL,
		    assigned_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'assigned'`,
		string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) CloseOpenRequests(ctx context.Context, orderID types.ID, to RequestStatus) ([]*TruckRequest, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE truck_requests tr
		SET status = $2, held_by = NULL, held_at = NULL, updated_at = NOW()
		FROM (
		    SELECT id, status AS prev_status, held_by AS prev_held_by, held_at AS prev_held_at
		    FROM truck_requests
		    WHERE order_id = $1 AND status IN ('searching','held')
		    FOR UPDATE
		) prev
		WHERE tr.id = prev.id
		RETURNING tr.id, tr.order_id, tr.request_number, tr.vehicle_type, tr.vehicle_subtype,
		          tr.vehicle_key, tr.price_per_truck, tr.currency,
		          prev.prev_status, prev.prev_held_by, prev.prev_held_at,
		          tr.notified_transporters, tr.created_at, tr.updated_at`,
		string(orderID), string(to),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prior []*TruckRequest
	for rows.Next() {
		var r TruckRequest
		var amount int64
		var currency string
		var heldBy sql.NullString
		var heldAt sql.NullTime
		var notified []string
		err := rows.Scan(
			&r.ID, &r.OrderID, &r.RequestNumber, &r.VehicleType, &r.VehicleSubtype,
			&r.VehicleKey, &amount, &currency,
			&r.Status, &heldBy, &heldAt,
			&notified, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		r.PricePerTruck = types.Money{Amount: amount, Currency: currency}
		if heldBy.Valid {
			h := types.ID(heldBy.String)
			r.HeldBy = &h
		}
		if heldAt.Valid {
			t := heldAt.Time
			r.HeldAt = &t
		}
		r.NotifiedTransporters = stringsToIDs(notified)
		prior = append(prior, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(prior, func(i, j int) bool { return prior[i].RequestNumber < prior[j].RequestNumber })
	return prior, nil
}

func (s *PGStore) StartRequests(ctx context.Context, orderID types.ID) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE truck_requests SET status = 'in_progress', updated_at = NOW()
		WHERE order_id = $1 AND status = 'assigned'`, string(orderID),
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) CompleteRequests(ctx context.Context, orderID types.ID) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE truck_requests SET status = 'completed', updated_at = NOW()
		WHERE order_id = $1 AND status IN ('assigned','in_progress')`, string(orderID),
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) CancelAssigned(ctx context.Context, orderID types.ID) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE truck_requests SET status = 'cancelled', updated_at = NOW()
		WHERE order_id = $1 AND status IN ('assigned','in_progress')`, string(orderID),
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) ListStaleHeld(ctx context.Context, olderThan time.Time) ([]*TruckRequest, error) {
	rows, err := s.db.Query(ctx, requestSelect+`
		WHERE status = 'held' AND held_at < $1
		ORDER BY held_at`, olderThan,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *PGStore) attachTimers(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[types.ID]*Order, len(orders))
	ids := make([]string, len(orders))
	for i, o := range orders {
		byID[o.ID] = o
		ids[i] = string(o.ID)
	}
	rows, err := s.db.Query(ctx, `
		SELECT order_id, stop_index, arrived_at, departed_at, wait_seconds
		FROM order_stop_timers
		WHERE order_id = ANY($1)
		ORDER BY order_id, stop_index`, ids,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var t StopWaitTimer
		var departed sql.NullTime
		if err := rows.Scan(&orderID, &t.StopIndex, &t.ArrivedAt, &departed, &t.WaitTimeSeconds); err != nil {
			return err
		}
		if departed.Valid {
			d := departed.Time
			t.DepartedAt = &d
		}
		if o, ok := byID[types.ID(orderID)]; ok {
			o.StopWaitTimers = append(o.StopWaitTimers, t)
		}
	}
	return rows.Err()
}

const orderColumns = `id, customer_id, customer_phone, customer_name,
	       pickup, drop_point, route_points, distance_km,
	       total_trucks, trucks_filled, total_amount, currency,
	       goods_type, cargo_weight_kg, status, scheduled_at, expires_at,
	       current_route_index, created_at, updated_at`

const orderSelect = `
	SELECT ` + orderColumns + `
	FROM orders`

func prefixedOrderColumns(alias string) string {
	return alias + `.id, ` + alias + `.customer_id, ` + alias + `.customer_phone, ` + alias + `.customer_name,
	       ` + alias + `.pickup, ` + alias + `.drop_point, ` + alias + `.route_points, ` + alias + `.distance_km,
	       ` + alias + `.total_trucks, ` + alias + `.trucks_filled, ` + alias + `.total_amount, ` + alias + `.currency,
	       ` + alias + `.goods_type, ` + alias + `.cargo_weight_kg, ` + alias + `.status, ` + alias + `.scheduled_at, ` + alias + `.expires_at,
	       ` + alias + `.current_route_index, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func scanOrder(row pgx.Row) (*Order, error) {
	return scanOrderWith(row)
}

// scanOrderWith scans an order row plus any trailing extra columns.
func scanOrderWith(row pgx.Row, extra ...any) (*Order, error) {
	var o Order
	var pickup, drop, route []byte
	var amount int64
	var currency string
	var scheduledAt sql.NullTime
	dest := []any{
		&o.ID, &o.CustomerID, &o.CustomerPhone, &o.CustomerName,
		&pickup, &drop, &route, &o.DistanceKm,
		&o.TotalTrucks, &o.TrucksFilled, &amount, &currency,
		&o.GoodsType, &o.CargoWeightKg, &o.Status, &scheduledAt, &o.ExpiresAt,
		&o.CurrentRouteIndex, &o.CreatedAt, &o.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pickup, &o.Pickup); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(drop, &o.Drop); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(route, &o.RoutePoints); err != nil {
		return nil, err
	}
	o.TotalAmount = types.Money{Amount: amount, Currency: currency}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		o.ScheduledAt = &t
	}
	return &o, nil
}

const requestColumns = `id, order_id, request_number, vehicle_type, vehicle_subtype,
	       vehicle_key, price_per_truck, currency, status, held_by, held_at,
	       assigned_transporter_id, assigned_vehicle_id, assigned_vehicle_number,
	       assigned_driver_id, assigned_driver_name, trip_id,
	       notified_transporters, assigned_at, created_at, updated_at`

const requestSelect = `
	SELECT ` + requestColumns + `
	FROM truck_requests`

func prefixedRequestColumns(alias string) string {
	return alias + `.id, ` + alias + `.order_id, ` + alias + `.request_number, ` + alias + `.vehicle_type, ` + alias + `.vehicle_subtype,
	       ` + alias + `.vehicle_key, ` + alias + `.price_per_truck, ` + alias + `.currency, ` + alias + `.status, ` + alias + `.held_by, ` + alias + `.held_at,
	       ` + alias + `.assigned_transporter_id, ` + alias + `.assigned_vehicle_id, ` + alias + `.assigned_vehicle_number,
	       ` + alias + `.assigned_driver_id, ` + alias + `.assigned_driver_name, ` + alias + `.trip_id,
	       ` + alias + `.notified_transporters, ` + alias + `.assigned_at, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func scanRequest(row pgx.Row) (*TruckRequest, error) {
	var r TruckRequest
	var amount int64
	var currency string
	var heldBy, transporterID, vehicleID, vehicleNumber, driverID, driverName, tripID sql.NullString
	var heldAt, assignedAt sql.NullTime
	var notified []string
	err := row.Scan(
		&r.ID, &r.OrderID, &r.RequestNumber, &r.VehicleType, &r.VehicleSubtype,
		&r.VehicleKey, &amount, &currency, &r.Status, &heldBy, &heldAt,
		&transporterID, &vehicleID, &vehicleNumber,
		&driverID, &driverName, &tripID,
		&notified, &assignedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.PricePerTruck = types.Money{Amount: amount, Currency: currency}
	if heldBy.Valid {
		h := types.ID(heldBy.String)
		r.HeldBy = &h
	}
	if heldAt.Valid {
		t := heldAt.Time
		r.HeldAt = &t
	}
	if transporterID.Valid {
		t := types.ID(transporterID.String)
		r.AssignedTransporterID = &t
	}
	if vehicleID.Valid {
		v := types.ID(vehicleID.String)
		r.AssignedVehicleID = &v
	}
	if vehicleNumber.Valid {
		r.AssignedVehicleNumber = vehicleNumber.String
	}
	if driverID.Valid {
		d := types.ID(driverID.String)
		r.AssignedDriverID = &d
	}
	if driverName.Valid {
		r.AssignedDriverName = driverName.String
	}
	if tripID.Valid {
		t := types.ID(tripID.String)
		r.TripID = &t
	}
	if assignedAt.Valid {
		t := assignedAt.Time
		r.AssignedAt = &t
	}
	r.NotifiedTransporters = stringsToIDs(notified)
	return &r, nil
}

func scanRequests(rows pgx.Rows) ([]*TruckRequest, error) {
	var out []*TruckRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func idsToStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func stringsToIDs(raw []string) []types.ID {
	if len(raw) == 0 {
		return nil
	}
	out := make([]types.ID, len(raw))
	for i, s := range raw {
		out[i] = types.ID(s)
	}
	return out
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
