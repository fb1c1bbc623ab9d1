// README: Reservation protocol: lock first, persist second. The SETNX
// truck locks are the only serialization; every row move after them is a
// single-row CAS, so losers never touch the database.
package hold

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"haulmatch/internal/cache"
	"haulmatch/internal/config"
	"haulmatch/internal/events"
	"haulmatch/internal/modules/fleet"
	"haulmatch/internal/modules/order"
	"haulmatch/internal/modules/trip"
	"haulmatch/internal/sched"
	"haulmatch/internal/types"
)

var (
	ErrInvalidQuantity    = &types.Error{Code: "INVALID_QUANTITY", Message: "quantity is out of range"}
	ErrAlreadyHolding     = &types.Error{Code: "ALREADY_HOLDING", Message: "transporter already holds units of this group"}
	ErrNotEnoughAvailable = &types.Error{Code: "NOT_ENOUGH_AVAILABLE", Message: "not enough trucks left to reserve", Retryable: true}
	ErrLockFailed         = &types.Error{Code: "LOCK_FAILED", Message: "another transporter reserved first", Retryable: true}
	ErrNotFound           = &types.Error{Code: "NOT_FOUND", Message: "hold not found"}
	ErrForbidden          = &types.Error{Code: "FORBIDDEN", Message: "hold belongs to another transporter"}
	ErrExpired            = &types.Error{Code: "EXPIRED", Message: "hold has expired"}
	ErrValidationFailed   = &types.Error{Code: "VALIDATION_FAILURES", Message: "assignment validation failed"}
	ErrInternal           = &types.Error{Code: "INTERNAL_ERROR", Message: "reservation failed and was rolled back"}
)

type Service struct {
	store    *Store
	orders   order.Store
	fleet    *fleet.Service
	trips    *trip.Service
	locks    *cache.LockManager
	bcast    *order.Broadcaster
	bus      order.Publisher
	push     order.Pusher
	sched    *sched.Scheduler
	clock    types.Clock
	log      *zap.SugaredLogger
	dispatch config.DispatchConfig
	timeouts config.TimeoutConfig
}

type ServiceDeps struct {
	Store     *Store
	Orders    order.Store
	Fleet     *fleet.Service
	Trips     *trip.Service
	Locks     *cache.LockManager
	Broadcast *order.Broadcaster
	Bus       order.Publisher
	Push      order.Pusher
	Sched     *sched.Scheduler
	Clock     types.Clock
	Log       *zap.SugaredLogger
	Dispatch  config.DispatchConfig
	Timeouts  config.TimeoutConfig
}

func NewService(d ServiceDeps) *Service {
	return &Service{
		store:    d.Store,
		orders:   d.Orders,
		fleet:    d.Fleet,
		trips:    d.Trips,
		locks:    d.Locks,
		bcast:    d.Broadcast,
		bus:      d.Bus,
		push:     d.Push,
		sched:    d.Sched,
		clock:    d.Clock,
		log:      d.Log,
		dispatch: d.Dispatch,
		timeouts: d.Timeouts,
	}
}

type PlaceCommand struct {
	OrderID        types.ID
	TransporterID  types.ID
	VehicleType    string
	VehicleSubtype string
	Quantity       int
}

// Place reserves quantity searching units of one vehicle group. Locks are
// taken in requestNumber order before anything is written, so two
// transporters overlapping on any subset resolve without deadlock and the
// loser costs no database write.
func (s *Service) Place(ctx context.Context, cmd PlaceCommand) (*Hold, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Hold)
	defer cancel()

	if cmd.Quantity < 1 || cmd.Quantity > s.dispatch.MaxHoldQuantity {
		return nil, ErrInvalidQuantity.WithMessagef("quantity must be 1..%d", s.dispatch.MaxHoldQuantity)
	}

	o, err := s.orders.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if (o.Status != order.StatusActive && o.Status != order.StatusPartiallyFilled) || !o.ExpiresAt.After(now) {
		return nil, ErrExpired.WithMessagef("order is no longer accepting reservations")
	}

	key := types.VehicleKey(cmd.VehicleType, cmd.VehicleSubtype)
	mine, err := s.store.ListByTransporter(ctx, cmd.TransporterID)
	if err != nil {
		return nil, err
	}
	for _, h := range mine {
		if h.Status == HoldActive && h.OrderID == cmd.OrderID && h.VehicleKey() == key && h.ExpiresAt.After(now) {
			return nil, ErrAlreadyHolding.WithMessagef("hold %s is still active", h.ID)
		}
	}

	candidates, err := s.orders.ListSearchingByKey(ctx, cmd.OrderID, key)
	if err != nil {
		return nil, err
	}
	if len(candidates) < cmd.Quantity {
		return nil, ErrNotEnoughAvailable.WithMessagef(
			"%d trucks searching, %d requested", len(candidates), cmd.Quantity)
	}
	selected := candidates[:cmd.Quantity]

	acquired := make([]types.ID, 0, cmd.Quantity)
	for _, r := range selected {
		ok, err := s.locks.AcquireOwned(ctx, order.TruckLockName(r.ID),
			string(cmd.TransporterID), s.dispatch.HoldDuration)
		if err != nil || !ok {
			s.releaseLocks(ctx, acquired, cmd.TransporterID)
			if err != nil {
				return nil, err
			}
			return nil, ErrLockFailed
		}
		acquired = append(acquired, r.ID)
	}

	h := &Hold{
		ID:              types.NewID(),
		OrderID:         cmd.OrderID,
		TransporterID:   cmd.TransporterID,
		VehicleType:     cmd.VehicleType,
		VehicleSubtype:  cmd.VehicleSubtype,
		Quantity:        cmd.Quantity,
		TruckRequestIDs: acquired,
		Status:          HoldActive,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.dispatch.HoldDuration),
	}
	if err := s.store.Put(ctx, h, s.dispatch.HoldDuration); err != nil {
		s.releaseLocks(ctx, acquired, cmd.TransporterID)
		return nil, err
	}

	for i, rid := range h.TruckRequestIDs {
		ok, err := s.orders.MarkHeld(ctx, rid, cmd.TransporterID, now)
		if err == nil && ok {
			continue
		}
		// The lock should have made this impossible; restore everything.
		s.log.Errorw("held row CAS failed under lock",
			"hold_id", h.ID, "request_id", rid, "error", err)
		for _, done := range h.TruckRequestIDs[:i] {
			if _, err := s.orders.ReleaseHeld(ctx, done, cmd.TransporterID); err != nil {
				s.log.Errorw("rollback release failed", "request_id", done, "error", err)
			}
		}
		_ = s.store.Settle(ctx, h, HoldReleased)
		s.releaseLocks(ctx, acquired, cmd.TransporterID)
		return nil, ErrInternal
	}

	s.bcast.Delta(ctx, cmd.OrderID)
	s.log.Infow("hold placed",
		"hold_id", h.ID,
		"order_id", cmd.OrderID,
		"transporter_id", cmd.TransporterID,
		"quantity", cmd.Quantity,
		"expires_at", h.ExpiresAt)
	return h, nil
}

type ConfirmCommand struct {
	HoldID        types.ID
	TransporterID types.ID
}

type ConfirmResult struct {
	Hold           *Hold                 `json:"hold"`
	AssignedTrucks []*order.TruckRequest `json:"assignedTrucks"`
}

// Confirm is the simple confirmation: the held units are assigned to the
// transporter without binding vehicles or drivers yet.
func (s *Service) Confirm(ctx context.Context, cmd ConfirmCommand) (*ConfirmResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Confirm)
	defer cancel()

	h, err := s.ownedActive(ctx, cmd.HoldID, cmd.TransporterID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var wins []win
	for _, rid := range h.TruckRequestIDs {
		ok, err := s.orders.MarkAssigned(ctx, rid, order.Binding{
			TransporterID: cmd.TransporterID,
			At:            now,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			wins = append(wins, win{requestID: rid})
		}
	}

	if _, err := s.finishConfirm(ctx, h, wins); err != nil {
		return nil, err
	}

	won := make(map[types.ID]struct{}, len(wins))
	for _, w := range wins {
		won[w.requestID] = struct{}{}
	}
	assigned := make([]*order.TruckRequest, 0, len(wins))
	if requests, err := s.orders.ListRequests(ctx, h.OrderID); err == nil {
		for _, r := range requests {
			if _, ok := won[r.ID]; ok {
				assigned = append(assigned, r)
			}
		}
	}
	return &ConfirmResult{Hold: h, AssignedTrucks: assigned}, nil
}

type AssignmentInput struct {
	VehicleID types.ID `json:"vehicleId"`
	DriverID  types.ID `json:"driverId"`
}

type ConfirmAssignmentsCommand struct {
	HoldID        types.ID
	TransporterID types.ID
	Assignments   []AssignmentInput
}

// ValidationFailure pinpoints one rejected assignment input.
type ValidationFailure struct {
	Index  int    `json:"index"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type ConfirmAssignmentsResult struct {
	Hold          *Hold              `json:"hold"`
	AssignmentIDs []types.ID         `json:"assignmentIds"`
	TripIDs       []types.ID         `json:"tripIds"`
	Assignments   []*trip.Assignment `json:"assignments"`
}

// ConfirmWithAssignments confirms the hold and binds one vehicle and
// driver per held unit. Validation covers the whole batch before any
// write; a single bad pair rejects everything and the units stay held.
func (s *Service) ConfirmWithAssignments(ctx context.Context, cmd ConfirmAssignmentsCommand) (*ConfirmAssignmentsResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Confirm)
	defer cancel()

	h, err := s.ownedActive(ctx, cmd.HoldID, cmd.TransporterID)
	if err != nil {
		return nil, err
	}
	if len(cmd.Assignments) != h.Quantity {
		return nil, ErrValidationFailed.WithMessagef(
			"expected %d assignments for this hold, got %d", h.Quantity, len(cmd.Assignments))
	}

	pairs, failures, err := s.validateAssignments(ctx, h, cmd)
	if err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		return nil, ErrValidationFailed.WithDetails(failures)
	}

	o, err := s.orders.GetOrder(ctx, h.OrderID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var wins []win
	var created []*trip.Assignment
	for i, rid := range h.TruckRequestIDs {
		v, d := pairs[i].vehicle, pairs[i].driver
		asn := &trip.Assignment{
			ID:             types.NewID(),
			OrderID:        h.OrderID,
			TruckRequestID: rid,
			TransporterID:  cmd.TransporterID,
			VehicleID:      v.ID,
			VehicleNumber:  v.VehicleNumber,
			DriverID:       d.ID,
			DriverName:     d.Name,
			DriverPhone:    d.Phone,
			TripID:         types.NewID(),
			Status:         trip.AssignmentPending,
			AssignedAt:     now,
			UpdatedAt:      now,
		}
		if err := s.trips.Create(ctx, asn); err != nil {
			return nil, err
		}
		ok, err := s.orders.MarkAssigned(ctx, rid, order.Binding{
			TransporterID: cmd.TransporterID,
			VehicleID:     &v.ID,
			VehicleNumber: v.VehicleNumber,
			DriverID:      &d.ID,
			DriverName:    d.Name,
			TripID:        &asn.TripID,
			At:            now,
		})
		if err != nil {
			_ = s.trips.CancelAssignment(ctx, asn.ID)
			return nil, err
		}
		if !ok {
			// Expiry or cancellation raced us on this row; the rest of the
			// batch can still land.
			_ = s.trips.CancelAssignment(ctx, asn.ID)
			continue
		}
		bound, err := s.fleet.BindVehicle(ctx, v.ID, asn.TripID, d.ID)
		if err != nil || !bound {
			if _, rerr := s.orders.RevertAssigned(ctx, rid); rerr != nil {
				s.log.Errorw("revert after bind failure failed", "request_id", rid, "error", rerr)
			}
			_ = s.trips.CancelAssignment(ctx, asn.ID)
			if err != nil {
				return nil, err
			}
			continue
		}
		wins = append(wins, win{
			requestID:    rid,
			assignmentID: asn.ID,
			tripID:       asn.TripID,
			vehicleID:    v.ID,
		})
		created = append(created, asn)
	}

	if _, err := s.finishConfirm(ctx, h, wins); err != nil {
		return nil, err
	}

	res := &ConfirmAssignmentsResult{Hold: h, Assignments: created}
	for _, a := range created {
		res.AssignmentIDs = append(res.AssignmentIDs, a.ID)
		res.TripIDs = append(res.TripIDs, a.TripID)
		s.tripAssigned(ctx, o, a)
	}
	return res, nil
}

type pair struct {
	vehicle *fleet.Vehicle
	driver  *fleet.User
}

func (s *Service) validateAssignments(ctx context.Context, h *Hold, cmd ConfirmAssignmentsCommand) ([]pair, []ValidationFailure, error) {
	pairs := make([]pair, 0, len(cmd.Assignments))
	var failures []ValidationFailure
	seenVehicles := make(map[types.ID]struct{})
	seenDrivers := make(map[types.ID]struct{})

	fail := func(i int, field, reason string) {
		failures = append(failures, ValidationFailure{Index: i, Field: field, Reason: reason})
	}

	for i, in := range cmd.Assignments {
		v, err := s.fleet.GetVehicle(ctx, in.VehicleID)
		if err != nil {
			fail(i, "vehicleId", "vehicle not found")
			continue
		}
		switch {
		case v.TransporterID != cmd.TransporterID:
			fail(i, "vehicleId", "vehicle belongs to another transporter")
		case v.Status != fleet.VehicleAvailable:
			fail(i, "vehicleId", fmt.Sprintf("vehicle is %s", v.Status))
		case v.CurrentTripID != nil:
			fail(i, "vehicleId", "vehicle is already on a trip")
		case v.VehicleKey != h.VehicleKey():
			fail(i, "vehicleId", "vehicle does not match the held group")
		default:
			if _, dup := seenVehicles[v.ID]; dup {
				fail(i, "vehicleId", "vehicle appears more than once")
			}
		}
		seenVehicles[v.ID] = struct{}{}

		d, err := s.fleet.GetUser(ctx, in.DriverID)
		if err != nil {
			fail(i, "driverId", "driver not found")
			continue
		}
		switch {
		case d.Role != fleet.RoleDriver:
			fail(i, "driverId", "user is not a driver")
		case d.TransporterID == nil || *d.TransporterID != cmd.TransporterID:
			fail(i, "driverId", "driver belongs to another transporter")
		default:
			if _, dup := seenDrivers[d.ID]; dup {
				fail(i, "driverId", "driver appears more than once")
			} else if active, err := s.trips.ActiveByDriver(ctx, in.DriverID); err != nil {
				return nil, nil, err
			} else if active != nil {
				fail(i, "driverId", "driver already has an active trip")
			}
		}
		seenDrivers[d.ID] = struct{}{}

		pairs = append(pairs, pair{vehicle: v, driver: d})
	}
	return pairs, failures, nil
}

// win is one request that made it to assigned, with whatever needs undoing
// if the order-level accounting then fails.
type win struct {
	requestID    types.ID
	assignmentID types.ID
	tripID       types.ID
	vehicleID    types.ID
}

// finishConfirm settles the order-level accounting after the per-row CAS
// loop: bump trucksFilled, settle the hold, release locks, and publish.
func (s *Service) finishConfirm(ctx context.Context, h *Hold, wins []win) (*order.Order, error) {
	if len(wins) == 0 {
		// Every row raced away (expiry or cancel beat the confirm).
		_ = s.store.Settle(ctx, h, HoldExpired)
		s.releaseLocks(ctx, h.TruckRequestIDs, h.TransporterID)
		return nil, ErrExpired.WithMessagef("the reservation lapsed before confirmation")
	}

	o, ok, err := s.orders.IncrementFilled(ctx, h.OrderID, len(wins))
	if err != nil {
		return nil, err
	}
	if !ok {
		// The order left the fillable states while we were confirming.
		s.rollbackWins(ctx, h.OrderID, wins)
		_ = s.store.Settle(ctx, h, HoldExpired)
		s.releaseLocks(ctx, h.TruckRequestIDs, h.TransporterID)
		return nil, ErrExpired.WithMessagef("order is no longer accepting confirmations")
	}

	_ = s.store.Settle(ctx, h, HoldConfirmed)
	s.releaseLocks(ctx, h.TruckRequestIDs, h.TransporterID)

	s.bcast.TrucksConfirmed(ctx, o, h.TransporterID, len(wins))
	if o.Status == order.StatusFullyFilled {
		s.sched.Cancel(order.ExpiryTimerID(o.ID))
		if requests, err := s.orders.ListRequests(ctx, o.ID); err == nil {
			s.bcast.Closed(ctx, o, requests, "fully_assigned")
		}
	}
	s.bcast.Delta(ctx, h.OrderID)

	s.log.Infow("hold confirmed",
		"hold_id", h.ID,
		"order_id", h.OrderID,
		"transporter_id", h.TransporterID,
		"confirmed", len(wins),
		"trucks_filled", o.TrucksFilled,
		"order_status", o.Status)
	return o, nil
}

func (s *Service) rollbackWins(ctx context.Context, orderID types.ID, wins []win) {
	for _, w := range wins {
		if _, err := s.orders.RevertAssigned(ctx, w.requestID); err != nil {
			s.log.Errorw("revert assigned failed", "request_id", w.requestID, "error", err)
		}
		if w.assignmentID != "" {
			_ = s.trips.CancelAssignment(ctx, w.assignmentID)
			if _, err := s.fleet.UnbindVehicle(ctx, w.vehicleID, w.tripID); err != nil {
				s.log.Errorw("vehicle unbind failed", "vehicle_id", w.vehicleID, "error", err)
			}
		}
	}
	// A terminal order must not keep freshly reverted searching rows.
	if o, err := s.orders.GetOrder(ctx, orderID); err == nil && o.Status.Terminal() {
		to := order.RequestExpired
		if o.Status == order.StatusCancelled {
			to = order.RequestCancelled
		}
		if _, err := s.orders.CloseOpenRequests(ctx, orderID, to); err != nil {
			s.log.Errorw("re-closing reverted rows failed", "order_id", orderID, "error", err)
		}
	}
}

// Release returns all held units to searching. Idempotent: a hold that is
// gone or already settled answers with success.
func (s *Service) Release(ctx context.Context, cmd ConfirmCommand) error {
	h, ok, err := s.store.Get(ctx, cmd.HoldID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if h.TransporterID != cmd.TransporterID {
		return ErrForbidden
	}
	if h.Status != HoldActive {
		return nil
	}
	s.releaseRows(ctx, h)
	_ = s.store.Settle(ctx, h, HoldReleased)
	s.bcast.Delta(ctx, h.OrderID)
	s.log.Infow("hold released",
		"hold_id", h.ID, "order_id", h.OrderID, "transporter_id", h.TransporterID)
	return nil
}

// Sweep reconciles expiry. Lock TTL already makes expired holds harmless;
// the sweep flips their rows back to searching promptly and repairs rows
// whose hold metadata vanished entirely.
func (s *Service) Sweep(ctx context.Context) {
	now := s.clock.Now()

	ids, err := s.store.ActiveIDs(ctx)
	if err != nil {
		s.log.Errorw("hold sweep list failed", "error", err)
	}
	for _, id := range ids {
		h, ok, err := s.store.Get(ctx, id)
		if err != nil {
			s.log.Errorw("hold sweep read failed", "hold_id", id, "error", err)
			continue
		}
		if !ok {
			// Row TTL beat the sweep; the stale-row pass below repairs the
			// requests.
			_ = s.store.Drop(ctx, id)
			continue
		}
		if h.Status != HoldActive {
			_ = s.store.Drop(ctx, id)
			continue
		}
		if !h.ExpiresAt.After(now) {
			s.expire(ctx, h)
		}
	}

	cutoff := now.Add(-(s.dispatch.HoldDuration + rowGrace))
	stale, err := s.orders.ListStaleHeld(ctx, cutoff)
	if err != nil {
		s.log.Errorw("stale held scan failed", "error", err)
		return
	}
	touched := make(map[types.ID]struct{})
	for _, r := range stale {
		if r.HeldBy == nil {
			continue
		}
		ok, err := s.orders.ReleaseHeld(ctx, r.ID, *r.HeldBy)
		if err != nil || !ok {
			continue
		}
		if err := s.locks.Release(ctx, order.TruckLockName(r.ID), string(*r.HeldBy)); err != nil {
			s.log.Warnw("stale lock release failed", "request_id", r.ID, "error", err)
		}
		touched[r.OrderID] = struct{}{}
	}
	for oid := range touched {
		s.bcast.Delta(ctx, oid)
	}
	if len(stale) > 0 {
		s.log.Infow("stale held rows reconciled", "rows", len(stale))
	}
}

// ExpireOrderHolds settles the hold rows of an order whose expiry already
// flipped the requests; rows and locks are the order service's business.
func (s *Service) ExpireOrderHolds(ctx context.Context, orderID types.ID) {
	s.settleOrderHolds(ctx, orderID, HoldExpired)
}

// ReleaseOrderHolds settles the hold rows of a cancelled order.
func (s *Service) ReleaseOrderHolds(ctx context.Context, orderID types.ID) {
	s.settleOrderHolds(ctx, orderID, HoldReleased)
}

func (s *Service) settleOrderHolds(ctx context.Context, orderID types.ID, to Status) {
	holds, err := s.store.ListByOrder(ctx, orderID)
	if err != nil {
		s.log.Errorw("listing order holds failed", "order_id", orderID, "error", err)
		return
	}
	for _, h := range holds {
		if h.Status != HoldActive {
			continue
		}
		if err := s.store.Settle(ctx, h, to); err != nil {
			s.log.Errorw("settling hold failed", "hold_id", h.ID, "error", err)
			continue
		}
		s.log.Infow("hold settled with order", "hold_id", h.ID, "order_id", orderID, "status", to)
	}
}

func (s *Service) expire(ctx context.Context, h *Hold) {
	s.releaseRows(ctx, h)
	_ = s.store.Settle(ctx, h, HoldExpired)
	s.bcast.Delta(ctx, h.OrderID)
	s.log.Infow("hold expired",
		"hold_id", h.ID, "order_id", h.OrderID, "transporter_id", h.TransporterID)
}

func (s *Service) releaseRows(ctx context.Context, h *Hold) {
	for _, rid := range h.TruckRequestIDs {
		if _, err := s.orders.ReleaseHeld(ctx, rid, h.TransporterID); err != nil {
			s.log.Errorw("releasing held row failed", "request_id", rid, "error", err)
		}
	}
	s.releaseLocks(ctx, h.TruckRequestIDs, h.TransporterID)
}

func (s *Service) releaseLocks(ctx context.Context, requestIDs []types.ID, owner types.ID) {
	for _, rid := range requestIDs {
		if err := s.locks.Release(ctx, order.TruckLockName(rid), string(owner)); err != nil {
			s.log.Warnw("truck lock release failed", "request_id", rid, "error", err)
		}
	}
}

func (s *Service) ownedActive(ctx context.Context, holdID, transporterID types.ID) (*Hold, error) {
	h, ok, err := s.store.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if h.TransporterID != transporterID {
		return nil, ErrForbidden
	}
	if h.Status != HoldActive {
		return nil, ErrExpired.WithMessagef("hold is %s", h.Status)
	}
	if !h.ExpiresAt.After(s.clock.Now()) {
		s.expire(ctx, h)
		return nil, ErrExpired
	}
	return h, nil
}

func (s *Service) tripAssigned(ctx context.Context, o *order.Order, a *trip.Assignment) {
	payload := map[string]any{
		"assignmentId":   a.ID,
		"tripId":         a.TripID,
		"orderId":        a.OrderID,
		"truckRequestId": a.TruckRequestID,
		"vehicleId":      a.VehicleID,
		"vehicleNumber":  a.VehicleNumber,
		"pickup":         o.Pickup,
		"drop":           o.Drop,
		"customerName":   o.CustomerName,
		"customerPhone":  o.CustomerPhone,
	}
	s.bus.PublishUser(string(a.DriverID), events.EventTripAssigned, payload)

	tokens, err := s.fleet.DeviceTokens(ctx, []types.ID{a.DriverID})
	if err != nil || tokens[a.DriverID] == "" {
		return
	}
	_ = s.push.Enqueue(ctx, events.Push{
		Token: tokens[a.DriverID],
		Title: "New trip assigned",
		Body:  fmt.Sprintf("%s to %s", o.Pickup.Name, o.Drop.Name),
		Event: events.EventTripAssigned,
		Data: map[string]string{
			"orderId": string(a.OrderID),
			"tripId":  string(a.TripID),
		},
		DedupKey: events.EventTripAssigned + ":" + string(a.TripID),
	})
}
