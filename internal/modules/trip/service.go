// README: Trip service: assignment rows and the driver leg state machine.
// Accept, start and arrive move one driver's leg; route progress for the
// whole order lives in routeprogress.go.
package trip

import (
	"context"

	"go.uber.org/zap"

	"haulmatch/internal/modules/order"
	"haulmatch/internal/types"
)

var (
	ErrNotFound          = &types.Error{Code: "NOT_FOUND", Message: "assignment not found"}
	ErrOrderNotFound     = &types.Error{Code: "ORDER_NOT_FOUND", Message: "order not found"}
	ErrNotAssigned       = &types.Error{Code: "NOT_ASSIGNED", Message: "driver has no active assignment on this order"}
	ErrForbidden         = &types.Error{Code: "FORBIDDEN", Message: "not involved in this order"}
	ErrInvalidTransition = &types.Error{Code: "INVALID_STATUS_TRANSITION", Message: "assignment cannot move to that status"}
	ErrOrderClosed       = &types.Error{Code: "INVALID_STATUS_TRANSITION", Message: "order is no longer in progress"}
)

// Vehicles is the slice of the fleet module trip teardown drives.
type Vehicles interface {
	UnbindVehicle(ctx context.Context, vehicleID, tripID types.ID) (bool, error)
}

type Service struct {
	store    Store
	orders   order.Store
	vehicles Vehicles
	bcast    *order.Broadcaster
	clock    types.Clock
	log      *zap.SugaredLogger
}

func NewService(store Store, orders order.Store, vehicles Vehicles, bcast *order.Broadcaster, clock types.Clock, log *zap.SugaredLogger) *Service {
	return &Service{store: store, orders: orders, vehicles: vehicles, bcast: bcast, clock: clock, log: log}
}

// Create persists a freshly minted assignment; the confirm flow owns
// validation.
func (s *Service) Create(ctx context.Context, a *Assignment) error {
	return s.store.CreateAssignment(ctx, a)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Assignment, error) {
	return s.store.GetAssignment(ctx, id)
}

func (s *Service) ListByOrder(ctx context.Context, orderID types.ID) ([]*Assignment, error) {
	return s.store.ListByOrder(ctx, orderID)
}

// ActiveByDriver returns the driver's current assignment, if any. A driver
// has at most one at a time.
func (s *Service) ActiveByDriver(ctx context.Context, driverID types.ID) (*Assignment, error) {
	return s.store.ActiveByDriver(ctx, driverID)
}

// CancelAssignment terminates one assignment from any non-terminal state;
// the compensation path when a confirm step fails halfway.
func (s *Service) CancelAssignment(ctx context.Context, id types.ID) error {
	_, err := s.store.UpdateStatus(ctx, id, ActiveAssignmentStatuses, AssignmentCancelled)
	return err
}

type AcceptCommand struct {
	AssignmentID types.ID
	DriverID     types.ID
}

// Accept records the driver taking the trip. Accepting twice is a no-op.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Assignment, error) {
	a, err := s.store.GetAssignment(ctx, cmd.AssignmentID)
	if err != nil {
		return nil, err
	}
	if a.DriverID != cmd.DriverID {
		return nil, ErrForbidden
	}
	if a.Status == AssignmentDriverAccepted {
		return a, nil
	}
	ok, err := s.store.UpdateStatus(ctx, cmd.AssignmentID,
		[]AssignmentStatus{AssignmentPending}, AssignmentDriverAccepted)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition.WithMessagef("assignment is %s", a.Status)
	}
	s.log.Infow("trip accepted",
		"assignment_id", a.ID, "trip_id", a.TripID, "driver_id", cmd.DriverID)
	return s.store.GetAssignment(ctx, cmd.AssignmentID)
}

// Start records the driver heading for the pickup.
func (s *Service) Start(ctx context.Context, cmd AcceptCommand) (*Assignment, error) {
	a, err := s.store.GetAssignment(ctx, cmd.AssignmentID)
	if err != nil {
		return nil, err
	}
	if a.DriverID != cmd.DriverID {
		return nil, ErrForbidden
	}
	if a.Status == AssignmentEnRoutePickup {
		return a, nil
	}
	ok, err := s.store.UpdateStatus(ctx, cmd.AssignmentID,
		[]AssignmentStatus{AssignmentDriverAccepted}, AssignmentEnRoutePickup)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition.WithMessagef("assignment is %s", a.Status)
	}
	return s.store.GetAssignment(ctx, cmd.AssignmentID)
}

// ArrivePickup records the driver waiting at the pickup point.
func (s *Service) ArrivePickup(ctx context.Context, cmd AcceptCommand) (*Assignment, error) {
	a, err := s.store.GetAssignment(ctx, cmd.AssignmentID)
	if err != nil {
		return nil, err
	}
	if a.DriverID != cmd.DriverID {
		return nil, ErrForbidden
	}
	if a.Status == AssignmentAtPickup {
		return a, nil
	}
	ok, err := s.store.UpdateStatus(ctx, cmd.AssignmentID,
		[]AssignmentStatus{AssignmentDriverAccepted, AssignmentEnRoutePickup}, AssignmentAtPickup)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition.WithMessagef("assignment is %s", a.Status)
	}
	return s.store.GetAssignment(ctx, cmd.AssignmentID)
}

// CancelOrderTrips tears down every open assignment of a cancelled order
// and returns its vehicles to the pool.
func (s *Service) CancelOrderTrips(ctx context.Context, orderID types.ID) (int, error) {
	flipped, err := s.store.CancelOrderAssignments(ctx, orderID)
	if err != nil {
		return 0, err
	}
	for _, a := range flipped {
		if _, err := s.vehicles.UnbindVehicle(ctx, a.VehicleID, a.TripID); err != nil {
			s.log.Warnw("vehicle release failed",
				"vehicle_id", a.VehicleID, "trip_id", a.TripID, "error", err)
		}
	}
	return len(flipped), nil
}
