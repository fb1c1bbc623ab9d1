// README: Shared route progress. Route position lives on the order; every
// assigned driver reports against the same index, and single-row CAS picks
// one winner per advance.
package trip

import (
	"context"
	"errors"

	"haulmatch/internal/modules/order"
	"haulmatch/internal/types"
)

// RouteState is the progress view of an order's route.
type RouteState struct {
	OrderID           types.ID              `json:"orderId"`
	Status            order.Status          `json:"status"`
	CurrentRouteIndex int                   `json:"currentRouteIndex"`
	RoutePoints       []order.RoutePoint    `json:"routePoints"`
	StopWaitTimers    []order.StopWaitTimer `json:"stopWaitTimers,omitempty"`
}

func routeState(o *order.Order) *RouteState {
	return &RouteState{
		OrderID:           o.ID,
		Status:            o.Status,
		CurrentRouteIndex: o.CurrentRouteIndex,
		RoutePoints:       o.RoutePoints,
		StopWaitTimers:    o.StopWaitTimers,
	}
}

type RouteCommand struct {
	OrderID  types.ID
	DriverID types.ID
}

// ReachedStop advances the shared route index by one. Arriving at a STOP
// opens its wait timer; arriving at the DROP completes the order. Repeat
// and concurrent reports at the same index are no-op successes.
func (s *Service) ReachedStop(ctx context.Context, cmd RouteCommand) (*RouteState, error) {
	o, a, err := s.routeActor(ctx, cmd.OrderID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if a == nil || o.Status == order.StatusCompleted || o.AtFinalPoint() {
		return routeState(o), nil
	}
	if o.OpenStopTimer(o.CurrentRouteIndex) != nil {
		// Still dwelling at the current stop; a repeated arrival report
		// changes nothing.
		return routeState(o), nil
	}

	next := o.RoutePoints[o.CurrentRouteIndex+1]
	ok, err := s.orders.AdvanceRouteIndex(ctx, cmd.OrderID, o.CurrentRouteIndex,
		s.clock.Now(), next.Type == order.PointStop)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another driver reported this arrival first.
		o, err = s.orders.GetOrder(ctx, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		return routeState(o), nil
	}

	if next.Type == order.PointDrop {
		return s.completeOrder(ctx, cmd.OrderID)
	}
	return s.publishProgress(ctx, cmd.OrderID)
}

// DepartedStop reports leaving the current route point. At the pickup it
// puts the reporting driver's leg in transit and, on the first departure,
// the whole order in progress; at a STOP it closes the open wait timer.
func (s *Service) DepartedStop(ctx context.Context, cmd RouteCommand) (*RouteState, error) {
	o, a, err := s.routeActor(ctx, cmd.OrderID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if a == nil || o.Status == order.StatusCompleted {
		return routeState(o), nil
	}

	switch o.RoutePoints[o.CurrentRouteIndex].Type {
	case order.PointPickup:
		return s.departPickup(ctx, a, o)
	case order.PointStop:
		timer, ok, err := s.orders.CloseStopTimer(ctx, o.ID, o.CurrentRouteIndex, s.clock.Now())
		if err != nil {
			return nil, err
		}
		if !ok {
			// Already departed (or arrival was never reported).
			return routeState(o), nil
		}
		s.log.Infow("stop departed",
			"order_id", o.ID,
			"stop_index", timer.StopIndex,
			"wait_seconds", timer.WaitTimeSeconds)
		return s.publishProgress(ctx, cmd.OrderID)
	default:
		// The drop is the end of the journey; there is nothing to depart.
		return routeState(o), nil
	}
}

func (s *Service) departPickup(ctx context.Context, a *Assignment, o *order.Order) (*RouteState, error) {
	if a.Status != AssignmentInTransit {
		ok, err := s.store.UpdateStatus(ctx, a.ID,
			[]AssignmentStatus{AssignmentDriverAccepted, AssignmentEnRoutePickup, AssignmentAtPickup},
			AssignmentInTransit)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInvalidTransition.WithMessagef("accept the trip before departing the pickup")
		}
	}

	moved, err := s.orders.UpdateOrderStatus(ctx, o.ID,
		[]order.Status{order.StatusPartiallyFilled, order.StatusFullyFilled}, order.StatusInProgress)
	if err != nil {
		return nil, err
	}
	if moved {
		if _, err := s.orders.StartRequests(ctx, o.ID); err != nil {
			s.log.Errorw("starting requests failed", "order_id", o.ID, "error", err)
		}
		s.log.Infow("order in progress", "order_id", o.ID)
		return s.publishProgress(ctx, o.ID)
	}
	o, err = s.orders.GetOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return routeState(o), nil
}

func (s *Service) completeOrder(ctx context.Context, orderID types.ID) (*RouteState, error) {
	now := s.clock.Now()
	won, err := s.orders.UpdateOrderStatus(ctx, orderID,
		[]order.Status{order.StatusInProgress, order.StatusFullyFilled, order.StatusPartiallyFilled},
		order.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if won {
		if _, err := s.orders.CompleteRequests(ctx, orderID); err != nil {
			s.log.Errorw("completing requests failed", "order_id", orderID, "error", err)
		}
		flipped, err := s.store.CompleteOrderAssignments(ctx, orderID, now)
		if err != nil {
			s.log.Errorw("completing assignments failed", "order_id", orderID, "error", err)
		}
		for _, a := range flipped {
			if _, err := s.vehicles.UnbindVehicle(ctx, a.VehicleID, a.TripID); err != nil {
				s.log.Warnw("vehicle release failed",
					"vehicle_id", a.VehicleID, "trip_id", a.TripID, "error", err)
			}
		}
	}

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if won {
		requests, err := s.orders.ListRequests(ctx, orderID)
		if err != nil {
			return nil, err
		}
		s.bcast.OrderCompleted(ctx, o, requests)
		s.log.Infow("order completed",
			"order_id", orderID, "trucks_filled", o.TrucksFilled, "total_trucks", o.TotalTrucks)
	}
	return routeState(o), nil
}

func (s *Service) publishProgress(ctx context.Context, orderID types.ID) (*RouteState, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	requests, err := s.orders.ListRequests(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.bcast.RouteProgress(ctx, o, requests)
	return routeState(o), nil
}

// routeActor loads the order and the reporting driver's assignment. A nil
// assignment with a nil error means the driver's leg already ended and the
// caller should answer with a no-op.
func (s *Service) routeActor(ctx context.Context, orderID, driverID types.ID) (*order.Order, *Assignment, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, nil, ErrOrderNotFound
		}
		return nil, nil, err
	}
	a, err := s.store.ActiveByOrderAndDriver(ctx, orderID, driverID)
	if err != nil {
		return nil, nil, err
	}
	if a != nil {
		if o.Status == order.StatusCancelled || o.Status == order.StatusExpired {
			return nil, nil, ErrOrderClosed.WithMessagef("order is %s", o.Status)
		}
		return o, a, nil
	}
	// No active leg: a completed journey still answers repeat reports with
	// its final state, anything else is a stranger.
	all, err := s.store.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	for _, past := range all {
		if past.DriverID == driverID && o.Status == order.StatusCompleted {
			return o, nil, nil
		}
	}
	return nil, nil, ErrNotAssigned
}

type GetRouteCommand struct {
	OrderID types.ID
	UserID  types.ID
}

// GetRoute returns route progress to anyone involved: the customer, an
// assigned driver, or an assigned transporter.
func (s *Service) GetRoute(ctx context.Context, cmd GetRouteCommand) (*RouteState, error) {
	o, err := s.orders.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if o.CustomerID == cmd.UserID {
		return routeState(o), nil
	}
	assignments, err := s.store.ListByOrder(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	for _, a := range assignments {
		if a.DriverID == cmd.UserID || a.TransporterID == cmd.UserID {
			return routeState(o), nil
		}
	}
	return nil, ErrForbidden
}
