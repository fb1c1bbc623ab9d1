// README: Trip leg and route progress tests.
package trip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"haulmatch/internal/cache"
	"haulmatch/internal/events"
	"haulmatch/internal/modules/fleet"
	"haulmatch/internal/modules/order"
	"haulmatch/internal/types"
)

type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, event)
}

func (r *recorder) PublishUser(_ string, event string, _ any)    { r.add(event) }
func (r *recorder) PublishUsers(_ []string, event string, _ any) { r.add(event) }
func (r *recorder) PublishRoom(_ string, event string, _ any)    { r.add(event) }
func (r *recorder) JoinRoom(string, string)                      {}
func (r *recorder) CloseRoom(string)                             {}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e == event {
			n++
		}
	}
	return n
}

type nopPusher struct{}

func (nopPusher) Enqueue(context.Context, events.Push) error { return nil }

type fixture struct {
	ctx    context.Context
	clock  *types.MockClock
	orders *order.MemStore
	fleet  *fleet.Service
	store  *MemStore
	bus    *recorder
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	clock := types.NewMockClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	mem := cache.NewMemory(clock)
	orders := order.NewMemStore()
	fstore := fleet.NewMemStore()
	fleetSvc := fleet.NewService(fstore, fleet.NewMatchIndex(fstore, time.Minute), clock, log)
	bus := &recorder{}
	bcast := order.NewBroadcaster(orders, fleetSvc, bus, nopPusher{}, mem, clock, log)
	store := NewMemStore()
	svc := NewService(store, orders, fleetSvc, bcast, clock, log)
	return &fixture{
		ctx:    context.Background(),
		clock:  clock,
		orders: orders,
		fleet:  fleetSvc,
		store:  store,
		bus:    bus,
		svc:    svc,
	}
}

type leg struct {
	assignment *Assignment
	vehicleID  types.ID
	driverID   types.ID
}

// seedTrip builds an order in the trip phase: fully assigned with one leg
// per truck, vehicles bound, every leg at driver_accepted. withStop adds
// an intermediate route point between pickup and drop.
func (f *fixture) seedTrip(t *testing.T, trucks int, withStop bool) (*order.Order, []leg) {
	t.Helper()
	now := f.clock.Now()
	points := []order.RoutePoint{{Type: order.PointPickup, Place: types.Place{Name: "Nagpur"}}}
	if withStop {
		points = append(points, order.RoutePoint{Type: order.PointStop, Place: types.Place{Name: "Amravati"}})
	}
	points = append(points, order.RoutePoint{Type: order.PointDrop, Place: types.Place{Name: "Pune"}})

	o := &order.Order{
		ID:           types.NewID(),
		CustomerID:   "cust-1",
		Pickup:       points[0].Place,
		Drop:         points[len(points)-1].Place,
		RoutePoints:  points,
		TotalTrucks:  trucks,
		TrucksFilled: trucks,
		TotalAmount:  types.Rupees(int64(trucks) * 18000),
		Status:       order.StatusFullyFilled,
		ExpiresAt:    now.Add(time.Minute),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	transporterID := types.ID("trans-1")
	if _, err := f.fleet.UpsertUser(f.ctx, fleet.UpsertUserCommand{
		ID: transporterID, Phone: "+91-trans-1", Role: fleet.RoleTransporter, Name: "T One",
	}); err != nil {
		t.Fatalf("seed transporter: %v", err)
	}

	requests := make([]*order.TruckRequest, 0, trucks)
	legs := make([]leg, 0, trucks)
	for i := 0; i < trucks; i++ {
		driverID := types.ID(fmt.Sprintf("drv-%d", i))
		tid := transporterID
		if _, err := f.fleet.UpsertUser(f.ctx, fleet.UpsertUserCommand{
			ID: driverID, Phone: "+91" + string(driverID), Role: fleet.RoleDriver,
			Name: "Driver " + string(driverID), TransporterID: &tid,
		}); err != nil {
			t.Fatalf("seed driver: %v", err)
		}
		v, err := f.fleet.UpsertVehicle(f.ctx, fleet.UpsertVehicleCommand{
			TransporterID:  transporterID,
			VehicleNumber:  fmt.Sprintf("MH31-%04d", i),
			VehicleType:    "truck",
			VehicleSubtype: "container_14ft",
			CapacityKg:     9000,
			IsActive:       true,
		})
		if err != nil {
			t.Fatalf("seed vehicle: %v", err)
		}

		a := &Assignment{
			ID:             types.NewID(),
			OrderID:        o.ID,
			TruckRequestID: types.NewID(),
			TransporterID:  transporterID,
			VehicleID:      v.ID,
			VehicleNumber:  v.VehicleNumber,
			DriverID:       driverID,
			DriverName:     "Driver " + string(driverID),
			TripID:         types.NewID(),
			Status:         AssignmentDriverAccepted,
			AssignedAt:     now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:      now,
		}
		if err := f.store.CreateAssignment(f.ctx, a); err != nil {
			t.Fatalf("seed assignment: %v", err)
		}
		if ok, err := f.fleet.BindVehicle(f.ctx, v.ID, a.TripID, driverID); err != nil || !ok {
			t.Fatalf("bind vehicle: ok=%v err=%v", ok, err)
		}

		assignedAt := now
		dID, vID, trID, tpID := driverID, v.ID, a.TripID, transporterID
		requests = append(requests, &order.TruckRequest{
			ID:                    a.TruckRequestID,
			OrderID:               o.ID,
			RequestNumber:         i + 1,
			VehicleType:           "truck",
			VehicleSubtype:        "container_14ft",
			VehicleKey:            types.VehicleKey("truck", "container_14ft"),
			PricePerTruck:         types.Rupees(18000),
			Status:                order.RequestAssigned,
			AssignedTransporterID: &tpID,
			AssignedVehicleID:     &vID,
			AssignedVehicleNumber: v.VehicleNumber,
			AssignedDriverID:      &dID,
			AssignedDriverName:    "Driver " + string(driverID),
			TripID:                &trID,
			AssignedAt:            &assignedAt,
			CreatedAt:             now,
			UpdatedAt:             now,
		})
		legs = append(legs, leg{assignment: a, vehicleID: v.ID, driverID: driverID})
	}

	if err := f.orders.CreateOrder(f.ctx, o, requests); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o, legs
}

func TestAssignmentTransitionTable(t *testing.T) {
	cases := []struct {
		from, to AssignmentStatus
		want     bool
	}{
		{AssignmentPending, AssignmentDriverAccepted, true},
		{AssignmentPending, AssignmentCancelled, true},
		{AssignmentPending, AssignmentInTransit, false},
		{AssignmentDriverAccepted, AssignmentEnRoutePickup, true},
		{AssignmentDriverAccepted, AssignmentInTransit, true},
		{AssignmentEnRoutePickup, AssignmentAtPickup, true},
		{AssignmentEnRoutePickup, AssignmentCompleted, false},
		{AssignmentAtPickup, AssignmentInTransit, true},
		{AssignmentInTransit, AssignmentCompleted, true},
		{AssignmentInTransit, AssignmentPending, false},
		{AssignmentCompleted, AssignmentCancelled, false},
		{AssignmentCancelled, AssignmentDriverAccepted, false},
	}
	for _, tc := range cases {
		if got := CanTransitionAssignment(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransitionAssignment(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestAcceptTrip(t *testing.T) {
	f := newFixture(t)
	_, legs := f.seedTrip(t, 1, false)
	a := legs[0].assignment

	// Rewind to pending so the accept is meaningful.
	if ok, err := f.store.UpdateStatus(f.ctx, a.ID, []AssignmentStatus{AssignmentDriverAccepted}, AssignmentPending); err != nil || !ok {
		t.Fatalf("rewind to pending: ok=%v err=%v", ok, err)
	}

	if _, err := f.svc.Accept(f.ctx, AcceptCommand{AssignmentID: a.ID, DriverID: "stranger"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected FORBIDDEN for foreign driver, got %v", err)
	}

	got, err := f.svc.Accept(f.ctx, AcceptCommand{AssignmentID: a.ID, DriverID: legs[0].driverID})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != AssignmentDriverAccepted {
		t.Fatalf("expected driver_accepted, got %s", got.Status)
	}

	// Accepting twice is harmless.
	if _, err := f.svc.Accept(f.ctx, AcceptCommand{AssignmentID: a.ID, DriverID: legs[0].driverID}); err != nil {
		t.Fatalf("repeat accept: %v", err)
	}

	if err := f.svc.CancelAssignment(f.ctx, a.ID); err != nil {
		t.Fatalf("cancel assignment: %v", err)
	}
	if _, err := f.svc.Accept(f.ctx, AcceptCommand{AssignmentID: a.ID, DriverID: legs[0].driverID}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected INVALID_STATUS_TRANSITION after cancel, got %v", err)
	}
}

func TestStartAndArrivePickup(t *testing.T) {
	f := newFixture(t)
	_, legs := f.seedTrip(t, 1, false)
	a, driver := legs[0].assignment, legs[0].driverID

	got, err := f.svc.Start(f.ctx, AcceptCommand{AssignmentID: a.ID, DriverID: driver})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != AssignmentEnRoutePickup {
		t.Fatalf("expected en_route_pickup, got %s", got.Status)
	}

	got, err = f.svc.ArrivePickup(f.ctx, AcceptCommand{AssignmentID: a.ID, DriverID: driver})
	if err != nil {
		t.Fatalf("arrive pickup: %v", err)
	}
	if got.Status != AssignmentAtPickup {
		t.Fatalf("expected at_pickup, got %s", got.Status)
	}

	// The en-route report is optional: a driver may arrive straight from
	// driver_accepted.
	_, legs2 := f.seedTrip(t, 1, false)
	got, err = f.svc.ArrivePickup(f.ctx, AcceptCommand{AssignmentID: legs2[0].assignment.ID, DriverID: legs2[0].driverID})
	if err != nil {
		t.Fatalf("arrive without start: %v", err)
	}
	if got.Status != AssignmentAtPickup {
		t.Fatalf("expected at_pickup, got %s", got.Status)
	}
}

func TestDepartPickupStartsOrder(t *testing.T) {
	f := newFixture(t)
	o, legs := f.seedTrip(t, 2, false)

	state, err := f.svc.DepartedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: legs[0].driverID})
	if err != nil {
		t.Fatalf("depart pickup: %v", err)
	}
	if state.Status != order.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", state.Status)
	}

	// The whole convoy starts with the first departure.
	requests, _ := f.orders.ListRequests(f.ctx, o.ID)
	for _, r := range requests {
		if r.Status != order.RequestInProgress {
			t.Fatalf("expected in_progress units, got %s", r.Status)
		}
	}

	a0, _ := f.store.GetAssignment(f.ctx, legs[0].assignment.ID)
	if a0.Status != AssignmentInTransit {
		t.Fatalf("expected reporting leg in_transit, got %s", a0.Status)
	}
	a1, _ := f.store.GetAssignment(f.ctx, legs[1].assignment.ID)
	if a1.Status != AssignmentDriverAccepted {
		t.Fatalf("expected second leg untouched, got %s", a1.Status)
	}

	if n := f.bus.count(events.EventRouteProgress); n == 0 {
		t.Fatalf("expected route progress to be published")
	}

	// The second driver departing only moves their own leg.
	before := f.bus.count(events.EventRouteProgress)
	if _, err := f.svc.DepartedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: legs[1].driverID}); err != nil {
		t.Fatalf("second depart: %v", err)
	}
	a1, _ = f.store.GetAssignment(f.ctx, legs[1].assignment.ID)
	if a1.Status != AssignmentInTransit {
		t.Fatalf("expected second leg in_transit, got %s", a1.Status)
	}
	if n := f.bus.count(events.EventRouteProgress); n != before {
		t.Fatalf("repeat departure must not republish progress")
	}
}

func TestDepartPickupRequiresAcceptedLeg(t *testing.T) {
	f := newFixture(t)
	o, legs := f.seedTrip(t, 1, false)
	a := legs[0].assignment

	if ok, err := f.store.UpdateStatus(f.ctx, a.ID, []AssignmentStatus{AssignmentDriverAccepted}, AssignmentPending); err != nil || !ok {
		t.Fatalf("rewind to pending: ok=%v err=%v", ok, err)
	}

	_, err := f.svc.DepartedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: legs[0].driverID})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected INVALID_STATUS_TRANSITION for pending leg, got %v", err)
	}
}

func TestRouteTraversalWithStop(t *testing.T) {
	f := newFixture(t)
	o, legs := f.seedTrip(t, 2, true)
	d0, d1 := legs[0].driverID, legs[1].driverID

	if _, err := f.svc.DepartedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: d0}); err != nil {
		t.Fatalf("depart pickup: %v", err)
	}
	if _, err := f.svc.DepartedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: d1}); err != nil {
		t.Fatalf("second depart pickup: %v", err)
	}

	state, err := f.svc.ReachedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: d0})
	if err != nil {
		t.Fatalf("reach stop: %v", err)
	}
	if state.CurrentRouteIndex != 1 {
		t.Fatalf("expected index 1 at stop, got %d", state.CurrentRouteIndex)
	}
	if len(state.StopWaitTimers) != 1 || state.StopWaitTimers[0].DepartedAt != nil {
		t.Fatalf("expected one open wait timer, got %+v", state.StopWaitTimers)
	}

	// The other driver reporting the same arrival is a no-op while the
	// convoy dwells.
	state, err = f.svc.ReachedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: d1})
	if err != nil {
		t.Fatalf("repeat reach: %v", err)
	}
	if state.CurrentRouteIndex != 1 || len(state.StopWaitTimers) != 1 {
		t.Fatalf("dwell report must not advance: %+v", state)
	}

	f.clock.Advance(90 * time.Second)
	state, err = f.svc.DepartedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: d1})
	if err != nil {
		t.Fatalf("depart stop: %v", err)
	}
	timer := state.StopWaitTimers[0]
	if timer.DepartedAt == nil || timer.WaitTimeSeconds != 90 {
		t.Fatalf("expected closed timer with 90s wait, got %+v", timer)
	}

	// Departing again finds no open timer and changes nothing.
	if _, err := f.svc.DepartedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: d0}); err != nil {
		t.Fatalf("repeat depart: %v", err)
	}

	state, err = f.svc.ReachedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: d0})
	if err != nil {
		t.Fatalf("reach drop: %v", err)
	}
	if state.Status != order.StatusCompleted {
		t.Fatalf("expected completed order at drop, got %s", state.Status)
	}

	got, _ := f.orders.GetOrder(f.ctx, o.ID)
	if got.Status != order.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	requests, _ := f.orders.ListRequests(f.ctx, o.ID)
	for _, r := range requests {
		if r.Status != order.RequestCompleted {
			t.Fatalf("expected completed units, got %s", r.Status)
		}
	}
	for _, l := range legs {
		a, _ := f.store.GetAssignment(f.ctx, l.assignment.ID)
		if a.Status != AssignmentCompleted || a.CompletedAt == nil {
			t.Fatalf("expected completed leg with timestamp, got %+v", a)
		}
		v, _ := f.fleet.GetVehicle(f.ctx, l.vehicleID)
		if v.Status != fleet.VehicleAvailable || v.CurrentTripID != nil {
			t.Fatalf("expected vehicle back in pool, got %s %v", v.Status, v.CurrentTripID)
		}
	}
	if n := f.bus.count(events.EventOrderCompleted); n == 0 {
		t.Fatalf("expected order_completed to be published")
	}

	// A late repeat from the other driver answers with the final state.
	state, err = f.svc.ReachedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: d1})
	if err != nil {
		t.Fatalf("post-completion report: %v", err)
	}
	if state.Status != order.StatusCompleted {
		t.Fatalf("expected completed state, got %s", state.Status)
	}
}

func TestReachedStopConcurrentDrivers(t *testing.T) {
	f := newFixture(t)
	o, legs := f.seedTrip(t, 2, true)

	if _, err := f.svc.DepartedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: legs[0].driverID}); err != nil {
		t.Fatalf("depart pickup: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, l := range legs {
		wg.Add(1)
		go func(driverID types.ID) {
			defer wg.Done()
			_, err := f.svc.ReachedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: driverID})
			errs <- err
		}(l.driverID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent reach: %v", err)
		}
	}

	got, _ := f.orders.GetOrder(f.ctx, o.ID)
	if got.CurrentRouteIndex != 1 {
		t.Fatalf("expected exactly one advance, got index %d", got.CurrentRouteIndex)
	}
	if len(got.StopWaitTimers) != 1 {
		t.Fatalf("expected a single wait timer, got %d", len(got.StopWaitTimers))
	}
}

func TestRouteReportAccess(t *testing.T) {
	f := newFixture(t)
	o, legs := f.seedTrip(t, 1, false)

	if _, err := f.svc.ReachedStop(f.ctx, RouteCommand{OrderID: "missing", DriverID: legs[0].driverID}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ORDER_NOT_FOUND, got %v", err)
	}
	if _, err := f.svc.ReachedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: "stranger"}); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("expected NOT_ASSIGNED, got %v", err)
	}

	// An active leg on a dead order is told the order is closed.
	if ok, err := f.orders.UpdateOrderStatus(f.ctx, o.ID, []order.Status{order.StatusFullyFilled}, order.StatusCancelled); err != nil || !ok {
		t.Fatalf("force cancel: ok=%v err=%v", ok, err)
	}
	_, err := f.svc.DepartedStop(f.ctx, RouteCommand{OrderID: o.ID, DriverID: legs[0].driverID})
	if !errors.Is(err, ErrOrderClosed) || !strings.Contains(err.Error(), "cancelled") {
		t.Fatalf("expected closed-order error, got %v", err)
	}
}

func TestGetRouteAccess(t *testing.T) {
	f := newFixture(t)
	o, legs := f.seedTrip(t, 1, false)

	for _, userID := range []types.ID{"cust-1", legs[0].driverID, "trans-1"} {
		if _, err := f.svc.GetRoute(f.ctx, GetRouteCommand{OrderID: o.ID, UserID: userID}); err != nil {
			t.Fatalf("route for %s: %v", userID, err)
		}
	}
	if _, err := f.svc.GetRoute(f.ctx, GetRouteCommand{OrderID: o.ID, UserID: "stranger"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestCancelOrderTrips(t *testing.T) {
	f := newFixture(t)
	o, legs := f.seedTrip(t, 2, false)

	n, err := f.svc.CancelOrderTrips(f.ctx, o.ID)
	if err != nil {
		t.Fatalf("cancel order trips: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cancelled legs, got %d", n)
	}
	for _, l := range legs {
		a, _ := f.store.GetAssignment(f.ctx, l.assignment.ID)
		if a.Status != AssignmentCancelled {
			t.Fatalf("expected cancelled leg, got %s", a.Status)
		}
		v, _ := f.fleet.GetVehicle(f.ctx, l.vehicleID)
		if v.Status != fleet.VehicleAvailable {
			t.Fatalf("expected vehicle released, got %s", v.Status)
		}
	}

	// Idempotent: nothing left to cancel.
	n, err = f.svc.CancelOrderTrips(f.ctx, o.ID)
	if err != nil || n != 0 {
		t.Fatalf("repeat cancel: n=%d err=%v", n, err)
	}
}
