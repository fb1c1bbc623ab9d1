// README: Order lifecycle tests: creation with demand explosion, fan-out,
// deterministic expiry, cancellation, and the read surface.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"haulmatch/internal/cache"
	"haulmatch/internal/config"
	"haulmatch/internal/events"
	"haulmatch/internal/modules/fleet"
	"haulmatch/internal/sched"
	"haulmatch/internal/types"
)

type publishedEvent struct {
	Target string
	Event  string
}

// recorder captures realtime publishes so tests can assert on fan-out
// without a websocket hub.
type recorder struct {
	mu      sync.Mutex
	entries []publishedEvent
}

func (r *recorder) add(target, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, publishedEvent{Target: target, Event: event})
}

func (r *recorder) PublishUser(userID string, event string, _ any) { r.add("user:"+userID, event) }

func (r *recorder) PublishUsers(userIDs []string, event string, _ any) {
	for _, id := range userIDs {
		r.add("user:"+id, event)
	}
}

func (r *recorder) PublishRoom(room string, event string, _ any) { r.add("room:"+room, event) }
func (r *recorder) JoinRoom(string, string)                      {}
func (r *recorder) CloseRoom(string)                             {}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (r *recorder) countFor(target, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Target == target && e.Event == event {
			n++
		}
	}
	return n
}

type nopPusher struct{}

func (nopPusher) Enqueue(context.Context, events.Push) error { return nil }

// holdStub records settlement calls; the real hold module lives a package
// up the dependency chain.
type holdStub struct {
	mu       sync.Mutex
	expired  []types.ID
	released []types.ID
}

func (h *holdStub) ExpireOrderHolds(_ context.Context, orderID types.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expired = append(h.expired, orderID)
}

func (h *holdStub) ReleaseOrderHolds(_ context.Context, orderID types.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = append(h.released, orderID)
}

func (h *holdStub) expiredCount(orderID types.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, id := range h.expired {
		if id == orderID {
			n++
		}
	}
	return n
}

func (h *holdStub) releasedCount(orderID types.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, id := range h.released {
		if id == orderID {
			n++
		}
	}
	return n
}

type tripStub struct {
	mu        sync.Mutex
	cancelled []types.ID
}

func (t *tripStub) CancelOrderTrips(_ context.Context, orderID types.ID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = append(t.cancelled, orderID)
	return 0, nil
}

func (t *tripStub) cancelledCount(orderID types.ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, id := range t.cancelled {
		if id == orderID {
			n++
		}
	}
	return n
}

type fixture struct {
	ctx   context.Context
	clock *types.MockClock
	mem   *cache.Memory
	locks *cache.LockManager
	store *MemStore
	fleet *fleet.Service
	bus   *recorder
	bcast *Broadcaster
	sched *sched.Scheduler
	holds *holdStub
	trips *tripStub
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	// Anchored ahead of wall time: Create arms real timers at the mocked
	// deadline, and those must stay pending until cleanup stops them.
	clock := types.NewMockClock(time.Now().Add(time.Hour).UTC().Truncate(time.Second))
	mem := cache.NewMemory(clock)
	locks := cache.NewLockManager(mem)
	store := NewMemStore()
	fstore := fleet.NewMemStore()
	fleetSvc := fleet.NewService(fstore, fleet.NewMatchIndex(fstore, time.Minute), clock, log)
	bus := &recorder{}
	bcast := NewBroadcaster(store, fleetSvc, bus, nopPusher{}, mem, clock, log)
	scheduler := sched.New(log)
	t.Cleanup(scheduler.Close)

	svc := NewService(ServiceDeps{
		Store:     store,
		Cache:     mem,
		Locks:     locks,
		Broadcast: bcast,
		Fleet:     fleetSvc,
		Sched:     scheduler,
		Clock:     clock,
		Log:       log,
		Dispatch: config.DispatchConfig{
			BroadcastTimeout:  time.Minute,
			HoldDuration:      15 * time.Second,
			MaxHoldQuantity:   50,
			SingleActiveOrder: true,
			CreateRate:        5,
			CreateRateWindow:  time.Minute,
		},
		Timeouts: config.TimeoutConfig{
			CreateOrder: 15 * time.Second,
			Confirm:     12 * time.Second,
			Hold:        10 * time.Second,
		},
	})
	holds := &holdStub{}
	trips := &tripStub{}
	svc.AttachHolds(holds)
	svc.AttachTrips(trips)

	return &fixture{
		ctx:   context.Background(),
		clock: clock,
		mem:   mem,
		locks: locks,
		store: store,
		fleet: fleetSvc,
		bus:   bus,
		bcast: bcast,
		sched: scheduler,
		holds: holds,
		trips: trips,
		svc:   svc,
	}
}

// seedTransporter registers an available transporter with n active
// vehicles of the given group and returns the vehicle ids.
func (f *fixture) seedTransporter(t *testing.T, id types.ID, n int, vehicleType, vehicleSubtype string) []types.ID {
	t.Helper()
	if _, err := f.fleet.UpsertUser(f.ctx, fleet.UpsertUserCommand{
		ID:          id,
		Phone:       "+91" + string(id),
		Role:        fleet.RoleTransporter,
		Name:        "Transporter " + string(id),
		IsAvailable: true,
	}); err != nil {
		t.Fatalf("seed transporter: %v", err)
	}
	vehicles := make([]types.ID, 0, n)
	for i := 0; i < n; i++ {
		v, err := f.fleet.UpsertVehicle(f.ctx, fleet.UpsertVehicleCommand{
			TransporterID:  id,
			VehicleNumber:  fmt.Sprintf("MH31-%s-%04d", id, i),
			VehicleType:    vehicleType,
			VehicleSubtype: vehicleSubtype,
			CapacityKg:     9000,
			IsActive:       true,
		})
		if err != nil {
			t.Fatalf("seed vehicle: %v", err)
		}
		vehicles = append(vehicles, v.ID)
	}
	return vehicles
}

func validCreate(customer types.ID) CreateCommand {
	return CreateCommand{
		CustomerID:    customer,
		CustomerPhone: "+919800000001",
		CustomerName:  "Meera Agro",
		Pickup:        types.Place{Name: "Nagpur", Lat: 21.1458, Lng: 79.0882},
		Drop:          types.Place{Name: "Pune", Lat: 18.5204, Lng: 73.8567},
		DistanceKm:    690,
		GoodsType:     "soybean",
		CargoWeightKg: 28000,
		Demand: []DemandLine{
			{VehicleType: "container", VehicleSubtype: "20ft", Quantity: 2, PricePerTruck: types.Rupees(18000)},
		},
	}
}

func (f *fixture) mustCreate(t *testing.T, cmd CreateCommand) *CreateResult {
	t.Helper()
	res, err := f.svc.Create(f.ctx, cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return res
}

// assign promotes one searching unit through held into assigned and bumps
// the filled counter, standing in for a confirmed hold.
func (f *fixture) assign(t *testing.T, r *TruckRequest, transporterID types.ID) {
	t.Helper()
	now := f.clock.Now()
	if ok, err := f.store.MarkHeld(f.ctx, r.ID, transporterID, now); err != nil || !ok {
		t.Fatalf("mark held %s: ok=%v err=%v", r.ID, ok, err)
	}
	if ok, err := f.store.MarkAssigned(f.ctx, r.ID, Binding{TransporterID: transporterID, At: now}); err != nil || !ok {
		t.Fatalf("mark assigned %s: ok=%v err=%v", r.ID, ok, err)
	}
	if _, ok, err := f.store.IncrementFilled(f.ctx, r.OrderID, 1); err != nil || !ok {
		t.Fatalf("increment filled: ok=%v err=%v", ok, err)
	}
}

// holdUnit parks one unit in held state with its truck lock taken, the
// way the reservation path leaves it mid-flight.
func (f *fixture) holdUnit(t *testing.T, r *TruckRequest, transporterID types.ID) {
	t.Helper()
	ok, err := f.locks.AcquireOwned(f.ctx, TruckLockName(r.ID), string(transporterID), 15*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire truck lock: ok=%v err=%v", ok, err)
	}
	if ok, err := f.store.MarkHeld(f.ctx, r.ID, transporterID, f.clock.Now()); err != nil || !ok {
		t.Fatalf("mark held: ok=%v err=%v", ok, err)
	}
}

func requestStatuses(t *testing.T, f *fixture, orderID types.ID) map[RequestStatus]int {
	t.Helper()
	requests, err := f.store.ListRequests(f.ctx, orderID)
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	out := make(map[RequestStatus]int)
	for _, r := range requests {
		out[r.Status]++
	}
	return out
}

func TestCreateExplodesDemand(t *testing.T) {
	f := newFixture(t)
	f.seedTransporter(t, "trn-1", 2, "container", "20ft")
	f.seedTransporter(t, "trn-2", 1, "trailer", "flatbed")

	cmd := validCreate("cust-1")
	cmd.Stops = []types.Place{{Name: "Amravati", Lat: 20.93, Lng: 77.75}}
	cmd.Demand = []DemandLine{
		{VehicleType: "container", VehicleSubtype: "20ft", Quantity: 2, PricePerTruck: types.Rupees(18000)},
		{VehicleType: "trailer", VehicleSubtype: "flatbed", Quantity: 3, PricePerTruck: types.Rupees(22000)},
	}
	res := f.mustCreate(t, cmd)

	o := res.Order
	if o.TotalTrucks != 5 {
		t.Errorf("total trucks = %d, want 5", o.TotalTrucks)
	}
	if want := int64(2*18000 + 3*22000); o.TotalAmount.Amount != want {
		t.Errorf("total amount = %d, want %d", o.TotalAmount.Amount, want)
	}
	if o.TotalAmount.Currency != "INR" {
		t.Errorf("currency = %q, want INR", o.TotalAmount.Currency)
	}
	if o.Status != StatusActive {
		t.Errorf("status = %s, want %s", o.Status, StatusActive)
	}
	if want := f.clock.Now().Add(time.Minute); !o.ExpiresAt.Equal(want) {
		t.Errorf("expires at = %v, want %v", o.ExpiresAt, want)
	}

	if len(o.RoutePoints) != 3 {
		t.Fatalf("route points = %d, want 3", len(o.RoutePoints))
	}
	if o.RoutePoints[0].Type != PointPickup || o.RoutePoints[1].Type != PointStop || o.RoutePoints[2].Type != PointDrop {
		t.Errorf("route point order wrong: %+v", o.RoutePoints)
	}

	if len(res.Requests) != 5 {
		t.Fatalf("requests = %d, want 5", len(res.Requests))
	}
	for i, r := range res.Requests {
		if r.RequestNumber != i+1 {
			t.Errorf("request %d has number %d", i, r.RequestNumber)
		}
		if r.Status != RequestSearching {
			t.Errorf("request %d status = %s, want searching", i, r.Status)
		}
	}
	if res.Requests[0].VehicleType != "container" || res.Requests[2].VehicleType != "trailer" {
		t.Errorf("demand lines exploded out of input order")
	}

	if res.Notified != 2 {
		t.Errorf("notified = %d, want 2", res.Notified)
	}
	if got := f.bus.countFor("user:trn-1", events.EventNewBroadcast); got != 1 {
		t.Errorf("trn-1 new_broadcast = %d, want 1", got)
	}
	if got := f.bus.countFor("user:trn-2", events.EventNewBroadcast); got != 1 {
		t.Errorf("trn-2 new_broadcast = %d, want 1", got)
	}

	// The response rows carry who was told about each group.
	for _, r := range res.Requests {
		want := types.ID("trn-1")
		if r.VehicleType == "trailer" {
			want = "trn-2"
		}
		found := false
		for _, id := range r.NotifiedTransporters {
			if id == want {
				found = true
			}
		}
		if !found {
			t.Errorf("request %d missing notified transporter %s", r.RequestNumber, want)
		}
	}

	if !f.sched.Pending(ExpiryTimerID(o.ID)) {
		t.Error("expiry timer not armed")
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	tooMany := make([]DemandLine, maxDemandLines+1)
	for i := range tooMany {
		tooMany[i] = DemandLine{
			VehicleType:    "open",
			VehicleSubtype: fmt.Sprintf("%dft", i+1),
			Quantity:       1,
			PricePerTruck:  types.Rupees(9000),
		}
	}

	cases := []struct {
		name   string
		mutate func(*CreateCommand)
	}{
		{"missing customer", func(c *CreateCommand) { c.CustomerID = "" }},
		{"missing phone", func(c *CreateCommand) { c.CustomerPhone = "" }},
		{"missing pickup", func(c *CreateCommand) { c.Pickup = types.Place{} }},
		{"missing drop", func(c *CreateCommand) { c.Drop = types.Place{} }},
		{"no demand", func(c *CreateCommand) { c.Demand = nil }},
		{"too many lines", func(c *CreateCommand) { c.Demand = tooMany }},
		{"missing vehicle type", func(c *CreateCommand) { c.Demand[0].VehicleType = "" }},
		{"zero quantity", func(c *CreateCommand) { c.Demand[0].Quantity = 0 }},
		{"quantity over cap", func(c *CreateCommand) { c.Demand[0].Quantity = maxLineQuantity + 1 }},
		{"negative price", func(c *CreateCommand) { c.Demand[0].PricePerTruck.Amount = -1 }},
		{"duplicate group", func(c *CreateCommand) {
			c.Demand = append(c.Demand, DemandLine{
				VehicleType:    "Container",
				VehicleSubtype: "20FT",
				Quantity:       1,
				PricePerTruck:  types.Rupees(18000),
			})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := validCreate("cust-val")
			tc.mutate(&cmd)
			_, err := f.svc.Create(f.ctx, cmd)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want VALIDATION_ERROR", err)
			}
		})
	}
}

func TestCreateSingleActiveOrder(t *testing.T) {
	f := newFixture(t)
	res := f.mustCreate(t, validCreate("cust-1"))

	_, err := f.svc.Create(f.ctx, validCreate("cust-1"))
	if !errors.Is(err, ErrActiveOrderExists) {
		t.Fatalf("second create err = %v, want ACTIVE_ORDER_EXISTS", err)
	}

	// Another customer is unaffected.
	f.mustCreate(t, validCreate("cust-2"))

	if _, err := f.svc.Cancel(f.ctx, CancelCommand{OrderID: res.Order.ID, CustomerID: "cust-1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.mustCreate(t, validCreate("cust-1"))
}

func TestCreateRateLimited(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		res := f.mustCreate(t, validCreate("cust-1"))
		if _, err := f.svc.Cancel(f.ctx, CancelCommand{OrderID: res.Order.ID, CustomerID: "cust-1"}); err != nil {
			t.Fatalf("cancel %d: %v", i, err)
		}
	}
	_, err := f.svc.Create(f.ctx, validCreate("cust-1"))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want RATE_LIMIT_EXCEEDED", err)
	}

	// The window is sliding by key TTL; once it lapses creation resumes.
	f.clock.Advance(time.Minute + time.Second)
	f.mustCreate(t, validCreate("cust-1"))
}

func TestCreateConcurrentRequestRejected(t *testing.T) {
	f := newFixture(t)
	_, ok, err := f.locks.Acquire(f.ctx, createLockName("cust-1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-acquire create lock: ok=%v err=%v", ok, err)
	}

	_, err = f.svc.Create(f.ctx, validCreate("cust-1"))
	if !errors.Is(err, ErrConcurrentCreate) {
		t.Fatalf("err = %v, want CONCURRENT_REQUEST", err)
	}
}

func TestCreateIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	f.seedTransporter(t, "trn-1", 2, "container", "20ft")

	cmd := validCreate("cust-1")
	cmd.IdempotencyKey = "create-abc"
	first := f.mustCreate(t, cmd)
	if first.Replayed {
		t.Fatal("first create marked replayed")
	}

	second := f.mustCreate(t, cmd)
	if !second.Replayed {
		t.Fatal("second create not replayed")
	}
	if second.Order.ID != first.Order.ID {
		t.Errorf("replay returned different order: %s vs %s", second.Order.ID, first.Order.ID)
	}

	orders, err := f.svc.ListByCustomer(f.ctx, "cust-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 1 {
		t.Errorf("orders persisted = %d, want 1", len(orders))
	}
	if got := f.bus.countFor("user:trn-1", events.EventNewBroadcast); got != 1 {
		t.Errorf("new_broadcast fan-out ran %d times, want 1", got)
	}
}

func TestCreateWithoutMatchingTransporters(t *testing.T) {
	f := newFixture(t)
	res := f.mustCreate(t, validCreate("cust-1"))

	if res.Notified != 0 {
		t.Errorf("notified = %d, want 0", res.Notified)
	}
	o, err := f.svc.Get(f.ctx, res.Order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if o.Status != StatusActive {
		t.Errorf("status = %s, want active", o.Status)
	}
	if !f.sched.Pending(ExpiryTimerID(o.ID)) {
		t.Error("expiry timer not armed for unmatched order")
	}
}

func TestExpireUnfilledOrder(t *testing.T) {
	f := newFixture(t)
	f.seedTransporter(t, "trn-1", 2, "container", "20ft")
	res := f.mustCreate(t, validCreate("cust-1"))
	id := res.Order.ID

	if err := f.svc.Expire(f.ctx, id); err != nil {
		t.Fatalf("expire: %v", err)
	}

	o, err := f.svc.Get(f.ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if o.Status != StatusExpired {
		t.Errorf("status = %s, want expired", o.Status)
	}
	statuses := requestStatuses(t, f, id)
	if statuses[RequestExpired] != 2 {
		t.Errorf("expired requests = %d, want 2", statuses[RequestExpired])
	}
	if f.holds.expiredCount(id) != 1 {
		t.Errorf("hold settlement calls = %d, want 1", f.holds.expiredCount(id))
	}
	if got := f.bus.countFor("user:cust-1", events.EventOrderExpired); got != 1 {
		t.Errorf("customer order_expired = %d, want 1", got)
	}
	if got := f.bus.countFor("user:trn-1", events.EventOrderExpired); got != 1 {
		t.Errorf("transporter order_expired = %d, want 1", got)
	}

	// A timer re-fire after restart publishes nothing new.
	if err := f.svc.Expire(f.ctx, id); err != nil {
		t.Fatalf("re-run expire: %v", err)
	}
	if got := f.bus.countFor("user:cust-1", events.EventOrderExpired); got != 1 {
		t.Errorf("order_expired after re-run = %d, want 1", got)
	}
}

func TestExpirePartiallyFilledKeepsAssignments(t *testing.T) {
	f := newFixture(t)
	f.seedTransporter(t, "trn-1", 3, "container", "20ft")
	cmd := validCreate("cust-1")
	cmd.Demand[0].Quantity = 3
	res := f.mustCreate(t, cmd)
	id := res.Order.ID

	f.assign(t, res.Requests[0], "trn-1")
	f.holdUnit(t, res.Requests[1], "trn-1")

	if err := f.svc.Expire(f.ctx, id); err != nil {
		t.Fatalf("expire: %v", err)
	}

	o, err := f.svc.Get(f.ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if o.Status != StatusPartiallyFilled {
		t.Errorf("status = %s, want partially_filled", o.Status)
	}
	if o.TrucksFilled != 1 {
		t.Errorf("trucks filled = %d, want 1", o.TrucksFilled)
	}

	statuses := requestStatuses(t, f, id)
	if statuses[RequestAssigned] != 1 {
		t.Errorf("assigned = %d, want 1", statuses[RequestAssigned])
	}
	if statuses[RequestExpired] != 2 {
		t.Errorf("expired = %d, want 2", statuses[RequestExpired])
	}

	// The held unit's truck lock is released, not left to TTL.
	if _, held, err := f.locks.Owner(f.ctx, TruckLockName(res.Requests[1].ID)); err != nil || held {
		t.Errorf("truck lock still held after expiry (held=%v err=%v)", held, err)
	}
	if got := f.bus.countFor("user:cust-1", events.EventOrderExpired); got != 1 {
		t.Errorf("order_expired = %d, want 1", got)
	}
}

func TestCancelCascade(t *testing.T) {
	f := newFixture(t)
	f.seedTransporter(t, "trn-1", 3, "container", "20ft")
	cmd := validCreate("cust-1")
	cmd.Demand[0].Quantity = 3
	res := f.mustCreate(t, cmd)
	id := res.Order.ID

	f.assign(t, res.Requests[0], "trn-1")
	f.holdUnit(t, res.Requests[1], "trn-1")

	cancelled, err := f.svc.Cancel(f.ctx, CancelCommand{OrderID: id, CustomerID: "cust-1", Reason: "plans changed"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Order.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Order.Status)
	}
	if cancelled.TransportersNotified == 0 {
		t.Error("expected at least one transporter notified of the cancel")
	}
	if f.sched.Pending(ExpiryTimerID(id)) {
		t.Error("expiry timer still pending after cancel")
	}

	statuses := requestStatuses(t, f, id)
	if statuses[RequestCancelled] != 3 {
		t.Errorf("cancelled requests = %d, want 3 (got %v)", statuses[RequestCancelled], statuses)
	}
	if _, held, err := f.locks.Owner(f.ctx, TruckLockName(res.Requests[1].ID)); err != nil || held {
		t.Errorf("truck lock still held after cancel (held=%v err=%v)", held, err)
	}
	if f.holds.releasedCount(id) != 1 {
		t.Errorf("hold release calls = %d, want 1", f.holds.releasedCount(id))
	}
	if f.trips.cancelledCount(id) != 1 {
		t.Errorf("trip teardown calls = %d, want 1", f.trips.cancelledCount(id))
	}
	if got := f.bus.countFor("user:trn-1", events.EventOrderCancelled); got != 1 {
		t.Errorf("transporter order_cancelled = %d, want 1", got)
	}
}

func TestCancelGuards(t *testing.T) {
	f := newFixture(t)
	res := f.mustCreate(t, validCreate("cust-1"))
	id := res.Order.ID

	if _, err := f.svc.Cancel(f.ctx, CancelCommand{OrderID: id, CustomerID: "cust-2"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign cancel err = %v, want FORBIDDEN", err)
	}
	if _, err := f.svc.Cancel(f.ctx, CancelCommand{OrderID: "nope", CustomerID: "cust-1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown order err = %v, want NOT_FOUND", err)
	}

	if _, err := f.svc.Cancel(f.ctx, CancelCommand{OrderID: id, CustomerID: "cust-1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Cancel(f.ctx, CancelCommand{OrderID: id, CustomerID: "cust-1"}); !errors.Is(err, ErrCancelFailed) {
		t.Fatalf("double cancel err = %v, want CANCEL_FAILED", err)
	}
}

func TestSummaryCountsDown(t *testing.T) {
	f := newFixture(t)
	res := f.mustCreate(t, validCreate("cust-1"))
	id := res.Order.ID

	sum, err := f.svc.Summary(f.ctx, id)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !sum.IsActive || sum.RemainingSeconds != 60 {
		t.Errorf("summary = %+v, want active with 60s remaining", sum)
	}
	if !sum.TimerPending {
		t.Error("timer not reported pending")
	}

	f.clock.Advance(45 * time.Second)
	sum, err = f.svc.Summary(f.ctx, id)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.RemainingSeconds != 15 {
		t.Errorf("remaining = %d, want 15", sum.RemainingSeconds)
	}

	if err := f.svc.Expire(f.ctx, id); err != nil {
		t.Fatalf("expire: %v", err)
	}
	sum, err = f.svc.Summary(f.ctx, id)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.IsActive || sum.RemainingSeconds != 0 {
		t.Errorf("summary after expiry = %+v, want inactive with 0s", sum)
	}
}

func TestAvailabilityView(t *testing.T) {
	f := newFixture(t)
	cmd := validCreate("cust-1")
	cmd.Demand[0].Quantity = 4
	res := f.mustCreate(t, cmd)
	id := res.Order.ID

	f.assign(t, res.Requests[0], "trn-1")
	f.holdUnit(t, res.Requests[1], "trn-1")

	view, err := f.svc.GetAvailability(f.ctx, id)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(view.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(view.Groups))
	}
	g := view.Groups[0]
	if g.TotalNeeded != 4 || g.Available != 2 || g.Held != 1 || g.Assigned != 1 {
		t.Errorf("group = %+v, want 4/2/1/1", g)
	}
	if view.TrucksFilled != 1 {
		t.Errorf("trucks filled = %d, want 1", view.TrucksFilled)
	}
	if view.IsFullyAssigned {
		t.Error("order reported fully assigned with open units")
	}

	f.assign(t, res.Requests[2], "trn-2")
	f.assign(t, res.Requests[3], "trn-2")
	if ok, err := f.store.MarkAssigned(f.ctx, res.Requests[1].ID, Binding{TransporterID: "trn-1", At: f.clock.Now()}); err != nil || !ok {
		t.Fatalf("assign held unit: ok=%v err=%v", ok, err)
	}
	if _, ok, err := f.store.IncrementFilled(f.ctx, id, 1); err != nil || !ok {
		t.Fatalf("increment: ok=%v err=%v", ok, err)
	}

	view, err = f.svc.GetAvailability(f.ctx, id)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if !view.IsFullyAssigned {
		t.Errorf("order not fully assigned: %+v", view.Groups)
	}
}

func TestDeltaPersonalizesAndMutes(t *testing.T) {
	f := newFixture(t)
	f.seedTransporter(t, "trn-1", 2, "container", "20ft")
	t2Vehicles := f.seedTransporter(t, "trn-2", 1, "container", "20ft")

	cmd := validCreate("cust-1")
	cmd.Demand[0].Quantity = 4
	res := f.mustCreate(t, cmd)
	id := res.Order.ID

	// Three units leave searching; one remains.
	f.assign(t, res.Requests[0], "trn-2")
	f.assign(t, res.Requests[1], "trn-2")
	f.holdUnit(t, res.Requests[2], "trn-1")

	f.bcast.Delta(f.ctx, id)
	if got := f.bus.countFor("user:trn-1", events.EventBroadcastUpdate); got != 1 {
		t.Errorf("trn-1 broadcast_update = %d, want 1", got)
	}
	if got := f.bus.countFor("user:trn-2", events.EventBroadcastUpdate); got != 1 {
		t.Errorf("trn-2 broadcast_update = %d, want 1", got)
	}

	// trn-2's only vehicle goes out on a trip: no capacity left, so it
	// hears no_available_trucks exactly once and is muted.
	tripID := types.NewID()
	if ok, err := f.fleet.BindVehicle(f.ctx, t2Vehicles[0], tripID, types.NewID()); err != nil || !ok {
		t.Fatalf("bind vehicle: ok=%v err=%v", ok, err)
	}
	f.bcast.Delta(f.ctx, id)
	f.bcast.Delta(f.ctx, id)
	if got := f.bus.countFor("user:trn-2", events.EventNoAvailableTrucks); got != 1 {
		t.Errorf("trn-2 no_available_trucks = %d, want 1", got)
	}
	if got := f.bus.countFor("user:trn-2", events.EventBroadcastUpdate); got != 1 {
		t.Errorf("trn-2 broadcast_update after mute = %d, want 1", got)
	}
	// trn-1 keeps receiving updates meanwhile.
	if got := f.bus.countFor("user:trn-1", events.EventBroadcastUpdate); got != 3 {
		t.Errorf("trn-1 broadcast_update = %d, want 3", got)
	}

	// Capacity returns, the mute lifts.
	if ok, err := f.fleet.UnbindVehicle(f.ctx, t2Vehicles[0], tripID); err != nil || !ok {
		t.Fatalf("unbind vehicle: ok=%v err=%v", ok, err)
	}
	f.bcast.Delta(f.ctx, id)
	if got := f.bus.countFor("user:trn-2", events.EventBroadcastUpdate); got != 2 {
		t.Errorf("trn-2 broadcast_update after unmute = %d, want 2", got)
	}
}

func TestDeltaSkipsSettledOrders(t *testing.T) {
	f := newFixture(t)
	f.seedTransporter(t, "trn-1", 1, "container", "20ft")
	res := f.mustCreate(t, validCreate("cust-1"))
	id := res.Order.ID

	if _, err := f.svc.Cancel(f.ctx, CancelCommand{OrderID: id, CustomerID: "cust-1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	before := f.bus.count(events.EventBroadcastUpdate)
	f.bcast.Delta(f.ctx, id)
	if got := f.bus.count(events.EventBroadcastUpdate); got != before {
		t.Errorf("delta on cancelled order published %d updates", got-before)
	}
}

func TestActiveFeedGroupsOpenUnits(t *testing.T) {
	f := newFixture(t)
	f.seedTransporter(t, "trn-1", 2, "container", "20ft")

	resA := f.mustCreate(t, validCreate("cust-1"))

	cmdB := validCreate("cust-2")
	cmdB.Demand = []DemandLine{
		{VehicleType: "container", VehicleSubtype: "20ft", Quantity: 1, PricePerTruck: types.Rupees(19000)},
		{VehicleType: "trailer", VehicleSubtype: "flatbed", Quantity: 2, PricePerTruck: types.Rupees(25000)},
	}
	resB := f.mustCreate(t, cmdB)

	items, err := f.svc.ActiveFeed(f.ctx, "trn-1")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("feed items = %d, want 2 (%+v)", len(items), items)
	}
	counts := map[types.ID]int{}
	for _, it := range items {
		if it.VehicleType != "container" {
			t.Errorf("feed leaked group %s", it.VehicleType)
		}
		counts[it.OrderID] = it.TrucksStillSearching
	}
	if counts[resA.Order.ID] != 2 || counts[resB.Order.ID] != 1 {
		t.Errorf("searching counts = %v", counts)
	}

	// Expired orders fall out of the feed.
	if err := f.svc.Expire(f.ctx, resA.Order.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	items, err = f.svc.ActiveFeed(f.ctx, "trn-1")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(items) != 1 || items[0].OrderID != resB.Order.ID {
		t.Errorf("feed after expiry = %+v", items)
	}

	// A transporter with no active vehicles sees an empty feed.
	items, err = f.svc.ActiveFeed(f.ctx, "trn-ghost")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("ghost feed = %+v, want empty", items)
	}
}

func TestRehydrateRearmsAndSettles(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	seed := func(customer types.ID, expiresAt time.Time) *Order {
		o := &Order{
			ID:          types.NewID(),
			CustomerID:  customer,
			Pickup:      types.Place{Name: "Nagpur"},
			Drop:        types.Place{Name: "Pune"},
			RoutePoints: []RoutePoint{{Type: PointPickup, Place: types.Place{Name: "Nagpur"}}, {Type: PointDrop, Place: types.Place{Name: "Pune"}}},
			TotalTrucks: 1,
			TotalAmount: types.Rupees(18000),
			Status:      StatusActive,
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		requests := []*TruckRequest{{
			ID:             types.NewID(),
			OrderID:        o.ID,
			RequestNumber:  1,
			VehicleType:    "container",
			VehicleSubtype: "20ft",
			VehicleKey:     types.VehicleKey("container", "20ft"),
			PricePerTruck:  types.Rupees(18000),
			Status:         RequestSearching,
			CreatedAt:      now,
			UpdatedAt:      now,
		}}
		if err := f.store.CreateOrder(f.ctx, o, requests); err != nil {
			t.Fatalf("seed order: %v", err)
		}
		return o
	}

	fresh := seed("cust-1", now.Add(time.Minute))
	lapsed := seed("cust-2", now.Add(-time.Second))

	if err := f.svc.Rehydrate(f.ctx); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	if !f.sched.Pending(ExpiryTimerID(fresh.ID)) {
		t.Error("fresh order timer not re-armed")
	}
	o, err := f.svc.Get(f.ctx, lapsed.ID)
	if err != nil {
		t.Fatalf("get lapsed: %v", err)
	}
	if o.Status != StatusExpired {
		t.Errorf("lapsed order status = %s, want expired", o.Status)
	}
}

// TestCanTransition verifies the order state table without a store.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusActive, StatusPartiallyFilled, true},
		{StatusActive, StatusFullyFilled, true},
		{StatusActive, StatusExpired, true},
		{StatusActive, StatusCancelled, true},
		{StatusPartiallyFilled, StatusFullyFilled, true},
		{StatusPartiallyFilled, StatusInProgress, true},
		{StatusFullyFilled, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true},

		{StatusActive, StatusCompleted, false},
		{StatusActive, StatusInProgress, false},
		{StatusPartiallyFilled, StatusExpired, false},
		{StatusInProgress, StatusExpired, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusActive, false},
		{StatusExpired, StatusActive, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusExpired} {
		if !s.Terminal() {
			t.Errorf("%s not terminal", s)
		}
	}
	if StatusActive.Terminal() {
		t.Error("active reported terminal")
	}
}

func TestCanTransitionRequest(t *testing.T) {
	cases := []struct {
		from, to RequestStatus
		want     bool
	}{
		{RequestSearching, RequestHeld, true},
		{RequestHeld, RequestSearching, true},
		{RequestHeld, RequestAssigned, true},
		{RequestAssigned, RequestInProgress, true},
		{RequestInProgress, RequestCompleted, true},
		{RequestSearching, RequestExpired, true},
		{RequestHeld, RequestCancelled, true},

		{RequestSearching, RequestAssigned, false},
		{RequestAssigned, RequestSearching, false},
		{RequestAssigned, RequestExpired, false},
		{RequestCompleted, RequestCancelled, false},
		{RequestCancelled, RequestSearching, false},
		{RequestExpired, RequestHeld, false},
	}
	for _, tc := range cases {
		if got := CanTransitionRequest(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransitionRequest(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
