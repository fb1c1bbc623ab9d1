// README: Order service: creation with demand explosion, broadcast kickoff,
// deterministic expiry, cancellation, and the read surface.
package order

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"haulmatch/internal/cache"
	"haulmatch/internal/config"
	"haulmatch/internal/sched"
	"haulmatch/internal/types"
)

var (
	ErrValidation        = &types.Error{Code: "VALIDATION_ERROR", Message: "invalid order request"}
	ErrActiveOrderExists = &types.Error{Code: "ACTIVE_ORDER_EXISTS", Message: "customer already has an active order"}
	ErrRateLimited       = &types.Error{Code: "RATE_LIMIT_EXCEEDED", Message: "too many orders created, slow down", Retryable: true}
	ErrConcurrentCreate  = &types.Error{Code: "CONCURRENT_REQUEST", Message: "another create is already in flight", Retryable: true}
	ErrNotFound          = &types.Error{Code: "NOT_FOUND", Message: "order not found"}
	ErrForbidden         = &types.Error{Code: "FORBIDDEN", Message: "order belongs to another customer"}
	ErrCancelFailed      = &types.Error{Code: "CANCEL_FAILED", Message: "order can no longer be cancelled"}
)

const (
	maxDemandLines  = 20
	maxLineQuantity = 100

	createLockTTL = 10 * time.Second
	idemTTL       = 24 * time.Hour

	// Deadline for timer-driven work that has no caller context.
	backgroundTimeout = 30 * time.Second
)

func createLockName(customerID types.ID) string { return "order:create:" + string(customerID) }
func rateKey(customerID types.ID) string        { return "rate:order:create:" + string(customerID) }
func idemKey(customerID types.ID, key string) string {
	return "idem:" + string(customerID) + ":" + key
}

// ExpiryTimerID names the scheduler entry for one order's deadline.
func ExpiryTimerID(orderID types.ID) string { return "order:" + string(orderID) }

// HoldRetirer lets order expiry and cancellation settle reservation
// records owned by the hold module.
type HoldRetirer interface {
	ExpireOrderHolds(ctx context.Context, orderID types.ID)
	ReleaseOrderHolds(ctx context.Context, orderID types.ID)
}

// TripCanceller tears down assignment legs when an order is withdrawn.
type TripCanceller interface {
	CancelOrderTrips(ctx context.Context, orderID types.ID) (int, error)
}

type Service struct {
	store    Store
	cache    cache.Store
	locks    *cache.LockManager
	bcast    *Broadcaster
	fleet    Fleet
	sched    *sched.Scheduler
	clock    types.Clock
	log      *zap.SugaredLogger
	dispatch config.DispatchConfig
	timeouts config.TimeoutConfig

	holds HoldRetirer
	trips TripCanceller
}

// ServiceDeps wires the order service. Holds and Trips are attached after
// construction to break the module dependency loop.
type ServiceDeps struct {
	Store     Store
	Cache     cache.Store
	Locks     *cache.LockManager
	Broadcast *Broadcaster
	Fleet     Fleet
	Sched     *sched.Scheduler
	Clock     types.Clock
	Log       *zap.SugaredLogger
	Dispatch  config.DispatchConfig
	Timeouts  config.TimeoutConfig
}

func NewService(d ServiceDeps) *Service {
	return &Service{
		store:    d.Store,
		cache:    d.Cache,
		locks:    d.Locks,
		bcast:    d.Broadcast,
		fleet:    d.Fleet,
		sched:    d.Sched,
		clock:    d.Clock,
		log:      d.Log,
		dispatch: d.Dispatch,
		timeouts: d.Timeouts,
	}
}

func (s *Service) AttachHolds(h HoldRetirer)   { s.holds = h }
func (s *Service) AttachTrips(t TripCanceller) { s.trips = t }

type CreateCommand struct {
	CustomerID     types.ID
	CustomerPhone  string
	CustomerName   string
	IdempotencyKey string
	Pickup         types.Place
	Drop           types.Place
	Stops          []types.Place
	DistanceKm     float64
	GoodsType      string
	CargoWeightKg  int64
	ScheduledAt    *time.Time
	Demand         []DemandLine
}

type CreateResult struct {
	Order    *Order          `json:"order"`
	Requests []*TruckRequest `json:"truckRequests"`
	Notified int             `json:"notifiedTransporters"`
	Replayed bool            `json:"-"`
}

type CancelCommand struct {
	OrderID    types.ID
	CustomerID types.ID
	Reason     string
}

// CancelResult reports the withdrawn order and how many transporters heard
// about it.
type CancelResult struct {
	Order                *Order `json:"order"`
	TransportersNotified int    `json:"transportersNotified"`
}

// Create validates, persists, and fans out a new order. The per-customer
// lock serializes duplicate submissions; everything after the insert is
// publish-after-commit.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*CreateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.CreateOrder)
	defer cancel()

	if err := validateCreate(cmd); err != nil {
		return nil, err
	}

	if res, ok := s.replay(ctx, cmd); ok {
		return res, nil
	}

	lockName := createLockName(cmd.CustomerID)
	token, ok, err := s.locks.Acquire(ctx, lockName, createLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConcurrentCreate
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), lockName, token); err != nil {
			s.log.Warnw("create lock release failed", "customer_id", cmd.CustomerID, "error", err)
		}
	}()

	// A duplicate submission may have finished while we waited for the lock.
	if res, ok := s.replay(ctx, cmd); ok {
		return res, nil
	}

	if s.dispatch.SingleActiveOrder {
		active, err := s.store.HasActiveByCustomer(ctx, cmd.CustomerID)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, ErrActiveOrderExists
		}
	}

	if s.dispatch.CreateRate > 0 {
		n, err := s.cache.Incr(ctx, rateKey(cmd.CustomerID), s.dispatch.CreateRateWindow)
		if err != nil {
			return nil, err
		}
		if n > int64(s.dispatch.CreateRate) {
			return nil, ErrRateLimited
		}
	}

	o, requests := s.explode(cmd)
	if err := s.store.CreateOrder(ctx, o, requests); err != nil {
		return nil, err
	}

	notified := s.bcast.AnnounceNew(ctx, o, requests)
	if notified == 0 {
		s.log.Warnw("order has no matching transporters; it will expire unfilled",
			"order_id", o.ID, "expires_at", o.ExpiresAt)
	}
	s.ScheduleExpiry(o)

	// Re-read so the response carries the recorded notifiedTransporters.
	if fresh, err := s.store.ListRequests(ctx, o.ID); err == nil {
		requests = fresh
	}
	res := &CreateResult{Order: o, Requests: requests, Notified: notified}
	if cmd.IdempotencyKey != "" {
		s.saveReplay(ctx, cmd, res)
	}
	s.log.Infow("order created",
		"order_id", o.ID,
		"customer_id", cmd.CustomerID,
		"total_trucks", o.TotalTrucks,
		"notified_transporters", notified,
		"expires_at", o.ExpiresAt)
	return res, nil
}

func validateCreate(cmd CreateCommand) error {
	if cmd.CustomerID == "" || cmd.CustomerPhone == "" {
		return ErrValidation.WithMessagef("customerId and customerPhone are required")
	}
	if cmd.Pickup.Name == "" || cmd.Drop.Name == "" {
		return ErrValidation.WithMessagef("pickup and drop are required")
	}
	if len(cmd.Demand) == 0 || len(cmd.Demand) > maxDemandLines {
		return ErrValidation.WithMessagef("demand must have 1..%d lines", maxDemandLines)
	}
	seen := make(map[string]struct{}, len(cmd.Demand))
	for i, d := range cmd.Demand {
		if d.VehicleType == "" || d.VehicleSubtype == "" {
			return ErrValidation.WithMessagef("demand[%d]: vehicleType and vehicleSubtype are required", i)
		}
		if d.Quantity < 1 || d.Quantity > maxLineQuantity {
			return ErrValidation.WithMessagef("demand[%d]: quantity must be 1..%d", i, maxLineQuantity)
		}
		if d.PricePerTruck.Amount < 0 {
			return ErrValidation.WithMessagef("demand[%d]: pricePerTruck must not be negative", i)
		}
		key := types.VehicleKey(d.VehicleType, d.VehicleSubtype)
		if _, dup := seen[key]; dup {
			return ErrValidation.WithMessagef("demand[%d]: duplicate vehicle group %s", i, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (s *Service) explode(cmd CreateCommand) (*Order, []*TruckRequest) {
	now := s.clock.Now()

	route := make([]RoutePoint, 0, len(cmd.Stops)+2)
	route = append(route, RoutePoint{Type: PointPickup, Place: cmd.Pickup})
	for _, p := range cmd.Stops {
		route = append(route, RoutePoint{Type: PointStop, Place: p})
	}
	route = append(route, RoutePoint{Type: PointDrop, Place: cmd.Drop})

	total := 0
	amount := int64(0)
	currency := ""
	for _, d := range cmd.Demand {
		total += d.Quantity
		amount += int64(d.Quantity) * d.PricePerTruck.Amount
		if currency == "" {
			currency = d.PricePerTruck.Currency
		}
	}

	o := &Order{
		ID:            types.NewID(),
		CustomerID:    cmd.CustomerID,
		CustomerPhone: cmd.CustomerPhone,
		CustomerName:  cmd.CustomerName,
		Pickup:        cmd.Pickup,
		Drop:          cmd.Drop,
		RoutePoints:   route,
		DistanceKm:    cmd.DistanceKm,
		TotalTrucks:   total,
		TotalAmount:   types.Money{Amount: amount, Currency: currency},
		GoodsType:     cmd.GoodsType,
		CargoWeightKg: cmd.CargoWeightKg,
		Status:        StatusActive,
		ScheduledAt:   cmd.ScheduledAt,
		ExpiresAt:     now.Add(s.dispatch.BroadcastTimeout),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	requests := make([]*TruckRequest, 0, total)
	n := 0
	for _, d := range cmd.Demand {
		for i := 0; i < d.Quantity; i++ {
			n++
			requests = append(requests, &TruckRequest{
				ID:             types.NewID(),
				OrderID:        o.ID,
				RequestNumber:  n,
				VehicleType:    d.VehicleType,
				VehicleSubtype: d.VehicleSubtype,
				VehicleKey:     types.VehicleKey(d.VehicleType, d.VehicleSubtype),
				PricePerTruck:  d.PricePerTruck,
				Status:         RequestSearching,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		}
	}
	return o, requests
}

func (s *Service) replay(ctx context.Context, cmd CreateCommand) (*CreateResult, bool) {
	if cmd.IdempotencyKey == "" {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, idemKey(cmd.CustomerID, cmd.IdempotencyKey))
	if err != nil || !ok {
		return nil, false
	}
	var res CreateResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		s.log.Warnw("idempotency record is corrupt, ignoring",
			"customer_id", cmd.CustomerID, "error", err)
		return nil, false
	}
	res.Replayed = true
	return &res, true
}

func (s *Service) saveReplay(ctx context.Context, cmd CreateCommand, res *CreateResult) {
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, idemKey(cmd.CustomerID, cmd.IdempotencyKey), string(raw), idemTTL); err != nil {
		s.log.Warnw("saving idempotency record failed", "customer_id", cmd.CustomerID, "error", err)
	}
}

// ScheduleExpiry arms (or re-arms after a restart) the deadline timer.
func (s *Service) ScheduleExpiry(o *Order) {
	id := o.ID
	s.sched.ScheduleAt(ExpiryTimerID(id), o.ExpiresAt, func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := s.Expire(ctx, id); err != nil {
			s.log.Errorw("order expiry failed", "order_id", id, "error", err)
		}
	})
}

// Expire settles an order whose broadcast window passed: every unit still
// searching or held flips to expired in one store operation, truck locks
// and holds are retired, and the order lands on expired or
// partially_filled. Safe to run repeatedly; re-runs publish nothing.
func (s *Service) Expire(ctx context.Context, orderID types.ID) error {
	flipped, err := s.store.CloseOpenRequests(ctx, orderID, RequestExpired)
	if err != nil {
		return err
	}
	s.releaseTruckLocks(ctx, flipped)
	if s.holds != nil && len(flipped) > 0 {
		s.holds.ExpireOrderHolds(ctx, orderID)
	}

	o, changed, err := s.store.FinalizeExpired(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		// The order moved on (in progress, cancelled, completed) before the
		// timer fired. Closing leftover searching units is still correct;
		// nobody needs an expiry notice.
		if len(flipped) > 0 {
			s.log.Infow("closed leftover units of a progressed order",
				"order_id", orderID, "requests_closed", len(flipped))
		}
		return nil
	}
	if len(flipped) == 0 && !changed {
		return nil // re-run after restart; settled earlier
	}

	requests, err := s.store.ListRequests(ctx, orderID)
	if err != nil {
		return err
	}
	s.bcast.OrderExpired(ctx, o, requests)
	s.log.Infow("order expired",
		"order_id", orderID,
		"status", o.Status,
		"trucks_filled", o.TrucksFilled,
		"requests_closed", len(flipped))
	return nil
}

// Cancel withdraws a customer's order. Open units flip to cancelled,
// reservations and trips are torn down, and everyone notified hears about
// it once the writes are in.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*CancelResult, error) {
	o, err := s.store.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != cmd.CustomerID {
		return nil, ErrForbidden
	}
	if o.Status.Terminal() {
		return nil, ErrCancelFailed.WithMessagef("order is already %s", o.Status)
	}

	ok, err := s.store.UpdateOrderStatus(ctx, cmd.OrderID,
		[]Status{StatusActive, StatusPartiallyFilled, StatusFullyFilled, StatusInProgress},
		StatusCancelled,
	)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCancelFailed
	}
	s.sched.Cancel(ExpiryTimerID(cmd.OrderID))

	flipped, err := s.store.CloseOpenRequests(ctx, cmd.OrderID, RequestCancelled)
	if err != nil {
		return nil, err
	}
	s.releaseTruckLocks(ctx, flipped)
	if s.holds != nil {
		s.holds.ReleaseOrderHolds(ctx, cmd.OrderID)
	}
	if s.trips != nil {
		if _, err := s.trips.CancelOrderTrips(ctx, cmd.OrderID); err != nil {
			s.log.Errorw("trip teardown on cancel failed", "order_id", cmd.OrderID, "error", err)
		}
	}
	if _, err := s.store.CancelAssigned(ctx, cmd.OrderID); err != nil {
		s.log.Errorw("cancelling assigned units failed", "order_id", cmd.OrderID, "error", err)
	}

	o, err = s.store.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	requests, err := s.store.ListRequests(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	notified := s.bcast.OrderCancelled(ctx, o, requests)
	s.log.Infow("order cancelled",
		"order_id", cmd.OrderID,
		"customer_id", cmd.CustomerID,
		"transporters_notified", notified,
		"reason", cmd.Reason)
	return &CancelResult{Order: o, TransportersNotified: notified}, nil
}

// releaseTruckLocks drops the per-unit reservation locks for rows that
// were held when a bulk flip closed them. TTL would reclaim them anyway;
// releasing now lets the next hold start immediately.
func (s *Service) releaseTruckLocks(ctx context.Context, prior []*TruckRequest) {
	for _, r := range prior {
		if r.Status != RequestHeld || r.HeldBy == nil {
			continue
		}
		if err := s.locks.Release(ctx, TruckLockName(r.ID), string(*r.HeldBy)); err != nil {
			s.log.Warnw("truck lock release failed", "request_id", r.ID, "error", err)
		}
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.GetOrder(ctx, id)
}

// Details returns the order with all its truck requests.
func (s *Service) Details(ctx context.Context, id types.ID) (*Order, []*TruckRequest, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	requests, err := s.store.ListRequests(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return o, requests, nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID types.ID) ([]*Order, error) {
	return s.store.ListOrdersByCustomer(ctx, customerID)
}

// StatusSummary is the lightweight polling view of one order.
type StatusSummary struct {
	OrderID          types.ID  `json:"orderId"`
	Status           Status    `json:"status"`
	TrucksFilled     int       `json:"trucksFilled"`
	TotalTrucks      int       `json:"totalTrucks"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RemainingSeconds int64     `json:"remainingSeconds"`
	IsActive         bool      `json:"isActive"`
	TimerPending     bool      `json:"timerPending"`
}

func (s *Service) Summary(ctx context.Context, id types.ID) (*StatusSummary, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	sum := &StatusSummary{
		OrderID:      o.ID,
		Status:       o.Status,
		TrucksFilled: o.TrucksFilled,
		TotalTrucks:  o.TotalTrucks,
		ExpiresAt:    o.ExpiresAt,
		IsActive:     o.Status == StatusActive || o.Status == StatusPartiallyFilled,
		TimerPending: s.sched.Pending(ExpiryTimerID(o.ID)),
	}
	if sum.IsActive {
		if remaining := o.ExpiresAt.Sub(s.clock.Now()); remaining > 0 {
			sum.RemainingSeconds = int64(remaining / time.Second)
		}
	}
	return sum, nil
}

// AvailabilityView is what a transporter sees when asking how much of an
// order is still open.
type AvailabilityView struct {
	OrderID         types.ID            `json:"orderId"`
	TrucksFilled    int                 `json:"trucksFilled"`
	TotalTrucks     int                 `json:"totalTrucks"`
	Groups          []GroupAvailability `json:"groups"`
	IsFullyAssigned bool                `json:"isFullyAssigned"`
}

func (s *Service) GetAvailability(ctx context.Context, orderID types.ID) (*AvailabilityView, error) {
	o, requests, err := s.Details(ctx, orderID)
	if err != nil {
		return nil, err
	}
	groups := Availability(requests)
	return &AvailabilityView{
		OrderID:         o.ID,
		TrucksFilled:    o.TrucksFilled,
		TotalTrucks:     o.TotalTrucks,
		Groups:          groups,
		IsFullyAssigned: FullyAssigned(groups),
	}, nil
}

// FeedItem is one card in a transporter's active-broadcast feed: an open
// vehicle group of an order the transporter could serve.
type FeedItem struct {
	OrderID              types.ID    `json:"orderId"`
	Pickup               types.Place `json:"pickup"`
	Drop                 types.Place `json:"drop"`
	DistanceKm           float64     `json:"distanceKm,omitempty"`
	GoodsType            string      `json:"goodsType,omitempty"`
	ScheduledAt          *time.Time  `json:"scheduledAt,omitempty"`
	ExpiresAt            time.Time   `json:"expiresAt"`
	VehicleType          string      `json:"vehicleType"`
	VehicleSubtype       string      `json:"vehicleSubtype"`
	TrucksStillSearching int         `json:"trucksStillSearching"`
	FarePerTruck         types.Money `json:"farePerTruck"`
}

// ActiveFeed lists the searching units across open orders that match the
// transporter's active vehicle keys, grouped per order and vehicle group.
func (s *Service) ActiveFeed(ctx context.Context, transporterID types.ID) ([]FeedItem, error) {
	keys, err := s.fleet.ActiveKeys(ctx, transporterID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []FeedItem{}, nil
	}
	requests, err := s.store.ListOpenByKeys(ctx, keys, s.clock.Now())
	if err != nil {
		return nil, err
	}

	items := []FeedItem{}
	index := make(map[string]int)
	orders := make(map[types.ID]*Order)
	for _, r := range requests {
		groupKey := string(r.OrderID) + "|" + r.VehicleKey
		if i, ok := index[groupKey]; ok {
			items[i].TrucksStillSearching++
			continue
		}
		o, ok := orders[r.OrderID]
		if !ok {
			o, err = s.store.GetOrder(ctx, r.OrderID)
			if err != nil {
				return nil, err
			}
			orders[r.OrderID] = o
		}
		index[groupKey] = len(items)
		items = append(items, FeedItem{
			OrderID:              r.OrderID,
			Pickup:               o.Pickup,
			Drop:                 o.Drop,
			DistanceKm:           o.DistanceKm,
			GoodsType:            o.GoodsType,
			ScheduledAt:          o.ScheduledAt,
			ExpiresAt:            o.ExpiresAt,
			VehicleType:          r.VehicleType,
			VehicleSubtype:       r.VehicleSubtype,
			TrucksStillSearching: 1,
			FarePerTruck:         r.PricePerTruck,
		})
	}
	return items, nil
}

// SweepLapsed expires open orders past their deadline whose timer was
// lost, for example when the process that armed it died. Orders with a
// pending timer are left to it.
func (s *Service) SweepLapsed(ctx context.Context) {
	open, err := s.store.ListOpen(ctx)
	if err != nil {
		s.log.Errorw("lapsed-order sweep list failed", "error", err)
		return
	}
	now := s.clock.Now()
	for _, o := range open {
		if o.ExpiresAt.After(now) || s.sched.Pending(ExpiryTimerID(o.ID)) {
			continue
		}
		s.log.Warnw("expiring order without timer", "order_id", o.ID, "expired_at", o.ExpiresAt)
		if err := s.Expire(ctx, o.ID); err != nil {
			s.log.Errorw("lapsed-order sweep expire failed", "order_id", o.ID, "error", err)
		}
	}
}

// Rehydrate re-arms expiry timers after a restart. Orders already past
// their deadline are expired inline.
func (s *Service) Rehydrate(ctx context.Context) error {
	open, err := s.store.ListOpen(ctx)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	rearmed, lapsed := 0, 0
	for _, o := range open {
		if o.ExpiresAt.After(now) {
			s.ScheduleExpiry(o)
			rearmed++
			continue
		}
		lapsed++
		if err := s.Expire(ctx, o.ID); err != nil {
			s.log.Errorw("expiring lapsed order on rehydrate failed", "order_id", o.ID, "error", err)
		}
	}
	s.log.Infow("order timers rehydrated", "rearmed", rearmed, "lapsed", lapsed)
	return nil
}
