// README: Broadcast fan-out: new-order announcements, personalized deltas,
// and closure notices to everyone who was told about an order.
package order

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"haulmatch/internal/cache"
	"haulmatch/internal/events"
	"haulmatch/internal/types"
)

// Fleet is the slice of the fleet module the dispatch core consumes.
type Fleet interface {
	Recipients(ctx context.Context, vehicleType, vehicleSubtype string) ([]types.ID, error)
	AvailableCount(ctx context.Context, transporterID types.ID, vehicleType, vehicleSubtype string) (int, error)
	DeviceTokens(ctx context.Context, ids []types.ID) (map[types.ID]string, error)
	ActiveKeys(ctx context.Context, transporterID types.ID) ([]string, error)
}

// Publisher is the realtime fan-out surface; *events.Bus satisfies it.
type Publisher interface {
	PublishUser(userID string, event string, data any)
	PublishUsers(userIDs []string, event string, data any)
	PublishRoom(room string, event string, data any)
	JoinRoom(room, userID string)
	CloseRoom(room string)
}

// Pusher enqueues device notifications; *events.Outbox satisfies it.
type Pusher interface {
	Enqueue(ctx context.Context, p events.Push) error
}

const mutedTTL = 24 * time.Hour

func mutedKey(orderID types.ID) string {
	return "broadcast:muted:" + string(orderID)
}

// BroadcastPayload announces one vehicle group of a new order.
// TruckRequestID is a representative unit of the group.
type BroadcastPayload struct {
	OrderID        types.ID     `json:"orderId"`
	TruckRequestID types.ID     `json:"truckRequestId"`
	CustomerName   string       `json:"customerName,omitempty"`
	Pickup         types.Place  `json:"pickup"`
	Drop           types.Place  `json:"drop"`
	RoutePoints    []RoutePoint `json:"routePoints,omitempty"`
	DistanceKm     float64      `json:"distanceKm,omitempty"`
	GoodsType      string       `json:"goodsType,omitempty"`
	CargoWeightKg  int64        `json:"cargoWeightKg,omitempty"`
	ScheduledAt    *time.Time   `json:"scheduledAt,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	ExpiresAt      time.Time    `json:"expiresAt"`
	VehicleType    string       `json:"vehicleType"`
	VehicleSubtype string       `json:"vehicleSubtype"`
	TrucksNeeded   int          `json:"trucksNeeded"`
	TotalTrucks    int          `json:"totalTrucksInOrder"`
	FarePerTruck   types.Money  `json:"farePerTruck"`
}

// GroupUpdate is one vehicle group of a personalized availability delta.
type GroupUpdate struct {
	VehicleType          string      `json:"vehicleType"`
	VehicleSubtype       string      `json:"vehicleSubtype"`
	TrucksStillSearching int         `json:"trucksStillSearching"`
	TrucksYouCanProvide  int         `json:"trucksYouCanProvide"`
	FarePerTruck         types.Money `json:"farePerTruck"`
}

// DeltaPayload is the broadcast_update body sent to one transporter.
type DeltaPayload struct {
	OrderID      types.ID      `json:"orderId"`
	TrucksFilled int           `json:"trucksFilled"`
	TotalTrucks  int           `json:"totalTrucks"`
	Groups       []GroupUpdate `json:"groups"`
}

// ClosedPayload is the broadcast_closed body.
type ClosedPayload struct {
	OrderID types.ID `json:"orderId"`
	Reason  string   `json:"reason"`
}

// Broadcaster resolves recipients and publishes order lifecycle events.
// Services call it strictly after their writes commit.
type Broadcaster struct {
	store Store
	fleet Fleet
	bus   Publisher
	push  Pusher
	cache cache.Store
	clock types.Clock
	log   *zap.SugaredLogger
}

func NewBroadcaster(store Store, fleet Fleet, bus Publisher, push Pusher, c cache.Store, clock types.Clock, log *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{store: store, fleet: fleet, bus: bus, push: push, cache: c, clock: clock, log: log}
}

// AnnounceNew fans a fresh order out to every matching transporter, one
// new_broadcast per vehicle group, and records who was notified. Returns
// the number of distinct transporters reached.
func (b *Broadcaster) AnnounceNew(ctx context.Context, o *Order, requests []*TruckRequest) int {
	b.bus.JoinRoom(events.RoomOrder(o.ID), string(o.CustomerID))

	notified := make(map[types.ID]struct{})
	groups := lo.GroupBy(requests, func(r *TruckRequest) string { return r.VehicleKey })
	for _, group := range groups {
		first := group[0]
		recipients, err := b.fleet.Recipients(ctx, first.VehicleType, first.VehicleSubtype)
		if err != nil {
			b.log.Errorw("broadcast recipient lookup failed",
				"order_id", o.ID, "vehicle_key", first.VehicleKey, "error", err)
			continue
		}
		if len(recipients) == 0 {
			b.log.Infow("no transporters match vehicle group",
				"order_id", o.ID, "vehicle_key", first.VehicleKey)
			continue
		}

		requestIDs := lo.Map(group, func(r *TruckRequest, _ int) types.ID { return r.ID })
		if err := b.store.MarkNotified(ctx, requestIDs, recipients); err != nil {
			b.log.Errorw("recording notified transporters failed", "order_id", o.ID, "error", err)
		}

		payload := BroadcastPayload{
			OrderID:        o.ID,
			TruckRequestID: first.ID,
			CustomerName:   o.CustomerName,
			Pickup:         o.Pickup,
			Drop:           o.Drop,
			RoutePoints:    o.RoutePoints,
			DistanceKm:     o.DistanceKm,
			GoodsType:      o.GoodsType,
			CargoWeightKg:  o.CargoWeightKg,
			ScheduledAt:    o.ScheduledAt,
			CreatedAt:      o.CreatedAt,
			ExpiresAt:      o.ExpiresAt,
			VehicleType:    first.VehicleType,
			VehicleSubtype: first.VehicleSubtype,
			TrucksNeeded:   len(group),
			TotalTrucks:    o.TotalTrucks,
			FarePerTruck:   first.PricePerTruck,
		}
		b.bus.PublishUsers(idsToStrings(recipients), events.EventNewBroadcast, payload)
		b.pushGroup(ctx, o, payload, recipients)

		for _, id := range recipients {
			notified[id] = struct{}{}
		}
	}
	return len(notified)
}

func (b *Broadcaster) pushGroup(ctx context.Context, o *Order, p BroadcastPayload, recipients []types.ID) {
	tokens, err := b.fleet.DeviceTokens(ctx, recipients)
	if err != nil {
		b.log.Warnw("device token lookup failed", "order_id", o.ID, "error", err)
		return
	}
	body := fmt.Sprintf("%d x %s %s, %s to %s",
		p.TrucksNeeded, p.VehicleType, p.VehicleSubtype, o.Pickup.Name, o.Drop.Name)
	for tid, token := range tokens {
		err := b.push.Enqueue(ctx, events.Push{
			Token: token,
			Title: "New load available",
			Body:  body,
			Event: events.EventNewBroadcast,
			Data: map[string]string{
				"orderId":     string(o.ID),
				"vehicleType": p.VehicleType,
			},
			DedupKey: "new_broadcast:" + string(o.ID) + ":" + string(tid),
		})
		if err != nil {
			b.log.Warnw("push enqueue failed", "order_id", o.ID, "transporter_id", tid, "error", err)
		}
	}
}

// Delta recomputes availability after any reservation change and sends
// each notified transporter a personalized broadcast_update. Transporters
// whose own fleet can no longer contribute get a single
// no_available_trucks and are muted until capacity frees up again.
func (b *Broadcaster) Delta(ctx context.Context, orderID types.ID) {
	o, err := b.store.GetOrder(ctx, orderID)
	if err != nil {
		b.log.Errorw("delta order load failed", "order_id", orderID, "error", err)
		return
	}
	if o.Status != StatusActive && o.Status != StatusPartiallyFilled {
		return
	}
	requests, err := b.store.ListRequests(ctx, orderID)
	if err != nil {
		b.log.Errorw("delta request load failed", "order_id", orderID, "error", err)
		return
	}

	groups := Availability(requests)
	notifiedByKey := notifiedPerKey(requests)

	muted := make(map[types.ID]struct{})
	if members, err := b.cache.SMembers(ctx, mutedKey(orderID)); err == nil {
		for _, m := range members {
			muted[types.ID(m)] = struct{}{}
		}
	}

	for _, tid := range allNotified(notifiedByKey) {
		payload := DeltaPayload{
			OrderID:      o.ID,
			TrucksFilled: o.TrucksFilled,
			TotalTrucks:  o.TotalTrucks,
		}
		canProvideTotal := 0
		for _, g := range groups {
			key := types.VehicleKey(g.VehicleType, g.VehicleSubtype)
			if _, wasTold := notifiedByKey[key][tid]; !wasTold {
				continue
			}
			can, err := b.fleet.AvailableCount(ctx, tid, g.VehicleType, g.VehicleSubtype)
			if err != nil {
				b.log.Warnw("availability count failed",
					"order_id", o.ID, "transporter_id", tid, "error", err)
				continue
			}
			if can > g.Available {
				can = g.Available
			}
			canProvideTotal += can
			payload.Groups = append(payload.Groups, GroupUpdate{
				VehicleType:          g.VehicleType,
				VehicleSubtype:       g.VehicleSubtype,
				TrucksStillSearching: g.Available,
				TrucksYouCanProvide:  can,
				FarePerTruck:         g.FarePerTruck,
			})
		}

		_, wasMuted := muted[tid]
		if canProvideTotal == 0 {
			if !wasMuted {
				if err := b.cache.SAdd(ctx, mutedKey(orderID), mutedTTL, string(tid)); err != nil {
					b.log.Warnw("muting transporter failed", "order_id", o.ID, "error", err)
				}
				b.bus.PublishUser(string(tid), events.EventNoAvailableTrucks, map[string]any{
					"orderId": o.ID,
				})
			}
			continue
		}
		if wasMuted {
			if err := b.cache.SRem(ctx, mutedKey(orderID), string(tid)); err != nil {
				b.log.Warnw("unmuting transporter failed", "order_id", o.ID, "error", err)
			}
		}
		b.bus.PublishUser(string(tid), events.EventBroadcastUpdate, payload)
	}
}

// RouteProgressPayload is the route_progress_updated body.
type RouteProgressPayload struct {
	OrderID           types.ID        `json:"orderId"`
	Status            Status          `json:"status"`
	CurrentRouteIndex int             `json:"currentRouteIndex"`
	RoutePoints       []RoutePoint    `json:"routePoints"`
	StopWaitTimers    []StopWaitTimer `json:"stopWaitTimers,omitempty"`
}

// TrucksConfirmed tells the customer a confirmation landed and how full
// the order is now.
func (b *Broadcaster) TrucksConfirmed(ctx context.Context, o *Order, transporterID types.ID, confirmed int) {
	payload := map[string]any{
		"orderId":         o.ID,
		"transporterId":   transporterID,
		"trucksConfirmed": confirmed,
		"trucksFilled":    o.TrucksFilled,
		"totalTrucks":     o.TotalTrucks,
	}
	b.bus.PublishUser(string(o.CustomerID), events.EventTrucksConfirmed, payload)

	tokens, err := b.fleet.DeviceTokens(ctx, []types.ID{o.CustomerID})
	if err != nil || len(tokens) == 0 {
		return
	}
	_ = b.push.Enqueue(ctx, events.Push{
		Token: tokens[o.CustomerID],
		Title: "Trucks confirmed",
		Body:  fmt.Sprintf("%d of %d trucks are confirmed for your order", o.TrucksFilled, o.TotalTrucks),
		Event: events.EventTrucksConfirmed,
		Data: map[string]string{
			"orderId":      string(o.ID),
			"trucksFilled": strconv.Itoa(o.TrucksFilled),
		},
		// Each confirmation moves the counter, so every one gets through.
		DedupKey: events.EventTrucksConfirmed + ":" + string(o.ID) + ":" + strconv.Itoa(o.TrucksFilled),
	})
}

// RouteProgress publishes the convoy's position to the order room and to
// the assigned crews.
func (b *Broadcaster) RouteProgress(ctx context.Context, o *Order, requests []*TruckRequest) {
	payload := RouteProgressPayload{
		OrderID:           o.ID,
		Status:            o.Status,
		CurrentRouteIndex: o.CurrentRouteIndex,
		RoutePoints:       o.RoutePoints,
		StopWaitTimers:    o.StopWaitTimers,
	}
	b.bus.PublishRoom(events.RoomOrder(o.ID), events.EventRouteProgress, payload)
	if crew := assignedCrew(requests); len(crew) > 0 {
		b.bus.PublishUsers(crew, events.EventRouteProgress, payload)
	}
}

// OrderCompleted announces arrival at the drop to everyone involved and
// closes the order room.
func (b *Broadcaster) OrderCompleted(ctx context.Context, o *Order, requests []*TruckRequest) {
	payload := map[string]any{
		"orderId":      o.ID,
		"status":       o.Status,
		"trucksFilled": o.TrucksFilled,
		"totalTrucks":  o.TotalTrucks,
	}
	b.bus.PublishRoom(events.RoomOrder(o.ID), events.EventOrderCompleted, payload)
	if crew := assignedCrew(requests); len(crew) > 0 {
		b.bus.PublishUsers(crew, events.EventOrderCompleted, payload)
	}
	b.pushCustomer(ctx, o, events.EventOrderCompleted, "Order completed",
		fmt.Sprintf("Your consignment reached %s", o.Drop.Name))
	b.bus.CloseRoom(events.RoomOrder(o.ID))
}

// Closed tells every notified transporter the order stopped taking
// reservations (all units assigned) and clears the mute set.
func (b *Broadcaster) Closed(ctx context.Context, o *Order, requests []*TruckRequest, reason string) {
	recipients := allNotified(notifiedPerKey(requests))
	if len(recipients) > 0 {
		b.bus.PublishUsers(idsToStrings(recipients), events.EventBroadcastClosed, ClosedPayload{
			OrderID: o.ID,
			Reason:  reason,
		})
	}
	b.clearMuted(ctx, o.ID)
}

// OrderExpired tells the customer and every notified transporter that the
// deadline passed and the broadcast is over.
func (b *Broadcaster) OrderExpired(ctx context.Context, o *Order, requests []*TruckRequest) {
	payload := map[string]any{
		"orderId":      o.ID,
		"status":       o.Status,
		"trucksFilled": o.TrucksFilled,
		"totalTrucks":  o.TotalTrucks,
	}
	b.bus.PublishUser(string(o.CustomerID), events.EventOrderExpired, payload)
	if recipients := allNotified(notifiedPerKey(requests)); len(recipients) > 0 {
		b.bus.PublishUsers(idsToStrings(recipients), events.EventOrderExpired, payload)
	}
	b.pushCustomer(ctx, o, events.EventOrderExpired, "Order expired",
		fmt.Sprintf("%d of %d trucks were confirmed before the deadline", o.TrucksFilled, o.TotalTrucks))
	b.clearMuted(ctx, o.ID)
	if o.Status == StatusExpired {
		b.bus.CloseRoom(events.RoomOrder(o.ID))
	}
}

// OrderCancelled notifies everyone involved that the customer pulled the
// order. Returns how many transporters were told.
func (b *Broadcaster) OrderCancelled(ctx context.Context, o *Order, requests []*TruckRequest) int {
	payload := map[string]any{
		"orderId":      o.ID,
		"status":       o.Status,
		"trucksFilled": o.TrucksFilled,
		"totalTrucks":  o.TotalTrucks,
	}
	b.bus.PublishRoom(events.RoomOrder(o.ID), events.EventOrderCancelled, payload)
	recipients := allNotified(notifiedPerKey(requests))
	if len(recipients) > 0 {
		b.bus.PublishUsers(idsToStrings(recipients), events.EventOrderCancelled, payload)
	}
	b.clearMuted(ctx, o.ID)
	b.bus.CloseRoom(events.RoomOrder(o.ID))
	return len(recipients)
}

func (b *Broadcaster) clearMuted(ctx context.Context, orderID types.ID) {
	if err := b.cache.Del(ctx, mutedKey(orderID)); err != nil {
		b.log.Warnw("clearing mute set failed", "order_id", orderID, "error", err)
	}
}

func (b *Broadcaster) pushCustomer(ctx context.Context, o *Order, event, title, body string) {
	tokens, err := b.fleet.DeviceTokens(ctx, []types.ID{o.CustomerID})
	if err != nil || len(tokens) == 0 {
		return
	}
	_ = b.push.Enqueue(ctx, events.Push{
		Token: tokens[o.CustomerID],
		Title: title,
		Body:  body,
		Event: event,
		Data: map[string]string{
			"orderId":      string(o.ID),
			"trucksFilled": strconv.Itoa(o.TrucksFilled),
		},
		DedupKey: event + ":" + string(o.ID),
	})
}

// assignedCrew collects the transporters and drivers bound to an order's
// assigned units, deduplicated and sorted.
func assignedCrew(requests []*TruckRequest) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id *types.ID) {
		if id == nil {
			return
		}
		if _, dup := seen[string(*id)]; dup {
			return
		}
		seen[string(*id)] = struct{}{}
		out = append(out, string(*id))
	}
	for _, r := range requests {
		add(r.AssignedTransporterID)
		add(r.AssignedDriverID)
	}
	sort.Strings(out)
	return out
}

// notifiedPerKey builds vehicleKey -> set of transporters told about it.
func notifiedPerKey(requests []*TruckRequest) map[string]map[types.ID]struct{} {
	out := make(map[string]map[types.ID]struct{})
	for _, r := range requests {
		set, ok := out[r.VehicleKey]
		if !ok {
			set = make(map[types.ID]struct{})
			out[r.VehicleKey] = set
		}
		for _, tid := range r.NotifiedTransporters {
			set[tid] = struct{}{}
		}
	}
	return out
}

func allNotified(byKey map[string]map[types.ID]struct{}) []types.ID {
	seen := make(map[types.ID]struct{})
	var out []types.ID
	for _, set := range byKey {
		for tid := range set {
			if _, dup := seen[tid]; dup {
				continue
			}
			seen[tid] = struct{}{}
			out = append(out, tid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
