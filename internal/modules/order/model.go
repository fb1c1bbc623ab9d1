// README: Order aggregate, truck requests, route points, and status flows.
package order

import (
	"time"

	"haulmatch/internal/types"
)

type Status string

const (
	StatusActive          Status = "active"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFullyFilled     Status = "fully_filled"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusExpired         Status = "expired"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// AllowedTransitions represents the order state flow (diagram) as code.
// Expiry with zero trucks filled is the only path to expired; expiry with
// some trucks filled settles on partially_filled and the trip phase
// continues for the assigned units.
var AllowedTransitions = map[Status][]Status{
	StatusActive:          {StatusPartiallyFilled, StatusFullyFilled, StatusCancelled, StatusExpired},
	StatusPartiallyFilled: {StatusFullyFilled, StatusInProgress, StatusCancelled},
	StatusFullyFilled:     {StatusInProgress, StatusCancelled},
	StatusInProgress:      {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type RequestStatus string

const (
	RequestSearching  RequestStatus = "searching"
	RequestHeld       RequestStatus = "held"
	RequestAssigned   RequestStatus = "assigned"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	RequestCancelled  RequestStatus = "cancelled"
	RequestExpired    RequestStatus = "expired"
)

// AllowedRequestTransitions is the per-truck state flow. A held unit that
// is released (hold expiry, manual release, failed confirm) goes back to
// searching and is immediately reservable again.
var AllowedRequestTransitions = map[RequestStatus][]RequestStatus{
	RequestSearching:  {RequestHeld, RequestExpired, RequestCancelled},
	RequestHeld:       {RequestSearching, RequestAssigned, RequestExpired, RequestCancelled},
	RequestAssigned:   {RequestInProgress, RequestCancelled},
	RequestInProgress: {RequestCompleted, RequestCancelled},
}

func CanTransitionRequest(from, to RequestStatus) bool {
	for _, s := range AllowedRequestTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type RoutePointType string

const (
	PointPickup RoutePointType = "PICKUP"
	PointStop   RoutePointType = "STOP"
	PointDrop   RoutePointType = "DROP"
)

// RoutePoint is one ordered stop on the order route. Index 0 is always
// the pickup and the last index the drop.
type RoutePoint struct {
	Type  RoutePointType `json:"type"`
	Place types.Place    `json:"place"`
}

// StopWaitTimer records how long the convoy sat at an intermediate stop.
type StopWaitTimer struct {
	StopIndex       int        `json:"stopIndex"`
	ArrivedAt       time.Time  `json:"arrivedAt"`
	DepartedAt      *time.Time `json:"departedAt,omitempty"`
	WaitTimeSeconds int64      `json:"waitTimeSeconds,omitempty"`
}

// OpenStopTimer returns the wait timer at the given route index that has
// no departure yet, or nil. While one is open the convoy is dwelling at
// that stop and a repeated arrival report is a no-op.
func (o *Order) OpenStopTimer(index int) *StopWaitTimer {
	for i := range o.StopWaitTimers {
		t := &o.StopWaitTimers[i]
		if t.StopIndex == index && t.DepartedAt == nil {
			return t
		}
	}
	return nil
}

// AtFinalPoint reports whether the route has been fully traversed.
func (o *Order) AtFinalPoint() bool {
	return o.CurrentRouteIndex >= len(o.RoutePoints)-1
}

// DemandLine is one (type, subtype, quantity, price) row of a create
// request. Each unit of quantity explodes into its own TruckRequest.
type DemandLine struct {
	VehicleType    string      `json:"vehicleType"`
	VehicleSubtype string      `json:"vehicleSubtype"`
	Quantity       int         `json:"quantity"`
	PricePerTruck  types.Money `json:"pricePerTruck"`
}

// Order is the customer's parent request: a route plus heterogeneous
// truck demand. TrucksFilled counts children at assigned or later
// non-failed states and is only ever moved by single-row updates.
type Order struct {
	ID                types.ID        `json:"id"`
	CustomerID        types.ID        `json:"customerId"`
	CustomerPhone     string          `json:"customerPhone,omitempty"`
	CustomerName      string          `json:"customerName,omitempty"`
	Pickup            types.Place     `json:"pickup"`
	Drop              types.Place     `json:"drop"`
	RoutePoints       []RoutePoint    `json:"routePoints"`
	DistanceKm        float64         `json:"distanceKm,omitempty"`
	TotalTrucks       int             `json:"totalTrucks"`
	TrucksFilled      int             `json:"trucksFilled"`
	TotalAmount       types.Money     `json:"totalAmount"`
	GoodsType         string          `json:"goodsType,omitempty"`
	CargoWeightKg     int64           `json:"cargoWeightKg,omitempty"`
	Status            Status          `json:"status"`
	ScheduledAt       *time.Time      `json:"scheduledAt,omitempty"`
	ExpiresAt         time.Time       `json:"expiresAt"`
	CurrentRouteIndex int             `json:"currentRouteIndex"`
	StopWaitTimers    []StopWaitTimer `json:"stopWaitTimers,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// TruckRequest is one physical truck unit of an order, the atom of
// reservation and assignment. RequestNumber is 1-based in demand input
// order and fixes the lock acquisition order during holds.
type TruckRequest struct {
	ID                    types.ID      `json:"id"`
	OrderID               types.ID      `json:"orderId"`
	RequestNumber         int           `json:"requestNumber"`
	VehicleType           string        `json:"vehicleType"`
	VehicleSubtype        string        `json:"vehicleSubtype"`
	VehicleKey            string        `json:"-"`
	PricePerTruck         types.Money   `json:"pricePerTruck"`
	Status                RequestStatus `json:"status"`
	HeldBy                *types.ID     `json:"heldBy,omitempty"`
	HeldAt                *time.Time    `json:"heldAt,omitempty"`
	AssignedTransporterID *types.ID     `json:"assignedTransporterId,omitempty"`
	AssignedVehicleID     *types.ID     `json:"assignedVehicleId,omitempty"`
	AssignedVehicleNumber string        `json:"assignedVehicleNumber,omitempty"`
	AssignedDriverID      *types.ID     `json:"assignedDriverId,omitempty"`
	AssignedDriverName    string        `json:"assignedDriverName,omitempty"`
	TripID                *types.ID     `json:"tripId,omitempty"`
	NotifiedTransporters  []types.ID    `json:"notifiedTransporters,omitempty"`
	AssignedAt            *time.Time    `json:"assignedAt,omitempty"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

// Binding carries the fields written when a held request is promoted to
// assigned. The simple confirm path sets only the transporter; the full
// path binds vehicle, driver, and trip.
type Binding struct {
	TransporterID types.ID
	VehicleID     *types.ID
	VehicleNumber string
	DriverID      *types.ID
	DriverName    string
	TripID        *types.ID
	At            time.Time
}

// GroupAvailability is the per-(type, subtype) snapshot used by the
// availability read and by the personalized broadcast deltas.
type GroupAvailability struct {
	VehicleType    string      `json:"vehicleType"`
	VehicleSubtype string      `json:"vehicleSubtype"`
	TotalNeeded    int         `json:"totalNeeded"`
	Available      int         `json:"available"`
	Held           int         `json:"held"`
	Assigned       int         `json:"assigned"`
	FarePerTruck   types.Money `json:"farePerTruck"`
}

// Availability folds an order's requests into per-group counters.
// Assigned counts every unit past the reservation stage, matching the
// trucksFilled accounting.
func Availability(requests []*TruckRequest) []GroupAvailability {
	byKey := make(map[string]*GroupAvailability)
	keys := make([]string, 0, 4)
	for _, r := range requests {
		g, ok := byKey[r.VehicleKey]
		if !ok {
			g = &GroupAvailability{
				VehicleType:    r.VehicleType,
				VehicleSubtype: r.VehicleSubtype,
				FarePerTruck:   r.PricePerTruck,
			}
			byKey[r.VehicleKey] = g
			keys = append(keys, r.VehicleKey)
		}
		g.TotalNeeded++
		switch r.Status {
		case RequestSearching:
			g.Available++
		case RequestHeld:
			g.Held++
		case RequestAssigned, RequestInProgress, RequestCompleted:
			g.Assigned++
		}
	}
	out := make([]GroupAvailability, 0, len(byKey))
	for _, key := range keys {
		out = append(out, *byKey[key])
	}
	return out
}

// FullyAssigned reports whether no group has units left to reserve.
func FullyAssigned(groups []GroupAvailability) bool {
	for _, g := range groups {
		if g.Available > 0 || g.Held > 0 {
			return false
		}
	}
	return true
}

// TruckLockName is the lock-manager name guarding one truck request; the
// cache key becomes "lock:truck:{id}".
func TruckLockName(requestID types.ID) string {
	return "truck:" + string(requestID)
}
