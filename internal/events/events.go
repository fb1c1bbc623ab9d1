// README: Event names and the wire envelope for realtime notifications.
package events

import (
	"time"

	"haulmatch/internal/types"
)

// Server to client event names.
const (
	EventNewBroadcast      = "new_broadcast"
	EventBroadcastUpdate   = "broadcast_update"
	EventBroadcastClosed   = "broadcast_closed"
	EventNoAvailableTrucks = "no_available_trucks"
	EventTrucksConfirmed   = "trucks_confirmed"
	EventTripAssigned      = "trip_assigned"
	EventOrderExpired      = "order_expired"
	EventOrderCancelled    = "order_cancelled"
	EventOrderCompleted    = "order_completed"
	EventRouteProgress     = "route_progress_updated"
)

// Event is the wire envelope written to WebSocket clients.
type Event struct {
	Name string    `json:"event"`
	Ts   time.Time `json:"ts"`
	Data any       `json:"data,omitempty"`
}

func RoomOrder(orderID types.ID) string { return "order:" + string(orderID) }

func RoomTrip(tripID types.ID) string { return "trip:" + string(tripID) }
