// README: Assignments bind a confirmed truck request to a vehicle, driver,
// and trip; their status tracks the driver's leg of the journey.
package trip

import (
	"time"

	"haulmatch/internal/types"
)

type AssignmentStatus string

const (
	AssignmentPending        AssignmentStatus = "pending"
	AssignmentDriverAccepted AssignmentStatus = "driver_accepted"
	AssignmentEnRoutePickup  AssignmentStatus = "en_route_pickup"
	AssignmentAtPickup       AssignmentStatus = "at_pickup"
	AssignmentInTransit      AssignmentStatus = "in_transit"
	AssignmentCompleted      AssignmentStatus = "completed"
	AssignmentCancelled      AssignmentStatus = "cancelled"
)

func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentCompleted || s == AssignmentCancelled
}

// ActiveAssignmentStatuses are the states that count against the
// one-active-assignment-per-driver rule.
var ActiveAssignmentStatuses = []AssignmentStatus{
	AssignmentPending,
	AssignmentDriverAccepted,
	AssignmentEnRoutePickup,
	AssignmentAtPickup,
	AssignmentInTransit,
}

// AllowedAssignmentTransitions is the driver leg flow. A driver may skip
// the optional en-route and at-pickup reports; the pickup departure always
// lands on in_transit.
var AllowedAssignmentTransitions = map[AssignmentStatus][]AssignmentStatus{
	AssignmentPending:        {AssignmentDriverAccepted, AssignmentCancelled},
	AssignmentDriverAccepted: {AssignmentEnRoutePickup, AssignmentAtPickup, AssignmentInTransit, AssignmentCancelled},
	AssignmentEnRoutePickup:  {AssignmentAtPickup, AssignmentInTransit, AssignmentCancelled},
	AssignmentAtPickup:       {AssignmentInTransit, AssignmentCancelled},
	AssignmentInTransit:      {AssignmentCompleted, AssignmentCancelled},
}

func CanTransitionAssignment(from, to AssignmentStatus) bool {
	for _, s := range AllowedAssignmentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Assignment is one truck request bound to a concrete vehicle and driver.
// TripID names the journey; the vehicle carries it as currentTripId while
// in transit.
type Assignment struct {
	ID             types.ID         `json:"id"`
	OrderID        types.ID         `json:"orderId"`
	TruckRequestID types.ID         `json:"truckRequestId"`
	TransporterID  types.ID         `json:"transporterId"`
	VehicleID      types.ID         `json:"vehicleId"`
	VehicleNumber  string           `json:"vehicleNumber"`
	DriverID       types.ID         `json:"driverId"`
	DriverName     string           `json:"driverName,omitempty"`
	DriverPhone    string           `json:"driverPhone,omitempty"`
	TripID         types.ID         `json:"tripId"`
	Status         AssignmentStatus `json:"status"`
	AssignedAt     time.Time        `json:"assignedAt"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}
