// README: Users and vehicles owned by transporters, plus vehicle status flow.
package fleet

import (
	"time"

	"haulmatch/internal/types"
)

type Role string

const (
	RoleCustomer    Role = "customer"
	RoleTransporter Role = "transporter"
	RoleDriver      Role = "driver"
)

type VehicleStatus string

const (
	VehicleAvailable   VehicleStatus = "available"
	VehicleInTransit   VehicleStatus = "in_transit"
	VehicleMaintenance VehicleStatus = "maintenance"
	VehicleInactive    VehicleStatus = "inactive"
)

// User covers all three roles. TransporterID is set for drivers employed
// by a transporter. IsAvailable means a transporter is accepting
// broadcasts; it has no meaning for customers.
type User struct {
	ID            types.ID  `json:"id"`
	Phone         string    `json:"phone"`
	Role          Role      `json:"role"`
	Name          string    `json:"name,omitempty"`
	TransporterID *types.ID `json:"transporterId,omitempty"`
	DeviceToken   string    `json:"-"`
	IsAvailable   bool      `json:"isAvailable"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Vehicle is one physical truck. A vehicle in transit carries the trip it
// is bound to; IsActive is the owner's listing toggle and is independent
// of operational status.
type Vehicle struct {
	ID             types.ID      `json:"id"`
	TransporterID  types.ID      `json:"transporterId"`
	VehicleNumber  string        `json:"vehicleNumber"`
	VehicleType    string        `json:"vehicleType"`
	VehicleSubtype string        `json:"vehicleSubtype"`
	VehicleKey     string        `json:"vehicleKey"`
	CapacityKg     int64         `json:"capacityKg,omitempty"`
	Status         VehicleStatus `json:"status"`
	CurrentTripID  *types.ID     `json:"currentTripId,omitempty"`
	AssignedDriver *types.ID     `json:"assignedDriver,omitempty"`
	IsActive       bool          `json:"isActive"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}
