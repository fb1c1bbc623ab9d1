// README: Holds are transient reservations over truck requests. They live
// in the cache with a TTL so an abandoned hold heals itself.
package hold

import (
	"time"

	"haulmatch/internal/types"
)

type Status string

const (
	HoldActive    Status = "active"
	HoldConfirmed Status = "confirmed"
	HoldExpired   Status = "expired"
	HoldReleased  Status = "released"
)

// Hold reserves quantity units of one (type, subtype) group of an order
// for a single transporter until ExpiresAt. The per-request locks carry
// the same deadline; the hold row is the metadata, the locks are the
// guarantee.
type Hold struct {
	ID              types.ID   `json:"holdId"`
	OrderID         types.ID   `json:"orderId"`
	TransporterID   types.ID   `json:"transporterId"`
	VehicleType     string     `json:"vehicleType"`
	VehicleSubtype  string     `json:"vehicleSubtype"`
	Quantity        int        `json:"quantity"`
	TruckRequestIDs []types.ID `json:"truckRequestIds"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
}

func (h *Hold) VehicleKey() string {
	return types.VehicleKey(h.VehicleType, h.VehicleSubtype)
}
