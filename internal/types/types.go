// README: Common identifiers and value objects used across modules.
package types

import (
	"strings"

	"github.com/google/uuid"
)

// ID identifies any persisted entity (order, request, hold, vehicle, user,
// assignment, trip). IDs are opaque strings; new ones are UUIDv4.
type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string { return string(id) }

// Money is an integer amount in the smallest currency unit.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func Rupees(amount int64) Money {
	return Money{Amount: amount, Currency: "INR"}
}

// Place is a named location on an order route.
type Place struct {
	Name    string  `json:"name"`
	Address string  `json:"address,omitempty"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// VehicleKey joins a vehicle type and subtype into the canonical index key,
// e.g. "open:17ft". Matching is by declared type only, never by geography.
func VehicleKey(vehicleType, vehicleSubtype string) string {
	return strings.ToLower(vehicleType) + ":" + strings.ToLower(vehicleSubtype)
}
