// README: Fleet store surface; Postgres and in-memory implementations.
package fleet

import (
	"context"

	"haulmatch/internal/types"
)

type Store interface {
	UpsertUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id types.ID) (*User, error)
	SetUserAvailability(ctx context.Context, id types.ID, available bool) (bool, error)
	SetDeviceToken(ctx context.Context, id types.ID, token string) error
	// DeviceTokens resolves push tokens for the given users, skipping
	// users without one.
	DeviceTokens(ctx context.Context, ids []types.ID) (map[types.ID]string, error)

	UpsertVehicle(ctx context.Context, v *Vehicle) error
	GetVehicle(ctx context.Context, id types.ID) (*Vehicle, error)
	ListVehiclesByTransporter(ctx context.Context, transporterID types.ID) ([]*Vehicle, error)
	SetVehicleActive(ctx context.Context, id types.ID, active bool) (bool, error)
	// MarkVehicleInTransit binds an available, unbound vehicle to a trip.
	MarkVehicleInTransit(ctx context.Context, id, tripID, driverID types.ID) (bool, error)
	// ReleaseVehicle frees the vehicle bound to tripID back to available.
	ReleaseVehicle(ctx context.Context, id, tripID types.ID) (bool, error)

	// ListTransportersWithVehicle returns transporters that are accepting
	// broadcasts and own at least one active vehicle of the key.
	ListTransportersWithVehicle(ctx context.Context, vehicleKey string) ([]types.ID, error)
	// CountAvailableByKey counts a transporter's active vehicles of the
	// key that are free to be assigned right now.
	CountAvailableByKey(ctx context.Context, transporterID types.ID, vehicleKey string) (int, error)
	// ActiveVehicleKeys lists the distinct keys a transporter can serve.
	ActiveVehicleKeys(ctx context.Context, transporterID types.ID) ([]string, error)
}
