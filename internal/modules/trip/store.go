// README: Assignment store contract; memory and PostgreSQL implementations.
package trip

import (
	"context"
	"time"

	"haulmatch/internal/types"
)

// Store persists assignments. Status moves are compare-and-swaps keyed on
// the current status, same as the order and request stores.
type Store interface {
	CreateAssignment(ctx context.Context, a *Assignment) error
	GetAssignment(ctx context.Context, id types.ID) (*Assignment, error)
	ListByOrder(ctx context.Context, orderID types.ID) ([]*Assignment, error)
	// ActiveByDriver returns the driver's non-terminal assignment or nil.
	ActiveByDriver(ctx context.Context, driverID types.ID) (*Assignment, error)
	// ActiveByOrderAndDriver returns the driver's non-terminal assignment
	// on the given order or nil; it gates the route progress operations.
	ActiveByOrderAndDriver(ctx context.Context, orderID, driverID types.ID) (*Assignment, error)

	// UpdateStatus CASes the assignment from any of the given statuses.
	UpdateStatus(ctx context.Context, id types.ID, from []AssignmentStatus, to AssignmentStatus) (bool, error)
	// CompleteOrderAssignments flips every non-terminal assignment of the
	// order to completed and returns the flipped rows so vehicles can be
	// released.
	CompleteOrderAssignments(ctx context.Context, orderID types.ID, at time.Time) ([]*Assignment, error)
	// CancelOrderAssignments flips every non-terminal assignment of the
	// order to cancelled and returns the flipped rows.
	CancelOrderAssignments(ctx context.Context, orderID types.ID) ([]*Assignment, error)
}
