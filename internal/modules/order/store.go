// README: Order store contract; memory and PostgreSQL implementations.
package order

import (
	"context"
	"time"

	"haulmatch/internal/types"
)

// Store persists orders and their truck requests. Every status move is a
// compare-and-swap keyed on the current status so concurrent writers
// resolve to exactly one winner; bulk flips (expiry, cancel) happen in a
// single store operation.
type Store interface {
	// CreateOrder writes the order and all exploded truck requests in one
	// transaction.
	CreateOrder(ctx context.Context, o *Order, requests []*TruckRequest) error
	GetOrder(ctx context.Context, id types.ID) (*Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID types.ID) ([]*Order, error)
	HasActiveByCustomer(ctx context.Context, customerID types.ID) (bool, error)
	// ListOpen returns orders still in the broadcast phase (active or
	// partially_filled), used for expiry rehydration and sweeps.
	ListOpen(ctx context.Context) ([]*Order, error)

	// UpdateOrderStatus CASes the order from any of the given statuses.
	UpdateOrderStatus(ctx context.Context, id types.ID, from []Status, to Status) (bool, error)
	// IncrementFilled bumps trucksFilled by delta and settles the status
	// on partially_filled or fully_filled in the same statement. Reports
	// false when the order has already left the fillable states.
	IncrementFilled(ctx context.Context, id types.ID, delta int) (*Order, bool, error)
	// FinalizeExpired settles a still-open order after its deadline:
	// expired when nothing was ever assigned, partially_filled otherwise.
	// The bool reports whether the status actually moved; a nil order
	// means it had already left the open states. Callers use both to
	// keep re-runs after a restart from re-publishing notifications.
	FinalizeExpired(ctx context.Context, id types.ID) (*Order, bool, error)

	// AdvanceRouteIndex CASes currentRouteIndex from fromIndex to
	// fromIndex+1; when addTimer is set an open stop-wait timer is
	// recorded for the new index. False means another driver advanced
	// the route first.
	AdvanceRouteIndex(ctx context.Context, orderID types.ID, fromIndex int, arrivedAt time.Time, addTimer bool) (bool, error)
	// CloseStopTimer stamps the departure on the open timer at stopIndex.
	// False means the timer was already closed or never opened.
	CloseStopTimer(ctx context.Context, orderID types.ID, stopIndex int, departedAt time.Time) (*StopWaitTimer, bool, error)

	ListRequests(ctx context.Context, orderID types.ID) ([]*TruckRequest, error)
	// ListSearchingByKey returns the reservable units of one order and
	// vehicle key ordered by requestNumber ascending.
	ListSearchingByKey(ctx context.Context, orderID types.ID, vehicleKey string) ([]*TruckRequest, error)
	// ListOpenByKeys returns searching units across all open, unexpired
	// orders whose vehicle key is in keys (the transporter feed).
	ListOpenByKeys(ctx context.Context, keys []string, now time.Time) ([]*TruckRequest, error)
	// MarkNotified appends the transporters to notifiedTransporters on
	// the given requests, deduplicating.
	MarkNotified(ctx context.Context, requestIDs []types.ID, transporterIDs []types.ID) error

	// MarkHeld CASes one unit searching -> held for the transporter.
	MarkHeld(ctx context.Context, id types.ID, transporterID types.ID, at time.Time) (bool, error)
	// ReleaseHeld CASes held -> searching, only for the owning holder.
	ReleaseHeld(ctx context.Context, id types.ID, transporterID types.ID) (bool, error)
	// MarkAssigned CASes held -> assigned for the owning holder and
	// writes the binding.
	MarkAssigned(ctx context.Context, id types.ID, b Binding) (bool, error)
	// RevertAssigned CASes assigned -> searching, compensation for a
	// vehicle bind that failed after the row was promoted.
	RevertAssigned(ctx context.Context, id types.ID) (bool, error)

	// CloseOpenRequests flips every searching or held unit of the order
	// to the terminal status and returns the rows as they were before
	// the flip (callers need heldBy to release truck locks).
	CloseOpenRequests(ctx context.Context, orderID types.ID, to RequestStatus) ([]*TruckRequest, error)
	// CancelAssigned flips assigned and in_progress units to cancelled;
	// the order-cancel cascade after trips are torn down.
	CancelAssigned(ctx context.Context, orderID types.ID) (int, error)
	// StartRequests flips assigned -> in_progress for the whole order.
	StartRequests(ctx context.Context, orderID types.ID) (int, error)
	// CompleteRequests flips assigned and in_progress -> completed.
	CompleteRequests(ctx context.Context, orderID types.ID) (int, error)
	// ListStaleHeld returns held units whose heldAt is older than the
	// cutoff, for the reconciliation sweep.
	ListStaleHeld(ctx context.Context, olderThan time.Time) ([]*TruckRequest, error)
}
