// README: In-memory order store for tests and single-node runs.
package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"haulmatch/internal/types"
)

type MemStore struct {
	mu       sync.RWMutex
	orders   map[types.ID]*Order
	requests map[types.ID]*TruckRequest
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		orders:   make(map[types.ID]*Order),
		requests: make(map[types.ID]*TruckRequest),
	}
}

func copyOrder(o *Order) *Order {
	cp := *o
	cp.RoutePoints = append([]RoutePoint(nil), o.RoutePoints...)
	cp.StopWaitTimers = append([]StopWaitTimer(nil), o.StopWaitTimers...)
	return &cp
}

func copyRequest(r *TruckRequest) *TruckRequest {
	cp := *r
	cp.NotifiedTransporters = append([]types.ID(nil), r.NotifiedTransporters...)
	return &cp
}

func (s *MemStore) CreateOrder(_ context.Context, o *Order, requests []*TruckRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = copyOrder(o)
	for _, r := range requests {
		s.requests[r.ID] = copyRequest(r)
	}
	return nil
}

func (s *MemStore) GetOrder(_ context.Context, id types.ID) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

func (s *MemStore) ListOrdersByCustomer(_ context.Context, customerID types.ID) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemStore) HasActiveByCustomer(_ context.Context, customerID types.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.CustomerID == customerID && !o.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) ListOpen(_ context.Context) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Order
	for _, o := range s.orders {
		if o.Status == StatusActive || o.Status == StatusPartiallyFilled {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (s *MemStore) UpdateOrderStatus(_ context.Context, id types.ID, from []Status, to Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			o.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) IncrementFilled(_ context.Context, id types.ID, delta int) (*Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || (o.Status != StatusActive && o.Status != StatusPartiallyFilled) {
		return nil, false, nil
	}
	o.TrucksFilled += delta
	if o.TrucksFilled >= o.TotalTrucks {
		o.Status = StatusFullyFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
	o.UpdatedAt = time.Now()
	return copyOrder(o), true, nil
}

func (s *MemStore) FinalizeExpired(_ context.Context, id types.ID) (*Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || (o.Status != StatusActive && o.Status != StatusPartiallyFilled) {
		return nil, false, nil
	}
	progressed := o.TrucksFilled > 0
	if !progressed {
		for _, r := range s.requests {
			if r.OrderID != id {
				continue
			}
			switch r.Status {
			case RequestAssigned, RequestInProgress, RequestCompleted:
				progressed = true
			}
		}
	}
	prev := o.Status
	if progressed {
		o.Status = StatusPartiallyFilled
	} else {
		o.Status = StatusExpired
	}
	o.UpdatedAt = time.Now()
	return copyOrder(o), o.Status != prev, nil
}

func (s *MemStore) AdvanceRouteIndex(_ context.Context, orderID types.ID, fromIndex int, arrivedAt time.Time, addTimer bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.CurrentRouteIndex != fromIndex {
		return false, nil
	}
	o.CurrentRouteIndex = fromIndex + 1
	if addTimer {
		o.StopWaitTimers = append(o.StopWaitTimers, StopWaitTimer{
			StopIndex: fromIndex + 1,
			ArrivedAt: arrivedAt,
		})
	}
	o.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemStore) CloseStopTimer(_ context.Context, orderID types.ID, stopIndex int, departedAt time.Time) (*StopWaitTimer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, false, nil
	}
	for i := range o.StopWaitTimers {
		t := &o.StopWaitTimers[i]
		if t.StopIndex != stopIndex || t.DepartedAt != nil {
			continue
		}
		d := departedAt
		t.DepartedAt = &d
		t.WaitTimeSeconds = int64(departedAt.Sub(t.ArrivedAt) / time.Second)
		o.UpdatedAt = time.Now()
		cp := *t
		return &cp, true, nil
	}
	return nil, false, nil
}

func (s *MemStore) ListRequests(_ context.Context, orderID types.ID) ([]*TruckRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*TruckRequest
	for _, r := range s.requests {
		if r.OrderID == orderID {
			out = append(out, copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestNumber < out[j].RequestNumber })
	return out, nil
}

func (s *MemStore) ListSearchingByKey(_ context.Context, orderID types.ID, vehicleKey string) ([]*TruckRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*TruckRequest
	for _, r := range s.requests {
		if r.OrderID == orderID && r.VehicleKey == vehicleKey && r.Status == RequestSearching {
			out = append(out, copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestNumber < out[j].RequestNumber })
	return out, nil
}

func (s *MemStore) ListOpenByKeys(_ context.Context, keys []string, now time.Time) ([]*TruckRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}
	var out []*TruckRequest
	for _, r := range s.requests {
		if r.Status != RequestSearching {
			continue
		}
		if _, ok := wanted[r.VehicleKey]; !ok {
			continue
		}
		o, ok := s.orders[r.OrderID]
		if !ok || (o.Status != StatusActive && o.Status != StatusPartiallyFilled) || !o.ExpiresAt.After(now) {
			continue
		}
		out = append(out, copyRequest(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID == out[j].OrderID {
			return out[i].RequestNumber < out[j].RequestNumber
		}
		a, b := s.orders[out[i].OrderID], s.orders[out[j].OrderID]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out, nil
}

func (s *MemStore) MarkNotified(_ context.Context, requestIDs []types.ID, transporterIDs []types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range requestIDs {
		r, ok := s.requests[id]
		if !ok {
			continue
		}
		seen := make(map[types.ID]struct{}, len(r.NotifiedTransporters))
		for _, t := range r.NotifiedTransporters {
			seen[t] = struct{}{}
		}
		for _, t := range transporterIDs {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			r.NotifiedTransporters = append(r.NotifiedTransporters, t)
		}
	}
	return nil
}

func (s *MemStore) MarkHeld(_ context.Context, id types.ID, transporterID types.ID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != RequestSearching {
		return false, nil
	}
	r.Status = RequestHeld
	tid := transporterID
	t := at
	r.HeldBy = &tid
	r.HeldAt = &t
	r.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemStore) ReleaseHeld(_ context.Context, id types.ID, transporterID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != RequestHeld || r.HeldBy == nil || *r.HeldBy != transporterID {
		return false, nil
	}
	r.Status = RequestSearching
	r.HeldBy = nil
	r.HeldAt = nil
	r.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemStore) MarkAssigned(_ context.Context, id types.ID, b Binding) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != RequestHeld || r.HeldBy == nil || *r.HeldBy != b.TransporterID {
		return false, nil
	}
	r.Status = RequestAssigned
	tid := b.TransporterID
	at := b.At
	r.AssignedTransporterID = &tid
	r.AssignedVehicleID = b.VehicleID
	r.AssignedVehicleNumber = b.VehicleNumber
	r.AssignedDriverID = b.DriverID
	r.AssignedDriverName = b.DriverName
	r.TripID = b.TripID
	r.AssignedAt = &at
	r.HeldBy = nil
	r.HeldAt = nil
	r.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemStore) RevertAssigned(_ context.Context, id types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != RequestAssigned {
		return false, nil
	}
	r.Status = RequestSearching
	r.AssignedTransporterID = nil
	r.AssignedVehicleID = nil
	r.AssignedVehicleNumber = ""
	r.AssignedDriverID = nil
	r.AssignedDriverName = ""
	r.TripID = nil
	r.AssignedAt = nil
	r.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemStore) CloseOpenRequests(_ context.Context, orderID types.ID, to RequestStatus) ([]*TruckRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var prior []*TruckRequest
	for _, r := range s.requests {
		if r.OrderID != orderID {
			continue
		}
		if r.Status != RequestSearching && r.Status != RequestHeld {
			continue
		}
		prior = append(prior, copyRequest(r))
		r.Status = to
		r.HeldBy = nil
		r.HeldAt = nil
		r.UpdatedAt = time.Now()
	}
	sort.Slice(prior, func(i, j int) bool { return prior[i].RequestNumber < prior[j].RequestNumber })
	return prior, nil
}

func (s *MemStore) StartRequests(_ context.Context, orderID types.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.OrderID == orderID && r.Status == RequestAssigned {
			r.Status = RequestInProgress
			r.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *MemStore) CompleteRequests(_ context.Context, orderID types.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.OrderID == orderID && (r.Status == RequestAssigned || r.Status == RequestInProgress) {
			r.Status = RequestCompleted
			r.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *MemStore) CancelAssigned(_ context.Context, orderID types.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.OrderID == orderID && (r.Status == RequestAssigned || r.Status == RequestInProgress) {
			r.Status = RequestCancelled
			r.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *MemStore) ListStaleHeld(_ context.Context, olderThan time.Time) ([]*TruckRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*TruckRequest
	for _, r := range s.requests {
		if r.Status == RequestHeld && r.HeldAt != nil && r.HeldAt.Before(olderThan) {
			out = append(out, copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HeldAt.Equal(*out[j].HeldAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].HeldAt.Before(*out[j].HeldAt)
	})
	return out, nil
}
