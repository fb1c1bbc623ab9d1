// README: In-memory assignment store for tests and single-node runs.
package trip

import (
	"context"
	"sort"
	"sync"
	"time"

	"haulmatch/internal/types"
)

type MemStore struct {
	mu          sync.RWMutex
	assignments map[types.ID]*Assignment
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{assignments: make(map[types.ID]*Assignment)}
}

func copyAssignment(a *Assignment) *Assignment {
	cp := *a
	return &cp
}

func (s *MemStore) CreateAssignment(_ context.Context, a *Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.ID] = copyAssignment(a)
	return nil
}

func (s *MemStore) GetAssignment(_ context.Context, id types.ID) (*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAssignment(a), nil
}

func (s *MemStore) ListByOrder(_ context.Context, orderID types.ID) ([]*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Assignment
	for _, a := range s.assignments {
		if a.OrderID == orderID {
			out = append(out, copyAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

func (s *MemStore) ActiveByDriver(_ context.Context, driverID types.ID) (*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.assignments {
		if a.DriverID == driverID && !a.Status.Terminal() {
			return copyAssignment(a), nil
		}
	}
	return nil, nil
}

func (s *MemStore) ActiveByOrderAndDriver(_ context.Context, orderID, driverID types.ID) (*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.assignments {
		if a.OrderID == orderID && a.DriverID == driverID && !a.Status.Terminal() {
			return copyAssignment(a), nil
		}
	}
	return nil, nil
}

func (s *MemStore) UpdateStatus(_ context.Context, id types.ID, from []AssignmentStatus, to AssignmentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if a.Status == f {
			a.Status = to
			a.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) CompleteOrderAssignments(_ context.Context, orderID types.ID, at time.Time) ([]*Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flipped []*Assignment
	for _, a := range s.assignments {
		if a.OrderID == orderID && !a.Status.Terminal() {
			a.Status = AssignmentCompleted
			a.CompletedAt = &at
			a.UpdatedAt = time.Now()
			flipped = append(flipped, copyAssignment(a))
		}
	}
	sort.Slice(flipped, func(i, j int) bool { return flipped[i].AssignedAt.Before(flipped[j].AssignedAt) })
	return flipped, nil
}

func (s *MemStore) CancelOrderAssignments(_ context.Context, orderID types.ID) ([]*Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flipped []*Assignment
	for _, a := range s.assignments {
		if a.OrderID == orderID && !a.Status.Terminal() {
			a.Status = AssignmentCancelled
			a.UpdatedAt = time.Now()
			flipped = append(flipped, copyAssignment(a))
		}
	}
	sort.Slice(flipped, func(i, j int) bool { return flipped[i].AssignedAt.Before(flipped[j].AssignedAt) })
	return flipped, nil
}
