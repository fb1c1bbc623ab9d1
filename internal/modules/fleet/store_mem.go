// README: In-memory fleet store for tests and single-node runs.
package fleet

import (
	"context"
	"sort"
	"sync"

	"haulmatch/internal/types"
)

type MemStore struct {
	mu       sync.RWMutex
	users    map[types.ID]*User
	vehicles map[types.ID]*Vehicle
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		users:    make(map[types.ID]*User),
		vehicles: make(map[types.ID]*Vehicle),
	}
}

func (s *MemStore) UpsertUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemStore) GetUser(_ context.Context, id types.ID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemStore) SetUserAvailability(_ context.Context, id types.ID, available bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return false, nil
	}
	u.IsAvailable = available
	return true, nil
}

func (s *MemStore) SetDeviceToken(_ context.Context, id types.ID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.DeviceToken = token
	return nil
}

func (s *MemStore) DeviceTokens(_ context.Context, ids []types.ID) (map[types.ID]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := make(map[types.ID]string)
	for _, id := range ids {
		if u, ok := s.users[id]; ok && u.DeviceToken != "" {
			tokens[id] = u.DeviceToken
		}
	}
	return tokens, nil
}

func (s *MemStore) UpsertVehicle(_ context.Context, v *Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.vehicles[v.ID]; ok {
		// Operational bindings survive listing edits, as in the SQL upsert.
		v.Status = old.Status
		v.CurrentTripID = old.CurrentTripID
		v.AssignedDriver = old.AssignedDriver
		v.CreatedAt = old.CreatedAt
	}
	cp := *v
	s.vehicles[v.ID] = &cp
	return nil
}

func (s *MemStore) GetVehicle(_ context.Context, id types.ID) (*Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return nil, ErrVehicleNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *MemStore) ListVehiclesByTransporter(_ context.Context, transporterID types.ID) ([]*Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Vehicle
	for _, v := range s.vehicles {
		if v.TransporterID == transporterID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemStore) SetVehicleActive(_ context.Context, id types.ID, active bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return false, nil
	}
	v.IsActive = active
	return true, nil
}

func (s *MemStore) MarkVehicleInTransit(_ context.Context, id, tripID, driverID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok || v.Status != VehicleAvailable || v.CurrentTripID != nil {
		return false, nil
	}
	v.Status = VehicleInTransit
	v.CurrentTripID = &tripID
	v.AssignedDriver = &driverID
	return true, nil
}

func (s *MemStore) ReleaseVehicle(_ context.Context, id, tripID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok || v.CurrentTripID == nil || *v.CurrentTripID != tripID {
		return false, nil
	}
	v.Status = VehicleAvailable
	v.CurrentTripID = nil
	v.AssignedDriver = nil
	return true, nil
}

func (s *MemStore) ListTransportersWithVehicle(_ context.Context, vehicleKey string) ([]types.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[types.ID]struct{})
	var out []types.ID
	for _, v := range s.vehicles {
		if v.VehicleKey != vehicleKey || !v.IsActive || v.Status == VehicleInactive {
			continue
		}
		u, ok := s.users[v.TransporterID]
		if !ok || !u.IsAvailable {
			continue
		}
		if _, dup := seen[v.TransporterID]; dup {
			continue
		}
		seen[v.TransporterID] = struct{}{}
		out = append(out, v.TransporterID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemStore) CountAvailableByKey(_ context.Context, transporterID types.ID, vehicleKey string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, v := range s.vehicles {
		if v.TransporterID == transporterID && v.VehicleKey == vehicleKey &&
			v.IsActive && v.Status == VehicleAvailable {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) ActiveVehicleKeys(_ context.Context, transporterID types.ID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, v := range s.vehicles {
		if v.TransporterID != transporterID || !v.IsActive {
			continue
		}
		if _, dup := seen[v.VehicleKey]; dup {
			continue
		}
		seen[v.VehicleKey] = struct{}{}
		out = append(out, v.VehicleKey)
	}
	sort.Strings(out)
	return out, nil
}
