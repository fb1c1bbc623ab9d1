// README: Read-through TTL cache mapping a vehicle key to matching transporters.
package fleet

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"haulmatch/internal/types"
)

// MatchIndex answers "which transporters can serve (type, subtype) right
// now". Entries expire on their own; writers that change the answer call
// Invalidate so their own next read is fresh.
type MatchIndex struct {
	store Store
	cache *gocache.Cache
}

func NewMatchIndex(store Store, ttl time.Duration) *MatchIndex {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MatchIndex{
		store: store,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (m *MatchIndex) Lookup(ctx context.Context, vehicleType, vehicleSubtype string) ([]types.ID, error) {
	key := types.VehicleKey(vehicleType, vehicleSubtype)
	if cached, ok := m.cache.Get(key); ok {
		return cached.([]types.ID), nil
	}
	ids, err := m.store.ListTransportersWithVehicle(ctx, key)
	if err != nil {
		return nil, err
	}
	m.cache.SetDefault(key, ids)
	return ids, nil
}

func (m *MatchIndex) Invalidate(vehicleKeys ...string) {
	for _, key := range vehicleKeys {
		m.cache.Delete(key)
	}
}

func (m *MatchIndex) Flush() {
	m.cache.Flush()
}
