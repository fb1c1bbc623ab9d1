// README: Cache-backed hold storage: JSON rows with TTL plus index sets
// per order and per transporter, and an active set for the sweep.
package hold

import (
	"context"
	"encoding/json"
	"time"

	"haulmatch/internal/cache"
	"haulmatch/internal/types"
)

const (
	// rowGrace keeps the row readable slightly past the hold deadline so
	// a confirm racing the TTL still gets a proper EXPIRED answer.
	rowGrace = 5 * time.Second
	// indexGrace keeps the index sets alive past their newest member.
	indexGrace = 30 * time.Second
	// settleTTL keeps a settled hold readable for follow-up requests.
	settleTTL = time.Minute
	// activeSetTTL bounds the sweep set; every Put refreshes it.
	activeSetTTL = 24 * time.Hour

	activeSetKey = "hold:active"
)

func rowKey(id types.ID) string              { return "hold:" + string(id) }
func orderIndexKey(orderID types.ID) string  { return "hold:order:" + string(orderID) }
func transporterIndexKey(id types.ID) string { return "hold:transporter:" + string(id) }

// Store keeps holds in the cache. It is not an interface: the cache.Store
// underneath is already swappable between memory and Redis.
type Store struct {
	cache cache.Store
}

func NewStore(c cache.Store) *Store {
	return &Store{cache: c}
}

// Put writes a fresh active hold and registers it in the order index, the
// transporter index, and the sweep set.
func (s *Store) Put(ctx context.Context, h *Hold, holdDuration time.Duration) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, rowKey(h.ID), string(raw), holdDuration+rowGrace); err != nil {
		return err
	}
	indexTTL := holdDuration + indexGrace
	if err := s.cache.SAdd(ctx, orderIndexKey(h.OrderID), indexTTL, string(h.ID)); err != nil {
		return err
	}
	if err := s.cache.SAdd(ctx, transporterIndexKey(h.TransporterID), indexTTL, string(h.ID)); err != nil {
		return err
	}
	return s.cache.SAdd(ctx, activeSetKey, activeSetTTL, string(h.ID))
}

// Settle writes the hold back with a terminal status and drops it from the
// sweep set. The row stays readable for a minute so clients see the
// outcome.
func (s *Store) Settle(ctx context.Context, h *Hold, to Status) error {
	h.Status = to
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, rowKey(h.ID), string(raw), settleTTL); err != nil {
		return err
	}
	return s.cache.SRem(ctx, activeSetKey, string(h.ID))
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Hold, bool, error) {
	raw, ok, err := s.cache.Get(ctx, rowKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	var h Hold
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, false, err
	}
	return &h, true, nil
}

// ListByOrder loads the order's holds that are still readable. Rows whose
// TTL lapsed are skipped and pruned from the index.
func (s *Store) ListByOrder(ctx context.Context, orderID types.ID) ([]*Hold, error) {
	return s.list(ctx, orderIndexKey(orderID))
}

func (s *Store) ListByTransporter(ctx context.Context, transporterID types.ID) ([]*Hold, error) {
	return s.list(ctx, transporterIndexKey(transporterID))
}

func (s *Store) list(ctx context.Context, indexKey string) ([]*Hold, error) {
	ids, err := s.cache.SMembers(ctx, indexKey)
	if err != nil {
		return nil, err
	}
	out := make([]*Hold, 0, len(ids))
	for _, id := range ids {
		h, ok, err := s.Get(ctx, types.ID(id))
		if err != nil {
			return nil, err
		}
		if !ok {
			_ = s.cache.SRem(ctx, indexKey, id)
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// ActiveIDs lists the sweep candidates.
func (s *Store) ActiveIDs(ctx context.Context) ([]types.ID, error) {
	ids, err := s.cache.SMembers(ctx, activeSetKey)
	if err != nil {
		return nil, err
	}
	out := make([]types.ID, len(ids))
	for i, id := range ids {
		out[i] = types.ID(id)
	}
	return out, nil
}

// Drop removes a vanished hold from the sweep set.
func (s *Store) Drop(ctx context.Context, id types.ID) error {
	return s.cache.SRem(ctx, activeSetKey, string(id))
}
