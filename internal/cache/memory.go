// README: In-memory cache store mirroring Redis semantics for tests and single-node runs.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"haulmatch/internal/types"
)

// Memory is a mutex-guarded cache with the same TTL and atomicity semantics
// as the Redis store. Suitable for single-process deployments only: nothing
// is shared across instances and nothing survives a restart.
type Memory struct {
	mu    sync.Mutex
	clock types.Clock
	kv    map[string]memEntry
	sets  map[string]memSet
	lists map[string][]string
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

type memSet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

func NewMemory(clock types.Clock) *Memory {
	if clock == nil {
		clock = types.RealClock()
	}
	return &Memory{
		clock: clock,
		kv:    make(map[string]memEntry),
		sets:  make(map[string]memSet),
		lists: make(map[string][]string),
	}
}

func (m *Memory) expired(deadline time.Time) bool {
	return !deadline.IsZero() && !m.clock.Now().Before(deadline)
}

// live returns the entry for key if present and unexpired, pruning otherwise.
// Caller must hold mu.
func (m *Memory) live(key string) (memEntry, bool) {
	e, ok := m.kv[key]
	if !ok {
		return memEntry{}, false
	}
	if m.expired(e.expiresAt) {
		delete(m.kv, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) liveSet(key string) (memSet, bool) {
	s, ok := m.sets[key]
	if !ok {
		return memSet{}, false
	}
	if m.expired(s.expiresAt) {
		delete(m.sets, key)
		return memSet{}, false
	}
	return s, true
}

func (m *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clock.Now().Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = memEntry{value: value, expiresAt: m.deadline(ttl)}
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.kv[key] = memEntry{value: value, expiresAt: m.deadline(ttl)}
	return true, nil
}

func (m *Memory) CompareAndDelete(_ context.Context, key, expect string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.value != expect {
		return false, nil
	}
	delete(m.kv, key)
	return true, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.kv, k)
		delete(m.sets, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.live(key); ok {
		e.expiresAt = m.deadline(ttl)
		m.kv[key] = e
	}
	if s, ok := m.liveSet(key); ok {
		s.expiresAt = m.deadline(ttl)
		m.sets[key] = s
	}
	return nil
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		m.kv[key] = memEntry{value: "1", expiresAt: m.deadline(ttl)}
		return 1, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	m.kv[key] = e
	return n, nil
}

func (m *Memory) SAdd(_ context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.liveSet(key)
	if !ok {
		s = memSet{members: make(map[string]struct{})}
	}
	for _, v := range members {
		s.members[v] = struct{}{}
	}
	if ttl > 0 {
		s.expiresAt = m.deadline(ttl)
	}
	m.sets[key] = s
	return nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.liveSet(key)
	if !ok {
		return nil
	}
	for _, v := range members {
		delete(s.members, v)
	}
	m.sets[key] = s
	return nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.liveSet(key)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(s.members))
	for v := range s.members {
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// LPUSH pushes one at a time, so the last value ends up at the head.
	head := make([]string, len(values))
	for i, v := range values {
		head[len(values)-1-i] = v
	}
	m.lists[key] = append(head, m.lists[key]...)
	return nil
}

func (m *Memory) RPop(_ context.Context, key string, count int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if len(list) == 0 || count <= 0 {
		return nil, nil
	}
	if count > len(list) {
		count = len(list)
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, list[len(list)-1-i])
	}
	m.lists[key] = list[:len(list)-count]
	return out, nil
}
