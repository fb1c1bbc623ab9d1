// README: TTL cache surface behind holds, truck locks, rate windows, and queues.
package cache

import (
	"context"
	"time"
)

// Store is the cache surface the engine relies on. All operations are atomic
// with respect to a single key.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent; the reservation primitive.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key only while it still holds expect. Used to
	// release owned locks without stomping a successor's acquisition.
	CompareAndDelete(ctx context.Context, key, expect string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Incr increments an integer key, creating it at 1 with ttl on first use.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	LPush(ctx context.Context, key string, values ...string) error
	RPop(ctx context.Context, key string, count int) ([]string, error)
}
