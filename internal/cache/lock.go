// README: Named SETNX locks with owner-only release.
package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const lockPrefix = "lock:"

// LockManager provides named distributed locks with owner tokens and TTL.
// Locks self-heal: an owner that dies simply lets the TTL lapse. Only the
// holder of the token (or the declared owner value) can release early.
type LockManager struct {
	store Store
}

func NewLockManager(store Store) *LockManager {
	return &LockManager{store: store}
}

// Acquire takes the named lock with a random owner token. ok=false means the
// lock is currently held by someone else.
func (l *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.store.SetNX(ctx, lockPrefix+name, token, ttl)
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// AcquireOwned takes the named lock with a caller-supplied owner value, e.g.
// the transporter id on a truck lock. The stored value is visible to reads.
func (l *LockManager) AcquireOwned(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return l.store.SetNX(ctx, lockPrefix+name, owner, ttl)
}

// Release drops the lock only while the given token/owner still holds it.
// Releasing a lock that has already lapsed or been taken over is a no-op.
func (l *LockManager) Release(ctx context.Context, name, tokenOrOwner string) error {
	_, err := l.store.CompareAndDelete(ctx, lockPrefix+name, tokenOrOwner)
	return err
}

// Owner reports who currently holds the named lock.
func (l *LockManager) Owner(ctx context.Context, name string) (string, bool, error) {
	return l.store.Get(ctx, lockPrefix+name)
}
