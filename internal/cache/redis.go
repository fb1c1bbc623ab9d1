// README: Redis-backed cache store; owner-checked release and INCR windows via Lua.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareAndDeleteScript deletes the key only while it still holds the
// expected value, so a lock can never be released by anyone but its owner.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// incrWithTTLScript increments and sets the window TTL only on first use, so
// a fixed rate window is not extended by later hits.
var incrWithTTLScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Redis is the production cache store.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *Redis) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, r.client, []string{key}, expect).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrWithTTLScript.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Redis) SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, key, vals...)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return r.client.SRem(ctx, key, vals...).Err()
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *Redis) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	vals := make([]interface{}, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return r.client.LPush(ctx, key, vals...).Err()
}

func (r *Redis) RPop(ctx context.Context, key string, count int) ([]string, error) {
	vals, err := r.client.RPopCount(ctx, key, count).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return vals, nil
}
