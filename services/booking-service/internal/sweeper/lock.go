package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker elects one sweeping instance per tick.
type Locker interface {
	// TryLock returns ok=false when another holder owns key. release is
	// non-nil only when ok is true.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete
// release so an expired holder never frees a successor's lock.
type RedisLocker struct {
	rdb redis.Cmdable
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(rdb redis.Cmdable) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}

// localLocker always grants the lock. It is used when no Redis is configured
// and the process is the only sweeper.
type localLocker struct{}

func (localLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}
