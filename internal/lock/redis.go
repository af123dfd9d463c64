package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "locks:workers:"

// refreshScript extends the TTL only while the value still matches the
// holder token, so a lock that expired and was re-acquired elsewhere is
// never touched.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, role, holder string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, keyPrefix+role, holder, ttl).Result()
}

func (l *RedisLocker) Refresh(ctx context.Context, role, holder string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, l.client, []string{keyPrefix + role}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *RedisLocker) Release(ctx context.Context, role, holder string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{keyPrefix + role}, holder).Result()
	return err
}

var _ Locker = (*RedisLocker)(nil)
