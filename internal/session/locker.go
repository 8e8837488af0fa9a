// ABOUTME: Redis-backed distributed lock used to serialize work on one session across processes.
// ABOUTME: Acquire polls SET NX PX; release deletes the key only while the caller's token still owns it.

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// UnlockFunc releases a lock obtained from a Locker.
type UnlockFunc func(ctx context.Context) error

// ErrLockLost is returned by an UnlockFunc when the lock expired and was
// taken by someone else before release.
var ErrLockLost = errors.New("distributed lock no longer held")

// DefaultLockPoll is how often a blocked Lock call retries.
const DefaultLockPoll = 50 * time.Millisecond

var releaseScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLocker hands out mutually exclusive leases keyed by name.
type RedisLocker struct {
	client backend.UniversalClient
	prefix string
	poll   time.Duration
}

// NewRedisLocker creates a locker whose keys are written under prefix.
func NewRedisLocker(client backend.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLocker{client: client, prefix: prefix, poll: DefaultLockPoll}
}

func (l *RedisLocker) lockKey(key string) string {
	return l.prefix + "lock:" + key
}

// Lock blocks until the lease for key is acquired or ctx is done. The lease
// expires on its own after ttl if it is never released.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.lockKey(key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			return func(ctx context.Context) error {
				n, err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Int64()
				if err != nil {
					return fmt.Errorf("releasing lock %s: %w", key, err)
				}
				if n == 0 {
					return ErrLockLost
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
