package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// ErrLockAcquire is returned when the distributed lock cannot be acquired.
var ErrLockAcquire = errors.New("failed to acquire distributed lock")

const acquirePollInterval = 50 * time.Millisecond

// releaseScript deletes the lock key only when the stored token matches, so
// an expired holder cannot release a lock re-acquired by someone else.
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// RedisLocker implements ConversationLocker with Redis SET NX PX, for
// deployments where multiple workers process events for the same
// conversation set.
type RedisLocker struct {
	client backend.UniversalClient
	prefix string
}

// NewRedisLocker creates a Redis-backed conversation locker.
func NewRedisLocker(client backend.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Lock polls SET NX until the lock for key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.New().String()

	ticker := time.NewTicker(acquirePollInterval)
	defer ticker.Stop()

	for {
		acquired, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLockAcquire, err)
		}

		if acquired {
			return func(ctx context.Context) error {
				err := l.client.Eval(ctx, releaseScript, []string{lockKey}, token).Err()
				if err != nil {
					return fmt.Errorf("failed to release lock %s: %w", lockKey, err)
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
