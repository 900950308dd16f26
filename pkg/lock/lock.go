// Package lock provides per-conversation mutual exclusion for event
// processing. Events for different conversations proceed in parallel; within
// one conversation the load-advance-persist sequence must be serialized.
package lock

import (
	"context"
	"time"
)

// UnlockFunc releases a held lock. It must be called unconditionally on all
// exit paths, failure included.
type UnlockFunc func(ctx context.Context) error

// ConversationLocker serializes event processing per conversation key.
type ConversationLocker interface {
	// Lock blocks until the lock for key is acquired or ctx is done. The
	// ttl bounds how long a crashed holder can keep the key locked.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
