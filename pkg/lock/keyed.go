package lock

import (
	"context"
	"sync"
	"time"
)

// KeyedLocker is an in-process ConversationLocker backed by one mutex per
// key. Suitable for single-process deployments and tests; multi-worker
// deployments use the redis locker instead.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// NewKeyedLocker creates an in-process keyed locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{entries: make(map[string]*keyedEntry)}
}

// Lock acquires the per-key mutex, honoring context cancellation. The ttl is
// ignored: an in-process holder cannot outlive the process.
func (l *KeyedLocker) Lock(ctx context.Context, key string, _ time.Duration) (UnlockFunc, error) {
	l.mu.Lock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = entry
	}

	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry, false)

		return nil, ctx.Err()
	}

	var once sync.Once

	return func(_ context.Context) error {
		once.Do(func() {
			l.release(key, entry, true)
		})

		return nil
	}, nil
}

func (l *KeyedLocker) release(key string, entry *keyedEntry, held bool) {
	if held {
		<-entry.ch
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}
