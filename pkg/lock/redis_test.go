package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waflow/waflow/pkg/lock"
)

func newRedisLocker(t *testing.T) (*lock.RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: server.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	return lock.NewRedisLocker(client, "waflow:"), server
}

func TestRedisLocker_LockAndUnlock(t *testing.T) {
	locker, server := newRedisLocker(t)

	unlock, err := locker.Lock(t.Context(), "conv-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, server.Exists("waflow:lock:conv-1"))

	require.NoError(t, unlock(t.Context()))
	assert.False(t, server.Exists("waflow:lock:conv-1"))
}

func TestRedisLocker_HeldLockBlocksUntilReleased(t *testing.T) {
	locker, _ := newRedisLocker(t)

	unlock, err := locker.Lock(t.Context(), "conv-1", 30*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "conv-1", 30*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(t.Context()))

	unlock, err = locker.Lock(t.Context(), "conv-1", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock(t.Context()))
}

func TestRedisLocker_ExpiredHolderCannotReleaseNewLock(t *testing.T) {
	locker, server := newRedisLocker(t)

	staleUnlock, err := locker.Lock(t.Context(), "conv-1", 50*time.Millisecond)
	require.NoError(t, err)

	// Simulate the holder stalling past its ttl.
	server.FastForward(100 * time.Millisecond)

	unlock, err := locker.Lock(t.Context(), "conv-1", 30*time.Second)
	require.NoError(t, err)

	// The stale holder's release must not delete the new holder's lock.
	require.NoError(t, staleUnlock(t.Context()))
	assert.True(t, server.Exists("waflow:lock:conv-1"))

	require.NoError(t, unlock(t.Context()))
	assert.False(t, server.Exists("waflow:lock:conv-1"))
}

func TestRedisLocker_DifferentKeysDoNotBlock(t *testing.T) {
	locker, _ := newRedisLocker(t)

	unlockA, err := locker.Lock(t.Context(), "conv-a", 30*time.Second)
	require.NoError(t, err)

	unlockB, err := locker.Lock(t.Context(), "conv-b", 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, unlockA(t.Context()))
	require.NoError(t, unlockB(t.Context()))
}
