package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, "test:lock:"), srv
}

func TestAcquireIsExclusive(t *testing.T) {
	locker, srv := newTestLocker(t)
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "tick", time.Minute)
	require.NoError(t, err)
	assert.True(t, srv.Exists("test:lock:tick"))

	_, err = locker.Acquire(ctx, "tick", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, srv.Exists("test:lock:tick"))

	again, err := locker.Acquire(ctx, "tick", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLockExpires(t *testing.T) {
	locker, srv := newTestLocker(t)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "tick", time.Second)
	require.NoError(t, err)
	srv.FastForward(2 * time.Second)

	fresh, err := locker.Acquire(ctx, "tick", time.Minute)
	require.NoError(t, err)

	// The stale holder must not delete the new owner's key.
	require.NoError(t, stale.Release(ctx))
	assert.True(t, srv.Exists("test:lock:tick"))
	require.NoError(t, fresh.Release(ctx))
}

func TestNewPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := New(context.Background(), Options{Addr: srv.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	srv.Close()
	_, err = New(context.Background(), Options{Addr: srv.Addr()})
	assert.Error(t, err)
}
