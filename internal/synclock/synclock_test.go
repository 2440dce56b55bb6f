package synclock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExclusiveUntilRelease(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, Key("store-a"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, Key("store-a"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = l.Acquire(ctx, Key("store-b"), time.Minute)
	assert.True(t, ok, "locks are per store")

	require.NoError(t, release(ctx))
	assert.ErrorIs(t, release(ctx), ErrNotHeld)

	_, ok, _ = l.Acquire(ctx, Key("store-a"), time.Minute)
	assert.True(t, ok)
}

func TestLocalLeaseExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l := NewLocal()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, ok, _ := l.Acquire(ctx, "k", time.Second)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = l.Acquire(ctx, "k", time.Second)
	require.True(t, ok, "expired lease can be taken over")

	assert.ErrorIs(t, stale(ctx), ErrNotHeld, "stale holder must not free the new lease")
}

func TestRedisLockIntegration(t *testing.T) {
	addr := os.Getenv("KASIRSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set KASIRSYNC_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	r := NewRedis(addr, "", 0)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.Ping(ctx))

	key := Key("it-" + time.Now().UTC().Format("150405.000000"))
	release, ok, err := r.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	assert.ErrorIs(t, release(ctx), ErrNotHeld)
}
