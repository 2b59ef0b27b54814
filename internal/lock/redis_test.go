package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	l, err := NewRedisLock(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	return l, mr
}

func TestLock_SecondAcquireFails(t *testing.T) {
	l, _ := newTestLock(t)
	ctx := context.Background()

	ok, err := l.Lock(ctx, "u1:123", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Lock(ctx, "u1:123", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "same key must not be lockable twice")

	ok, err = l.Lock(ctx, "u1:456", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "different slot keys are independent")
}

func TestLock_UnlockReleases(t *testing.T) {
	l, _ := newTestLock(t)
	ctx := context.Background()

	ok, err := l.Lock(ctx, "u1:123", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Unlock(ctx, "u1:123"))

	ok, err = l.Lock(ctx, "u1:123", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_TTLExpires(t *testing.T) {
	l, mr := newTestLock(t)
	ctx := context.Background()

	ok, err := l.Lock(ctx, "u1:123", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = l.Lock(ctx, "u1:123", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock must expire with its TTL")
}

func TestSlotKey(t *testing.T) {
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "u1:1748858400", SlotKey("u1", start))

	// Same instant in another zone yields the same key.
	assert.Equal(t, SlotKey("u1", start), SlotKey("u1", start.In(time.FixedZone("X", 3600))))
}
