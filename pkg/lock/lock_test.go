package lock

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
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLocker(client, "relay"), mr
}

func TestAcquireConflictsWhileHeld(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "reconcile:slack", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "reconcile:slack", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	// A different name is an independent lease.
	other, err := locker.Acquire(ctx, "reconcile:resend", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))

	_, err = locker.Acquire(ctx, "reconcile:slack", time.Minute)
	assert.NoError(t, err)
}

func TestReleaseRequiresOwnership(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "dispatch:drain", time.Minute)
	require.NoError(t, err)

	// Another owner took the key after our lease expired underneath us.
	require.NoError(t, mr.Set(lease.Key(), "someone-else"))

	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld)

	got, err := mr.Get(lease.Key())
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got, "release must not delete a lease it no longer owns")
}

func TestExtendPushesExpiry(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "reconcile:notion", time.Second)
	require.NoError(t, err)

	mr.FastForward(600 * time.Millisecond)
	require.NoError(t, lease.Extend(ctx))

	mr.FastForward(600 * time.Millisecond)
	assert.True(t, mr.Exists(lease.Key()), "extended lease should survive past its original TTL")

	mr.FastForward(time.Second)
	assert.False(t, mr.Exists(lease.Key()))
}

func TestExtendAfterExpiryReturnsNotHeld(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "reconcile:tiktok", 50*time.Millisecond)
	require.NoError(t, err)

	mr.FastForward(100 * time.Millisecond)
	assert.ErrorIs(t, lease.Extend(ctx), ErrNotHeld)
}

func TestLockerPrefixesKeys(t *testing.T) {
	locker, _ := newTestLocker(t)

	lease, err := locker.Acquire(context.Background(), "reconcile:slack", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "relay:reconcile:slack", lease.Key())

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	unnamed := NewLocker(client, "")
	lease, err = unnamed.Acquire(context.Background(), "x", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "lease:x", lease.Key())
}
