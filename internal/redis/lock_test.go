package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSlotLockerReleasesAfterRun(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)

	var sawKey bool
	err := locker.WithSlotLock(context.Background(), 42, func(ctx context.Context) error {
		sawKey = mr.Exists("lock:availability:42")
		return nil
	})

	require.NoError(t, err)
	assert.True(t, sawKey, "lock key should exist while fn runs")
	assert.False(t, mr.Exists("lock:availability:42"), "lock key should be released")
}

func TestRedisSlotLockerRejectsContention(t *testing.T) {
	mr, client := newTestClient(t)
	require.NoError(t, mr.Set("lock:availability:9", "someone-else"))

	locker := NewRedisSlotLocker(client, 5*time.Second)

	called := false
	err := locker.WithSlotLock(context.Background(), 9, func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)

	got, err := mr.Get("lock:availability:9")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got, "foreign lock must not be released")
}

func TestRedisSlotLockerPropagatesFnError(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)

	boom := errors.New("boom")
	err := locker.WithSlotLock(context.Background(), 3, func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:availability:3"))
}

func TestLocalSlotLockerRejectsNestedAcquire(t *testing.T) {
	locker := NewLocalSlotLocker()

	err := locker.WithSlotLock(context.Background(), 1, func(ctx context.Context) error {
		inner := locker.WithSlotLock(ctx, 1, func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)

		other := locker.WithSlotLock(ctx, 2, func(context.Context) error { return nil })
		assert.NoError(t, other)
		return nil
	})
	require.NoError(t, err)

	err = locker.WithSlotLock(context.Background(), 1, func(context.Context) error { return nil })
	assert.NoError(t, err, "lock should be free again")
}

func TestNewLockerFallsBackWithoutClient(t *testing.T) {
	_, ok := NewLocker(nil, time.Second).(*localSlotLocker)
	assert.True(t, ok)

	_, client := newTestClient(t)
	_, ok = NewLocker(client, time.Second).(*redisSlotLocker)
	assert.True(t, ok)
}
