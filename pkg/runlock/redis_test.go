package runlock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/testsupport"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/runlock"
)

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	host, port := testsupport.StartRedis(ctx, t)
	logger := testsupport.Logger()

	client, err := redis.NewClient(ctx, redis.Config{Host: host, Port: port}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker := runlock.NewRedisLocker(client.Redis(), "", logger)

	lock, err := locker.Acquire(ctx, "tenant-1/bank", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "fern:runlock:tenant-1/bank", lock.Key())

	_, err = locker.Acquire(ctx, "tenant-1/bank", time.Minute)
	assert.ErrorIs(t, err, runlock.ErrLockNotAcquired)

	require.NoError(t, lock.Extend(ctx, 2*time.Minute))
	ttl, err := client.Redis().PTTL(ctx, lock.Key()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Minute)

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), runlock.ErrLockNotHeld)
	assert.ErrorIs(t, lock.Extend(ctx, time.Minute), runlock.ErrLockNotHeld)

	short, err := locker.Acquire(ctx, "tenant-1/bank", 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)

	next, err := locker.Acquire(ctx, "tenant-1/bank", time.Minute)
	require.NoError(t, err, "an expired lock is free")
	assert.ErrorIs(t, short.Release(ctx), runlock.ErrLockNotHeld)
	require.NoError(t, next.Release(ctx))
}
