package runlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryLocker_Exclusive(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	lock, err := locker.Acquire(ctx, "tenant/bank", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "tenant/bank", lock.Key())

	_, err = locker.Acquire(ctx, "tenant/bank", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	other, err := locker.Acquire(ctx, "tenant/ledger", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)

	again, err := locker.Acquire(ctx, "tenant/bank", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)}
	locker := NewMemoryLocker().WithClock(clock.Now)

	stale, err := locker.Acquire(ctx, "scope", time.Minute)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	require.NoError(t, stale.Extend(ctx, time.Minute))

	clock.Advance(45 * time.Second)
	_, err = locker.Acquire(ctx, "scope", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotAcquired, "extension keeps the lock alive")

	clock.Advance(time.Minute)
	fresh, err := locker.Acquire(ctx, "scope", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, stale.Extend(ctx, time.Minute), ErrLockNotHeld)
	assert.ErrorIs(t, stale.Release(ctx), ErrLockNotHeld)
	require.NoError(t, fresh.Release(ctx))
}

func TestMemoryLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryLocker().Acquire(ctx, "scope", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

type countingLock struct {
	mu      sync.Mutex
	extends int
	fail    error
}

func (c *countingLock) Key() string                     { return "scope" }
func (c *countingLock) Release(_ context.Context) error { return nil }
func (c *countingLock) Extend(_ context.Context, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extends++
	return c.fail
}

func (c *countingLock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extends
}

func TestKeepAlive(t *testing.T) {
	t.Run("extends until stopped", func(t *testing.T) {
		lock := &countingLock{}
		stop := KeepAlive(context.Background(), lock, 30*time.Millisecond, nil)
		require.Eventually(t, func() bool { return lock.count() >= 2 }, time.Second, 5*time.Millisecond)
		stop()

		after := lock.count()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, after, lock.count())
	})

	t.Run("reports a lost lock once", func(t *testing.T) {
		lock := &countingLock{fail: ErrLockNotHeld}
		lost := make(chan error, 2)
		stop := KeepAlive(context.Background(), lock, 15*time.Millisecond, func(err error) { lost <- err })
		defer stop()

		select {
		case err := <-lost:
			assert.ErrorIs(t, err, ErrLockNotHeld)
		case <-time.After(time.Second):
			t.Fatal("lost callback not called")
		}
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, 1, lock.count())
	})
}
