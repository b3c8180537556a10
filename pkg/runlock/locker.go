// Package runlock provides the per-scope lock that allows a single reconciliation run at a time
package runlock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLockNotAcquired is returned when another holder owns the lock
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing or extending a lock that expired or was taken over
	ErrLockNotHeld = errors.New("lock not held")
)

// Locker hands out exclusive, expiring locks by key
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock. It expires after its ttl unless extended.
type Lock interface {
	Key() string
	Release(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) error
}

// KeepAlive extends the lock every ttl/3 until ctx is done. It returns a stop function that waits for the
// loop to exit. onLost is called once if an extension fails.
func KeepAlive(ctx context.Context, lock Lock, ttl time.Duration, onLost func(error)) (stop func()) {
	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Extend(ctx, ttl); err != nil {
					if ctx.Err() != nil {
						return
					}
					if onLost != nil {
						onLost(err)
					}
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
