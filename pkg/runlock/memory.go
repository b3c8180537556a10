package runlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is an in-process Locker for single-instance deployments and tests
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

// WithClock replaces the clock used for expiry
func (l *MemoryLocker) WithClock(now func() time.Time) *MemoryLocker {
	l.now = now
	return l
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.locks[key]; ok && now.Before(entry.expiresAt) {
		return nil, ErrLockNotAcquired
	}

	token := uuid.New().String()
	l.locks[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return &memoryLock{locker: l, key: key, token: token}, nil
}

type memoryLock struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (m *memoryLock) Key() string {
	return m.key
}

// held must be called with the locker mutex held
func (m *memoryLock) held() bool {
	entry, ok := m.locker.locks[m.key]
	return ok && entry.token == m.token && m.locker.now().Before(entry.expiresAt)
}

func (m *memoryLock) Release(_ context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()

	if !m.held() {
		return ErrLockNotHeld
	}
	delete(m.locker.locks, m.key)
	return nil
}

func (m *memoryLock) Extend(_ context.Context, ttl time.Duration) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()

	if !m.held() {
		return ErrLockNotHeld
	}
	m.locker.locks[m.key] = memoryEntry{token: m.token, expiresAt: m.locker.now().Add(ttl)}
	return nil
}
