package lock

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	holder  string
	expires time.Time
}

// MemoryLocker is a single-process Locker for development and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memEntry
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memEntry), now: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, role, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[role]
	if ok && l.now().Before(e.expires) && e.holder != holder {
		return false, nil
	}
	l.locks[role] = memEntry{holder: holder, expires: l.now().Add(ttl)}
	return true, nil
}

func (l *MemoryLocker) Refresh(ctx context.Context, role, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[role]
	if !ok || e.holder != holder || l.now().After(e.expires) {
		return false, nil
	}
	l.locks[role] = memEntry{holder: holder, expires: l.now().Add(ttl)}
	return true, nil
}

func (l *MemoryLocker) Release(ctx context.Context, role, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.locks[role]; ok && e.holder == holder {
		delete(l.locks, role)
	}
	return nil
}

var _ Locker = (*MemoryLocker)(nil)
