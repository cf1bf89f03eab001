package lock

import (
	"context"
	"sync"
	"time"
)

// memoryCleanupInterval is how often expired entries are dropped.
const memoryCleanupInterval = 30 * time.Second

// MemoryLocker implements Locker inside one process.
// Locks are not shared with other processes and do not survive a restart.
type MemoryLocker struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time

	stopCh chan struct{}
	once   sync.Once
}

// NewMemoryLocker creates a MemoryLocker and starts its cleanup goroutine.
// Call Stop when done with it.
func NewMemoryLocker() *MemoryLocker {
	m := &MemoryLocker{
		expires: make(map[string]time.Time),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *MemoryLocker) cleanupLoop() {
	ticker := time.NewTicker(memoryCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			now := m.now()
			for key := range m.expires {
				m.liveLocked(key, now)
			}
			m.mu.Unlock()
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (m *MemoryLocker) Stop() {
	m.once.Do(func() { close(m.stopCh) })
}

// liveLocked reports whether key is held at now, dropping it if expired.
func (m *MemoryLocker) liveLocked(key string, now time.Time) bool {
	exp, ok := m.expires[key]
	if !ok {
		return false
	}
	if !now.Before(exp) {
		delete(m.expires, key)
		return false
	}
	return true
}

// Acquire takes the lock if it is free or expired.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.liveLocked(key, now) {
		return false, nil
	}
	m.expires[key] = now.Add(ttl)
	return true, nil
}

// Release drops the lock.
func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.liveLocked(key, m.now())
	delete(m.expires, key)
	return held, nil
}

// Extend resets the expiry of a live lock.
func (m *MemoryLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.liveLocked(key, now) {
		return false, nil
	}
	m.expires[key] = now.Add(ttl)
	return true, nil
}

// IsHeld reports whether the lock is live.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(key, m.now()), nil
}

var _ Locker = (*MemoryLocker)(nil)
