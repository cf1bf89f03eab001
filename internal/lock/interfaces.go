// Package lock provides the mutual exclusion used by background jobs.
// A single node uses in-process locks; several nodes sharing a backend
// coordinate through Redis.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseLost indicates a lease expired or was taken over before it was renewed.
var ErrLeaseLost = errors.New("lock lease lost")

// Locker grants expiring, exclusive locks by key.
type Locker interface {
	// Acquire takes the lock if it is free. It returns false when another
	// holder has it. The lock expires after ttl unless extended.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release gives up a lock held by this locker.
	// It returns false if the lock was not held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend resets the expiry of a lock held by this locker.
	// It returns false if the lock is no longer held.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld reports whether anyone holds the lock.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Lease is a held lock that its owner renews while working.
type Lease struct {
	locker Locker
	key    string
	ttl    time.Duration
}

// TryAcquire takes the lock at key. It returns a nil lease without error
// when another holder has the lock.
func TryAcquire(ctx context.Context, locker Locker, key string, ttl time.Duration) (*Lease, error) {
	acquired, err := locker.Acquire(ctx, key, ttl)
	if err != nil || !acquired {
		return nil, err
	}
	return &Lease{locker: locker, key: key, ttl: ttl}, nil
}

// Key returns the locked key.
func (l *Lease) Key() string {
	return l.key
}

// Renew pushes the expiry out by the lease TTL. It fails with ErrLeaseLost
// if the lock expired in the meantime.
func (l *Lease) Renew(ctx context.Context) error {
	extended, err := l.locker.Extend(ctx, l.key, l.ttl)
	if err != nil {
		return err
	}
	if !extended {
		return ErrLeaseLost
	}
	return nil
}

// Release gives the lock up.
func (l *Lease) Release(ctx context.Context) error {
	_, err := l.locker.Release(ctx, l.key)
	return err
}

// =============================================================================
// Lock Keys
// =============================================================================

// Keys builds the lock keys used across blobvault.
var Keys = lockKeys{}

type lockKeys struct{}

// OrphanSweep returns the lock key for the orphan payload sweeper.
// Only one process sweeps a given medium at a time.
func (lockKeys) OrphanSweep(kind string) string {
	return "lock:sweep:orphans:" + kind
}

// Store returns the lock key held while one object ID is being stored.
func (lockKeys) Store(objectID string) string {
	return "lock:store:" + objectID
}
