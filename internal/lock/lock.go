// Package lock defines named, non-reentrant mutual exclusion with a lease.
// A lock that is not released expires on its own once the lease elapses.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotHeld is returned when releasing a lock whose lease was lost.
var ErrNotHeld = errors.New("lock not held")

// Lock is a held lease on a named key.
type Lock struct {
	// Key is the name that was locked.
	Key string

	// Token identifies this holder. Only the holder with the matching token
	// may release or extend the lock.
	Token string

	// ExpiresAt is when the lease lapses unless extended.
	ExpiresAt time.Time
}

// Locker acquires and releases named leases.
// Implementations must be safe for concurrent use.
type Locker interface {
	// Acquire tries once to take the named lock. It returns nil and no error
	// when the lock is held by someone else.
	Acquire(ctx context.Context, key string, lease time.Duration) (*Lock, error)

	// Release gives up the lock. Releasing an expired or stolen lock returns
	// ErrNotHeld.
	Release(ctx context.Context, l *Lock) error

	// Extend renews the lease. It returns false when the lock is no longer held.
	Extend(ctx context.Context, l *Lock, lease time.Duration) (bool, error)
}
