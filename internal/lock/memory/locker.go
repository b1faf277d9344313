// Package memory provides an in-process implementation of lock.Locker.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"waitnotify-go/internal/lock"
)

type entry struct {
	token     string
	expiresAt time.Time
}

// Locker is an in-memory lock.Locker. Leases are enforced lazily on access.
type Locker struct {
	mu    sync.Mutex
	locks map[string]entry
	now   func() time.Time
}

// NewLocker creates a new in-memory locker.
func NewLocker() *Locker {
	return &Locker{
		locks: make(map[string]entry),
		now:   time.Now,
	}
}

// Acquire implements lock.Locker.
func (l *Locker) Acquire(ctx context.Context, key string, lease time.Duration) (*lock.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.locks[key]; ok && now.Before(e.expiresAt) {
		return nil, nil
	}

	held := &lock.Lock{
		Key:       key,
		Token:     uuid.New().String(),
		ExpiresAt: now.Add(lease),
	}
	l.locks[key] = entry{token: held.Token, expiresAt: held.ExpiresAt}
	return held, nil
}

// Release implements lock.Locker.
func (l *Locker) Release(ctx context.Context, held *lock.Lock) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[held.Key]
	if !ok || e.token != held.Token {
		return lock.ErrNotHeld
	}
	delete(l.locks, held.Key)
	if !l.now().Before(e.expiresAt) {
		return lock.ErrNotHeld
	}
	return nil
}

// Extend implements lock.Locker.
func (l *Locker) Extend(ctx context.Context, held *lock.Lock, lease time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.locks[held.Key]
	if !ok || e.token != held.Token || !now.Before(e.expiresAt) {
		return false, nil
	}

	e.expiresAt = now.Add(lease)
	l.locks[held.Key] = e
	held.ExpiresAt = e.expiresAt
	return true, nil
}

// IsLocked reports whether key is currently held. Useful in tests.
func (l *Locker) IsLocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[key]
	return ok && l.now().Before(e.expiresAt)
}
