package leader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"waitnotify-go/internal/lock"
	"waitnotify-go/internal/metrics"
)

// LockKey is the lock campaigned for by every Lease gate.
const LockKey = "waitnotify:leader"

// Lease is a gate that elects one leader among processes sharing a
// lock.Locker. The leader renews its lease every third of the lease
// duration and loses leadership when a renewal fails.
type Lease struct {
	locker      lock.Locker
	lease       time.Duration
	maintenance atomic.Bool
	now         func() time.Time
	logger      *slog.Logger

	mu   sync.Mutex
	held *lock.Lock
}

// NewLease creates a lease gate. It does not campaign until Run or
// Campaign is called.
func NewLease(locker lock.Locker, lease time.Duration, logger *slog.Logger) *Lease {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &Lease{
		locker: locker,
		lease:  lease,
		now:    time.Now,
		logger: logger,
	}
}

// SetMaintenance turns maintenance mode on or off. A leader in
// maintenance mode resigns on its next campaign.
func (l *Lease) SetMaintenance(maintenance bool) {
	l.maintenance.Store(maintenance)
}

// IsLeader reports whether this process holds an unexpired lease.
func (l *Lease) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held != nil && l.now().Before(l.held.ExpiresAt)
}

// Allow implements Gate.
func (l *Lease) Allow(ctx context.Context) (bool, string) {
	if l.maintenance.Load() {
		return false, ReasonMaintenance
	}
	if !l.IsLeader() {
		return false, ReasonNotLeader
	}
	return true, ""
}

// Campaign runs one election step: a leader extends its lease, anyone
// else tries to take it.
func (l *Lease) Campaign(ctx context.Context) error {
	if l.maintenance.Load() {
		l.Resign(ctx)
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		metrics.IsLeader.Set(boolToFloat(l.held != nil))
	}()

	if l.held != nil {
		ok, err := l.locker.Extend(ctx, l.held, l.lease)
		if err != nil {
			// Keep the lease until it lapses; the next step retries.
			if !l.now().Before(l.held.ExpiresAt) {
				l.held = nil
			}
			return err
		}
		if !ok {
			l.logger.Warn("lost leadership")
			l.held = nil
		}
		return nil
	}

	held, err := l.locker.Acquire(ctx, LockKey, l.lease)
	if err != nil {
		return err
	}
	if held != nil {
		l.logger.Info("acquired leadership", "lease", l.lease)
		l.held = held
	}
	return nil
}

// Resign gives up leadership if held.
func (l *Lease) Resign(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held == nil {
		return
	}
	if err := l.locker.Release(ctx, l.held); err != nil {
		l.logger.Warn("failed to release leadership", "error", err)
	}
	l.held = nil
	metrics.IsLeader.Set(0)
	l.logger.Info("resigned leadership")
}

// Run campaigns until ctx is canceled, then resigns.
func (l *Lease) Run(ctx context.Context) {
	ticker := time.NewTicker(l.lease / 3)
	defer ticker.Stop()

	for {
		if err := l.Campaign(ctx); err != nil && ctx.Err() == nil {
			l.logger.Error("leader campaign failed", "error", err)
		}

		select {
		case <-ctx.Done():
			resignCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			l.Resign(resignCtx)
			cancel()
			return
		case <-ticker.C:
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
