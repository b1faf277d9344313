// Package notifier implements the liveness sweep. It re-derives pending
// work from persisted responses and re-publishes notify events, so that a
// join whose event was lost or raced with registration still completes.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"waitnotify-go/internal/config"
	"waitnotify-go/internal/domain"
	"waitnotify-go/internal/events"
	"waitnotify-go/internal/lock"
	"waitnotify-go/internal/metrics"
	"waitnotify-go/internal/store"
)

// LockKey is the global lock held while a sweep publishes.
const LockKey = "waitnotify:notifier"

// Report summarizes one sweep.
type Report struct {
	// Responses is the number of response ids in the page.
	Responses int
	// Wrapped is true when the page started over from the oldest response.
	Wrapped bool
	// Waits is the number of distinct wait instances found for them.
	Waits int
	// Published is the number of events published.
	Published int
	// Locked is true when another process held the sweep lock.
	Locked bool
}

// Service runs the sweep.
type Service struct {
	repos     store.Repositories
	locker    lock.Locker
	publisher *events.Publisher
	cfg       config.NotifierConfig
	logger    *slog.Logger

	mu sync.Mutex
	// cursor is the last key of the previous full page. Nil starts from
	// the oldest response.
	cursor *domain.ResponseKey
}

// NewService creates a new notifier.
func NewService(
	repos store.Repositories,
	locker lock.Locker,
	publisher *events.Publisher,
	cfg config.NotifierConfig,
	logger *slog.Logger,
) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.LockLease <= 0 {
		cfg.LockLease = time.Minute
	}
	return &Service{
		repos:     repos,
		locker:    locker,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Name implements scheduler.Job.
func (s *Service) Name() string {
	return "notifier"
}

// RunOnce implements scheduler.Job.
func (s *Service) RunOnce(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Run performs one sweep and logs instead of returning failures.
func (s *Service) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notifier sweep panicked", "panic", r)
		}
	}()

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("notifier sweep failed", "error", err)
	}
}

// Sweep queries one page of response ids, finds the wait instances still
// waiting on any of them and publishes one event per instance. Successive
// sweeps resume after the previous full page and wrap around to the oldest
// response once the backlog is exhausted.
func (s *Service) Sweep(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, wrapped, err := s.page(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Responses: len(keys), Wrapped: wrapped}
	if len(keys) == 0 {
		s.logger.Debug("no notify responses to sweep")
		metrics.UnmatchedResponses.Set(0)
		return report, nil
	}
	if len(keys) >= s.cfg.PageSize && wrapped {
		s.logger.Error("notify response backlog fills the sweep page",
			"pageSize", s.cfg.PageSize,
		)
	}

	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = key.CorrelationID
	}

	held, err := s.locker.Acquire(ctx, LockKey, s.cfg.LockLease)
	if err != nil {
		return report, fmt.Errorf("failed to acquire notifier lock: %w", err)
	}
	if held == nil {
		s.logger.Debug("notifier sweep running elsewhere")
		report.Locked = true
		return report, nil
	}
	defer s.release(held)

	if len(keys) < s.cfg.PageSize {
		s.cursor = nil
	} else {
		last := keys[len(keys)-1]
		s.cursor = &last
	}

	rows, err := s.repos.WaitQueue.ListByCorrelationIDs(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("failed to list wait queue entries: %w", err)
	}

	waits := distinctWaits(rows)
	report.Waits = len(waits)
	metrics.UnmatchedResponses.Set(float64(unmatched(ids, rows)))

	if len(waits) == 0 {
		s.logUnmatched(len(ids))
		return report, nil
	}

	for _, waitInstanceID := range waits {
		event := &domain.NotifyEvent{WaitInstanceID: waitInstanceID, CorrelationIDs: ids}
		if err := s.publisher.Publish(ctx, events.SourceNotifier, event); err != nil {
			s.logger.Error("failed to republish notify event",
				"error", err,
				"waitInstanceID", waitInstanceID,
			)
			continue
		}
		report.Published++
	}

	s.logger.Info("notifier sweep published events",
		"responses", report.Responses,
		"waits", report.Waits,
		"published", report.Published,
	)
	return report, nil
}

// page lists the next page after the cursor. An empty page past the cursor
// restarts from the oldest response.
func (s *Service) page(ctx context.Context) ([]domain.ResponseKey, bool, error) {
	filter := domain.ResponseFilter{After: s.cursor, Limit: s.cfg.PageSize}
	keys, err := s.repos.Responses.ListKeys(ctx, filter)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list notify responses: %w", err)
	}
	if len(keys) > 0 || s.cursor == nil {
		return keys, s.cursor == nil, nil
	}

	s.cursor = nil
	filter.After = nil
	keys, err = s.repos.Responses.ListKeys(ctx, filter)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list notify responses: %w", err)
	}
	return keys, true, nil
}

// logUnmatched separates the usual case of consumed responses awaiting
// reaping from a backlog nobody waits on.
func (s *Service) logUnmatched(count int) {
	if s.cfg.WarnThreshold > 0 && count > s.cfg.WarnThreshold {
		s.logger.Error("large volume of notify responses without waiting instances, investigate",
			"responses", count,
			"threshold", s.cfg.WarnThreshold,
		)
		return
	}
	s.logger.Warn("no wait instances reference swept notify responses", "responses", count)
}

func (s *Service) release(held *lock.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.locker.Release(ctx, held); err != nil {
		s.logger.Warn("failed to release notifier lock", "error", err)
	}
}

// distinctWaits returns the wait instance ids of rows in first-seen order.
func distinctWaits(rows []*domain.WaitQueue) []string {
	seen := make(map[string]struct{}, len(rows))
	var ids []string
	for _, row := range rows {
		if _, ok := seen[row.WaitInstanceID]; ok {
			continue
		}
		seen[row.WaitInstanceID] = struct{}{}
		ids = append(ids, row.WaitInstanceID)
	}
	return ids
}

func unmatched(ids []string, rows []*domain.WaitQueue) int {
	referenced := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		referenced[row.CorrelationID] = struct{}{}
	}
	n := 0
	for _, id := range ids {
		if _, ok := referenced[id]; !ok {
			n++
		}
	}
	return n
}
