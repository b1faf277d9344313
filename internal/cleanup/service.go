// Package cleanup reaps consumed notify responses and expired wait
// instances so that storage stays bounded.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"waitnotify-go/internal/config"
	"waitnotify-go/internal/domain"
	"waitnotify-go/internal/metrics"
	"waitnotify-go/internal/store"
)

// Kind names what a reap step deleted.
type Kind string

const (
	// KindResponse is a consumed notify response, or a pending one past
	// retention.
	KindResponse Kind = "notify_response"
	// KindWaitInstance is an expired wait instance.
	KindWaitInstance Kind = "wait_instance"
	// KindWaitQueue is the wait queue rows of one expired wait instance.
	KindWaitQueue Kind = "wait_queue"
)

// Item is the result of deleting one record.
type Item struct {
	Kind Kind
	ID   string
	Err  error
}

// Report lists everything one reap touched.
type Report struct {
	Items []Item

	// Skipped lists responses kept because a wait queue row still
	// references them.
	Skipped []string
}

// Errors returns the items that failed.
func (r Report) Errors() []Item {
	var failed []Item
	for _, item := range r.Items {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// Deleted counts the successful items of a kind.
func (r Report) Deleted(kind Kind) int {
	n := 0
	for _, item := range r.Items {
		if item.Kind == kind && item.Err == nil {
			n++
		}
	}
	return n
}

// Service is the reaper.
type Service struct {
	repos  store.Repositories
	cfg    config.CleanupConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a new reaper.
func NewService(repos store.Repositories, cfg config.CleanupConfig, logger *slog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 2500
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.PendingRetention <= 0 {
		cfg.PendingRetention = 7 * 24 * time.Hour
	}
	return &Service{
		repos:  repos,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// Name implements scheduler.Job.
func (s *Service) Name() string {
	return "cleanup"
}

// RunOnce implements scheduler.Job.
func (s *Service) RunOnce(ctx context.Context) error {
	_, err := s.Reap(ctx)
	return err
}

// Run performs one reap and logs instead of returning failures.
func (s *Service) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cleanup panicked", "panic", r)
		}
	}()

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("cleanup failed", "error", err)
	}
}

// Reap deletes one batch of expired wait instances with their rows, then
// one batch of consumed responses older than the grace window and one batch
// of pending responses older than the retention window, keeping any that a
// wait queue row references. Query failures abort and are returned;
// per-record delete failures land in the report.
func (s *Service) Reap(ctx context.Context) (Report, error) {
	var report Report

	if err := s.purgeExpired(ctx, &report); err != nil {
		return report, err
	}
	now := s.now()
	consumed := domain.ResponseFilter{
		Status:        domain.ResponseStatusSuccess,
		CreatedBefore: now.Add(-s.cfg.Grace),
		Limit:         s.cfg.BatchSize,
	}
	if err := s.reapResponses(ctx, consumed, &report); err != nil {
		return report, err
	}
	stale := domain.ResponseFilter{
		Status:        domain.ResponseStatusPending,
		CreatedBefore: now.Add(-s.cfg.PendingRetention),
		Limit:         s.cfg.BatchSize,
	}
	if err := s.reapResponses(ctx, stale, &report); err != nil {
		return report, err
	}

	for _, item := range report.Items {
		if item.Err != nil {
			metrics.CleanupFailuresTotal.WithLabelValues(string(item.Kind)).Inc()
			s.logger.Warn("failed to delete record", "error", item.Err, "kind", item.Kind, "id", item.ID)
			continue
		}
		metrics.CleanupDeletedTotal.WithLabelValues(string(item.Kind)).Inc()
	}

	if len(report.Items) > 0 || len(report.Skipped) > 0 {
		s.logger.Info("cleanup finished",
			"responses", report.Deleted(KindResponse),
			"waitInstances", report.Deleted(KindWaitInstance),
			"skipped", len(report.Skipped),
			"failed", len(report.Errors()),
		)
	}
	return report, nil
}

func (s *Service) purgeExpired(ctx context.Context, report *Report) error {
	ids, err := s.repos.WaitInstances.DeleteExpired(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to delete expired wait instances: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	for _, id := range ids {
		report.Items = append(report.Items, Item{Kind: KindWaitInstance, ID: id})
	}

	report.Items = append(report.Items, deleteBatch(ids, KindWaitQueue, func(batch []string) error {
		_, err := s.repos.WaitQueue.DeleteByWaitInstances(ctx, batch)
		return err
	})...)
	return nil
}

func (s *Service) reapResponses(ctx context.Context, filter domain.ResponseFilter, report *Report) error {
	ids, err := s.repos.Responses.ListIDs(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list %s notify responses: %w", filter.Status, err)
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := s.repos.WaitQueue.ListByCorrelationIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to list referencing wait queue entries: %w", err)
	}

	referenced := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		referenced[row.CorrelationID] = struct{}{}
	}

	deletable := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := referenced[id]; ok {
			report.Skipped = append(report.Skipped, id)
			continue
		}
		deletable = append(deletable, id)
	}
	if len(deletable) == 0 {
		return nil
	}

	report.Items = append(report.Items, deleteBatch(deletable, KindResponse, func(batch []string) error {
		_, err := s.repos.Responses.Delete(ctx, batch)
		return err
	})...)
	return nil
}

// deleteBatch deletes ids in one call and falls back to one call per id
// when the batch fails, so one bad record does not hold back the rest.
func deleteBatch(ids []string, kind Kind, del func([]string) error) []Item {
	items := make([]Item, 0, len(ids))

	if err := del(ids); err == nil {
		for _, id := range ids {
			items = append(items, Item{Kind: kind, ID: id})
		}
		return items
	}

	for _, id := range ids {
		items = append(items, Item{Kind: kind, ID: id, Err: del([]string{id})})
	}
	return items
}
