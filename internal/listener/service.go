// Package listener consumes notify events and fires each wait instance's
// callback exactly once, after every correlation id it waits on has a
// response. Events are only hints: every delivery re-derives completion
// from the store, so duplicates and stale events are harmless.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"waitnotify-go/internal/callback"
	"waitnotify-go/internal/config"
	"waitnotify-go/internal/domain"
	"waitnotify-go/internal/events"
	"waitnotify-go/internal/lock"
	"waitnotify-go/internal/metrics"
	"waitnotify-go/internal/queue"
	"waitnotify-go/internal/store"
	"waitnotify-go/internal/tracing"
)

// LockKey returns the lock name guarding a wait instance's terminal transition.
func LockKey(waitInstanceID string) string {
	return "waitnotify:wait:" + waitInstanceID
}

// Service processes notify events from the queue.
// It is responsible for:
// - Checking that every correlation id of the instance has a response
// - Firing the callback under the per-instance lock
// - Moving the instance to a terminal status
// - Consuming the responses and wait queue rows of the instance
type Service struct {
	consumer  queue.Consumer
	repos     store.Repositories
	locker    lock.Locker
	callbacks *callback.Registry
	lockLease time.Duration
	sampler   *partialSampler
	logger    *slog.Logger
}

// NewService creates a new listener service.
func NewService(
	consumer queue.Consumer,
	repos store.Repositories,
	locker lock.Locker,
	callbacks *callback.Registry,
	cfg config.ListenerConfig,
	logger *slog.Logger,
) *Service {
	lease := cfg.LockLease
	if lease <= 0 {
		lease = time.Minute
	}
	return &Service{
		consumer:  consumer,
		repos:     repos,
		locker:    locker,
		callbacks: callbacks,
		lockLease: lease,
		sampler:   newPartialSampler(cfg.PartialWarnEvery, cfg.PartialErrorThreshold),
		logger:    logger,
	}
}

// Start begins consuming events from the queue and processing them.
// This is a blocking call that runs until the context is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting notify event listener")
	return s.consumer.Start(ctx, s.handleMessage)
}

// Stop gracefully stops the listener.
func (s *Service) Stop() error {
	s.logger.Info("stopping notify event listener")
	return s.consumer.Close()
}

// handleMessage is the callback for processing each message from the queue.
// Only infrastructure errors are returned, so that the queue redelivers.
func (s *Service) handleMessage(ctx context.Context, msg *queue.Message) error {
	event, err := events.Decode(msg)
	if err != nil {
		s.logger.Error("failed to deserialize notify event", "error", err, "key", string(msg.Key))
		metrics.EventsProcessedTotal.WithLabelValues(string(OutcomeInvalid)).Inc()
		// Return nil to avoid reprocessing malformed messages
		return nil
	}

	_, err = s.Handle(ctx, event)
	return err
}

// Handle runs one delivery of event.
func (s *Service) Handle(ctx context.Context, event *domain.NotifyEvent) (result Result, err error) {
	start := time.Now()
	ctx, span := tracing.StartConsumer(ctx, "handle_event", tracing.AttrWaitInstanceID.String(event.WaitInstanceID))
	defer func() {
		span.SetAttributes(tracing.AttrOutcome.String(string(result.Outcome)))
		tracing.End(span, err)
		if err == nil {
			metrics.EventsProcessedTotal.WithLabelValues(string(result.Outcome)).Inc()
		}
		metrics.EventProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	instance, outcome, err := s.loadPending(ctx, event.WaitInstanceID)
	if err != nil || outcome != "" {
		return Result{Outcome: outcome}, err
	}

	rows, err := s.repos.WaitQueue.ListByWaitInstance(ctx, instance.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list wait queue entries: %w", err)
	}
	if len(rows) == 0 {
		s.logger.Debug("no outstanding wait queue entries", "waitInstanceID", instance.ID)
		return Result{Outcome: OutcomeNoQueueRows}, nil
	}

	needed := instance.CorrelationIDs
	if len(needed) == 0 {
		for _, row := range rows {
			needed = append(needed, row.CorrelationID)
		}
	}

	responses, missing, err := s.collectResponses(ctx, needed)
	if err != nil {
		return Result{}, err
	}
	if len(missing) > 0 {
		s.logPartial(ctx, instance.ID, len(needed), missing)
		return Result{Outcome: OutcomePartial, Missing: missing}, nil
	}

	held, err := s.locker.Acquire(ctx, LockKey(instance.ID), s.lockLease)
	if err != nil {
		return Result{}, fmt.Errorf("failed to acquire wait instance lock: %w", err)
	}
	if held == nil {
		s.logger.Debug("wait instance locked by another consumer", "waitInstanceID", instance.ID)
		return Result{Outcome: OutcomeLocked}, nil
	}
	defer s.release(held)

	// Another consumer may have fired the callback between the first check
	// and taking the lock.
	instance, outcome, err = s.loadPending(ctx, instance.ID)
	if err != nil || outcome != "" {
		return Result{Outcome: outcome}, err
	}

	fireCtx, stop := s.keepAlive(ctx, held)
	outcome, status := s.fire(fireCtx, instance, responses)
	stop()

	changed, err := s.repos.WaitInstances.UpdateStatus(ctx, instance.ID, domain.WaitStatusNew, status)
	if err != nil {
		s.logger.Error("failed to update wait instance status",
			"error", err,
			"waitInstanceID", instance.ID,
			"status", status,
		)
	} else if !changed {
		s.logger.Warn("wait instance left new status concurrently", "waitInstanceID", instance.ID)
	}

	cleanup := s.cleanup(ctx, needed, rows)
	for _, c := range cleanup {
		if c.Err != nil {
			s.logger.Error("failed to clean up after callback",
				"error", c.Err,
				"waitInstanceID", instance.ID,
				"kind", c.Kind,
				"id", c.ID,
			)
		}
	}

	metrics.JoinLatency.Observe(time.Since(instance.CreatedAt).Seconds())
	s.logger.Info("wait instance resolved",
		"waitInstanceID", instance.ID,
		"callback", instance.Callback.Name,
		"status", status,
		"correlationIDs", len(needed),
	)

	return Result{Outcome: outcome, Cleanup: cleanup}, nil
}

// loadPending loads the instance and reports a drop outcome when it is
// missing or already terminal.
func (s *Service) loadPending(ctx context.Context, id string) (*domain.WaitInstance, Outcome, error) {
	instance, err := s.repos.WaitInstances.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrWaitInstanceNotFound) {
			s.logger.Warn("wait instance not found", "waitInstanceID", id)
			return nil, OutcomeNotFound, nil
		}
		return nil, "", fmt.Errorf("failed to load wait instance: %w", err)
	}

	if instance.Status != domain.WaitStatusNew {
		s.logger.Debug("wait instance already resolved", "waitInstanceID", id, "status", instance.Status)
		return nil, OutcomeAlreadyDone, nil
	}

	return instance, "", nil
}

// collectResponses builds the response map for ids and lists the ids that
// have no response yet.
func (s *Service) collectResponses(ctx context.Context, ids []string) (domain.Responses, []string, error) {
	stored, err := s.repos.Responses.ListByCorrelationIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list notify responses: %w", err)
	}

	responses := make(domain.Responses, len(stored))
	for _, r := range stored {
		responses[r.CorrelationID] = domain.ResponseData{Payload: r.Payload, Error: r.Error}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := responses[id]; !ok {
			missing = append(missing, id)
		}
	}
	return responses, missing, nil
}

func (s *Service) logPartial(ctx context.Context, waitInstanceID string, total int, missing []string) {
	metrics.MissingResponses.Observe(float64(len(missing)))

	level := s.sampler.level(len(missing))
	attrs := []any{
		"waitInstanceID", waitInstanceID,
		"missing", len(missing),
		"total", total,
	}
	if level < slog.LevelError {
		attrs = append(attrs, "missingIDs", missing)
	}
	s.logger.Log(ctx, level, "wait instance still missing responses", attrs...)
}

// fire resolves and invokes the callback, recording a failure record when
// it errors or panics. It returns the delivery outcome and terminal status.
func (s *Service) fire(ctx context.Context, instance *domain.WaitInstance, responses domain.Responses) (Outcome, domain.WaitStatus) {
	isError := responses.HasError()
	path := "complete"
	if isError {
		path = "error"
	}

	stack, err := s.invoke(ctx, instance.Callback, responses, isError)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues(instance.Callback.Name, path, "failure").Inc()
		s.logger.Error("callback failed",
			"error", err,
			"waitInstanceID", instance.ID,
			"callback", instance.Callback.Name,
		)
		s.recordFailure(ctx, instance, responses, err, stack)
		return OutcomeCallbackFailed, domain.WaitStatusError
	}

	metrics.CallbacksTotal.WithLabelValues(instance.Callback.Name, path, "success").Inc()
	if isError {
		return OutcomeCompleted, domain.WaitStatusError
	}
	return OutcomeCompleted, domain.WaitStatusSuccess
}

// invoke calls the callback and turns a panic into an error. A failed call
// returns the stack it failed on.
func (s *Service) invoke(ctx context.Context, spec domain.CallbackSpec, responses domain.Responses, isError bool) (stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack = string(debug.Stack())
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()

	cb, err := s.callbacks.Resolve(spec)
	if err != nil {
		return "", err
	}

	if isError {
		err = cb.OnError(ctx, responses)
	} else {
		err = cb.OnComplete(ctx, responses)
	}
	if err != nil {
		return fmt.Sprintf("%+v\n\n%s", err, debug.Stack()), err
	}
	return "", nil
}

func (s *Service) recordFailure(ctx context.Context, instance *domain.WaitInstance, responses domain.Responses, cause error, stack string) {
	failure := &domain.CallbackFailure{
		ID:             uuid.New().String(),
		WaitInstanceID: instance.ID,
		Callback:       instance.Callback.Name,
		Error:          cause.Error(),
		Stack:          stack,
		Responses:      responses,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repos.CallbackFailures.Create(ctx, failure); err != nil {
		s.logger.Error("failed to persist callback failure", "error", err, "waitInstanceID", instance.ID)
	}
}

// cleanup marks every response consumed and deletes every wait queue row,
// each step independently.
func (s *Service) cleanup(ctx context.Context, correlationIDs []string, rows []*domain.WaitQueue) []CleanupResult {
	results := make([]CleanupResult, 0, len(correlationIDs)+len(rows))

	for _, id := range correlationIDs {
		err := s.repos.Responses.MarkConsumed(ctx, []string{id})
		results = append(results, CleanupResult{Kind: CleanupMarkConsumed, ID: id, Err: err})
	}

	for _, row := range rows {
		err := s.repos.WaitQueue.Delete(ctx, row.ID)
		results = append(results, CleanupResult{Kind: CleanupDeleteWaitQueue, ID: row.ID, Err: err})
	}

	return results
}

// keepAlive extends the instance lock every third of its lease until stop
// is called. The returned context is canceled when the lock is lost.
func (s *Service) keepAlive(ctx context.Context, held *lock.Lock) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)

		ticker := time.NewTicker(s.lockLease / 3)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := s.locker.Extend(ctx, held, s.lockLease)
				if err != nil {
					s.logger.Warn("failed to extend wait instance lock", "error", err, "key", held.Key)
					continue
				}
				if !ok {
					s.logger.Error("wait instance lock lost while callback runs", "key", held.Key)
					cancel()
					return
				}
			}
		}
	}()

	return ctx, func() {
		close(done)
		<-exited
		cancel()
	}
}

// release gives up the instance lock. It runs on a fresh context so that a
// canceled delivery still releases.
func (s *Service) release(held *lock.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.locker.Release(ctx, held); err != nil {
		s.logger.Warn("failed to release wait instance lock", "error", err, "key", held.Key)
	}
}
