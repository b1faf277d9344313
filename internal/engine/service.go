// Package engine provides the entry points of the wait/notify join:
// registering a wait over a set of correlation ids and reporting the
// completion of one id. Neither call blocks on the join resolving; the
// callback fires later from the listener.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"waitnotify-go/internal/callback"
	"waitnotify-go/internal/domain"
	"waitnotify-go/internal/events"
	"waitnotify-go/internal/metrics"
	"waitnotify-go/internal/store"
	"waitnotify-go/internal/tracing"
)

// Service implements WaitForAll, Notify and NotifyError.
// It is responsible for:
// - Validating registrations against the callback registry
// - Persisting wait instances, wait queue rows and responses
// - Publishing notify events for every wait instance a response affects
type Service struct {
	repos     store.Repositories
	publisher *events.Publisher
	callbacks *callback.Registry
	waitTTL   time.Duration
	logger    *slog.Logger
}

// NewService creates a new engine service. A non-positive waitTTL selects
// domain.DefaultWaitInstanceTTL.
func NewService(
	repos store.Repositories,
	publisher *events.Publisher,
	callbacks *callback.Registry,
	waitTTL time.Duration,
	logger *slog.Logger,
) *Service {
	if waitTTL <= 0 {
		waitTTL = domain.DefaultWaitInstanceTTL
	}
	return &Service{
		repos:     repos,
		publisher: publisher,
		callbacks: callbacks,
		waitTTL:   waitTTL,
		logger:    logger,
	}
}

// WaitForAll registers a join over correlationIDs and returns the wait
// instance id. The timeout is stored with the instance but is not enforced.
//
// The instance is written before its wait queue rows and the two writes are
// not atomic. A response that lands between them is found by the existing-response check at
// the end of registration or by the notifier sweep.
func (s *Service) WaitForAll(ctx context.Context, timeout time.Duration, cb domain.CallbackSpec, correlationIDs ...string) (id string, err error) {
	ctx, span := tracing.Start(ctx, "wait_for_all", tracing.AttrCallback.String(cb.Name), tracing.AttrCount.Int(len(correlationIDs)))
	defer func() { tracing.End(span, err) }()

	ids, err := domain.NormalizeCorrelationIDs(correlationIDs)
	if err != nil {
		return "", err
	}
	if err := cb.Validate(); err != nil {
		return "", err
	}
	if err := s.callbacks.Validate(cb); err != nil {
		return "", err
	}

	instance := domain.NewWaitInstance(uuid.New().String(), ids, cb, timeout, s.waitTTL)
	span.SetAttributes(tracing.AttrWaitInstanceID.String(instance.ID))

	if err := s.repos.WaitInstances.Create(ctx, instance); err != nil {
		s.logger.Error("failed to persist wait instance", "error", err, "callback", cb.Name)
		return "", fmt.Errorf("failed to persist wait instance: %w", err)
	}

	for _, correlationID := range ids {
		entry := &domain.WaitQueue{
			ID:             uuid.New().String(),
			WaitInstanceID: instance.ID,
			CorrelationID:  correlationID,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.repos.WaitQueue.Create(ctx, entry); err != nil {
			s.logger.Error("failed to persist wait queue entry",
				"error", err,
				"waitInstanceID", instance.ID,
				"correlationID", correlationID,
			)
			return "", fmt.Errorf("failed to persist wait queue entry: %w", err)
		}
	}
	tracing.AddEvent(ctx, "wait_queue_written")

	metrics.WaitsRegisteredTotal.WithLabelValues(cb.Name).Inc()
	metrics.WaitCorrelationIDs.Observe(float64(len(ids)))

	s.publishIfAnswered(ctx, instance)

	s.logger.Debug("wait instance registered",
		"waitInstanceID", instance.ID,
		"callback", cb.Name,
		"correlationIDs", len(ids),
	)

	return instance.ID, nil
}

// publishIfAnswered publishes an event right away if some of the ids
// already have responses. Failures are left to the notifier sweep.
func (s *Service) publishIfAnswered(ctx context.Context, instance *domain.WaitInstance) {
	responses, err := s.repos.Responses.ListByCorrelationIDs(ctx, instance.CorrelationIDs)
	if err != nil {
		s.logger.Warn("failed to look up existing responses", "error", err, "waitInstanceID", instance.ID)
		return
	}
	if len(responses) == 0 {
		return
	}

	event := &domain.NotifyEvent{WaitInstanceID: instance.ID}
	for _, r := range responses {
		event.CorrelationIDs = append(event.CorrelationIDs, r.CorrelationID)
		event.Error = event.Error || r.Error
	}

	if err := s.publisher.Publish(ctx, events.SourceRegister, event); err != nil {
		s.logger.Warn("failed to publish registration event", "error", err, "waitInstanceID", instance.ID)
	}
}

// Notify records a successful completion of correlationID and returns the
// notification id.
func (s *Service) Notify(ctx context.Context, correlationID string, payload json.RawMessage) (string, error) {
	return s.notify(ctx, correlationID, payload, false)
}

// NotifyError records a failed completion of correlationID and returns the
// notification id.
func (s *Service) NotifyError(ctx context.Context, correlationID string, payload json.RawMessage) (string, error) {
	return s.notify(ctx, correlationID, payload, true)
}

func (s *Service) notify(ctx context.Context, correlationID string, payload json.RawMessage, isError bool) (id string, err error) {
	ctx, span := tracing.Start(ctx, "notify", tracing.AttrCorrelationID.String(correlationID))
	defer func() { tracing.End(span, err) }()

	kind := "success"
	if isError {
		kind = "error"
	}

	if strings.TrimSpace(correlationID) == "" {
		return "", domain.ErrEmptyCorrelationID
	}

	response := domain.NewNotifyResponse(correlationID, payload, isError)
	if err := s.repos.Responses.Create(ctx, response); err != nil {
		if errors.Is(err, domain.ErrResponseExists) {
			metrics.ResponsesReceivedTotal.WithLabelValues(kind, "duplicate").Inc()
			s.logger.Warn("duplicate response rejected", "correlationID", correlationID)
			return "", err
		}
		metrics.ResponsesReceivedTotal.WithLabelValues(kind, "failed").Inc()
		s.logger.Error("failed to persist notify response", "error", err, "correlationID", correlationID)
		return "", fmt.Errorf("failed to persist notify response: %w", err)
	}
	metrics.ResponsesReceivedTotal.WithLabelValues(kind, "stored").Inc()

	// The response is durable from here on; anything that fails below is
	// recovered by the notifier sweep.
	rows, err := s.repos.WaitQueue.ListByCorrelationIDs(ctx, []string{correlationID})
	if err != nil {
		s.logger.Error("failed to look up waiting instances", "error", err, "correlationID", correlationID)
		return correlationID, nil
	}

	for _, waitInstanceID := range distinctWaitInstances(rows) {
		event := &domain.NotifyEvent{
			WaitInstanceID: waitInstanceID,
			CorrelationIDs: []string{correlationID},
			Error:          isError,
		}
		if err := s.publisher.Publish(ctx, events.SourceNotify, event); err != nil {
			s.logger.Error("failed to publish notify event",
				"error", err,
				"waitInstanceID", waitInstanceID,
				"correlationID", correlationID,
			)
		}
	}

	s.logger.Debug("response recorded",
		"correlationID", correlationID,
		"isError", isError,
		"waitInstances", len(rows),
	)

	return correlationID, nil
}

// distinctWaitInstances returns the wait instance ids of rows in first-seen order.
func distinctWaitInstances(rows []*domain.WaitQueue) []string {
	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.WaitInstanceID]; ok {
			continue
		}
		seen[row.WaitInstanceID] = struct{}{}
		ids = append(ids, row.WaitInstanceID)
	}
	return ids
}
