// Package store defines the persistence interfaces of the wait/notify engine.
// These abstractions allow swapping implementations (PostgreSQL, SQLite,
// in-memory) without changing the engine, listener or background jobs.
package store

import (
	"context"
	"time"

	"waitnotify-go/internal/domain"
)

// WaitInstanceRepository persists registered joins.
type WaitInstanceRepository interface {
	// Create stores a new wait instance.
	Create(ctx context.Context, instance *domain.WaitInstance) error

	// GetByID retrieves a wait instance. Expired instances are reported as
	// domain.ErrWaitInstanceNotFound.
	GetByID(ctx context.Context, id string) (*domain.WaitInstance, error)

	// UpdateStatus moves an instance from one status to another atomically.
	// Returns false when the instance is missing or not in the from status.
	UpdateStatus(ctx context.Context, id string, from, to domain.WaitStatus) (bool, error)

	// DeleteExpired removes up to limit instances whose expiry is at or
	// before now and returns their ids.
	DeleteExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// WaitQueueRepository persists the outstanding (wait instance, correlation id) pairs.
type WaitQueueRepository interface {
	// Create stores a new wait queue row.
	Create(ctx context.Context, entry *domain.WaitQueue) error

	// ListByWaitInstance returns all rows still outstanding for a wait instance.
	ListByWaitInstance(ctx context.Context, waitInstanceID string) ([]*domain.WaitQueue, error)

	// ListByCorrelationIDs returns all rows waiting on any of the ids.
	ListByCorrelationIDs(ctx context.Context, correlationIDs []string) ([]*domain.WaitQueue, error)

	// Delete removes a single row. Deleting a missing row is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteByWaitInstances removes every row of the given wait instances.
	DeleteByWaitInstances(ctx context.Context, waitInstanceIDs []string) (int, error)
}

// NotifyResponseRepository persists completions, one per correlation id.
type NotifyResponseRepository interface {
	// Create stores a new response. Returns domain.ErrResponseExists if the
	// correlation id already has one.
	Create(ctx context.Context, response *domain.NotifyResponse) error

	// GetByCorrelationID retrieves a single response.
	GetByCorrelationID(ctx context.Context, correlationID string) (*domain.NotifyResponse, error)

	// ListByCorrelationIDs returns the responses that exist for the ids.
	ListByCorrelationIDs(ctx context.Context, correlationIDs []string) ([]*domain.NotifyResponse, error)

	// ListIDs returns correlation ids matching the filter, oldest first.
	ListIDs(ctx context.Context, filter domain.ResponseFilter) ([]string, error)

	// ListKeys is ListIDs returning paging keys, for resuming with filter.After.
	ListKeys(ctx context.Context, filter domain.ResponseFilter) ([]domain.ResponseKey, error)

	// MarkConsumed sets the status of the responses to success.
	MarkConsumed(ctx context.Context, correlationIDs []string) error

	// Delete removes the responses and returns how many were deleted.
	Delete(ctx context.Context, correlationIDs []string) (int, error)
}

// CallbackFailureRepository persists diagnostic records of failed callbacks.
type CallbackFailureRepository interface {
	// Create stores a new failure record.
	Create(ctx context.Context, failure *domain.CallbackFailure) error

	// ListByWaitInstance returns failure records for a wait instance, newest first.
	ListByWaitInstance(ctx context.Context, waitInstanceID string) ([]*domain.CallbackFailure, error)
}

// Repositories bundles the repositories of one storage backend.
type Repositories struct {
	WaitInstances    WaitInstanceRepository
	WaitQueue        WaitQueueRepository
	Responses        NotifyResponseRepository
	CallbackFailures CallbackFailureRepository
}
