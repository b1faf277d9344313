package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"waitnotify-go/internal/domain"
)

// NotifyResponseRepository is an in-memory implementation of store.NotifyResponseRepository.
// Responses are kept in a map by correlation id and in a B-tree ordered by
// (created_at, correlation_id) so paging queries return oldest first.
type NotifyResponseRepository struct {
	mu        sync.RWMutex
	responses map[string]*domain.NotifyResponse
	ordered   *btree.BTreeG[*domain.NotifyResponse]
}

// NewNotifyResponseRepository creates a new in-memory notify response repository.
func NewNotifyResponseRepository() *NotifyResponseRepository {
	return &NotifyResponseRepository{
		responses: make(map[string]*domain.NotifyResponse),
		ordered:   btree.NewBTreeG(byCreatedAt),
	}
}

// byCreatedAt orders responses by creation time, then correlation id.
func byCreatedAt(a, b *domain.NotifyResponse) bool {
	return a.Key().Less(b.Key())
}

// Create stores a new response.
func (r *NotifyResponseRepository) Create(ctx context.Context, response *domain.NotifyResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.responses[response.CorrelationID]; exists {
		return domain.ErrResponseExists
	}

	stored := response.Clone()
	r.responses[stored.CorrelationID] = stored
	r.ordered.Set(stored)
	return nil
}

// GetByCorrelationID retrieves a single response.
func (r *NotifyResponseRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.NotifyResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	response, exists := r.responses[correlationID]
	if !exists {
		return nil, domain.ErrResponseNotFound
	}
	return response.Clone(), nil
}

// ListByCorrelationIDs returns the responses that exist for the ids.
func (r *NotifyResponseRepository) ListByCorrelationIDs(ctx context.Context, correlationIDs []string) ([]*domain.NotifyResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*domain.NotifyResponse, 0, len(correlationIDs))
	for _, id := range correlationIDs {
		if response, exists := r.responses[id]; exists {
			results = append(results, response.Clone())
		}
	}
	return results, nil
}

// ListIDs returns correlation ids matching the filter, oldest first.
func (r *NotifyResponseRepository) ListIDs(ctx context.Context, filter domain.ResponseFilter) ([]string, error) {
	keys, err := r.ListKeys(ctx, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = key.CorrelationID
	}
	return ids, nil
}

// ListKeys returns the paging keys of responses matching the filter, oldest first.
func (r *NotifyResponseRepository) ListKeys(ctx context.Context, filter domain.ResponseFilter) ([]domain.ResponseKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var keys []domain.ResponseKey
	iter := func(response *domain.NotifyResponse) bool {
		// The tree is ordered by creation time, nothing later can match.
		if !filter.CreatedBefore.IsZero() && !response.CreatedAt.Before(filter.CreatedBefore) {
			return false
		}
		if filter.Matches(response) {
			keys = append(keys, response.Key())
		}
		return filter.Limit <= 0 || len(keys) < filter.Limit
	}

	if filter.After != nil {
		r.ordered.Ascend(&domain.NotifyResponse{
			CorrelationID: filter.After.CorrelationID,
			CreatedAt:     filter.After.CreatedAt,
		}, iter)
	} else {
		r.ordered.Scan(iter)
	}
	return keys, nil
}

// MarkConsumed sets the status of the responses to success.
func (r *NotifyResponseRepository) MarkConsumed(ctx context.Context, correlationIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range correlationIDs {
		if response, exists := r.responses[id]; exists {
			// Status is not part of the tree ordering, so in-place update is safe.
			response.Status = domain.ResponseStatusSuccess
			response.UpdatedAt = now
		}
	}
	return nil
}

// Delete removes the responses and returns how many were deleted.
func (r *NotifyResponseRepository) Delete(ctx context.Context, correlationIDs []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for _, id := range correlationIDs {
		response, exists := r.responses[id]
		if !exists {
			continue
		}
		delete(r.responses, id)
		r.ordered.Delete(response)
		deleted++
	}
	return deleted, nil
}

// Len returns the number of stored responses.
func (r *NotifyResponseRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.responses)
}

// Clear removes all data from the repository. Useful for test cleanup.
func (r *NotifyResponseRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.responses = make(map[string]*domain.NotifyResponse)
	r.ordered = btree.NewBTreeG(byCreatedAt)
}
