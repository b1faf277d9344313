package memory

import (
	"context"
	"sort"
	"sync"

	"waitnotify-go/internal/domain"
)

// CallbackFailureRepository is an in-memory implementation of store.CallbackFailureRepository.
type CallbackFailureRepository struct {
	mu       sync.RWMutex
	failures map[string][]*domain.CallbackFailure
}

// NewCallbackFailureRepository creates a new in-memory callback failure repository.
func NewCallbackFailureRepository() *CallbackFailureRepository {
	return &CallbackFailureRepository{
		failures: make(map[string][]*domain.CallbackFailure),
	}
}

// Create stores a new failure record.
func (r *CallbackFailureRepository) Create(ctx context.Context, failure *domain.CallbackFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	failureCopy := *failure
	r.failures[failure.WaitInstanceID] = append(r.failures[failure.WaitInstanceID], &failureCopy)
	return nil
}

// ListByWaitInstance returns failure records for a wait instance, newest first.
func (r *CallbackFailureRepository) ListByWaitInstance(ctx context.Context, waitInstanceID string) ([]*domain.CallbackFailure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.failures[waitInstanceID]
	results := make([]*domain.CallbackFailure, 0, len(stored))
	for _, failure := range stored {
		failureCopy := *failure
		results = append(results, &failureCopy)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

// Clear removes all data from the repository. Useful for test cleanup.
func (r *CallbackFailureRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = make(map[string][]*domain.CallbackFailure)
}
