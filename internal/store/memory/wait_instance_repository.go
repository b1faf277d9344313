// Package memory provides in-memory implementations of the store interfaces.
// These are useful for testing and development without external dependencies.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"waitnotify-go/internal/domain"
)

// WaitInstanceRepository is an in-memory implementation of store.WaitInstanceRepository.
// Expiry is checked on access (lazy expiration) and enforced by DeleteExpired.
type WaitInstanceRepository struct {
	mu        sync.RWMutex
	instances map[string]*domain.WaitInstance
	now       func() time.Time
}

// NewWaitInstanceRepository creates a new in-memory wait instance repository.
func NewWaitInstanceRepository() *WaitInstanceRepository {
	return &WaitInstanceRepository{
		instances: make(map[string]*domain.WaitInstance),
		now:       time.Now,
	}
}

// Create stores a new wait instance.
func (r *WaitInstanceRepository) Create(ctx context.Context, instance *domain.WaitInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.instances[instance.ID] = instance.Clone()
	return nil
}

// GetByID retrieves a wait instance.
func (r *WaitInstanceRepository) GetByID(ctx context.Context, id string) (*domain.WaitInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, exists := r.instances[id]
	if !exists || instance.IsExpired(r.now()) {
		return nil, domain.ErrWaitInstanceNotFound
	}

	return instance.Clone(), nil
}

// UpdateStatus moves an instance from one status to another.
func (r *WaitInstanceRepository) UpdateStatus(ctx context.Context, id string, from, to domain.WaitStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, exists := r.instances[id]
	if !exists || instance.Status != from {
		return false, nil
	}

	instance.Status = to
	instance.UpdatedAt = time.Now().UTC()
	return true, nil
}

// DeleteExpired removes up to limit expired instances.
func (r *WaitInstanceRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*domain.WaitInstance
	for _, instance := range r.instances {
		if instance.IsExpired(now) {
			expired = append(expired, instance)
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	ids := make([]string, 0, len(expired))
	for _, instance := range expired {
		delete(r.instances, instance.ID)
		ids = append(ids, instance.ID)
	}
	return ids, nil
}

// Len returns the number of stored instances, expired ones included.
func (r *WaitInstanceRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Clear removes all data from the repository. Useful for test cleanup.
func (r *WaitInstanceRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = make(map[string]*domain.WaitInstance)
}
