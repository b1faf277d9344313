package memory

import (
	"context"
	"sort"
	"sync"

	"waitnotify-go/internal/domain"
)

// WaitQueueRepository is an in-memory implementation of store.WaitQueueRepository.
// Rows are indexed by id, by wait instance and by correlation id.
type WaitQueueRepository struct {
	mu sync.RWMutex

	// entries stores all rows by their id
	entries map[string]*domain.WaitQueue

	// byWaitInstance maps wait instance id -> set of row ids
	byWaitInstance map[string]map[string]struct{}

	// byCorrelation maps correlation id -> set of row ids
	byCorrelation map[string]map[string]struct{}
}

// NewWaitQueueRepository creates a new in-memory wait queue repository.
func NewWaitQueueRepository() *WaitQueueRepository {
	return &WaitQueueRepository{
		entries:        make(map[string]*domain.WaitQueue),
		byWaitInstance: make(map[string]map[string]struct{}),
		byCorrelation:  make(map[string]map[string]struct{}),
	}
}

// Create stores a new wait queue row.
func (r *WaitQueueRepository) Create(ctx context.Context, entry *domain.WaitQueue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entryCopy := *entry
	r.entries[entry.ID] = &entryCopy
	addToIndex(r.byWaitInstance, entry.WaitInstanceID, entry.ID)
	addToIndex(r.byCorrelation, entry.CorrelationID, entry.ID)
	return nil
}

// ListByWaitInstance returns all rows still outstanding for a wait instance.
func (r *WaitQueueRepository) ListByWaitInstance(ctx context.Context, waitInstanceID string) ([]*domain.WaitQueue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collect(r.byWaitInstance[waitInstanceID]), nil
}

// ListByCorrelationIDs returns all rows waiting on any of the ids.
func (r *WaitQueueRepository) ListByCorrelationIDs(ctx context.Context, correlationIDs []string) ([]*domain.WaitQueue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make(map[string]struct{})
	for _, correlationID := range correlationIDs {
		for id := range r.byCorrelation[correlationID] {
			ids[id] = struct{}{}
		}
	}
	return r.collect(ids), nil
}

// Delete removes a single row.
func (r *WaitQueueRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remove(id)
	return nil
}

// DeleteByWaitInstances removes every row of the given wait instances.
func (r *WaitQueueRepository) DeleteByWaitInstances(ctx context.Context, waitInstanceIDs []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for _, waitInstanceID := range waitInstanceIDs {
		for id := range r.byWaitInstance[waitInstanceID] {
			r.remove(id)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of outstanding rows.
func (r *WaitQueueRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear removes all data from the repository. Useful for test cleanup.
func (r *WaitQueueRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*domain.WaitQueue)
	r.byWaitInstance = make(map[string]map[string]struct{})
	r.byCorrelation = make(map[string]map[string]struct{})
}

// remove deletes a row and its index entries. Caller must hold the lock.
func (r *WaitQueueRepository) remove(id string) {
	entry, exists := r.entries[id]
	if !exists {
		return
	}
	delete(r.entries, id)
	removeFromIndex(r.byWaitInstance, entry.WaitInstanceID, id)
	removeFromIndex(r.byCorrelation, entry.CorrelationID, id)
}

// collect copies the rows for a set of ids, ordered by creation time.
func (r *WaitQueueRepository) collect(ids map[string]struct{}) []*domain.WaitQueue {
	results := make([]*domain.WaitQueue, 0, len(ids))
	for id := range ids {
		entryCopy := *r.entries[id]
		results = append(results, &entryCopy)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results
}

func addToIndex(index map[string]map[string]struct{}, key, id string) {
	if index[key] == nil {
		index[key] = make(map[string]struct{})
	}
	index[key][id] = struct{}{}
}

func removeFromIndex(index map[string]map[string]struct{}, key, id string) {
	set := index[key]
	if set == nil {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}
