package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"waitnotify-go/internal/domain"
)

// WaitQueueRepository implements store.WaitQueueRepository using PostgreSQL.
type WaitQueueRepository struct {
	db *DB
}

// NewWaitQueueRepository creates a new PostgreSQL-backed wait queue repository.
func NewWaitQueueRepository(db *DB) *WaitQueueRepository {
	return &WaitQueueRepository{db: db}
}

// Create stores a new wait queue row.
func (r *WaitQueueRepository) Create(ctx context.Context, entry *domain.WaitQueue) error {
	query := `
		INSERT INTO wait_queue (id, wait_instance_id, correlation_id, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.pool.Exec(ctx, query, entry.ID, entry.WaitInstanceID, entry.CorrelationID, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wait queue entry: %w", err)
	}

	return nil
}

// ListByWaitInstance returns all rows still outstanding for a wait instance.
func (r *WaitQueueRepository) ListByWaitInstance(ctx context.Context, waitInstanceID string) ([]*domain.WaitQueue, error) {
	query := `
		SELECT id, wait_instance_id, correlation_id, created_at
		FROM wait_queue
		WHERE wait_instance_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.pool.Query(ctx, query, waitInstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wait queue by wait instance: %w", err)
	}
	defer rows.Close()

	return scanWaitQueue(rows)
}

// ListByCorrelationIDs returns all rows waiting on any of the ids.
func (r *WaitQueueRepository) ListByCorrelationIDs(ctx context.Context, correlationIDs []string) ([]*domain.WaitQueue, error) {
	if len(correlationIDs) == 0 {
		return []*domain.WaitQueue{}, nil
	}

	query := `
		SELECT id, wait_instance_id, correlation_id, created_at
		FROM wait_queue
		WHERE correlation_id = ANY($1)
		ORDER BY created_at, id
	`

	rows, err := r.db.pool.Query(ctx, query, correlationIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list wait queue by correlation ids: %w", err)
	}
	defer rows.Close()

	return scanWaitQueue(rows)
}

// Delete removes a single row.
func (r *WaitQueueRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.pool.Exec(ctx, `DELETE FROM wait_queue WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete wait queue entry: %w", err)
	}
	return nil
}

// DeleteByWaitInstances removes every row of the given wait instances.
func (r *WaitQueueRepository) DeleteByWaitInstances(ctx context.Context, waitInstanceIDs []string) (int, error) {
	if len(waitInstanceIDs) == 0 {
		return 0, nil
	}

	result, err := r.db.pool.Exec(ctx, `DELETE FROM wait_queue WHERE wait_instance_id = ANY($1)`, waitInstanceIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete wait queue entries: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// scanWaitQueue scans multiple rows into wait queue entries.
func scanWaitQueue(rows pgx.Rows) ([]*domain.WaitQueue, error) {
	entries := []*domain.WaitQueue{}

	for rows.Next() {
		var entry domain.WaitQueue
		if err := rows.Scan(&entry.ID, &entry.WaitInstanceID, &entry.CorrelationID, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wait queue entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wait queue: %w", err)
	}

	return entries, nil
}
