package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"waitnotify-go/internal/domain"
)

// WaitQueueRepository implements store.WaitQueueRepository using SQLite.
type WaitQueueRepository struct {
	db *DB
}

// NewWaitQueueRepository creates a new SQLite-backed wait queue repository.
func NewWaitQueueRepository(db *DB) *WaitQueueRepository {
	return &WaitQueueRepository{db: db}
}

// Create stores a new wait queue row.
func (r *WaitQueueRepository) Create(ctx context.Context, entry *domain.WaitQueue) error {
	_, err := r.db.db.ExecContext(ctx, `
		INSERT INTO wait_queue (id, wait_instance_id, correlation_id, created_at)
		VALUES (?, ?, ?, ?)
	`, entry.ID, entry.WaitInstanceID, entry.CorrelationID, toNanos(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("create wait queue entry: %w", err)
	}
	return nil
}

// ListByWaitInstance returns all rows still outstanding for a wait instance.
func (r *WaitQueueRepository) ListByWaitInstance(ctx context.Context, waitInstanceID string) ([]*domain.WaitQueue, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT id, wait_instance_id, correlation_id, created_at
		FROM wait_queue
		WHERE wait_instance_id = ?
		ORDER BY created_at, id
	`, waitInstanceID)
	if err != nil {
		return nil, fmt.Errorf("list wait queue entries: %w", err)
	}
	return scanWaitQueue(rows)
}

// ListByCorrelationIDs returns all rows waiting on any of the ids.
func (r *WaitQueueRepository) ListByCorrelationIDs(ctx context.Context, correlationIDs []string) ([]*domain.WaitQueue, error) {
	if len(correlationIDs) == 0 {
		return []*domain.WaitQueue{}, nil
	}

	marks, args := placeholders(correlationIDs)
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT id, wait_instance_id, correlation_id, created_at
		FROM wait_queue
		WHERE correlation_id IN (`+marks+`)
		ORDER BY created_at, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list wait queue entries: %w", err)
	}
	return scanWaitQueue(rows)
}

// Delete removes a single row.
func (r *WaitQueueRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.db.ExecContext(ctx, `DELETE FROM wait_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete wait queue entry: %w", err)
	}
	return nil
}

// DeleteByWaitInstances removes every row of the given wait instances.
func (r *WaitQueueRepository) DeleteByWaitInstances(ctx context.Context, waitInstanceIDs []string) (int, error) {
	if len(waitInstanceIDs) == 0 {
		return 0, nil
	}

	marks, args := placeholders(waitInstanceIDs)
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM wait_queue WHERE wait_instance_id IN (`+marks+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete wait queue entries: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete wait queue entries: %w", err)
	}
	return int(n), nil
}

func scanWaitQueue(rows *sql.Rows) ([]*domain.WaitQueue, error) {
	defer rows.Close()

	entries := []*domain.WaitQueue{}
	for rows.Next() {
		var (
			entry     domain.WaitQueue
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.WaitInstanceID, &entry.CorrelationID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan wait queue entry: %w", err)
		}
		entry.CreatedAt = fromNanos(createdAt)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wait queue entries: %w", err)
	}
	return entries, nil
}
