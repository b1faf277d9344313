package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"waitnotify-go/internal/domain"
)

// CallbackFailureRepository implements store.CallbackFailureRepository using SQLite.
type CallbackFailureRepository struct {
	db *DB
}

// NewCallbackFailureRepository creates a new SQLite-backed callback failure repository.
func NewCallbackFailureRepository(db *DB) *CallbackFailureRepository {
	return &CallbackFailureRepository{db: db}
}

// Create stores a new failure record.
func (r *CallbackFailureRepository) Create(ctx context.Context, failure *domain.CallbackFailure) error {
	responses, err := json.Marshal(failure.Responses)
	if err != nil {
		return fmt.Errorf("marshal callback responses: %w", err)
	}

	_, err = r.db.db.ExecContext(ctx, `
		INSERT INTO callback_failures (
			id, wait_instance_id, callback_name, error, stack, responses, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		failure.ID,
		failure.WaitInstanceID,
		failure.Callback,
		failure.Error,
		failure.Stack,
		string(responses),
		toNanos(failure.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create callback failure: %w", err)
	}
	return nil
}

// ListByWaitInstance returns failure records for a wait instance, newest first.
func (r *CallbackFailureRepository) ListByWaitInstance(ctx context.Context, waitInstanceID string) ([]*domain.CallbackFailure, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT id, wait_instance_id, callback_name, error, stack, responses, created_at
		FROM callback_failures
		WHERE wait_instance_id = ?
		ORDER BY created_at DESC
	`, waitInstanceID)
	if err != nil {
		return nil, fmt.Errorf("list callback failures: %w", err)
	}
	defer rows.Close()

	failures := []*domain.CallbackFailure{}
	for rows.Next() {
		var (
			failure   domain.CallbackFailure
			responses string
			createdAt int64
		)
		err := rows.Scan(
			&failure.ID,
			&failure.WaitInstanceID,
			&failure.Callback,
			&failure.Error,
			&failure.Stack,
			&responses,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan callback failure: %w", err)
		}
		if err := json.Unmarshal([]byte(responses), &failure.Responses); err != nil {
			return nil, fmt.Errorf("unmarshal callback responses: %w", err)
		}
		failure.CreatedAt = fromNanos(createdAt)
		failures = append(failures, &failure)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate callback failures: %w", err)
	}
	return failures, nil
}
