package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"waitnotify-go/internal/domain"
)

// CallbackFailureRepository implements store.CallbackFailureRepository using PostgreSQL.
type CallbackFailureRepository struct {
	db *DB
}

// NewCallbackFailureRepository creates a new PostgreSQL-backed callback failure repository.
func NewCallbackFailureRepository(db *DB) *CallbackFailureRepository {
	return &CallbackFailureRepository{db: db}
}

// Create stores a new failure record.
func (r *CallbackFailureRepository) Create(ctx context.Context, failure *domain.CallbackFailure) error {
	responses, err := json.Marshal(failure.Responses)
	if err != nil {
		return fmt.Errorf("failed to marshal callback responses: %w", err)
	}

	query := `
		INSERT INTO callback_failures (
			id, wait_instance_id, callback_name, error, stack, responses, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.pool.Exec(ctx, query,
		failure.ID,
		failure.WaitInstanceID,
		failure.Callback,
		failure.Error,
		failure.Stack,
		string(responses),
		failure.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create callback failure: %w", err)
	}

	return nil
}

// ListByWaitInstance returns failure records for a wait instance, newest first.
func (r *CallbackFailureRepository) ListByWaitInstance(ctx context.Context, waitInstanceID string) ([]*domain.CallbackFailure, error) {
	query := `
		SELECT id, wait_instance_id, callback_name, error, COALESCE(stack, ''), responses::text, created_at
		FROM callback_failures
		WHERE wait_instance_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.pool.Query(ctx, query, waitInstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list callback failures: %w", err)
	}
	defer rows.Close()

	failures := []*domain.CallbackFailure{}
	for rows.Next() {
		var (
			failure   domain.CallbackFailure
			responses string
		)
		err := rows.Scan(
			&failure.ID,
			&failure.WaitInstanceID,
			&failure.Callback,
			&failure.Error,
			&failure.Stack,
			&responses,
			&failure.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan callback failure: %w", err)
		}
		if err := json.Unmarshal([]byte(responses), &failure.Responses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal callback responses: %w", err)
		}
		failures = append(failures, &failure)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating callback failures: %w", err)
	}

	return failures, nil
}
