package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"waitnotify-go/internal/domain"
)

// NotifyResponseRepository implements store.NotifyResponseRepository using PostgreSQL.
type NotifyResponseRepository struct {
	db *DB
}

// NewNotifyResponseRepository creates a new PostgreSQL-backed notify response repository.
func NewNotifyResponseRepository(db *DB) *NotifyResponseRepository {
	return &NotifyResponseRepository{db: db}
}

// Create stores a new response. The primary key on correlation_id makes a
// second insert for the same id a no-op that is reported as ErrResponseExists.
func (r *NotifyResponseRepository) Create(ctx context.Context, response *domain.NotifyResponse) error {
	query := `
		INSERT INTO notify_responses (
			correlation_id, payload, is_error, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (correlation_id) DO NOTHING
	`

	result, err := r.db.pool.Exec(ctx, query,
		response.CorrelationID,
		[]byte(response.Payload),
		response.Error,
		response.Status,
		response.CreatedAt,
		response.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notify response: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrResponseExists
	}

	return nil
}

// GetByCorrelationID retrieves a single response.
func (r *NotifyResponseRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.NotifyResponse, error) {
	query := `
		SELECT correlation_id, payload, is_error, status, created_at, updated_at
		FROM notify_responses
		WHERE correlation_id = $1
	`

	response, err := scanResponse(r.db.pool.QueryRow(ctx, query, correlationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrResponseNotFound
		}
		return nil, fmt.Errorf("failed to get notify response: %w", err)
	}

	return response, nil
}

// ListByCorrelationIDs returns the responses that exist for the ids.
func (r *NotifyResponseRepository) ListByCorrelationIDs(ctx context.Context, correlationIDs []string) ([]*domain.NotifyResponse, error) {
	if len(correlationIDs) == 0 {
		return []*domain.NotifyResponse{}, nil
	}

	query := `
		SELECT correlation_id, payload, is_error, status, created_at, updated_at
		FROM notify_responses
		WHERE correlation_id = ANY($1)
	`

	rows, err := r.db.pool.Query(ctx, query, correlationIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list notify responses: %w", err)
	}
	defer rows.Close()

	responses := []*domain.NotifyResponse{}
	for rows.Next() {
		response, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notify response: %w", err)
		}
		responses = append(responses, response)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notify responses: %w", err)
	}

	return responses, nil
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
	query := `SELECT correlation_id, created_at FROM notify_responses WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filter.Status)
		argNum++
	}

	if !filter.CreatedBefore.IsZero() {
		query += fmt.Sprintf(" AND created_at < $%d", argNum)
		args = append(args, filter.CreatedBefore)
		argNum++
	}

	if filter.After != nil {
		query += fmt.Sprintf(" AND (created_at, correlation_id) > ($%d, $%d)", argNum, argNum+1)
		args = append(args, filter.After.CreatedAt, filter.After.CorrelationID)
		argNum += 2
	}

	query += " ORDER BY created_at, correlation_id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notify response keys: %w", err)
	}
	defer rows.Close()

	keys := []domain.ResponseKey{}
	for rows.Next() {
		var key domain.ResponseKey
		if err := rows.Scan(&key.CorrelationID, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notify response key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notify response keys: %w", err)
	}

	return keys, nil
}

// MarkConsumed sets the status of the responses to success.
func (r *NotifyResponseRepository) MarkConsumed(ctx context.Context, correlationIDs []string) error {
	if len(correlationIDs) == 0 {
		return nil
	}

	query := `
		UPDATE notify_responses SET status = $2, updated_at = $3
		WHERE correlation_id = ANY($1)
	`

	if _, err := r.db.pool.Exec(ctx, query, correlationIDs, domain.ResponseStatusSuccess, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark notify responses consumed: %w", err)
	}

	return nil
}

// Delete removes the responses and returns how many were deleted.
func (r *NotifyResponseRepository) Delete(ctx context.Context, correlationIDs []string) (int, error) {
	if len(correlationIDs) == 0 {
		return 0, nil
	}

	result, err := r.db.pool.Exec(ctx, `DELETE FROM notify_responses WHERE correlation_id = ANY($1)`, correlationIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notify responses: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// scanResponse scans a single row into a NotifyResponse.
func scanResponse(row pgx.Row) (*domain.NotifyResponse, error) {
	var (
		response domain.NotifyResponse
		payload  []byte
	)

	err := row.Scan(
		&response.CorrelationID,
		&payload,
		&response.Error,
		&response.Status,
		&response.CreatedAt,
		&response.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	response.Payload = payload
	return &response, nil
}
