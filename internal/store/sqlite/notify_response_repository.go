package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"waitnotify-go/internal/domain"
)

// NotifyResponseRepository implements store.NotifyResponseRepository using SQLite.
type NotifyResponseRepository struct {
	db *DB
}

// NewNotifyResponseRepository creates a new SQLite-backed notify response repository.
func NewNotifyResponseRepository(db *DB) *NotifyResponseRepository {
	return &NotifyResponseRepository{db: db}
}

const selectResponse = `
	SELECT correlation_id, payload, is_error, status, created_at, updated_at
	FROM notify_responses
`

// Create stores a new response, reporting ErrResponseExists for a repeated id.
func (r *NotifyResponseRepository) Create(ctx context.Context, response *domain.NotifyResponse) error {
	result, err := r.db.db.ExecContext(ctx, `
		INSERT INTO notify_responses (
			correlation_id, payload, is_error, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(correlation_id) DO NOTHING
	`,
		response.CorrelationID,
		[]byte(response.Payload),
		response.Error,
		string(response.Status),
		toNanos(response.CreatedAt),
		toNanos(response.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create notify response: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create notify response: %w", err)
	}
	if n == 0 {
		return domain.ErrResponseExists
	}
	return nil
}

// GetByCorrelationID retrieves a single response.
func (r *NotifyResponseRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.NotifyResponse, error) {
	rows, err := r.db.db.QueryContext(ctx, selectResponse+` WHERE correlation_id = ?`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("get notify response: %w", err)
	}

	responses, err := scanResponses(rows)
	if err != nil {
		return nil, err
	}
	if len(responses) == 0 {
		return nil, domain.ErrResponseNotFound
	}
	return responses[0], nil
}

// ListByCorrelationIDs returns the responses that exist for the ids.
func (r *NotifyResponseRepository) ListByCorrelationIDs(ctx context.Context, correlationIDs []string) ([]*domain.NotifyResponse, error) {
	if len(correlationIDs) == 0 {
		return []*domain.NotifyResponse{}, nil
	}

	marks, args := placeholders(correlationIDs)
	rows, err := r.db.db.QueryContext(ctx, selectResponse+` WHERE correlation_id IN (`+marks+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("list notify responses: %w", err)
	}
	return scanResponses(rows)
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
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedBefore.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, toNanos(filter.CreatedBefore))
	}
	if filter.After != nil {
		query += ` AND (created_at > ? OR (created_at = ? AND correlation_id > ?))`
		after := toNanos(filter.After.CreatedAt)
		args = append(args, after, after, filter.After.CorrelationID)
	}

	query += ` ORDER BY created_at, correlation_id`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notify response keys: %w", err)
	}
	defer rows.Close()

	keys := []domain.ResponseKey{}
	for rows.Next() {
		var (
			key       domain.ResponseKey
			createdAt int64
		)
		if err := rows.Scan(&key.CorrelationID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notify response key: %w", err)
		}
		key.CreatedAt = fromNanos(createdAt)
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notify response keys: %w", err)
	}
	return keys, nil
}

// MarkConsumed sets the status of the responses to success.
func (r *NotifyResponseRepository) MarkConsumed(ctx context.Context, correlationIDs []string) error {
	if len(correlationIDs) == 0 {
		return nil
	}

	marks, ids := placeholders(correlationIDs)
	args := append([]any{string(domain.ResponseStatusSuccess), toNanos(time.Now())}, ids...)
	if _, err := r.db.db.ExecContext(ctx, `
		UPDATE notify_responses SET status = ?, updated_at = ?
		WHERE correlation_id IN (`+marks+`)
	`, args...); err != nil {
		return fmt.Errorf("mark notify responses consumed: %w", err)
	}
	return nil
}

// Delete removes the responses and returns how many were deleted.
func (r *NotifyResponseRepository) Delete(ctx context.Context, correlationIDs []string) (int, error) {
	if len(correlationIDs) == 0 {
		return 0, nil
	}

	marks, args := placeholders(correlationIDs)
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM notify_responses WHERE correlation_id IN (`+marks+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete notify responses: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete notify responses: %w", err)
	}
	return int(n), nil
}

func scanResponses(rows *sql.Rows) ([]*domain.NotifyResponse, error) {
	defer rows.Close()

	responses := []*domain.NotifyResponse{}
	for rows.Next() {
		var (
			response             domain.NotifyResponse
			payload              []byte
			status               string
			createdAt, updatedAt int64
		)
		err := rows.Scan(&response.CorrelationID, &payload, &response.Error, &status, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan notify response: %w", err)
		}
		if len(payload) > 0 {
			response.Payload = payload
		}
		response.Status = domain.ResponseStatus(status)
		response.CreatedAt = fromNanos(createdAt)
		response.UpdatedAt = fromNanos(updatedAt)
		responses = append(responses, &response)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notify responses: %w", err)
	}
	return responses, nil
}
