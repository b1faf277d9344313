package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"waitnotify-go/internal/domain"
)

// WaitInstanceRepository implements store.WaitInstanceRepository using PostgreSQL.
type WaitInstanceRepository struct {
	db *DB
}

// NewWaitInstanceRepository creates a new PostgreSQL-backed wait instance repository.
func NewWaitInstanceRepository(db *DB) *WaitInstanceRepository {
	return &WaitInstanceRepository{db: db}
}

// Create stores a new wait instance.
func (r *WaitInstanceRepository) Create(ctx context.Context, instance *domain.WaitInstance) error {
	query := `
		INSERT INTO wait_instances (
			id, correlation_ids, callback_name, callback_args, timeout_ms,
			status, created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.pool.Exec(ctx, query,
		instance.ID,
		instance.CorrelationIDs,
		instance.Callback.Name,
		[]byte(instance.Callback.Args),
		instance.Timeout.Milliseconds(),
		instance.Status,
		instance.CreatedAt,
		instance.UpdatedAt,
		instance.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create wait instance: %w", err)
	}

	return nil
}

// GetByID retrieves a wait instance that has not expired.
func (r *WaitInstanceRepository) GetByID(ctx context.Context, id string) (*domain.WaitInstance, error) {
	query := `
		SELECT id, correlation_ids, callback_name, callback_args, timeout_ms,
			   status, created_at, updated_at, expires_at
		FROM wait_instances
		WHERE id = $1 AND expires_at > $2
	`

	var (
		instance  domain.WaitInstance
		args      []byte
		timeoutMs int64
	)
	err := r.db.pool.QueryRow(ctx, query, id, time.Now().UTC()).Scan(
		&instance.ID,
		&instance.CorrelationIDs,
		&instance.Callback.Name,
		&args,
		&timeoutMs,
		&instance.Status,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&instance.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWaitInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get wait instance: %w", err)
	}

	instance.Callback.Args = args
	instance.Timeout = time.Duration(timeoutMs) * time.Millisecond
	return &instance, nil
}

// UpdateStatus moves an instance from one status to another.
func (r *WaitInstanceRepository) UpdateStatus(ctx context.Context, id string, from, to domain.WaitStatus) (bool, error) {
	query := `
		UPDATE wait_instances SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.pool.Exec(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to update wait instance status: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// DeleteExpired removes up to limit expired instances.
func (r *WaitInstanceRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		DELETE FROM wait_instances
		WHERE id IN (
			SELECT id FROM wait_instances
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)
		RETURNING id
	`

	rows, err := r.db.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired wait instances: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

// scanStrings collects a single text column from rows.
func scanStrings(rows pgx.Rows) ([]string, error) {
	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return values, nil
}
