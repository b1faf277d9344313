package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"waitnotify-go/internal/domain"
)

// WaitInstanceRepository implements store.WaitInstanceRepository using SQLite.
type WaitInstanceRepository struct {
	db *DB
}

// NewWaitInstanceRepository creates a new SQLite-backed wait instance repository.
func NewWaitInstanceRepository(db *DB) *WaitInstanceRepository {
	return &WaitInstanceRepository{db: db}
}

// Create stores a new wait instance.
func (r *WaitInstanceRepository) Create(ctx context.Context, instance *domain.WaitInstance) error {
	ids, err := json.Marshal(instance.CorrelationIDs)
	if err != nil {
		return fmt.Errorf("marshal correlation ids: %w", err)
	}

	_, err = r.db.db.ExecContext(ctx, `
		INSERT INTO wait_instances (
			id, correlation_ids, callback_name, callback_args, timeout_ms,
			status, created_at, updated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		instance.ID,
		string(ids),
		instance.Callback.Name,
		[]byte(instance.Callback.Args),
		instance.Timeout.Milliseconds(),
		string(instance.Status),
		toNanos(instance.CreatedAt),
		toNanos(instance.UpdatedAt),
		toNanos(instance.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("create wait instance: %w", err)
	}
	return nil
}

// GetByID retrieves a wait instance that has not expired.
func (r *WaitInstanceRepository) GetByID(ctx context.Context, id string) (*domain.WaitInstance, error) {
	var (
		instance                        domain.WaitInstance
		ids, status                     string
		args                            []byte
		timeoutMs                       int64
		createdAt, updatedAt, expiresAt int64
	)

	err := r.db.db.QueryRowContext(ctx, `
		SELECT id, correlation_ids, callback_name, callback_args, timeout_ms,
			status, created_at, updated_at, expires_at
		FROM wait_instances
		WHERE id = ? AND expires_at > ?
	`, id, toNanos(time.Now())).Scan(
		&instance.ID,
		&ids,
		&instance.Callback.Name,
		&args,
		&timeoutMs,
		&status,
		&createdAt,
		&updatedAt,
		&expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWaitInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wait instance: %w", err)
	}

	if err := json.Unmarshal([]byte(ids), &instance.CorrelationIDs); err != nil {
		return nil, fmt.Errorf("unmarshal correlation ids: %w", err)
	}
	if len(args) > 0 {
		instance.Callback.Args = args
	}
	instance.Timeout = time.Duration(timeoutMs) * time.Millisecond
	instance.Status = domain.WaitStatus(status)
	instance.CreatedAt = fromNanos(createdAt)
	instance.UpdatedAt = fromNanos(updatedAt)
	instance.ExpiresAt = fromNanos(expiresAt)
	return &instance, nil
}

// UpdateStatus moves an instance from one status to another.
func (r *WaitInstanceRepository) UpdateStatus(ctx context.Context, id string, from, to domain.WaitStatus) (bool, error) {
	result, err := r.db.db.ExecContext(ctx, `
		UPDATE wait_instances SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), toNanos(time.Now()), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update wait instance status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update wait instance status: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired removes up to limit expired instances.
func (r *WaitInstanceRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT id FROM wait_instances
		WHERE expires_at <= ?
		ORDER BY expires_at
		LIMIT ?
	`, toNanos(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired wait instances: %w", err)
	}

	ids, err := scanStrings(rows)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	marks, args := placeholders(ids)
	if _, err := r.db.db.ExecContext(ctx, `DELETE FROM wait_instances WHERE id IN (`+marks+`)`, args...); err != nil {
		return nil, fmt.Errorf("delete expired wait instances: %w", err)
	}
	return ids, nil
}
