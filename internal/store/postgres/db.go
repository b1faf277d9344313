// Package postgres provides PostgreSQL-based implementations of the store interfaces.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"waitnotify-go/internal/config"
	"waitnotify-go/internal/store"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, cfg *config.PostgresConfig) (*DB, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.SSLMode,
		cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxOpenConns
	poolConfig.MinConns = cfg.MaxIdleConns
	poolConfig.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Repositories returns all repositories backed by this database.
func (db *DB) Repositories() store.Repositories {
	return store.Repositories{
		WaitInstances:    NewWaitInstanceRepository(db),
		WaitQueue:        NewWaitQueueRepository(db),
		Responses:        NewNotifyResponseRepository(db),
		CallbackFailures: NewCallbackFailureRepository(db),
	}
}

// RunMigrations creates the required database tables.
func (db *DB) RunMigrations(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS wait_instances (
			id VARCHAR(36) PRIMARY KEY,
			correlation_ids TEXT[] NOT NULL,
			callback_name VARCHAR(255) NOT NULL,
			callback_args BYTEA,
			timeout_ms BIGINT NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_wait_instances_expires_at ON wait_instances(expires_at);

		CREATE TABLE IF NOT EXISTS wait_queue (
			id VARCHAR(36) PRIMARY KEY,
			wait_instance_id VARCHAR(36) NOT NULL,
			correlation_id VARCHAR(255) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_wait_queue_wait_instance ON wait_queue(wait_instance_id);
		CREATE INDEX IF NOT EXISTS idx_wait_queue_correlation ON wait_queue(correlation_id);

		CREATE TABLE IF NOT EXISTS notify_responses (
			correlation_id VARCHAR(255) PRIMARY KEY,
			payload BYTEA,
			is_error BOOLEAN NOT NULL DEFAULT FALSE,
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notify_responses_status_created ON notify_responses(status, created_at);
		CREATE INDEX IF NOT EXISTS idx_notify_responses_created ON notify_responses(created_at);

		CREATE TABLE IF NOT EXISTS callback_failures (
			id VARCHAR(36) PRIMARY KEY,
			wait_instance_id VARCHAR(36) NOT NULL,
			callback_name VARCHAR(255) NOT NULL,
			error TEXT NOT NULL,
			stack TEXT,
			responses JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_callback_failures_wait_instance ON callback_failures(wait_instance_id);
	`

	_, err := db.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
