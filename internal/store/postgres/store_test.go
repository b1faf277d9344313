package postgres

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waitnotify-go/internal/domain"
)

// openTestDB connects to the database at WAITNOTIFY_TEST_POSTGRES_DSN and
// migrates a throwaway schema that is dropped when the test ends.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("WAITNOTIFY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WAITNOTIFY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	admin, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = admin.Close(context.Background()) })

	schema := "waitnotify_test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
	})

	poolConfig, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	poolConfig.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(t, err)

	db := &DB{pool: pool}
	t.Cleanup(db.Close)
	require.NoError(t, db.RunMigrations(ctx))
	return db
}

func TestWaitInstanceRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewWaitInstanceRepository(db)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrWaitInstanceNotFound)

	cb := domain.CallbackSpec{Name: "relay", Args: json.RawMessage(`{"correlation_id":"parent"}`)}
	instance := domain.NewWaitInstance("w-1", []string{"a", "b"}, cb, 30*time.Second, time.Hour)
	require.NoError(t, repo.Create(ctx, instance))

	got, err := repo.GetByID(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.CorrelationIDs)
	assert.JSONEq(t, `{"correlation_id":"parent"}`, string(got.Callback.Args))
	assert.Equal(t, 30*time.Second, got.Timeout)
	assert.Equal(t, domain.WaitStatusNew, got.Status)

	changed, err := repo.UpdateStatus(ctx, "w-1", domain.WaitStatusNew, domain.WaitStatusSuccess)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.UpdateStatus(ctx, "w-1", domain.WaitStatusNew, domain.WaitStatusError)
	require.NoError(t, err)
	assert.False(t, changed, "a terminal instance must not move again")
}

func TestWaitInstanceRepository_DeleteExpired(t *testing.T) {
	db := openTestDB(t)
	repo := NewWaitInstanceRepository(db)
	ctx := context.Background()

	cb := domain.CallbackSpec{Name: "log"}
	now := time.Now().UTC()
	for i, id := range []string{"old-1", "old-2"} {
		instance := domain.NewWaitInstance(id, []string{"a"}, cb, 0, time.Hour)
		instance.ExpiresAt = now.Add(-time.Duration(2-i) * time.Minute)
		require.NoError(t, repo.Create(ctx, instance))
	}
	require.NoError(t, repo.Create(ctx, domain.NewWaitInstance("fresh", []string{"a"}, cb, 0, time.Hour)))

	_, err := repo.GetByID(ctx, "old-1")
	assert.ErrorIs(t, err, domain.ErrWaitInstanceNotFound, "expired instances read as missing")

	ids, err := repo.DeleteExpired(ctx, now, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"old-1"}, ids, "oldest expiry first")

	ids, err = repo.DeleteExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"old-2"}, ids)

	ids, err = repo.DeleteExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = repo.GetByID(ctx, "fresh")
	assert.NoError(t, err)
}

func TestWaitQueueRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewWaitQueueRepository(db)
	ctx := context.Background()

	base := time.Now().UTC()
	rows := []*domain.WaitQueue{
		{ID: "q-1", WaitInstanceID: "w-1", CorrelationID: "a", CreatedAt: base},
		{ID: "q-2", WaitInstanceID: "w-1", CorrelationID: "b", CreatedAt: base.Add(time.Millisecond)},
		{ID: "q-3", WaitInstanceID: "w-2", CorrelationID: "a", CreatedAt: base.Add(2 * time.Millisecond)},
	}
	for _, row := range rows {
		require.NoError(t, repo.Create(ctx, row))
	}

	byInstance, err := repo.ListByWaitInstance(ctx, "w-1")
	require.NoError(t, err)
	assert.Len(t, byInstance, 2)

	byCorrelation, err := repo.ListByCorrelationIDs(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Len(t, byCorrelation, 2)

	require.NoError(t, repo.Delete(ctx, "q-1"))
	require.NoError(t, repo.Delete(ctx, "q-1"), "deleting a missing row is not an error")

	n, err := repo.DeleteByWaitInstances(ctx, []string{"w-1", "w-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNotifyResponseRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewNotifyResponseRepository(db)
	ctx := context.Background()

	first := domain.NewNotifyResponse("a", json.RawMessage(`{"ok":true}`), false)
	require.NoError(t, repo.Create(ctx, first))

	dup := domain.NewNotifyResponse("a", json.RawMessage(`{"ok":false}`), true)
	assert.ErrorIs(t, repo.Create(ctx, dup), domain.ErrResponseExists)

	got, err := repo.GetByCorrelationID(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got.Payload), "the first response wins")
	assert.False(t, got.Error)

	_, err = repo.GetByCorrelationID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrResponseNotFound)

	second := domain.NewNotifyResponse("b", nil, true)
	second.CreatedAt = first.CreatedAt.Add(time.Millisecond)
	require.NoError(t, repo.Create(ctx, second))

	require.NoError(t, repo.MarkConsumed(ctx, []string{"b"}))
	ids, err := repo.ListIDs(ctx, domain.ResponseFilter{Status: domain.ResponseStatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)

	keys, err := repo.ListKeys(ctx, domain.ResponseFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "a", keys[0].CorrelationID)

	keys, err = repo.ListKeys(ctx, domain.ResponseFilter{After: &keys[0]})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "b", keys[0].CorrelationID)

	keys, err = repo.ListKeys(ctx, domain.ResponseFilter{After: &keys[0]})
	require.NoError(t, err)
	assert.Empty(t, keys)

	n, err := repo.Delete(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCallbackFailureRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallbackFailureRepository(db)
	ctx := context.Background()

	failure := &domain.CallbackFailure{
		ID:             "f-1",
		WaitInstanceID: "w-1",
		Callback:       "log",
		Error:          "panic: bad",
		Stack:          "goroutine 1",
		Responses:      domain.Responses{"a": {Payload: json.RawMessage(`1`), Error: true}},
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, failure))

	failures, err := repo.ListByWaitInstance(ctx, "w-1")
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "goroutine 1", failures[0].Stack)
	assert.True(t, failures[0].Responses["a"].Error)
	assert.JSONEq(t, `1`, string(failures[0].Responses["a"].Payload))
}
