package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waitnotify-go/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
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
	assert.Equal(t, "relay", got.Callback.Name)
	assert.JSONEq(t, `{"correlation_id":"parent"}`, string(got.Callback.Args))
	assert.Equal(t, 30*time.Second, got.Timeout)
	assert.Equal(t, domain.WaitStatusNew, got.Status)
	assert.True(t, got.ExpiresAt.Equal(instance.ExpiresAt))

	changed, err := repo.UpdateStatus(ctx, "w-1", domain.WaitStatusNew, domain.WaitStatusError)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.UpdateStatus(ctx, "w-1", domain.WaitStatusNew, domain.WaitStatusSuccess)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err = repo.GetByID(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, domain.WaitStatusError, got.Status)
}

func TestWaitInstanceRepository_DeleteExpired(t *testing.T) {
	db := openTestDB(t)
	repo := NewWaitInstanceRepository(db)
	ctx := context.Background()

	cb := domain.CallbackSpec{Name: "log"}
	require.NoError(t, repo.Create(ctx, domain.NewWaitInstance("old-1", []string{"a"}, cb, 0, time.Millisecond)))
	require.NoError(t, repo.Create(ctx, domain.NewWaitInstance("old-2", []string{"a"}, cb, 0, 2*time.Millisecond)))
	require.NoError(t, repo.Create(ctx, domain.NewWaitInstance("fresh", []string{"a"}, cb, 0, time.Hour)))

	now := time.Now().Add(time.Second)

	time.Sleep(5 * time.Millisecond)
	_, err := repo.GetByID(ctx, "old-1")
	assert.ErrorIs(t, err, domain.ErrWaitInstanceNotFound)

	ids, err := repo.DeleteExpired(ctx, now, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"old-1"}, ids)

	ids, err = repo.DeleteExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"old-2"}, ids)

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
	require.Len(t, byInstance, 2)
	assert.Equal(t, "q-1", byInstance[0].ID)
	assert.Equal(t, "q-2", byInstance[1].ID)

	byCorrelation, err := repo.ListByCorrelationIDs(ctx, []string{"a"})
	require.NoError(t, err)
	require.Len(t, byCorrelation, 2)
	assert.Equal(t, "w-1", byCorrelation[0].WaitInstanceID)
	assert.Equal(t, "w-2", byCorrelation[1].WaitInstanceID)

	empty, err := repo.ListByCorrelationIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, repo.Delete(ctx, "q-1"))
	require.NoError(t, repo.Delete(ctx, "q-1"))

	n, err := repo.DeleteByWaitInstances(ctx, []string{"w-1", "w-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	remaining, err := repo.ListByCorrelationIDs(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, remaining)
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
	assert.JSONEq(t, `{"ok":true}`, string(got.Payload))
	assert.False(t, got.Error)
	assert.Equal(t, domain.ResponseStatusPending, got.Status)

	_, err = repo.GetByCorrelationID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrResponseNotFound)

	second := domain.NewNotifyResponse("b", nil, true)
	second.CreatedAt = first.CreatedAt.Add(time.Millisecond)
	require.NoError(t, repo.Create(ctx, second))

	listed, err := repo.ListByCorrelationIDs(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	ids, err := repo.ListIDs(ctx, domain.ResponseFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = repo.ListIDs(ctx, domain.ResponseFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	require.NoError(t, repo.MarkConsumed(ctx, []string{"b"}))

	ids, err = repo.ListIDs(ctx, domain.ResponseFilter{Status: domain.ResponseStatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)

	ids, err = repo.ListIDs(ctx, domain.ResponseFilter{CreatedBefore: second.CreatedAt})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	keys, err := repo.ListKeys(ctx, domain.ResponseFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "a", keys[0].CorrelationID)
	assert.True(t, keys[0].CreatedAt.Equal(first.CreatedAt))

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

	older := &domain.CallbackFailure{
		ID:             "f-1",
		WaitInstanceID: "w-1",
		Callback:       "log",
		Error:          "boom",
		Responses:      domain.Responses{"a": {Payload: json.RawMessage(`1`)}},
		CreatedAt:      time.Now().UTC(),
	}
	newer := &domain.CallbackFailure{
		ID:             "f-2",
		WaitInstanceID: "w-1",
		Callback:       "log",
		Error:          "panic: bad",
		Stack:          "goroutine 1",
		Responses:      domain.Responses{"a": {Error: true}},
		CreatedAt:      older.CreatedAt.Add(time.Second),
	}
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))

	failures, err := repo.ListByWaitInstance(ctx, "w-1")
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "f-2", failures[0].ID)
	assert.Equal(t, "goroutine 1", failures[0].Stack)
	assert.True(t, failures[0].Responses["a"].Error)
	assert.JSONEq(t, `1`, string(failures[1].Responses["a"].Payload))

	none, err := repo.ListByWaitInstance(ctx, "w-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}
