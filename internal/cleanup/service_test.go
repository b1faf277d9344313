package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waitnotify-go/internal/config"
	"waitnotify-go/internal/domain"
	"waitnotify-go/internal/store"
	storemem "waitnotify-go/internal/store/memory"
)

func newTestService(t *testing.T, repos store.Repositories, cfg config.CleanupConfig, offset time.Duration) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s := NewService(repos, cfg, logger)
	s.now = func() time.Time { return time.Now().Add(offset) }
	return s
}

func consumed(t *testing.T, st *storemem.Store, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		require.NoError(t, st.Responses.Create(ctx, domain.NewNotifyResponse(id, json.RawMessage(`1`), false)))
	}
	require.NoError(t, st.Responses.MarkConsumed(ctx, ids))
}

func waitOn(t *testing.T, st *storemem.Store, waitInstanceID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, st.WaitQueue.Create(context.Background(), &domain.WaitQueue{
			ID:             waitInstanceID + "/" + id,
			WaitInstanceID: waitInstanceID,
			CorrelationID:  id,
			CreatedAt:      time.Now(),
		}))
	}
}

func TestReap_DeletesConsumedResponsesPastGrace(t *testing.T) {
	st := storemem.NewStore()
	ctx := context.Background()
	consumed(t, st, "a", "b")
	require.NoError(t, st.Responses.Create(ctx, domain.NewNotifyResponse("pending", json.RawMessage(`1`), false)))

	fresh := newTestService(t, st.Repositories(), config.CleanupConfig{Grace: time.Minute}, 0)
	report, err := fresh.Reap(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Items, "responses inside the grace window are kept")

	later := newTestService(t, st.Repositories(), config.CleanupConfig{Grace: time.Minute}, 2*time.Minute)
	report, err = later.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Deleted(KindResponse))
	assert.Empty(t, report.Errors())

	_, err = st.Responses.GetByCorrelationID(ctx, "pending")
	assert.NoError(t, err, "pending responses inside retention are kept")
	assert.Equal(t, 1, st.Responses.Len())
}

func TestReap_KeepsReferencedResponses(t *testing.T) {
	st := storemem.NewStore()
	ctx := context.Background()

	// Two waits on X: the first consumed it, the second still waits on Y.
	consumed(t, st, "X")
	waitOn(t, st, "w2", "X", "Y")

	s := newTestService(t, st.Repositories(), config.CleanupConfig{Grace: time.Minute}, 2*time.Minute)
	report, err := s.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, report.Skipped)
	assert.Zero(t, report.Deleted(KindResponse))

	_, err = st.WaitQueue.DeleteByWaitInstances(ctx, []string{"w2"})
	require.NoError(t, err)

	report, err = s.Reap(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, 1, report.Deleted(KindResponse))
}

func TestReap_DeletesStalePendingResponses(t *testing.T) {
	st := storemem.NewStore()
	ctx := context.Background()
	require.NoError(t, st.Responses.Create(ctx, domain.NewNotifyResponse("orphan", json.RawMessage(`1`), false)))
	require.NoError(t, st.Responses.Create(ctx, domain.NewNotifyResponse("awaited", json.RawMessage(`1`), false)))
	waitOn(t, st, "w1", "awaited", "other")

	cfg := config.CleanupConfig{PendingRetention: time.Hour}
	inside := newTestService(t, st.Repositories(), cfg, 30*time.Minute)
	report, err := inside.Reap(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Items)

	past := newTestService(t, st.Repositories(), cfg, 2*time.Hour)
	report, err = past.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Item{{Kind: KindResponse, ID: "orphan"}}, report.Items)
	assert.Equal(t, []string{"awaited"}, report.Skipped)

	_, err = st.Responses.GetByCorrelationID(ctx, "orphan")
	assert.ErrorIs(t, err, domain.ErrResponseNotFound)
}

func TestReap_BatchSize(t *testing.T) {
	st := storemem.NewStore()
	consumed(t, st, "a", "b", "c")

	s := newTestService(t, st.Repositories(), config.CleanupConfig{BatchSize: 2}, time.Minute)
	report, err := s.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Deleted(KindResponse))
	assert.Equal(t, 1, st.Responses.Len())
}

func TestReap_PurgesExpiredWaits(t *testing.T) {
	st := storemem.NewStore()
	ctx := context.Background()

	expiring := domain.NewWaitInstance("old", []string{"a"}, domain.CallbackSpec{Name: "log"}, 0, time.Hour)
	require.NoError(t, st.WaitInstances.Create(ctx, expiring))
	waitOn(t, st, "old", "a")

	live := domain.NewWaitInstance("live", []string{"b"}, domain.CallbackSpec{Name: "log"}, 0, 48*time.Hour)
	require.NoError(t, st.WaitInstances.Create(ctx, live))
	waitOn(t, st, "live", "b")

	s := newTestService(t, st.Repositories(), config.CleanupConfig{}, 2*time.Hour)
	report, err := s.Reap(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted(KindWaitInstance))
	assert.Equal(t, 1, report.Deleted(KindWaitQueue))
	assert.Equal(t, 1, st.WaitInstances.Len())
	assert.Equal(t, 1, st.WaitQueue.Len())

	rows, err := st.WaitQueue.ListByWaitInstance(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// flakyResponses fails batch deletes and deletes of one id.
type flakyResponses struct {
	store.NotifyResponseRepository
	bad string
}

func (f *flakyResponses) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) > 1 {
		return 0, errors.New("statement timeout")
	}
	if ids[0] == f.bad {
		return 0, errors.New("row locked")
	}
	return f.NotifyResponseRepository.Delete(ctx, ids)
}

func TestReap_FallsBackToSingleDeletes(t *testing.T) {
	st := storemem.NewStore()
	consumed(t, st, "a", "b", "c")

	repos := st.Repositories()
	repos.Responses = &flakyResponses{NotifyResponseRepository: repos.Responses, bad: "b"}

	s := newTestService(t, repos, config.CleanupConfig{}, time.Minute)
	report, err := s.Reap(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Deleted(KindResponse))
	failed := report.Errors()
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)
	assert.Equal(t, KindResponse, failed[0].Kind)
	assert.Equal(t, 1, st.Responses.Len())
}

// brokenList fails every listing query.
type brokenList struct {
	store.NotifyResponseRepository
}

func (brokenList) ListIDs(ctx context.Context, filter domain.ResponseFilter) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestRun_SwallowsErrors(t *testing.T) {
	st := storemem.NewStore()
	repos := st.Repositories()
	repos.Responses = brokenList{NotifyResponseRepository: repos.Responses}

	s := newTestService(t, repos, config.CleanupConfig{}, 0)
	require.Error(t, s.RunOnce(context.Background()))
	assert.NotPanics(t, func() { s.Run(context.Background()) })
}
