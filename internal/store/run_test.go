package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncRun_Lifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.StartSyncRun(ctx, "run-1", "email")
	require.NoError(t, err)

	run, err := s.GetSyncRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, RunRunning, run.Status)
	assert.Nil(t, run.FinishedAt)

	stats := map[string]int64{"messages_total": 2, "errors": 1}
	require.NoError(t, s.FinishSyncRun(ctx, "run-1", RunCompletedWithErrors, stats, "1 message failed"))

	run, err = s.GetSyncRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunCompletedWithErrors, run.Status)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, stats, run.Stats)
	assert.Equal(t, "1 message failed", run.Error)
}

func TestSyncRun_RestartResets(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id1, err := s.StartSyncRun(ctx, "run-1", "email")
	require.NoError(t, err)
	require.NoError(t, s.FinishSyncRun(ctx, "run-1", RunFailed, map[string]int64{"errors": 3}, "boom"))

	id2, err := s.StartSyncRun(ctx, "run-1", "ozon")
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same correlation id reuses the row")

	run, err := s.GetSyncRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, run.Status)
	assert.Equal(t, "ozon", run.Source)
	assert.Nil(t, run.FinishedAt)
	assert.Nil(t, run.Stats)
	assert.Empty(t, run.Error)
	assert.Equal(t, 1, countRows(t, s, "sync_runs"))
}

func TestSyncRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.GetSyncRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = s.FinishSyncRun(ctx, "nope", RunSuccess, nil, "")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListSyncRuns_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.StartSyncRun(ctx, id, "email")
		require.NoError(t, err)
	}

	runs, err := s.ListSyncRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].CorrelationID)
	assert.Equal(t, "a", runs[2].CorrelationID)

	limited, err := s.ListSyncRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListSyncRuns_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)
	runs, err := s.ListSyncRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}
