package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dinehub1/rewardjar-sync/internal/cache"
	"github.com/Dinehub1/rewardjar-sync/internal/storage"
	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
)

func seedJob(t *testing.T, store *storage.Memory, status syncqueue.Status, errMsg string) *syncqueue.Job {
	t.Helper()
	customerID := uuid.New()
	job := syncqueue.NewJob(uuid.New(), &customerID, wallet.AllPlatforms(), syncqueue.PriorityNormal)
	_, err := store.Enqueue(context.Background(), job)
	require.NoError(t, err)

	switch status {
	case syncqueue.StatusProcessing:
		_, err = store.ClaimNextPending(context.Background(), 3)
		require.NoError(t, err)
	case syncqueue.StatusCompleted:
		require.NoError(t, store.MarkCompleted(context.Background(), job.ID, time.Now()))
	case syncqueue.StatusFailed:
		require.NoError(t, store.MarkFailed(context.Background(), job.ID, errMsg, true))
	}
	return job
}

func TestGetQueue_EmptySlicesNotNil(t *testing.T) {
	svc := NewSyncQueueService(storage.NewMemory(), cache.NewInMemoryCache())

	snapshot, err := svc.GetQueue(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, snapshot.Pending)
	assert.NotNil(t, snapshot.Processing)
	assert.NotNil(t, snapshot.Completed)
	assert.NotNil(t, snapshot.Failed)
	assert.Empty(t, snapshot.Pending)
}

func TestRetry_RequeuesFailedJob(t *testing.T) {
	store := storage.NewMemory()
	svc := NewSyncQueueService(store, cache.NewInMemoryCache())
	job := seedJob(t, store, syncqueue.StatusFailed, "apple: missing required field")

	result, err := svc.Retry(context.Background(), []uuid.UUID{job.ID}, syncqueue.PriorityHigh, "op_1")
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{job.ID}, result.Succeeded)
	assert.Empty(t, result.Failed)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, syncqueue.StatusPending, got.Status)
	assert.Equal(t, syncqueue.PriorityHigh, got.Priority)
	assert.Nil(t, got.ErrorMessage)
	assert.Equal(t, 2, got.RetryCount)
}

func TestRetry_AuditPreservesPreviousError(t *testing.T) {
	store := storage.NewMemory()
	svc := NewSyncQueueService(store, cache.NewInMemoryCache())
	job := seedJob(t, store, syncqueue.StatusFailed, "google: network timeout")

	_, err := svc.Retry(context.Background(), []uuid.UUID{job.ID}, syncqueue.PriorityNormal, "op_1")
	require.NoError(t, err)

	audits := store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, "retry", audits[0].Action)
	assert.Equal(t, "op_1", audits[0].Actor)
	require.NotNil(t, audits[0].PreviousError)
	assert.Equal(t, "google: network timeout", *audits[0].PreviousError)
}

func TestRetry_OnlyFailedJobs(t *testing.T) {
	store := storage.NewMemory()
	svc := NewSyncQueueService(store, cache.NewInMemoryCache())
	pending := seedJob(t, store, syncqueue.StatusPending, "")

	result, err := svc.Retry(context.Background(), []uuid.UUID{pending.ID}, syncqueue.PriorityNormal, "op_1")
	require.NoError(t, err)

	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, pending.ID, result.Failed[0].ID)
	assert.Contains(t, result.Failed[0].Reason, "only failed jobs")
}

func TestBatch_PartialFailure(t *testing.T) {
	store := storage.NewMemory()
	svc := NewSyncQueueService(store, cache.NewInMemoryCache())
	failed := seedJob(t, store, syncqueue.StatusFailed, "boom")
	missing := uuid.New()

	result, err := svc.Retry(context.Background(), []uuid.UUID{failed.ID, missing}, syncqueue.PriorityNormal, "op_1")
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{failed.ID}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, missing, result.Failed[0].ID)
	assert.Equal(t, "job not found", result.Failed[0].Reason)
}

func TestForceComplete(t *testing.T) {
	store := storage.NewMemory()
	svc := NewSyncQueueService(store, cache.NewInMemoryCache())
	job := seedJob(t, store, syncqueue.StatusFailed, "boom")

	result, err := svc.ForceComplete(context.Background(), []uuid.UUID{job.ID}, "op_1")
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 1)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, syncqueue.StatusCompleted, got.Status)
	require.NotNil(t, got.ProcessedAt)

	// Already-completed jobs cannot be forced again.
	result, err = svc.ForceComplete(context.Background(), []uuid.UUID{job.ID}, "op_1")
	require.NoError(t, err)
	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 1)
}

func TestFail_MarksWithReason(t *testing.T) {
	store := storage.NewMemory()
	svc := NewSyncQueueService(store, cache.NewInMemoryCache())
	job := seedJob(t, store, syncqueue.StatusPending, "")

	result, err := svc.Fail(context.Background(), []uuid.UUID{job.ID}, "duplicate card", "op_1")
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 1)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, syncqueue.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "duplicate card", *got.ErrorMessage)
	// Operator fail is not a processing attempt.
	assert.Equal(t, 0, got.RetryCount)
}

func TestPurge_RespectsRetention(t *testing.T) {
	store := storage.NewMemory()
	svc := NewSyncQueueService(store, cache.NewInMemoryCache())

	completed := seedJob(t, store, syncqueue.StatusCompleted, "")
	failed := seedJob(t, store, syncqueue.StatusFailed, "boom")

	// Fresh rows sit inside both retention windows.
	n, err := svc.PurgeCompleted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Purge keys off updated_at; move the clock forward instead of mutating rows.
	svc.now = func() time.Time { return time.Now().Add(syncqueue.CompletedRetention + time.Hour) }

	n, err = svc.PurgeCompleted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// CompletedRetention + 1h is still inside the failed window.
	n, err = svc.PurgeFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "failed retention is longer; nothing should purge yet")

	_, err = store.GetJob(context.Background(), failed.ID)
	assert.NoError(t, err)
	_, err = store.GetJob(context.Background(), completed.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
