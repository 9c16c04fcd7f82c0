package services

import (
	"context"
	"strings"
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

func enqueueN(t *testing.T, store *storage.Memory, n int) []*syncqueue.Job {
	t.Helper()
	jobs := make([]*syncqueue.Job, 0, n)
	for i := 0; i < n; i++ {
		job := syncqueue.NewJob(uuid.New(), nil, []wallet.Platform{wallet.PlatformApple}, syncqueue.PriorityNormal)
		_, err := store.Enqueue(context.Background(), job)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	return jobs
}

func hasRecommendation(recs []string, fragment string) bool {
	for _, r := range recs {
		if strings.Contains(r, fragment) {
			return true
		}
	}
	return false
}

func TestGetStatistics(t *testing.T) {
	store := storage.NewMemory()
	svc := NewQueueHealthService(store, nil)

	jobs := enqueueN(t, store, 4)
	// Two completed, one failed, one left pending.
	for i := 0; i < 2; i++ {
		_, err := store.ClaimNextPending(context.Background(), 3)
		require.NoError(t, err)
		require.NoError(t, store.MarkCompleted(context.Background(), jobs[i].ID, time.Now()))
	}
	_, err := store.ClaimNextPending(context.Background(), 3)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(context.Background(), jobs[2].ID, "apple: signing unavailable", true))

	stats, err := svc.GetStatistics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalPending)
	assert.Equal(t, 2, stats.TotalCompleted)
	assert.Equal(t, 1, stats.TotalFailed)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	assert.Equal(t, 4, stats.PlatformVolume[wallet.PlatformApple])
	require.Len(t, stats.TopErrors, 1)
	assert.Equal(t, "apple: signing unavailable", stats.TopErrors[0].Message)
	assert.Equal(t, 1, stats.TopErrors[0].Count)
}

func TestGetStatistics_CachedBetweenCalls(t *testing.T) {
	store := storage.NewMemory()
	c := cache.NewInMemoryCache()
	svc := NewQueueHealthService(store, c)

	enqueueN(t, store, 2)

	first, err := svc.GetStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.TotalPending)

	// A write that bypasses the services does not invalidate the cache, so
	// the cached snapshot is returned until the TTL passes.
	enqueueN(t, store, 3)

	second, err := svc.GetStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, second.TotalPending)

	require.NoError(t, c.Delete(context.Background(), statsCacheKey))

	third, err := svc.GetStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, third.TotalPending)
}

func TestGetHealth_Healthy(t *testing.T) {
	store := storage.NewMemory()
	svc := NewQueueHealthService(store, nil)

	health, err := svc.GetHealth(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, health.QueueLength)
	assert.Empty(t, health.Recommendations)
}

func TestGetHealth_QueueLengthThreshold(t *testing.T) {
	store := storage.NewMemory()
	svc := NewQueueHealthService(store, nil)

	enqueueN(t, store, queueLengthThreshold+1)
	// Something is processing, so the stall rule stays quiet.
	_, err := store.ClaimNextPending(context.Background(), 3)
	require.NoError(t, err)

	health, err := svc.GetHealth(context.Background())
	require.NoError(t, err)

	assert.Equal(t, queueLengthThreshold+1, health.QueueLength)
	assert.True(t, hasRecommendation(health.Recommendations, "worker concurrency"))
	assert.False(t, hasRecommendation(health.Recommendations, "stalled"))
}

func TestGetHealth_OldPendingItems(t *testing.T) {
	store := storage.NewMemory()
	svc := NewQueueHealthService(store, nil)

	enqueueN(t, store, 1)
	svc.now = func() time.Time { return time.Now().Add(oldestPendingThreshold + time.Minute) }

	health, err := svc.GetHealth(context.Background())
	require.NoError(t, err)

	assert.Greater(t, health.OldestPendingSeconds, oldestPendingThreshold.Seconds())
	assert.True(t, hasRecommendation(health.Recommendations, "underprovisioned"))
}

func TestGetHealth_FailedThreshold(t *testing.T) {
	store := storage.NewMemory()
	svc := NewQueueHealthService(store, nil)

	jobs := enqueueN(t, store, failedCountThreshold+1)
	for _, job := range jobs {
		_, err := store.ClaimNextPending(context.Background(), 3)
		require.NoError(t, err)
		require.NoError(t, store.MarkFailed(context.Background(), job.ID, "boom", true))
	}

	health, err := svc.GetHealth(context.Background())
	require.NoError(t, err)

	assert.True(t, hasRecommendation(health.Recommendations, "retry or purge"))
}

func TestGetHealth_StalledOnlyWhenNothingProcessing(t *testing.T) {
	store := storage.NewMemory()
	svc := NewQueueHealthService(store, nil)

	enqueueN(t, store, 2)

	health, err := svc.GetHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, hasRecommendation(health.Recommendations, "stalled"))

	_, err = store.ClaimNextPending(context.Background(), 3)
	require.NoError(t, err)

	health, err = svc.GetHealth(context.Background())
	require.NoError(t, err)
	assert.False(t, hasRecommendation(health.Recommendations, "stalled"))
}
