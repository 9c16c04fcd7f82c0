package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
)

func enqueueJobs(t *testing.T, store *Memory, n int) []*syncqueue.Job {
	t.Helper()
	jobs := make([]*syncqueue.Job, 0, n)
	for i := 0; i < n; i++ {
		job, err := store.Enqueue(context.Background(), syncqueue.NewJob(uuid.New(), nil, wallet.AllPlatforms(), syncqueue.PriorityNormal))
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	return jobs
}

func TestClaimNextPending_GlobalAdmissionLimit(t *testing.T) {
	store := NewMemory()
	enqueueJobs(t, store, 4)

	claimed := make([]*syncqueue.Job, 0, 3)
	for i := 0; i < 3; i++ {
		job, err := store.ClaimNextPending(context.Background(), 3)
		require.NoError(t, err)
		require.NotNil(t, job)
		claimed = append(claimed, job)
	}

	fourth, err := store.ClaimNextPending(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, fourth, "claims must stop once the processing cap is reached")

	counts, err := store.CountsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[syncqueue.StatusProcessing])

	// A freed slot makes the held-back job claimable again.
	require.NoError(t, store.MarkCompleted(context.Background(), claimed[0].ID, time.Now()))
	next, err := store.ClaimNextPending(context.Background(), 3)
	require.NoError(t, err)
	assert.NotNil(t, next)
}

func TestListJobs_ZeroLimitMeansAll(t *testing.T) {
	store := NewMemory()
	enqueueJobs(t, store, 3)

	all, err := store.ListJobs(context.Background(), syncqueue.StatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	capped, err := store.ListJobs(context.Background(), syncqueue.StatusPending, 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}
