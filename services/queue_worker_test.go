package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dinehub1/rewardjar-sync/internal/cache"
	"github.com/Dinehub1/rewardjar-sync/internal/card"
	"github.com/Dinehub1/rewardjar-sync/internal/storage"
	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
)

func strPtr(s string) *string { return &s }

func testWorker(t *testing.T, store *storage.Memory) *QueueWorker {
	t.Helper()
	apple := &wallet.AppleEncoder{PassTypeIdentifier: "pass.com.example.loyalty", TeamIdentifier: "TEAM123456"}
	google, err := wallet.NewGoogleEncoder("3388000000012345", "svc@example.iam.gserviceaccount.com", nil)
	require.NoError(t, err)
	pwa := &wallet.PWAEncoder{BaseURL: "https://wallet.example.com"}

	validator := wallet.NewValidator(apple, google, pwa)
	encoders := []wallet.Encoder{apple, google, pwa}
	return NewQueueWorker(store, store, store, validator, encoders, cache.NewInMemoryCache())
}

// seedSyncableCard sets up a card whose passes validate on every platform.
func seedSyncableCard(store *storage.Memory) *card.StampCard {
	biz := &card.Business{
		ID:         uuid.New(),
		Name:       "Bean There",
		BrandColor: strPtr("#10b981"),
		LogoURL:    strPtr("https://cdn.example.com/logo.png"),
	}
	tpl := &card.CardTemplate{
		ID:                uuid.New(),
		BusinessID:        biz.ID,
		Kind:              card.KindStamp,
		Name:              "Coffee Club",
		RewardDescription: strPtr("Free coffee"),
	}
	c := &card.StampCard{
		ID:            uuid.New(),
		CustomerID:    uuid.New(),
		TemplateID:    tpl.ID,
		CurrentStamps: 4,
		TotalStamps:   10,
	}
	store.PutBusiness(biz)
	store.PutTemplate(tpl)
	store.PutCard(c)
	return c
}

func enqueueAndClaim(t *testing.T, store *storage.Memory, cardID uuid.UUID) *syncqueue.Job {
	t.Helper()
	customerID := uuid.New()
	_, err := store.Enqueue(context.Background(), syncqueue.NewJob(cardID, &customerID, wallet.AllPlatforms(), syncqueue.PriorityNormal))
	require.NoError(t, err)
	job, err := store.ClaimNextPending(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestRunPipeline_CompletesAndStoresArtifacts(t *testing.T) {
	store := storage.NewMemory()
	w := testWorker(t, store)
	c := seedSyncableCard(store)
	job := enqueueAndClaim(t, store, c.ID)

	status, err := w.runPipeline(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, syncqueue.StatusCompleted, status)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, syncqueue.StatusCompleted, got.Status)
	require.NotNil(t, got.ProcessedAt)
	assert.Nil(t, got.ErrorMessage)

	artifacts, err := store.LatestPasses(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 3)
	for _, a := range artifacts {
		assert.Equal(t, job.ID, a.JobID)
		assert.True(t, json.Valid(a.Payload), "stored %s payload must be JSON", a.Platform)
	}
}

func TestRunPipeline_ArtifactCarriesCurrentProgress(t *testing.T) {
	store := storage.NewMemory()
	w := testWorker(t, store)
	c := seedSyncableCard(store)
	job := enqueueAndClaim(t, store, c.ID)

	// Progress moved after enqueue; the pass must reflect storage state at
	// generation time, not at enqueue time.
	c.CurrentStamps = 7
	store.PutCard(c)

	_, err := w.runPipeline(context.Background(), job)
	require.NoError(t, err)

	artifacts, err := store.LatestPasses(context.Background(), c.ID)
	require.NoError(t, err)
	var pwaPayload []byte
	for _, a := range artifacts {
		if a.Platform == wallet.PlatformPWA {
			pwaPayload = a.Payload
		}
	}
	require.NotNil(t, pwaPayload)

	var pass wallet.PWAPass
	require.NoError(t, json.Unmarshal(pwaPayload, &pass))
	assert.Equal(t, "7/10", pass.ProgressText)
}

func TestRunPipeline_ValidationFailureConsumesNoRetry(t *testing.T) {
	store := storage.NewMemory()
	w := testWorker(t, store)
	c := seedSyncableCard(store)

	// Break the data: an unnamed business fails every platform's contract.
	tpl, err := store.GetTemplate(context.Background(), c.TemplateID)
	require.NoError(t, err)
	store.PutBusiness(&card.Business{ID: tpl.BusinessID, Name: ""})

	job := enqueueAndClaim(t, store, c.ID)

	status, err := w.runPipeline(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, syncqueue.StatusFailed, status)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, syncqueue.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "missing required field")
	assert.Equal(t, 0, got.RetryCount, "data problems reproduce on retry; no retry budget is consumed")
}

func TestRunPipeline_MissingCard(t *testing.T) {
	store := storage.NewMemory()
	w := testWorker(t, store)
	job := enqueueAndClaim(t, store, uuid.New())

	status, err := w.runPipeline(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, syncqueue.StatusFailed, status)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Contains(t, *got.ErrorMessage, "failed to load card")
	assert.Equal(t, 0, got.RetryCount, "not-found is not transient")
}

func TestDrain_ProcessesUntilEmpty(t *testing.T) {
	store := storage.NewMemory()
	w := testWorker(t, store)

	first := seedSyncableCard(store)
	second := seedSyncableCard(store)
	for _, c := range []*card.StampCard{first, second} {
		customerID := c.CustomerID
		_, err := store.Enqueue(context.Background(), syncqueue.NewJob(c.ID, &customerID, wallet.AllPlatforms(), syncqueue.PriorityNormal))
		require.NoError(t, err)
	}

	w.drain(0)

	counts, err := store.CountsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts[syncqueue.StatusPending])
	assert.Equal(t, 0, counts[syncqueue.StatusProcessing])
	assert.Equal(t, 2, counts[syncqueue.StatusCompleted])
}

func TestClaimNextPending_ClaimOnce(t *testing.T) {
	store := storage.NewMemory()
	c := seedSyncableCard(store)
	customerID := c.CustomerID
	_, err := store.Enqueue(context.Background(), syncqueue.NewJob(c.ID, &customerID, wallet.AllPlatforms(), syncqueue.PriorityNormal))
	require.NoError(t, err)

	first, err := store.ClaimNextPending(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, syncqueue.StatusProcessing, first.Status)

	second, err := store.ClaimNextPending(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, second, "a claimed job must not be claimable again")
}

func TestClaimNextPending_PriorityThenAge(t *testing.T) {
	store := storage.NewMemory()

	normalCard := uuid.New()
	highCard := uuid.New()
	_, err := store.Enqueue(context.Background(), syncqueue.NewJob(normalCard, nil, wallet.AllPlatforms(), syncqueue.PriorityNormal))
	require.NoError(t, err)
	_, err = store.Enqueue(context.Background(), syncqueue.NewJob(highCard, nil, wallet.AllPlatforms(), syncqueue.PriorityHigh))
	require.NoError(t, err)

	claimed, err := store.ClaimNextPending(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, highCard, claimed.CardID, "high priority wins regardless of age")
}
