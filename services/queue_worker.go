package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Dinehub1/rewardjar-sync/internal/cache"
	"github.com/Dinehub1/rewardjar-sync/internal/card"
	"github.com/Dinehub1/rewardjar-sync/internal/passdata"
	"github.com/Dinehub1/rewardjar-sync/internal/storage"
	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
	"github.com/Dinehub1/rewardjar-sync/middleware"
)

// PassUpdateNotifier pushes a "pass updated" hint to the customer's devices
// after a successful delivery. Optional; the worker runs without it.
type PassUpdateNotifier interface {
	NotifyPassUpdated(ctx context.Context, customerID, cardID uuid.UUID, platforms []wallet.Platform) error
}

// QueueWorker drains the synchronization queue with a bounded pool. Workers
// coordinate only through the claim-once transition in the job store, so
// multiple processes can run pools against the same queue. The pool size is
// also passed to the store as the admission limit on claims, which keeps the
// processing cap global across those processes.
type QueueWorker struct {
	jobs      storage.JobStore
	cards     storage.CardStore
	passes    storage.PassStore
	validator *wallet.Validator
	encoders  map[wallet.Platform]wallet.Encoder
	notifier  PassUpdateNotifier
	cache     cache.Cache

	concurrency  int
	pollInterval time.Duration
	jobTimeout   time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewQueueWorker(jobs storage.JobStore, cards storage.CardStore, passes storage.PassStore, validator *wallet.Validator, encoders []wallet.Encoder, c cache.Cache) *QueueWorker {
	encoderMap := make(map[wallet.Platform]wallet.Encoder, len(encoders))
	for _, enc := range encoders {
		encoderMap[enc.Platform()] = enc
	}

	concurrency := 3
	if v := os.Getenv("SYNC_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			concurrency = n
		}
	}

	return &QueueWorker{
		jobs:         jobs,
		cards:        cards,
		passes:       passes,
		validator:    validator,
		encoders:     encoderMap,
		cache:        c,
		concurrency:  concurrency,
		pollInterval: 2 * time.Second,
		jobTimeout:   30 * time.Second,
		stopChan:     make(chan struct{}),
	}
}

// SetNotifier injects the push provider from main.go.
func (w *QueueWorker) SetNotifier(n PassUpdateNotifier) {
	w.notifier = n
}

func (w *QueueWorker) Start() {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}
	log.Printf("Sync queue worker pool started with %d workers", w.concurrency)
}

func (w *QueueWorker) Stop() {
	log.Println("Stopping sync queue workers...")
	close(w.stopChan)
	w.wg.Wait()
	log.Println("Sync queue workers stopped")
}

func (w *QueueWorker) worker(id int) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.drain(id)
		case <-w.stopChan:
			return
		}
	}
}

// drain claims and processes jobs until the queue is empty, so a burst does
// not pay the poll interval per job.
func (w *QueueWorker) drain(workerID int) {
	for {
		select {
		case <-w.stopChan:
			return
		default:
		}

		job, err := w.jobs.ClaimNextPending(context.Background(), w.concurrency)
		if err != nil {
			log.Printf("worker %d: failed to claim job: %v", workerID, err)
			return
		}
		if job == nil {
			return
		}
		w.processJob(job)
	}
}

// processJob runs the transform → encode → validate → deliver pipeline for
// one claimed job. The whole pipeline sits under one timeout so a hung
// external call cannot occupy a worker slot forever. No cancellation is
// exposed for claimed jobs; a stuck one is resolved operationally.
func (w *QueueWorker) processJob(job *syncqueue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()

	tracer := otel.Tracer("rewardjar-sync/worker")
	ctx, span := tracer.Start(ctx, "syncqueue.process",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.card_id", job.CardID.String()),
			attribute.String("job.priority", string(job.Priority)),
		),
	)
	defer span.End()

	start := time.Now()
	status, err := w.runPipeline(ctx, job)
	middleware.ObserveSyncJob(string(status), time.Since(start).Seconds())
	w.invalidateStats()

	if err != nil {
		span.RecordError(err)
		log.Printf("job %s %s: %v", job.ID, status, err)
		return
	}
	log.Printf("job %s %s in %s", job.ID, status, time.Since(start).Round(time.Millisecond))
}

func (w *QueueWorker) runPipeline(ctx context.Context, job *syncqueue.Job) (syncqueue.Status, error) {
	// Always re-read current storage state: multiple events may have landed
	// since enqueue, and a delivered pass must never carry stale progress.
	var c card.CardInstance
	err := retryTransient(ctx, func(ctx context.Context) error {
		var err error
		c, err = w.cards.GetCard(ctx, job.CardID)
		return err
	})
	if err != nil {
		return w.failJob(ctx, job, fmt.Sprintf("failed to load card: %v", err), isTransient(err))
	}

	var tpl *card.CardTemplate
	err = retryTransient(ctx, func(ctx context.Context) error {
		var err error
		tpl, err = w.cards.GetTemplate(ctx, c.Template())
		return err
	})
	if err != nil {
		return w.failJob(ctx, job, fmt.Sprintf("failed to load card template: %v", err), isTransient(err))
	}

	var biz *card.Business
	err = retryTransient(ctx, func(ctx context.Context) error {
		var err error
		biz, err = w.cards.GetBusiness(ctx, tpl.BusinessID)
		return err
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return w.failJob(ctx, job, fmt.Sprintf("failed to load business: %v", err), true)
	}

	u := passdata.Transform(tpl, biz, c)

	report := w.validator.Validate(u)
	if !report.Deliverable() {
		// Validation failures need a data fix, not a retry: retrying
		// unchanged data reproduces the same error, so no retry is consumed.
		return w.failJob(ctx, job, report.ErrorSummary(), false)
	}

	generatedAt := time.Now()
	for _, platform := range job.Platforms {
		enc, ok := w.encoders[platform]
		if !ok {
			return w.failJob(ctx, job, fmt.Sprintf("no encoder configured for platform %q", platform), false)
		}
		payload := enc.Encode(u)
		data, err := json.Marshal(payload.Data)
		if err != nil {
			return w.failJob(ctx, job, fmt.Sprintf("failed to marshal %s payload: %v", platform, err), false)
		}

		artifact := &syncqueue.PassArtifact{
			ID:          uuid.New(),
			CardID:      job.CardID,
			JobID:       job.ID,
			Platform:    platform,
			Payload:     data,
			GeneratedAt: generatedAt,
		}
		err = retryTransient(ctx, func(ctx context.Context) error {
			return w.passes.SavePass(ctx, artifact)
		})
		if err != nil {
			return w.failJob(ctx, job, fmt.Sprintf("failed to store %s pass: %v", platform, err), true)
		}
	}

	if err := w.jobs.MarkCompleted(ctx, job.ID, time.Now()); err != nil {
		return syncqueue.StatusFailed, fmt.Errorf("failed to mark job completed: %w", err)
	}

	if w.notifier != nil && job.CustomerID != nil {
		if err := w.notifier.NotifyPassUpdated(ctx, *job.CustomerID, job.CardID, job.Platforms); err != nil {
			log.Printf("pass update notification for card %s failed: %v", job.CardID, err)
		}
	}
	return syncqueue.StatusCompleted, nil
}

// failJob records the causing error on the row. consumeRetry distinguishes
// transient infrastructure failures from data problems that would reproduce
// on an unchanged retry.
func (w *QueueWorker) failJob(ctx context.Context, job *syncqueue.Job, msg string, consumeRetry bool) (syncqueue.Status, error) {
	if err := w.jobs.MarkFailed(ctx, job.ID, msg, consumeRetry); err != nil {
		return syncqueue.StatusFailed, fmt.Errorf("failed to mark job failed (%s): %w", msg, err)
	}
	return syncqueue.StatusFailed, errors.New(msg)
}

func (w *QueueWorker) invalidateStats() {
	if w.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.cache.Delete(ctx, statsCacheKey); err != nil {
		log.Printf("failed to invalidate stats cache: %v", err)
	}
}

func isTransient(err error) bool {
	return !errors.Is(err, storage.ErrNotFound)
}

// retryTransient retries storage calls with bounded backoff inside the job's
// timeout budget. Not-found is never transient and returns immediately.
func retryTransient(ctx context.Context, fn func(context.Context) error) error {
	backoff := 200 * time.Millisecond
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = fn(ctx)
		if err == nil || errors.Is(err, storage.ErrNotFound) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
