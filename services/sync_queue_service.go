package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Dinehub1/rewardjar-sync/internal/cache"
	"github.com/Dinehub1/rewardjar-sync/internal/storage"
	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
)

const statsCacheKey = "syncqueue:stats"

// SyncQueueService exposes the operator surface of the durable queue: listing
// and the explicit retry / force-complete / fail / purge transitions. Nothing
// here runs automatically; retries in particular are always operator- or
// policy-triggered, never an ambient loop.
type SyncQueueService struct {
	jobs  storage.JobStore
	cache cache.Cache
	now   func() time.Time
}

func NewSyncQueueService(jobs storage.JobStore, c cache.Cache) *SyncQueueService {
	return &SyncQueueService{jobs: jobs, cache: c, now: time.Now}
}

type QueueSnapshot struct {
	Pending    []*syncqueue.Job `json:"pending"`
	Processing []*syncqueue.Job `json:"processing"`
	Completed  []*syncqueue.Job `json:"completed"`
	Failed     []*syncqueue.Job `json:"failed"`
}

func (s *SyncQueueService) GetQueue(ctx context.Context) (*QueueSnapshot, error) {
	snapshot := &QueueSnapshot{}
	for _, st := range []struct {
		status syncqueue.Status
		dest   *[]*syncqueue.Job
	}{
		{syncqueue.StatusPending, &snapshot.Pending},
		{syncqueue.StatusProcessing, &snapshot.Processing},
		{syncqueue.StatusCompleted, &snapshot.Completed},
		{syncqueue.StatusFailed, &snapshot.Failed},
	} {
		jobs, err := s.jobs.ListJobs(ctx, st.status, 100)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s jobs: %w", st.status, err)
		}
		if jobs == nil {
			jobs = []*syncqueue.Job{}
		}
		*st.dest = jobs
	}
	return snapshot, nil
}

// Retry clears the failure and re-queues each failed job, bumping its retry
// count. The previous error is preserved in the audit trail before the row
// is reset, so failure history survives for error-frequency analysis.
func (s *SyncQueueService) Retry(ctx context.Context, ids []uuid.UUID, priority syncqueue.Priority, actor string) (*syncqueue.BatchResult, error) {
	if priority == "" {
		priority = syncqueue.PriorityNormal
	}
	return s.batch(ctx, ids, "retry", actor, func(ctx context.Context, job *syncqueue.Job) error {
		if job.Status != syncqueue.StatusFailed {
			return fmt.Errorf("only failed jobs can be retried, job is %s", job.Status)
		}
		return s.jobs.Requeue(ctx, job.ID, priority)
	})
}

// ForceComplete marks jobs completed without re-running generation; used when
// an operator has verified or delivered the pass out-of-band. The transition
// is authoritative and never re-evaluated.
func (s *SyncQueueService) ForceComplete(ctx context.Context, ids []uuid.UUID, actor string) (*syncqueue.BatchResult, error) {
	return s.batch(ctx, ids, "force_complete", actor, func(ctx context.Context, job *syncqueue.Job) error {
		if job.Status == syncqueue.StatusCompleted {
			return errors.New("job is already completed")
		}
		return s.jobs.MarkCompleted(ctx, job.ID, s.now())
	})
}

// Fail marks jobs permanently failed with an operator-supplied reason,
// removing them from further processing.
func (s *SyncQueueService) Fail(ctx context.Context, ids []uuid.UUID, reason, actor string) (*syncqueue.BatchResult, error) {
	if reason == "" {
		reason = "marked as failed by operator"
	}
	return s.batch(ctx, ids, "fail", actor, func(ctx context.Context, job *syncqueue.Job) error {
		if job.Status == syncqueue.StatusCompleted {
			return errors.New("completed jobs cannot be failed")
		}
		return s.jobs.MarkFailed(ctx, job.ID, reason, false)
	})
}

func (s *SyncQueueService) PurgeCompleted(ctx context.Context) (int, error) {
	n, err := s.jobs.PurgeCompletedBefore(ctx, s.now().Add(-syncqueue.CompletedRetention))
	if err != nil {
		return 0, err
	}
	s.invalidateStats(ctx)
	return n, nil
}

func (s *SyncQueueService) PurgeFailed(ctx context.Context) (int, error) {
	n, err := s.jobs.PurgeFailedBefore(ctx, s.now().Add(-syncqueue.FailedRetention))
	if err != nil {
		return 0, err
	}
	s.invalidateStats(ctx)
	return n, nil
}

// batch applies one operator transition per id and reports per-id outcomes
// instead of logging and continuing: callers can react to partial failure.
func (s *SyncQueueService) batch(ctx context.Context, ids []uuid.UUID, action, actor string, apply func(context.Context, *syncqueue.Job) error) (*syncqueue.BatchResult, error) {
	result := &syncqueue.BatchResult{Succeeded: []uuid.UUID{}, Failed: []syncqueue.BatchFailure{}}

	for _, id := range ids {
		job, err := s.jobs.GetJob(ctx, id)
		if err != nil {
			reason := "job not found"
			if !errors.Is(err, storage.ErrNotFound) {
				reason = err.Error()
			}
			result.Failed = append(result.Failed, syncqueue.BatchFailure{ID: id, Reason: reason})
			continue
		}

		if err := apply(ctx, job); err != nil {
			result.Failed = append(result.Failed, syncqueue.BatchFailure{ID: id, Reason: err.Error()})
			continue
		}

		audit := &syncqueue.AuditRecord{
			ID:            uuid.New(),
			JobID:         id,
			Action:        action,
			Actor:         actor,
			PreviousError: job.ErrorMessage,
			CreatedAt:     s.now(),
		}
		if err := s.jobs.AppendAudit(ctx, audit); err != nil {
			log.Printf("failed to write queue audit record for job %s: %v", id, err)
		}
		result.Succeeded = append(result.Succeeded, id)
	}

	if len(result.Succeeded) > 0 {
		s.invalidateStats(ctx)
	}
	return result, nil
}

func (s *SyncQueueService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
		log.Printf("failed to invalidate stats cache: %v", err)
	}
}
