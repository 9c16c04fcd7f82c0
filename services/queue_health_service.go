package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/Dinehub1/rewardjar-sync/internal/cache"
	"github.com/Dinehub1/rewardjar-sync/internal/storage"
	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
)

// Thresholds driving operator recommendations.
const (
	queueLengthThreshold   = 50
	oldestPendingThreshold = 5 * time.Minute
	failedCountThreshold   = 10
	statsWindow            = 7 * 24 * time.Hour
	statsCacheTTL          = 15 * time.Second
)

// QueueHealthService aggregates the queue table into statistics and
// plain-language recommendations. It never mutates state: it exists to drive
// operator decisions on the queue actions, not to take them.
type QueueHealthService struct {
	jobs  storage.JobStore
	cache cache.Cache
	now   func() time.Time
}

func NewQueueHealthService(jobs storage.JobStore, c cache.Cache) *QueueHealthService {
	return &QueueHealthService{jobs: jobs, cache: c, now: time.Now}
}

// GetStatistics reads through the cache; the durable table is the source of
// truth and every queue mutation invalidates the key, so the short TTL only
// bounds staleness between polls of an idle dashboard.
func (s *QueueHealthService) GetStatistics(ctx context.Context) (*syncqueue.Statistics, error) {
	if s.cache != nil {
		var cached syncqueue.Statistics
		if err := cache.GetJSON(ctx, s.cache, statsCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	stats, err := s.computeStatistics(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, statsCacheKey, stats, statsCacheTTL); err != nil {
			log.Printf("failed to cache queue statistics: %v", err)
		}
	}
	return stats, nil
}

func (s *QueueHealthService) computeStatistics(ctx context.Context) (*syncqueue.Statistics, error) {
	counts, err := s.jobs.CountsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}

	stats := &syncqueue.Statistics{
		TotalPending:    counts[syncqueue.StatusPending],
		TotalProcessing: counts[syncqueue.StatusProcessing],
		TotalCompleted:  counts[syncqueue.StatusCompleted],
		TotalFailed:     counts[syncqueue.StatusFailed],
		PlatformVolume:  make(map[wallet.Platform]int),
	}

	finished := stats.TotalCompleted + stats.TotalFailed
	if finished > 0 {
		stats.SuccessRate = float64(stats.TotalCompleted) / float64(finished)
	}

	recent, err := s.jobs.ListRecent(ctx, s.now().Add(-statsWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to list recent queue items: %w", err)
	}

	var totalCompletion time.Duration
	var completedWithTimes int
	errorCounts := make(map[string]int)

	for _, job := range recent {
		for _, p := range job.Platforms {
			stats.PlatformVolume[p]++
		}
		if job.Status == syncqueue.StatusCompleted && job.ProcessedAt != nil {
			stats.PeakHours[job.ProcessedAt.Hour()]++
			totalCompletion += job.ProcessedAt.Sub(job.CreatedAt)
			completedWithTimes++
		}
		if job.Status == syncqueue.StatusFailed && job.ErrorMessage != nil {
			errorCounts[*job.ErrorMessage]++
		}
	}

	if completedWithTimes > 0 {
		stats.AvgCompletionSecs = totalCompletion.Seconds() / float64(completedWithTimes)
	}
	stats.TopErrors = topErrors(errorCounts, 10)
	return stats, nil
}

func (s *QueueHealthService) GetHealth(ctx context.Context) (*syncqueue.Health, error) {
	counts, err := s.jobs.CountsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}
	pending := counts[syncqueue.StatusPending]
	processing := counts[syncqueue.StatusProcessing]
	failed := counts[syncqueue.StatusFailed]

	health := &syncqueue.Health{
		QueueLength:     pending + processing,
		Recommendations: []string{},
	}

	var oldestPending time.Duration
	if pending > 0 {
		pendingJobs, err := s.jobs.ListJobs(ctx, syncqueue.StatusPending, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending items: %w", err)
		}
		now := s.now()
		for _, job := range pendingJobs {
			if age := now.Sub(job.CreatedAt); age > oldestPending {
				oldestPending = age
			}
		}
		health.OldestPendingSeconds = oldestPending.Seconds()
	}

	if health.QueueLength > queueLengthThreshold {
		health.Recommendations = append(health.Recommendations,
			fmt.Sprintf("Queue length is %d; consider raising worker concurrency", health.QueueLength))
	}
	if oldestPending > oldestPendingThreshold {
		health.Recommendations = append(health.Recommendations,
			fmt.Sprintf("Oldest pending item is %s old; workers may be underprovisioned", oldestPending.Round(time.Second)))
	}
	if failed > failedCountThreshold {
		health.Recommendations = append(health.Recommendations,
			fmt.Sprintf("%d failed items in the queue; inspect errors and retry or purge", failed))
	}
	if pending > 0 && processing == 0 {
		health.Recommendations = append(health.Recommendations,
			"Processing appears stalled: items are pending but nothing is processing")
	}
	return health, nil
}

func topErrors(counts map[string]int, limit int) []syncqueue.ErrorFrequency {
	out := make([]syncqueue.ErrorFrequency, 0, len(counts))
	for msg, n := range counts {
		out = append(out, syncqueue.ErrorFrequency{Message: msg, Count: n})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Count != out[k].Count {
			return out[i].Count > out[k].Count
		}
		return out[i].Message < out[k].Message
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
