package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
)

const jobColumns = `
	id, card_id, customer_id, platforms, priority, status,
	retry_count, error_message, created_at, updated_at, processed_at
`

func scanJob(row pgx.Row) (*syncqueue.Job, error) {
	job := &syncqueue.Job{}
	var platforms []string
	err := row.Scan(
		&job.ID, &job.CardID, &job.CustomerID, &platforms, &job.Priority, &job.Status,
		&job.RetryCount, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &job.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan sync job: %w", err)
	}
	for _, p := range platforms {
		job.Platforms = append(job.Platforms, wallet.Platform(p))
	}
	return job, nil
}

func platformStrings(platforms []wallet.Platform) []string {
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, string(p))
	}
	return out
}

func (p *Postgres) Enqueue(ctx context.Context, job *syncqueue.Job) (*syncqueue.Job, error) {
	return enqueueJob(ctx, p.db, job)
}

// enqueueJob keeps the one-active-job-per-card invariant: if a pending or
// processing job already exists for the card, the new request joins it
// (platforms merged, higher priority wins) instead of inserting a duplicate.
// A partial unique index on (card_id) over active rows backs this up, so two
// racing inserts collapse onto one row.
func enqueueJob(ctx context.Context, q querier, job *syncqueue.Job) (*syncqueue.Job, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := activeJobForCard(ctx, q, job.CardID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if existing != nil {
			if existing.Status == syncqueue.StatusProcessing {
				// The in-flight run re-reads current state, so joining it is
				// safe; a stale result would need a second event, which will
				// enqueue again after this job leaves processing.
				return existing, nil
			}
			return mergeIntoPending(ctx, q, existing, job)
		}

		query := `
			INSERT INTO sync_jobs (id, card_id, customer_id, platforms, priority, status,
				retry_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $6)
			RETURNING ` + jobColumns
		inserted, err := scanJob(q.QueryRow(ctx, query,
			job.ID, job.CardID, job.CustomerID, platformStrings(job.Platforms),
			job.Priority, job.CreatedAt,
		))
		if err == nil {
			return inserted, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost the insert race; loop once more and join the winner.
			continue
		}
		return nil, fmt.Errorf("failed to enqueue sync job: %w", err)
	}
	return nil, fmt.Errorf("failed to enqueue sync job for card %s: conflict retry exhausted", job.CardID)
}

func activeJobForCard(ctx context.Context, q querier, cardID uuid.UUID) (*syncqueue.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM sync_jobs
		WHERE card_id = $1 AND status IN ('pending', 'processing')
		LIMIT 1
	`
	return scanJob(q.QueryRow(ctx, query, cardID))
}

func mergeIntoPending(ctx context.Context, q querier, existing, incoming *syncqueue.Job) (*syncqueue.Job, error) {
	merged := platformStrings(existing.Platforms)
	for _, p := range incoming.Platforms {
		seen := false
		for _, m := range merged {
			if m == string(p) {
				seen = true
				break
			}
		}
		if !seen {
			merged = append(merged, string(p))
		}
	}

	priority := existing.Priority
	if incoming.Priority.Rank() < priority.Rank() {
		priority = incoming.Priority
	}

	query := `
		UPDATE sync_jobs
		SET platforms = $2, priority = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + jobColumns
	job, err := scanJob(q.QueryRow(ctx, query, existing.ID, merged, priority))
	if errors.Is(err, ErrNotFound) {
		// Claimed between our read and the update; the processing run will
		// see current state anyway.
		return existing, nil
	}
	return job, err
}

// ClaimNextPending is the claim-once transition into processing: a single
// conditional UPDATE with SKIP LOCKED, safe across worker processes. The
// processing count guard keeps the admission limit global rather than
// per-process.
func (p *Postgres) ClaimNextPending(ctx context.Context, maxProcessing int) (*syncqueue.Job, error) {
	query := `
		UPDATE sync_jobs
		SET status = 'processing', updated_at = NOW()
		WHERE id = (
			SELECT id FROM sync_jobs
			WHERE status = 'pending'
			AND (SELECT COUNT(*) FROM sync_jobs WHERE status = 'processing') < $1
			ORDER BY
				CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END,
				created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns
	job, err := scanJob(p.db.QueryRow(ctx, query, maxProcessing))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return job, err
}

func (p *Postgres) GetJob(ctx context.Context, id uuid.UUID) (*syncqueue.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE id = $1`
	return scanJob(p.db.QueryRow(ctx, query, id))
}

func (p *Postgres) ListJobs(ctx context.Context, status syncqueue.Status, limit int) ([]*syncqueue.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM sync_jobs
		WHERE status = $1
		ORDER BY created_at DESC
	`
	// LIMIT 0 returns no rows in Postgres, so a non-positive limit means
	// the clause is omitted entirely.
	if limit > 0 {
		return p.queryJobs(ctx, query+` LIMIT $2`, status, limit)
	}
	return p.queryJobs(ctx, query, status)
}

func (p *Postgres) ListRecent(ctx context.Context, since time.Time) ([]*syncqueue.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM sync_jobs
		WHERE updated_at >= $1
		ORDER BY updated_at DESC
	`
	return p.queryJobs(ctx, query, since)
}

func (p *Postgres) queryJobs(ctx context.Context, query string, args ...any) ([]*syncqueue.Job, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*syncqueue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (p *Postgres) CountsByStatus(ctx context.Context) (map[syncqueue.Status]int, error) {
	rows, err := p.db.Query(ctx, `SELECT status, COUNT(*) FROM sync_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[syncqueue.Status]int)
	for rows.Next() {
		var status syncqueue.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (p *Postgres) MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	query := `
		UPDATE sync_jobs
		SET status = 'completed', error_message = NULL, processed_at = $2, updated_at = NOW()
		WHERE id = $1
	`
	return p.execJobUpdate(ctx, query, id, processedAt)
}

func (p *Postgres) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, consumeRetry bool) error {
	query := `
		UPDATE sync_jobs
		SET status = 'failed', error_message = $2,
			retry_count = retry_count + CASE WHEN $3 THEN 1 ELSE 0 END,
			updated_at = NOW()
		WHERE id = $1
	`
	return p.execJobUpdate(ctx, query, id, errMsg, consumeRetry)
}

func (p *Postgres) Requeue(ctx context.Context, id uuid.UUID, priority syncqueue.Priority) error {
	query := `
		UPDATE sync_jobs
		SET status = 'pending', error_message = NULL, retry_count = retry_count + 1,
			priority = $2, processed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`
	tag, err := p.db.Exec(ctx, query, id, priority)
	if err != nil {
		return fmt.Errorf("failed to requeue sync job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (p *Postgres) execJobUpdate(ctx context.Context, query string, id uuid.UUID, args ...any) error {
	tag, err := p.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update sync job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM sync_jobs WHERE status = 'completed' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) PurgeFailedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM sync_jobs WHERE status = 'failed' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge failed jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) AppendAudit(ctx context.Context, rec *syncqueue.AuditRecord) error {
	query := `
		INSERT INTO queue_audit (id, job_id, action, actor, previous_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := p.db.Exec(ctx, query, rec.ID, rec.JobID, rec.Action, rec.Actor, rec.PreviousError, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append queue audit record: %w", err)
	}
	return nil
}

func (p *Postgres) SavePass(ctx context.Context, artifact *syncqueue.PassArtifact) error {
	query := `
		INSERT INTO pass_artifacts (id, card_id, job_id, platform, payload, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (card_id, platform)
		DO UPDATE SET id = EXCLUDED.id, job_id = EXCLUDED.job_id,
			payload = EXCLUDED.payload, generated_at = EXCLUDED.generated_at
	`
	_, err := p.db.Exec(ctx, query,
		artifact.ID, artifact.CardID, artifact.JobID, artifact.Platform,
		artifact.Payload, artifact.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save pass artifact: %w", err)
	}
	return nil
}

func (p *Postgres) LatestPasses(ctx context.Context, cardID uuid.UUID) ([]*syncqueue.PassArtifact, error) {
	query := `
		SELECT id, card_id, job_id, platform, payload, generated_at
		FROM pass_artifacts
		WHERE card_id = $1
		ORDER BY platform
	`
	rows, err := p.db.Query(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pass artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*syncqueue.PassArtifact
	for rows.Next() {
		a := &syncqueue.PassArtifact{}
		if err := rows.Scan(&a.ID, &a.CardID, &a.JobID, &a.Platform, &a.Payload, &a.GeneratedAt); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
