package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Dinehub1/rewardjar-sync/internal/card"
	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a conditional update finds the row no
	// longer in the expected state, e.g. a concurrent mark filled the card.
	ErrConflict = errors.New("storage: conflicting concurrent update")
)

// CardStore reads card instances and the template/business rows the
// transformer needs. The relational store itself is an external collaborator;
// this package only defines and implements its boundary.
type CardStore interface {
	GetCard(ctx context.Context, id uuid.UUID) (card.CardInstance, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*card.CardTemplate, error)
	GetBusiness(ctx context.Context, id uuid.UUID) (*card.Business, error)
	DeviceTokens(ctx context.Context, customerID uuid.UUID) ([]string, error)
}

// EventStore appends to and reads the immutable card event trail.
type EventStore interface {
	AppendEvent(ctx context.Context, ev *card.CardEvent) error
	// LatestEventAt returns the creation time of the newest event of the
	// given type for a card, or nil when none exists. Cooldown state is
	// derived from it, never persisted separately.
	LatestEventAt(ctx context.Context, cardID uuid.UUID, et card.EventType) (*time.Time, error)
	ListEvents(ctx context.Context, cardID uuid.UUID, limit int) ([]*card.CardEvent, error)
}

// CardMutator commits a successful mark atomically: the conditional progress
// increment, the event append and the job enqueue happen in one transaction,
// so a failed mark can never leave a stray event or job behind. The increment
// re-checks the capacity guard in the store, which protects against races the
// service-level pre-check cannot see.
type CardMutator interface {
	CommitMark(ctx context.Context, cardID uuid.UUID, action card.ActionType, ev *card.CardEvent, job *syncqueue.Job) (card.CardInstance, error)
}

// JobStore is the durable synchronization queue. ClaimNextPending is the one
// cross-worker coordination point and must be a single atomic conditional
// update against the store, because workers may run in separate processes.
type JobStore interface {
	// Enqueue inserts the job, or joins an existing pending/processing job
	// for the same card: platforms are merged and the higher priority wins.
	// The returned job is the row that actually represents the request.
	Enqueue(ctx context.Context, job *syncqueue.Job) (*syncqueue.Job, error)
	// ClaimNextPending atomically transitions the best pending job (priority,
	// then age) to processing and returns it, or nil when the queue is empty
	// or maxProcessing jobs are already processing. The processing count is
	// checked in the store, not the caller, so the cap holds across worker
	// processes sharing one queue. maxProcessing must be positive.
	ClaimNextPending(ctx context.Context, maxProcessing int) (*syncqueue.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*syncqueue.Job, error)
	// ListJobs returns jobs with the given status, newest first. A limit of
	// zero or less means no limit.
	ListJobs(ctx context.Context, status syncqueue.Status, limit int) ([]*syncqueue.Job, error)
	// ListRecent returns jobs updated since the cutoff, for aggregation.
	ListRecent(ctx context.Context, since time.Time) ([]*syncqueue.Job, error)
	CountsByStatus(ctx context.Context) (map[syncqueue.Status]int, error)

	MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	// MarkFailed records the causing error on the row. Validation failures do
	// not consume a retry (retrying unchanged data reproduces the error), so
	// consumeRetry is false for them and true for infrastructure failures.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, consumeRetry bool) error
	// Requeue transitions failed back to pending on operator retry.
	Requeue(ctx context.Context, id uuid.UUID, priority syncqueue.Priority) error

	PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
	PurgeFailedBefore(ctx context.Context, cutoff time.Time) (int, error)

	AppendAudit(ctx context.Context, rec *syncqueue.AuditRecord) error
}

// PassStore retains the most recent generated payloads for operator
// inspection.
type PassStore interface {
	SavePass(ctx context.Context, artifact *syncqueue.PassArtifact) error
	LatestPasses(ctx context.Context, cardID uuid.UUID) ([]*syncqueue.PassArtifact, error)
}
