package syncqueue

import (
	"time"

	"github.com/google/uuid"

	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities for dequeue preference; lower dequeues first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

// Retention windows before completed and failed jobs become purgeable.
const (
	CompletedRetention = 7 * 24 * time.Hour
	FailedRetention    = 30 * 24 * time.Hour
)

// Job is one row in the synchronization queue: a request to (re)generate the
// passes of one card instance on one or more platforms. A card id has at most
// one job in pending or processing at any time; enqueues join the existing
// job instead of duplicating it.
type Job struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	CardID       uuid.UUID         `json:"card_id" db:"card_id"`
	CustomerID   *uuid.UUID        `json:"customer_id,omitempty" db:"customer_id"`
	Platforms    []wallet.Platform `json:"platforms" db:"platforms"`
	Priority     Priority          `json:"priority" db:"priority"`
	Status       Status            `json:"status" db:"status"`
	RetryCount   int               `json:"retry_count" db:"retry_count"`
	ErrorMessage *string           `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
	ProcessedAt  *time.Time        `json:"processed_at,omitempty" db:"processed_at"`
}

func NewJob(cardID uuid.UUID, customerID *uuid.UUID, platforms []wallet.Platform, priority Priority) *Job {
	now := time.Now()
	return &Job{
		ID:         uuid.New(),
		CardID:     cardID,
		CustomerID: customerID,
		Platforms:  platforms,
		Priority:   priority,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AuditRecord preserves failure history across operator actions. Retrying a
// job clears its error from the row, so the previous error is copied here
// first; the health monitor's error-frequency analysis reads both.
type AuditRecord struct {
	ID            uuid.UUID `json:"id" db:"id"`
	JobID         uuid.UUID `json:"job_id" db:"job_id"`
	Action        string    `json:"action" db:"action"`
	Actor         string    `json:"actor" db:"actor"`
	PreviousError *string   `json:"previous_error,omitempty" db:"previous_error"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// BatchResult makes partial-batch failure explicit: callers see exactly which
// ids an operator action touched and which it refused, instead of a log line.
type BatchResult struct {
	Succeeded []uuid.UUID    `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

type BatchFailure struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// PassArtifact is one delivered platform payload, retained so operators can
// inspect the most recent generation output per platform.
type PassArtifact struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	CardID      uuid.UUID       `json:"card_id" db:"card_id"`
	JobID       uuid.UUID       `json:"job_id" db:"job_id"`
	Platform    wallet.Platform `json:"platform" db:"platform"`
	Payload     []byte          `json:"payload" db:"payload"`
	GeneratedAt time.Time       `json:"generated_at" db:"generated_at"`
}

type ErrorFrequency struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type Statistics struct {
	TotalPending      int                     `json:"total_pending"`
	TotalProcessing   int                     `json:"total_processing"`
	TotalCompleted    int                     `json:"total_completed"`
	TotalFailed       int                     `json:"total_failed"`
	SuccessRate       float64                 `json:"success_rate"`
	AvgCompletionSecs float64                 `json:"avg_completion_seconds"`
	PeakHours         [24]int                 `json:"peak_hours"`
	PlatformVolume    map[wallet.Platform]int `json:"platform_volume"`
	TopErrors         []ErrorFrequency        `json:"top_errors"`
}

type Health struct {
	QueueLength          int      `json:"queue_length"`
	OldestPendingSeconds float64  `json:"oldest_pending_seconds"`
	Recommendations      []string `json:"recommendations"`
}
