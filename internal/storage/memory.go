package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dinehub1/rewardjar-sync/internal/card"
	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
)

// Memory is an in-memory implementation of every store interface. It honors
// the same invariants as the Postgres implementation (claim-once, one active
// job per card, conditional increments), so service tests exercise real queue
// semantics without a database.
type Memory struct {
	mu         sync.Mutex
	cards      map[uuid.UUID]card.CardInstance
	templates  map[uuid.UUID]*card.CardTemplate
	businesses map[uuid.UUID]*card.Business
	devices    map[uuid.UUID][]string
	events     []*card.CardEvent
	jobs       map[uuid.UUID]*syncqueue.Job
	audits     []*syncqueue.AuditRecord
	passes     map[string]*syncqueue.PassArtifact // card_id/platform
}

func NewMemory() *Memory {
	return &Memory{
		cards:      make(map[uuid.UUID]card.CardInstance),
		templates:  make(map[uuid.UUID]*card.CardTemplate),
		businesses: make(map[uuid.UUID]*card.Business),
		devices:    make(map[uuid.UUID][]string),
		jobs:       make(map[uuid.UUID]*syncqueue.Job),
		passes:     make(map[string]*syncqueue.PassArtifact),
	}
}

// Seed helpers for tests and local development.

func (m *Memory) PutCard(c card.CardInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[c.CardID()] = c
}

func (m *Memory) PutTemplate(t *card.CardTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
}

func (m *Memory) PutBusiness(b *card.Business) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.businesses[b.ID] = b
}

func (m *Memory) PutDeviceTokens(customerID uuid.UUID, tokens []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[customerID] = tokens
}

func (m *Memory) GetCard(ctx context.Context, id uuid.UUID) (card.CardInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCard(c), nil
}

func (m *Memory) GetTemplate(ctx context.Context, id uuid.UUID) (*card.CardTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) GetBusiness(ctx context.Context, id uuid.UUID) (*card.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) DeviceTokens(ctx context.Context, customerID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.devices[customerID]...), nil
}

func (m *Memory) AppendEvent(ctx context.Context, ev *card.CardEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) LatestEventAt(ctx context.Context, cardID uuid.UUID, et card.EventType) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *time.Time
	for _, ev := range m.events {
		if ev.CardID == cardID && ev.Type == et {
			if latest == nil || ev.CreatedAt.After(*latest) {
				at := ev.CreatedAt
				latest = &at
			}
		}
	}
	return latest, nil
}

func (m *Memory) ListEvents(ctx context.Context, cardID uuid.UUID, limit int) ([]*card.CardEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*card.CardEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].CardID == cardID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

// EventCount is a test helper: the audit-trail assertions need to know that a
// failed mark wrote nothing.
func (m *Memory) EventCount(cardID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.CardID == cardID {
			n++
		}
	}
	return n
}

func (m *Memory) CommitMark(ctx context.Context, cardID uuid.UUID, action card.ActionType, ev *card.CardEvent, job *syncqueue.Job) (card.CardInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cards[cardID]
	if !ok {
		return nil, ErrNotFound
	}

	switch inst := c.(type) {
	case *card.StampCard:
		if action != card.ActionStamp || inst.CurrentStamps >= inst.TotalStamps {
			return nil, ErrConflict
		}
		inst.CurrentStamps++
		inst.UpdatedAt = time.Now()
	case *card.MembershipCard:
		if action != card.ActionSession || inst.SessionsUsed >= inst.TotalSessions {
			return nil, ErrConflict
		}
		inst.SessionsUsed++
		inst.UpdatedAt = time.Now()
	}

	m.events = append(m.events, ev)
	m.enqueueLocked(job)
	return cloneCard(c), nil
}

func (m *Memory) Enqueue(ctx context.Context, job *syncqueue.Job) (*syncqueue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enqueueLocked(job), nil
}

func (m *Memory) enqueueLocked(job *syncqueue.Job) *syncqueue.Job {
	for _, existing := range m.jobs {
		if existing.CardID != job.CardID {
			continue
		}
		if existing.Status == syncqueue.StatusProcessing {
			return cloneJob(existing)
		}
		if existing.Status == syncqueue.StatusPending {
			for _, p := range job.Platforms {
				seen := false
				for _, ep := range existing.Platforms {
					if ep == p {
						seen = true
						break
					}
				}
				if !seen {
					existing.Platforms = append(existing.Platforms, p)
				}
			}
			if job.Priority.Rank() < existing.Priority.Rank() {
				existing.Priority = job.Priority
			}
			existing.UpdatedAt = time.Now()
			return cloneJob(existing)
		}
	}

	cp := cloneJob(job)
	m.jobs[cp.ID] = cp
	return cloneJob(cp)
}

func (m *Memory) ClaimNextPending(ctx context.Context, maxProcessing int) (*syncqueue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	processing := 0
	for _, j := range m.jobs {
		if j.Status == syncqueue.StatusProcessing {
			processing++
		}
	}
	if processing >= maxProcessing {
		return nil, nil
	}

	var best *syncqueue.Job
	for _, j := range m.jobs {
		if j.Status != syncqueue.StatusPending {
			continue
		}
		if best == nil ||
			j.Priority.Rank() < best.Priority.Rank() ||
			(j.Priority.Rank() == best.Priority.Rank() && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = syncqueue.StatusProcessing
	best.UpdatedAt = time.Now()
	return cloneJob(best), nil
}

func (m *Memory) GetJob(ctx context.Context, id uuid.UUID) (*syncqueue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *Memory) ListJobs(ctx context.Context, status syncqueue.Status, limit int) ([]*syncqueue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*syncqueue.Job
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListRecent(ctx context.Context, since time.Time) ([]*syncqueue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*syncqueue.Job
	for _, j := range m.jobs {
		if !j.UpdatedAt.Before(since) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.After(out[k].UpdatedAt) })
	return out, nil
}

func (m *Memory) CountsByStatus(ctx context.Context) (map[syncqueue.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[syncqueue.Status]int)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (m *Memory) MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = syncqueue.StatusCompleted
	j.ErrorMessage = nil
	at := processedAt
	j.ProcessedAt = &at
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, consumeRetry bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = syncqueue.StatusFailed
	msg := errMsg
	j.ErrorMessage = &msg
	if consumeRetry {
		j.RetryCount++
	}
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) Requeue(ctx context.Context, id uuid.UUID, priority syncqueue.Priority) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != syncqueue.StatusFailed {
		return ErrConflict
	}
	j.Status = syncqueue.StatusPending
	j.ErrorMessage = nil
	j.ProcessedAt = nil
	j.RetryCount++
	j.Priority = priority
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return m.purge(syncqueue.StatusCompleted, cutoff), nil
}

func (m *Memory) PurgeFailedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return m.purge(syncqueue.StatusFailed, cutoff), nil
}

func (m *Memory) purge(status syncqueue.Status, cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, j := range m.jobs {
		if j.Status == status && j.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n
}

func (m *Memory) AppendAudit(ctx context.Context, rec *syncqueue.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, rec)
	return nil
}

// Audits is a test helper.
func (m *Memory) Audits() []*syncqueue.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*syncqueue.AuditRecord(nil), m.audits...)
}

func (m *Memory) SavePass(ctx context.Context, artifact *syncqueue.PassArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes[artifact.CardID.String()+"/"+string(artifact.Platform)] = artifact
	return nil
}

func (m *Memory) LatestPasses(ctx context.Context, cardID uuid.UUID) ([]*syncqueue.PassArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*syncqueue.PassArtifact
	for _, a := range m.passes {
		if a.CardID == cardID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Platform < out[k].Platform })
	return out, nil
}

func cloneCard(c card.CardInstance) card.CardInstance {
	switch inst := c.(type) {
	case *card.StampCard:
		cp := *inst
		cp.Platforms = append([]string(nil), inst.Platforms...)
		return &cp
	case *card.MembershipCard:
		cp := *inst
		cp.Platforms = append([]string(nil), inst.Platforms...)
		return &cp
	}
	return c
}

func cloneJob(j *syncqueue.Job) *syncqueue.Job {
	cp := *j
	cp.Platforms = append([]wallet.Platform(nil), j.Platforms...)
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		cp.ErrorMessage = &msg
	}
	if j.ProcessedAt != nil {
		at := *j.ProcessedAt
		cp.ProcessedAt = &at
	}
	return &cp
}
