package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Dinehub1/rewardjar-sync/internal/card"
	"github.com/Dinehub1/rewardjar-sync/internal/storage"
	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
)

// CooldownConfig holds the per-action minimum interval between two same-type
// progress actions on one card. Defaults: stamps 30s (counter abuse at the
// till), sessions 5m (one visit is one session).
type CooldownConfig struct {
	Stamp   time.Duration
	Session time.Duration
}

func CooldownFromEnv() CooldownConfig {
	cfg := CooldownConfig{
		Stamp:   30 * time.Second,
		Session: 5 * time.Minute,
	}
	if v := os.Getenv("COOLDOWN_STAMP_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			cfg.Stamp = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("COOLDOWN_SESSION_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			cfg.Session = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

func (c CooldownConfig) window(action card.ActionType) time.Duration {
	if action == card.ActionSession {
		return c.Session
	}
	return c.Stamp
}

// CardProgressService owns the stamp/session counting state machine. It is
// the only writer of progress fields and the sole producer of card events.
type CardProgressService struct {
	cards     storage.CardStore
	events    storage.EventStore
	marks     storage.CardMutator
	cooldowns CooldownConfig
	now       func() time.Time
}

func NewCardProgressService(cards storage.CardStore, events storage.EventStore, marks storage.CardMutator, cooldowns CooldownConfig) *CardProgressService {
	return &CardProgressService{
		cards:     cards,
		events:    events,
		marks:     marks,
		cooldowns: cooldowns,
		now:       time.Now,
	}
}

// MarkAction increments the card's counter by exactly one, appends the audit
// event and enqueues a sync job for the card's platforms — atomically, via
// the storage mutator. Every rejection is synchronous and carries a stable
// reason code; a rejected mark writes no event and enqueues nothing.
func (s *CardProgressService) MarkAction(ctx context.Context, cardID uuid.UUID, actorID string, action card.ActionType, metadata map[string]any) (*card.ProgressResult, error) {
	if action != card.ActionStamp && action != card.ActionSession {
		return nil, card.ErrInvalidActionForCardKind
	}

	c, err := s.cards.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, card.ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to load card: %w", err)
	}

	switch c.CardKind() {
	case card.KindStamp:
		if action != card.ActionStamp {
			return nil, card.ErrInvalidActionForCardKind
		}
	case card.KindMembership:
		if action != card.ActionSession {
			return nil, card.ErrInvalidActionForCardKind
		}
		// Expiry always takes precedence over remaining capacity.
		if m, ok := c.(*card.MembershipCard); ok && m.IsExpired(s.now()) {
			return nil, card.ErrMembershipExpired
		}
	}

	if c.IsComplete() {
		return nil, card.NewCompleteError(c.CardKind())
	}

	if err := s.checkCooldown(ctx, cardID, action); err != nil {
		return nil, err
	}

	now := s.now()
	ev := &card.CardEvent{
		ID:        uuid.New(),
		CardID:    cardID,
		Type:      card.EventTypeFor(action),
		ActorID:   actorID,
		Metadata:  metadata,
		CreatedAt: now,
	}

	customerID := c.Owner()
	job := syncqueue.NewJob(cardID, &customerID, jobPlatforms(c), markPriority(c))

	updated, err := s.marks.CommitMark(ctx, cardID, action, ev, job)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// A concurrent mark filled the card between our read and the
			// conditional increment.
			return nil, card.NewCompleteError(c.CardKind())
		}
		return nil, fmt.Errorf("failed to commit mark: %w", err)
	}

	current, max := updated.Progress()
	return &card.ProgressResult{
		CardID:    cardID,
		Kind:      updated.CardKind(),
		Current:   current,
		Max:       max,
		Remaining: max - current,
		Completed: updated.IsComplete(),
		EventID:   ev.ID,
	}, nil
}

// RecordPurchase appends a purchase event without touching progress; used by
// discount-type memberships. No sync job results from it.
func (s *CardProgressService) RecordPurchase(ctx context.Context, cardID uuid.UUID, amountCents int64, actorID string) (*card.CardEvent, error) {
	if _, err := s.cards.GetCard(ctx, cardID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, card.ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to load card: %w", err)
	}

	ev := &card.CardEvent{
		ID:        uuid.New(),
		CardID:    cardID,
		Type:      card.EventPurchase,
		ActorID:   actorID,
		Metadata:  map[string]any{"amount_cents": amountCents},
		CreatedAt: s.now(),
	}
	if err := s.events.AppendEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to record purchase: %w", err)
	}
	return ev, nil
}

func (s *CardProgressService) checkCooldown(ctx context.Context, cardID uuid.UUID, action card.ActionType) error {
	window := s.cooldowns.window(action)
	if window <= 0 {
		return nil
	}
	last, err := s.events.LatestEventAt(ctx, cardID, card.EventTypeFor(action))
	if err != nil {
		return fmt.Errorf("failed to check cooldown: %w", err)
	}
	if last == nil {
		return nil
	}
	elapsed := s.now().Sub(*last)
	if elapsed < window {
		return card.NewCooldownError(window - elapsed)
	}
	return nil
}

// jobPlatforms maps the card's stored platform list onto known wallet
// platforms; an empty or unknown list falls back to all three.
func jobPlatforms(c card.CardInstance) []wallet.Platform {
	var out []wallet.Platform
	for _, s := range c.TargetPlatforms() {
		if p, err := wallet.ParsePlatform(s); err == nil {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return wallet.AllPlatforms()
	}
	return out
}

// markPriority bumps the job that delivers the completed pass: customers
// look at their wallet right after the final stamp.
func markPriority(c card.CardInstance) syncqueue.Priority {
	current, max := c.Progress()
	if current+1 >= max {
		return syncqueue.PriorityHigh
	}
	return syncqueue.PriorityNormal
}
