package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Dinehub1/rewardjar-sync/internal/card"
	"github.com/Dinehub1/rewardjar-sync/internal/passdata"
	"github.com/Dinehub1/rewardjar-sync/internal/storage"
	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
)

// PassService is the operator-facing read side of pass generation: dry-run
// validation before enqueueing and inspection of the latest delivered
// artifacts. It shares the transformer and validator with the worker
// pipeline, so a dry run reports exactly what a real run would.
type PassService struct {
	cards     storage.CardStore
	passes    storage.PassStore
	validator *wallet.Validator
}

func NewPassService(cards storage.CardStore, passes storage.PassStore, validator *wallet.Validator) *PassService {
	return &PassService{cards: cards, passes: passes, validator: validator}
}

// ValidateCard builds the unified snapshot from current state and validates
// it across all platforms. It never enqueues and never mutates anything.
func (s *PassService) ValidateCard(ctx context.Context, cardID uuid.UUID) (*wallet.ValidationReport, error) {
	c, err := s.cards.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, card.ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to load card: %w", err)
	}

	tpl, err := s.cards.GetTemplate(ctx, c.Template())
	if err != nil {
		return nil, fmt.Errorf("failed to load card template: %w", err)
	}

	biz, err := s.cards.GetBusiness(ctx, tpl.BusinessID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load business: %w", err)
	}

	u := passdata.Transform(tpl, biz, c)
	return s.validator.Validate(u), nil
}

func (s *PassService) LatestPasses(ctx context.Context, cardID uuid.UUID) ([]*syncqueue.PassArtifact, error) {
	artifacts, err := s.passes.LatestPasses(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pass artifacts: %w", err)
	}
	if artifacts == nil {
		artifacts = []*syncqueue.PassArtifact{}
	}
	return artifacts, nil
}
