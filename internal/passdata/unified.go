package passdata

import (
	"fmt"
	"time"

	"github.com/Dinehub1/rewardjar-sync/internal/card"
)

// UnifiedCardData is the platform-neutral snapshot every wallet payload is
// derived from. It is never persisted: the worker rebuilds it from current
// storage state for every generation attempt so a delivered pass can never
// carry stale progress. Optional fields stay nil when the source data is
// absent, never defaulted to placeholders.
type UnifiedCardData struct {
	CardID     string    `json:"card_id"`
	Kind       card.Kind `json:"kind"`
	CustomerID string    `json:"customer_id"`

	BusinessName        string  `json:"business_name"`
	BusinessDescription *string `json:"business_description,omitempty"`
	LogoURL             *string `json:"logo_url,omitempty"`
	BrandColor          *string `json:"brand_color,omitempty"`
	WebsiteURL          *string `json:"website_url,omitempty"`

	CardName      string  `json:"card_name"`
	ProgressLabel string  `json:"progress_label"`
	Current       int     `json:"current"`
	Max           int     `json:"max"`
	Completed     bool    `json:"completed"`
	RewardText    *string `json:"reward_text,omitempty"`

	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	CostCents  *int64     `json:"cost_cents,omitempty"`

	// BarcodeValue is the card instance id; scanning it resolves the card.
	BarcodeValue string `json:"barcode_value"`
}

// Transform normalizes a card template, its business and the customer's
// current progress into one UnifiedCardData. It is a pure function: no I/O,
// no clock reads, deterministic for identical inputs. The generation pipeline
// and the dry-run validation path both call it, and the two must never
// diverge.
func Transform(tpl *card.CardTemplate, biz *card.Business, c card.CardInstance) *UnifiedCardData {
	current, max := c.Progress()

	u := &UnifiedCardData{
		CardID:        c.CardID().String(),
		Kind:          c.CardKind(),
		CustomerID:    c.Owner().String(),
		CardName:      tpl.Name,
		ProgressLabel: fmt.Sprintf("%d/%d", current, max),
		Current:       current,
		Max:           max,
		Completed:     c.IsComplete(),
		BarcodeValue:  c.CardID().String(),
	}

	if biz != nil {
		u.BusinessName = biz.Name
		u.BusinessDescription = biz.Description
		u.LogoURL = biz.LogoURL
		u.BrandColor = biz.BrandColor
		u.WebsiteURL = biz.WebsiteURL
	}

	switch c.CardKind() {
	case card.KindStamp:
		u.RewardText = tpl.RewardDescription
	case card.KindMembership:
		u.RewardText = tpl.MembershipBenefits
		if m, ok := c.(*card.MembershipCard); ok {
			u.ExpiryDate = m.ExpiryDate
			u.CostCents = m.CostCents
		}
	}

	return u
}
