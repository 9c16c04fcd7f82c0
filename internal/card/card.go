package card

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindStamp      Kind = "stamp"
	KindMembership Kind = "membership"
)

type ActionType string

const (
	ActionStamp   ActionType = "stamp"
	ActionSession ActionType = "session"
)

type EventType string

const (
	EventStampGiven     EventType = "stamp_given"
	EventSessionMarked  EventType = "session_marked"
	EventPurchase       EventType = "purchase"
	EventRewardRedeemed EventType = "reward_redeemed"
)

// EventTypeFor maps a progress action to the event type it records.
func EventTypeFor(action ActionType) EventType {
	if action == ActionSession {
		return EventSessionMarked
	}
	return EventStampGiven
}

// CardInstance is the tagged union over the two card kinds. Kind-specific
// fields live on the concrete structs so they cannot be read on the wrong
// kind of card.
type CardInstance interface {
	CardID() uuid.UUID
	Owner() uuid.UUID
	Template() uuid.UUID
	CardKind() Kind
	// Progress returns the current counter and its maximum.
	Progress() (current, max int)
	IsComplete() bool
	TargetPlatforms() []string

	sealedCard()
}

type StampCard struct {
	ID            uuid.UUID `json:"id" db:"id"`
	CustomerID    uuid.UUID `json:"customer_id" db:"customer_id"`
	TemplateID    uuid.UUID `json:"template_id" db:"template_id"`
	CurrentStamps int       `json:"current_stamps" db:"current_stamps"`
	TotalStamps   int       `json:"total_stamps" db:"total_stamps"`
	Platforms     []string  `json:"platforms" db:"platforms"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

func (c *StampCard) CardID() uuid.UUID   { return c.ID }
func (c *StampCard) Owner() uuid.UUID    { return c.CustomerID }
func (c *StampCard) Template() uuid.UUID { return c.TemplateID }
func (c *StampCard) CardKind() Kind      { return KindStamp }
func (c *StampCard) Progress() (int, int) {
	return c.CurrentStamps, c.TotalStamps
}
func (c *StampCard) IsComplete() bool {
	return c.TotalStamps > 0 && c.CurrentStamps >= c.TotalStamps
}
func (c *StampCard) TargetPlatforms() []string { return c.Platforms }
func (c *StampCard) sealedCard()               {}

type MembershipCard struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	CustomerID    uuid.UUID  `json:"customer_id" db:"customer_id"`
	TemplateID    uuid.UUID  `json:"template_id" db:"template_id"`
	SessionsUsed  int        `json:"sessions_used" db:"sessions_used"`
	TotalSessions int        `json:"total_sessions" db:"total_sessions"`
	ExpiryDate    *time.Time `json:"expiry_date" db:"expiry_date"`
	CostCents     *int64     `json:"cost_cents" db:"cost_cents"`
	Platforms     []string   `json:"platforms" db:"platforms"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

func (c *MembershipCard) CardID() uuid.UUID   { return c.ID }
func (c *MembershipCard) Owner() uuid.UUID    { return c.CustomerID }
func (c *MembershipCard) Template() uuid.UUID { return c.TemplateID }
func (c *MembershipCard) CardKind() Kind      { return KindMembership }
func (c *MembershipCard) Progress() (int, int) {
	return c.SessionsUsed, c.TotalSessions
}
func (c *MembershipCard) IsComplete() bool {
	return c.TotalSessions > 0 && c.SessionsUsed >= c.TotalSessions
}
func (c *MembershipCard) TargetPlatforms() []string { return c.Platforms }

// IsExpired reports whether the membership lapsed before now. A nil expiry
// never expires.
func (c *MembershipCard) IsExpired(now time.Time) bool {
	return c.ExpiryDate != nil && c.ExpiryDate.Before(now)
}
func (c *MembershipCard) sealedCard() {}

// CardEvent is the append-only audit record written alongside every progress
// mutation. Events are never updated or deleted.
type CardEvent struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	CardID    uuid.UUID      `json:"card_id" db:"card_id"`
	Type      EventType      `json:"event_type" db:"event_type"`
	ActorID   string         `json:"actor_id" db:"actor_id"`
	Metadata  map[string]any `json:"metadata" db:"metadata"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

type ProgressResult struct {
	CardID    uuid.UUID `json:"card_id"`
	Kind      Kind      `json:"kind"`
	Current   int       `json:"current"`
	Max       int       `json:"max"`
	Remaining int       `json:"remaining"`
	Completed bool      `json:"completed"`
	EventID   uuid.UUID `json:"event_id"`
}

type Business struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Description  *string   `json:"description" db:"description"`
	LogoURL      *string   `json:"logo_url" db:"logo_url"`
	BrandColor   *string   `json:"brand_color" db:"brand_color"`
	ContactEmail *string   `json:"contact_email" db:"contact_email"`
	WebsiteURL   *string   `json:"website_url" db:"website_url"`
}

type CardTemplate struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	BusinessID         uuid.UUID `json:"business_id" db:"business_id"`
	Kind               Kind      `json:"kind" db:"kind"`
	Name               string    `json:"name" db:"name"`
	RewardDescription  *string   `json:"reward_description" db:"reward_description"`
	MembershipBenefits *string   `json:"membership_benefits" db:"membership_benefits"`
}
