package card

import (
	"fmt"
	"time"
)

// DomainError is a rejection of a progress mutation with a stable reason code
// the UI and tests can assert on. Domain errors are surfaced synchronously and
// are never retried automatically.
type DomainError struct {
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is lets errors.Is match on the reason code, so wrapped and instance-specific
// errors (cooldowns carry remaining time) still compare against the sentinels.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

var (
	ErrCardNotFound = &DomainError{
		Code:    "card_not_found",
		Message: "card not found",
	}
	ErrInvalidActionForCardKind = &DomainError{
		Code:    "invalid_action_for_card_kind",
		Message: "action type does not match card kind",
	}
	ErrMembershipExpired = &DomainError{
		Code:    "membership_expired",
		Message: "membership has expired",
	}
	ErrCardAlreadyComplete = &DomainError{
		Code:    "card_already_complete",
		Message: "card is already complete",
	}
	ErrCooldownActive = &DomainError{
		Code:    "cooldown_active",
		Message: "cooldown active",
	}
)

// NewCompleteError keeps the stamp/session wording distinct while sharing the
// card_already_complete code.
func NewCompleteError(kind Kind) *DomainError {
	msg := "no stamps remaining"
	if kind == KindMembership {
		msg = "no sessions remaining"
	}
	return &DomainError{Code: ErrCardAlreadyComplete.Code, Message: msg}
}

// NewCooldownError reports how long the caller must wait before repeating the
// same action on this card.
func NewCooldownError(remaining time.Duration) *DomainError {
	return &DomainError{
		Code:       ErrCooldownActive.Code,
		Message:    fmt.Sprintf("cooldown active, retry in %s", remaining.Round(time.Second)),
		RetryAfter: remaining,
	}
}
