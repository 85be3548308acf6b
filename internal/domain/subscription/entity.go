// internal/domain/subscription/entity.go
package subscription

import "time"

type Status string

const (
	StatusNone              Status = "none"
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusExpired           Status = "expired"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusUnpaid            Status = "unpaid"
)

// ParseStatus maps a provider status string onto the local vocabulary.
// Unknown values collapse to StatusNone.
func ParseStatus(s string) Status {
	switch st := Status(s); st {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled, StatusExpired,
		StatusIncomplete, StatusIncompleteExpired, StatusUnpaid:
		return st
	case "cancelled":
		return StatusCanceled
	}
	return StatusNone
}

// Entitling reports whether the status grants access on its own (subject to the period end).
func (s Status) Entitling() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription is the membership state stored on an advisor account.
type Subscription struct {
	Status                 Status     `json:"status" db:"subscription_status"`
	ProviderSubscriptionID *string    `json:"provider_subscription_id,omitempty" db:"provider_subscription_id"`
	CurrentPeriodStart     *time.Time `json:"current_period_start,omitempty" db:"current_period_start"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty" db:"current_period_end"`
	CancelAtPeriodEnd      bool       `json:"cancel_at_period_end" db:"cancel_at_period_end"`
	CanceledAt             *time.Time `json:"canceled_at,omitempty" db:"canceled_at"`
	LastAutoRenewAttempt   *time.Time `json:"last_auto_renew_attempt,omitempty" db:"last_auto_renew_attempt"`
	// LastInlineRenewAttempt is written by the access guard only; the sweeper
	// schedules on LastAutoRenewAttempt alone.
	LastInlineRenewAttempt *time.Time `json:"last_inline_renew_attempt,omitempty" db:"last_inline_renew_attempt"`
	ExpiryNotifiedAt       *time.Time `json:"expiry_notified_at,omitempty" db:"expiry_notified_at"`
}

// IsActive is the single access rule. Active and trialing memberships are
// live until their period end (an absent end means open-ended); a canceled
// membership stays live until the end of the period that was paid for.
func (s Subscription) IsActive(now time.Time) bool {
	switch s.Status {
	case StatusActive, StatusTrialing:
		return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now)
	case StatusCanceled:
		return s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(now)
	default:
		return false
	}
}

// PaymentVerified is derived from status and period, never stored.
func (s Subscription) PaymentVerified(now time.Time) bool {
	switch s.Status {
	case StatusActive, StatusTrialing:
		return true
	case StatusCanceled:
		return s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(now)
	default:
		return false
	}
}

// InCycle reports whether now falls inside [start, end).
func (s Subscription) InCycle(now time.Time) bool {
	if s.CurrentPeriodStart == nil || s.CurrentPeriodEnd == nil {
		return false
	}
	return !now.Before(*s.CurrentPeriodStart) && now.Before(*s.CurrentPeriodEnd)
}

// PeriodElapsed reports whether a recorded period has ended at or before now.
func (s Subscription) PeriodElapsed(now time.Time) bool {
	return s.CurrentPeriodEnd != nil && !s.CurrentPeriodEnd.After(now)
}

// DaysRemaining is rounded down and never negative.
func (s Subscription) DaysRemaining(now time.Time) int {
	if s.CurrentPeriodEnd == nil || !s.CurrentPeriodEnd.After(now) {
		return 0
	}
	return int(s.CurrentPeriodEnd.Sub(now).Hours() / 24)
}

// Term is the length of a coverage window.
type Term struct {
	Years int
	Days  int
}

// AnnualTerm is the membership fee window.
var AnnualTerm = Term{Years: 1}

// DaysTerm builds a window of n days, used by free trials.
func DaysTerm(n int) Term {
	return Term{Days: n}
}

// After returns start advanced by the term.
func (t Term) After(start time.Time) time.Time {
	return start.AddDate(t.Years, 0, t.Days)
}

// NextWindow computes the coverage window granted by a new payment. A payment
// made inside an ongoing cycle stacks onto the old end; otherwise coverage
// starts now.
func NextWindow(s Subscription, now time.Time, term Term) (start, end time.Time) {
	start = now
	if s.InCycle(now) {
		start = *s.CurrentPeriodEnd
	}
	return start, term.After(start)
}
