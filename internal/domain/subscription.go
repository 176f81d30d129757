package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the lifecycle state of a user subscription
type SubscriptionStatus string

const (
	SubscriptionStatusPending        SubscriptionStatus = "pending"
	SubscriptionStatusActive         SubscriptionStatus = "active"
	SubscriptionStatusPendingRenewal SubscriptionStatus = "pending_renewal"
	SubscriptionStatusExpired        SubscriptionStatus = "expired"
	SubscriptionStatusCanceled       SubscriptionStatus = "canceled"
)

// Valid reports whether s is a known status
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusPending, SubscriptionStatusActive, SubscriptionStatusPendingRenewal,
		SubscriptionStatusExpired, SubscriptionStatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusExpired || s == SubscriptionStatusCanceled
}

// UserSubscription is one user's entitlement to a plan over a term
type UserSubscription struct {
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	StartDate    *time.Time         `json:"start_date,omitempty"`
	EndDate      *time.Time         `json:"end_date,omitempty"`
	NextRetryAt  *time.Time         `json:"next_retry_at,omitempty"`
	// PendingSince is when the current run of failed renewals began
	PendingSince *time.Time         `json:"pending_since,omitempty"`
	CanceledAt   *time.Time         `json:"canceled_at,omitempty"`
	Status       SubscriptionStatus `json:"status"`
	RetryCount   int                `json:"retry_count"`
	AutoRenew    bool               `json:"auto_renew"`
	ID           uuid.UUID          `json:"id"`
	UserID       uuid.UUID          `json:"user_id"`
	PlanID       uuid.UUID          `json:"plan_id"`
}

// NewPendingSubscription creates a subscription awaiting its first payment
func NewPendingSubscription(userID, planID uuid.UUID, now time.Time) *UserSubscription {
	return &UserSubscription{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    planID,
		Status:    SubscriptionStatusPending,
		AutoRenew: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive returns true if the subscription is active
func (s *UserSubscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// BelongsTo reports whether userID owns the subscription
func (s *UserSubscription) BelongsTo(userID uuid.UUID) bool {
	return s.UserID == userID
}

func (s *UserSubscription) invalidState(op string) *DomainError {
	return NewDomainError(ErrorCodeSubscriptionInvalidState, "subscription cannot "+op+" from status "+string(s.Status)).
		WithDetail("subscription_id", s.ID.String()).
		WithDetail("status", string(s.Status))
}

// Activate starts the first term after a successful purchase payment
func (s *UserSubscription) Activate(plan *SubscriptionPlan, now time.Time) error {
	if s.Status != SubscriptionStatusPending {
		return s.invalidState("activate")
	}
	start := now
	end := plan.TermEnd(now)
	s.StartDate = &start
	s.EndDate = &end
	s.Status = SubscriptionStatusActive
	s.UpdatedAt = now
	return nil
}

// Renew extends the term by one plan duration from whichever is later of
// the current end date and now, and clears any retry state.
func (s *UserSubscription) Renew(plan *SubscriptionPlan, now time.Time) error {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusPendingRenewal {
		return s.invalidState("renew")
	}
	base := now
	if s.EndDate != nil && s.EndDate.After(now) {
		base = *s.EndDate
	}
	end := plan.TermEnd(base)
	s.EndDate = &end
	if s.StartDate == nil {
		start := now
		s.StartDate = &start
	}
	s.Status = SubscriptionStatusActive
	s.RetryCount = 0
	s.NextRetryAt = nil
	s.PendingSince = nil
	s.UpdatedAt = now
	return nil
}

// MarkPendingRenewal records the first failed renewal and schedules a retry
func (s *UserSubscription) MarkPendingRenewal(retryAt, now time.Time) error {
	if s.Status != SubscriptionStatusActive {
		return s.invalidState("enter pending renewal")
	}
	s.Status = SubscriptionStatusPendingRenewal
	s.RetryCount = 1
	s.NextRetryAt = &retryAt
	s.PendingSince = &now
	s.UpdatedAt = now
	return nil
}

// ScheduleRetry records another failed renewal attempt
func (s *UserSubscription) ScheduleRetry(retryAt, now time.Time) error {
	if s.Status != SubscriptionStatusPendingRenewal {
		return s.invalidState("schedule retry")
	}
	s.RetryCount++
	s.NextRetryAt = &retryAt
	s.UpdatedAt = now
	return nil
}

// Cancel stops the subscription at the user's request
func (s *UserSubscription) Cancel(now time.Time) error {
	if s.Status != SubscriptionStatusActive {
		return s.invalidState("cancel")
	}
	s.markCanceled(now)
	return nil
}

// CancelForRefund cancels an active subscription after a full refund
func (s *UserSubscription) CancelForRefund(now time.Time) error {
	if s.Status != SubscriptionStatusActive {
		return s.invalidState("be refunded")
	}
	s.markCanceled(now)
	return nil
}

func (s *UserSubscription) markCanceled(now time.Time) {
	s.Status = SubscriptionStatusCanceled
	s.AutoRenew = false
	s.NextRetryAt = nil
	s.CanceledAt = &now
	s.UpdatedAt = now
}

// ShortenTerm pulls the end date back by d after a partial refund. A partial
// refund normally leaves the subscription active; the exception is a new end
// date at or before now, where the paid term is used up and the subscription
// expires, since an active subscription never carries an end date in the past.
func (s *UserSubscription) ShortenTerm(d time.Duration, now time.Time) error {
	if s.Status != SubscriptionStatusActive || s.EndDate == nil {
		return s.invalidState("shorten term")
	}
	end := s.EndDate.Add(-d)
	s.EndDate = &end
	s.UpdatedAt = now
	if !end.After(now) {
		s.Status = SubscriptionStatusExpired
		s.AutoRenew = false
	}
	return nil
}

// Expire moves a lapsed subscription to expired
func (s *UserSubscription) Expire(now time.Time) error {
	if s.Status.IsTerminal() {
		return s.invalidState("expire")
	}
	s.Status = SubscriptionStatusExpired
	s.NextRetryAt = nil
	s.UpdatedAt = now
	return nil
}

// SetAutoRenew sets the flag to desired, or flips it when desired is nil
func (s *UserSubscription) SetAutoRenew(desired *bool, now time.Time) error {
	if s.Status != SubscriptionStatusActive {
		return s.invalidState("modify auto-renew")
	}
	if desired != nil {
		s.AutoRenew = *desired
	} else {
		s.AutoRenew = !s.AutoRenew
	}
	s.UpdatedAt = now
	return nil
}

// DueForRenewal reports whether an active auto-renewing subscription ends
// within [now, now+lookahead].
func (s *UserSubscription) DueForRenewal(now time.Time, lookahead time.Duration) bool {
	if s.Status != SubscriptionStatusActive || !s.AutoRenew || s.EndDate == nil {
		return false
	}
	return !s.EndDate.Before(now) && !s.EndDate.After(now.Add(lookahead))
}

// DueForRetry reports whether a pending renewal is ready for another attempt
func (s *UserSubscription) DueForRetry(now time.Time) bool {
	if s.Status != SubscriptionStatusPendingRenewal || !s.AutoRenew {
		return false
	}
	return s.NextRetryAt == nil || !s.NextRetryAt.After(now)
}

// IsStale reports whether a pending renewal has kept failing for longer than
// horizon. Rows without PendingSince are measured from the end date.
func (s *UserSubscription) IsStale(now time.Time, horizon time.Duration) bool {
	if s.Status != SubscriptionStatusPendingRenewal {
		return false
	}
	since := s.PendingSince
	if since == nil {
		since = s.EndDate
	}
	return since != nil && since.Add(horizon).Before(now)
}

// IsLapsed reports whether an active subscription has passed its end date
func (s *UserSubscription) IsLapsed(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.EndDate != nil && s.EndDate.Before(now)
}
