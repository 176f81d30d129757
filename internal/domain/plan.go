package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionPlan is a purchasable plan with a fixed price and term length
type SubscriptionPlan struct {
	CreatedAt    time.Time       `json:"created_at"`
	Price        decimal.Decimal `json:"price"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	DurationDays int             `json:"duration_days"`
	IsActive     bool            `json:"is_active"`
	ID           uuid.UUID       `json:"id"`
}

// TermEnd returns the end of one term that starts at from
func (p *SubscriptionPlan) TermEnd(from time.Time) time.Time {
	return from.AddDate(0, 0, p.DurationDays)
}

// SameTerms reports whether other charges the same price for the same term
func (p *SubscriptionPlan) SameTerms(other *SubscriptionPlan) bool {
	return p.Price.Equal(other.Price) && p.DurationDays == other.DurationDays
}

// TermsChanged reports an attempt to reprice or resize a stored plan
func (p *SubscriptionPlan) TermsChanged(stored *SubscriptionPlan) error {
	return NewDomainError(ErrorCodePlanImmutable, "plan price and duration cannot change").
		WithDetail("plan_id", p.ID.String()).
		WithDetail("price", stored.Price.StringFixed(2)).
		WithDetail("duration_days", stored.DurationDays)
}

// Validate checks plan invariants
func (p *SubscriptionPlan) Validate() error {
	if p.Name == "" {
		return NewDomainError(ErrorCodeValidationMissingField, "plan name is required").WithDetail("field", "name")
	}
	if p.Price.IsNegative() {
		return NewDomainError(ErrorCodeValidationAmountInvalid, "plan price must not be negative")
	}
	if p.DurationDays <= 0 {
		return NewDomainError(ErrorCodeValidationFailed, "plan duration must be positive").
			WithDetail("duration_days", p.DurationDays)
	}
	return nil
}
