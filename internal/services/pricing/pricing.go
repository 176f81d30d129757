// Package pricing computes purchase prices and refund amounts. It is pure:
// no I/O, no clock, no locking. Callers pass in the current time and hold
// whatever locks make the inputs stable.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kevin07696/subscription-billing/internal/domain"
)

// Refund policy defaults
const (
	DefaultFullRefundWindow = 72 * time.Hour
)

var (
	// DefaultRefundFloor is the minimum fraction of the charge refunded
	// once the full-refund window has passed.
	DefaultRefundFloor = decimal.RequireFromString("0.5")
	// DefaultFullRefundThreshold is the refund/charge ratio at or above
	// which a refund cancels the subscription instead of shortening it.
	DefaultFullRefundThreshold = decimal.RequireFromString("0.95")
)

var hundred = decimal.NewFromInt(100)

// RefundReason explains how a refund amount was derived
type RefundReason string

const (
	ReasonSubscriptionEnded RefundReason = "subscription already ended"
	ReasonFullRefundWindow  RefundReason = "full refund window"
	ReasonProrated          RefundReason = "prorated, floor 50%"
	ReasonNoEligibleBasis   RefundReason = "no eligible refund basis"
)

// Policy holds the refund business constants
type Policy struct {
	FullRefundWindow    time.Duration
	RefundFloor         decimal.Decimal
	FullRefundThreshold decimal.Decimal
}

// DefaultPolicy returns the standard refund policy
func DefaultPolicy() Policy {
	return Policy{
		FullRefundWindow:    DefaultFullRefundWindow,
		RefundFloor:         DefaultRefundFloor,
		FullRefundThreshold: DefaultFullRefundThreshold,
	}
}

// Engine applies a Policy
type Engine struct {
	policy Policy
}

// NewEngine creates a pricing engine
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the engine's refund policy
func (e *Engine) Policy() Policy {
	return e.policy
}

// PriceForPurchase returns the plan price, discounted by promo when one is
// given. A promo that fails validation at now yields ErrPromoInvalid; it is
// never silently ignored.
func (e *Engine) PriceForPurchase(plan *domain.SubscriptionPlan, promo *domain.PromoCode, now time.Time) (decimal.Decimal, error) {
	if promo == nil {
		return plan.Price.Round(2), nil
	}
	if err := promo.Validate(now); err != nil {
		return decimal.Zero, err
	}
	discount := decimal.NewFromInt(int64(100 - promo.DiscountPercent))
	return plan.Price.Mul(discount).Div(hundred).Round(2), nil
}

// RefundQuote is the outcome of RefundAmount
type RefundQuote struct {
	Amount   decimal.Decimal
	Fraction decimal.Decimal
	Reason   RefundReason
}

// Eligible reports whether the quote refunds anything
func (q RefundQuote) Eligible() bool {
	return q.Amount.IsPositive()
}

// RefundAmount quotes the refund for txn given the subscription it paid
// for. sub may be nil for charges without a subscription.
func (e *Engine) RefundAmount(txn *domain.Transaction, sub *domain.UserSubscription, now time.Time) RefundQuote {
	if sub != nil && sub.EndDate != nil && now.After(*sub.EndDate) {
		return RefundQuote{Amount: decimal.Zero, Fraction: decimal.Zero, Reason: ReasonSubscriptionEnded}
	}

	if now.Sub(txn.CreatedAt) <= e.policy.FullRefundWindow {
		return RefundQuote{Amount: txn.Amount.Round(2), Fraction: decimal.NewFromInt(1), Reason: ReasonFullRefundWindow}
	}

	if sub != nil && sub.StartDate != nil && sub.EndDate != nil {
		total := sub.EndDate.Sub(*sub.StartDate)
		used := now.Sub(*sub.StartDate)
		if total > 0 && used < total {
			unused := decimal.NewFromInt(int64(total - used)).Div(decimal.NewFromInt(int64(total)))
			fraction := decimal.Max(unused, e.policy.RefundFloor)
			return RefundQuote{
				Amount:   txn.Amount.Mul(fraction).Round(2),
				Fraction: fraction,
				Reason:   ReasonProrated,
			}
		}
	}

	return RefundQuote{Amount: decimal.Zero, Fraction: decimal.Zero, Reason: ReasonNoEligibleBasis}
}

// IsFullRefund reports whether refunding amount of original cancels the
// subscription.
func (e *Engine) IsFullRefund(amount, original decimal.Decimal) bool {
	if !original.IsPositive() {
		return true
	}
	return amount.GreaterThanOrEqual(original.Mul(e.policy.FullRefundThreshold))
}

// TermReduction returns how much of a durationDays term a partial refund of
// amount out of original buys back.
func (e *Engine) TermReduction(durationDays int, amount, original decimal.Decimal) time.Duration {
	if !original.IsPositive() {
		return 0
	}
	day := decimal.NewFromInt(int64(24 * time.Hour))
	reduction := decimal.NewFromInt(int64(durationDays)).Mul(amount).Div(original).Mul(day)
	return time.Duration(reduction.IntPart())
}
