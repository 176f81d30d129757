package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PromoCode grants a percentage discount on a purchase
type PromoCode struct {
	ValidFrom       time.Time `json:"valid_from"`
	ValidTo         time.Time `json:"valid_to"`
	CreatedAt       time.Time `json:"created_at"`
	Code            string    `json:"code"`
	Description     string    `json:"description"`
	DiscountPercent int       `json:"discount_percent"`
	MaxUses         int       `json:"max_uses"`
	UsedCount       int       `json:"used_count"`
	IsActive        bool      `json:"is_active"`
	ID              uuid.UUID `json:"id"`
}

// NormalizePromoCode canonicalizes user input before lookup
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate returns ErrorCodePromoInvalid with a reason detail when the code
// cannot be redeemed at now.
func (p *PromoCode) Validate(now time.Time) error {
	var reason string
	switch {
	case !p.IsActive:
		reason = "inactive"
	case now.Before(p.ValidFrom):
		reason = "not yet valid"
	case now.After(p.ValidTo):
		reason = "expired"
	case p.UsedCount >= p.MaxUses:
		reason = "usage limit reached"
	case p.DiscountPercent < 0 || p.DiscountPercent > 100:
		reason = "discount out of range"
	default:
		return nil
	}
	return NewDomainError(ErrorCodePromoInvalid, "promo code "+p.Code+" is "+reason).
		WithDetail("code", p.Code).
		WithDetail("reason", reason)
}

// Redeem consumes one use. Callers must hold the row lock.
func (p *PromoCode) Redeem(now time.Time) error {
	if err := p.Validate(now); err != nil {
		return err
	}
	p.UsedCount++
	return nil
}
