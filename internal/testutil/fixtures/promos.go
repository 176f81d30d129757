package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/kevin07696/subscription-billing/internal/domain"
)

// PromoBuilder provides fluent API for building test promo codes.
type PromoBuilder struct {
	promo *domain.PromoCode
}

// NewPromo creates an active 10% code valid for a day either side of now
// with 100 uses.
func NewPromo() *PromoBuilder {
	now := time.Now().UTC()
	return &PromoBuilder{
		promo: &domain.PromoCode{
			ID:              uuid.New(),
			Code:            "SAVE10",
			Description:     "10% off",
			DiscountPercent: 10,
			MaxUses:         100,
			ValidFrom:       now.Add(-24 * time.Hour),
			ValidTo:         now.Add(24 * time.Hour),
			IsActive:        true,
			CreatedAt:       now,
		},
	}
}

func (b *PromoBuilder) WithCode(code string) *PromoBuilder {
	b.promo.Code = code
	return b
}

func (b *PromoBuilder) WithDiscount(percent int) *PromoBuilder {
	b.promo.DiscountPercent = percent
	return b
}

func (b *PromoBuilder) WithUses(used, maxUses int) *PromoBuilder {
	b.promo.UsedCount = used
	b.promo.MaxUses = maxUses
	return b
}

func (b *PromoBuilder) ValidBetween(from, to time.Time) *PromoBuilder {
	b.promo.ValidFrom = from
	b.promo.ValidTo = to
	return b
}

func (b *PromoBuilder) Inactive() *PromoBuilder {
	b.promo.IsActive = false
	return b
}

func (b *PromoBuilder) Build() *domain.PromoCode {
	p := *b.promo
	return &p
}
