package fixtures

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kevin07696/subscription-billing/internal/domain"
)

// PlanBuilder provides fluent API for building test subscription plans.
type PlanBuilder struct {
	plan *domain.SubscriptionPlan
}

// NewPlan creates a new plan builder: 30 days at 300.00, active.
func NewPlan() *PlanBuilder {
	return &PlanBuilder{
		plan: &domain.SubscriptionPlan{
			ID:           uuid.New(),
			Name:         "Standard",
			Description:  "Standard monthly plan",
			Price:        decimal.NewFromInt(300),
			DurationDays: 30,
			IsActive:     true,
			CreatedAt:    time.Now().UTC(),
		},
	}
}

func (b *PlanBuilder) WithID(id uuid.UUID) *PlanBuilder {
	b.plan.ID = id
	return b
}

func (b *PlanBuilder) WithName(name string) *PlanBuilder {
	b.plan.Name = name
	return b
}

// WithPrice sets the price from a decimal string such as "9.99".
func (b *PlanBuilder) WithPrice(price string) *PlanBuilder {
	b.plan.Price = decimal.RequireFromString(price)
	return b
}

func (b *PlanBuilder) WithDurationDays(days int) *PlanBuilder {
	b.plan.DurationDays = days
	return b
}

func (b *PlanBuilder) Inactive() *PlanBuilder {
	b.plan.IsActive = false
	return b
}

func (b *PlanBuilder) Build() *domain.SubscriptionPlan {
	p := *b.plan
	return &p
}
