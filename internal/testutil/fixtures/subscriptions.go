package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/kevin07696/subscription-billing/internal/domain"
)

// SubscriptionBuilder provides fluent API for building test subscriptions.
type SubscriptionBuilder struct {
	subscription *domain.UserSubscription
}

// NewSubscription creates a new subscription builder. The default is an
// active, auto-renewing 30-day term that started now.
func NewSubscription() *SubscriptionBuilder {
	now := time.Now().UTC()
	end := now.AddDate(0, 0, 30)
	return &SubscriptionBuilder{
		subscription: &domain.UserSubscription{
			ID:        uuid.New(),
			UserID:    uuid.New(),
			PlanID:    uuid.New(),
			Status:    domain.SubscriptionStatusActive,
			AutoRenew: true,
			StartDate: &now,
			EndDate:   &end,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func (b *SubscriptionBuilder) WithID(id uuid.UUID) *SubscriptionBuilder {
	b.subscription.ID = id
	return b
}

func (b *SubscriptionBuilder) ForUser(userID uuid.UUID) *SubscriptionBuilder {
	b.subscription.UserID = userID
	return b
}

func (b *SubscriptionBuilder) ForPlan(planID uuid.UUID) *SubscriptionBuilder {
	b.subscription.PlanID = planID
	return b
}

// WithTerm sets the start date and an end date days later.
func (b *SubscriptionBuilder) WithTerm(start time.Time, days int) *SubscriptionBuilder {
	end := start.AddDate(0, 0, days)
	b.subscription.StartDate = &start
	b.subscription.EndDate = &end
	return b
}

func (b *SubscriptionBuilder) EndingAt(end time.Time) *SubscriptionBuilder {
	b.subscription.EndDate = &end
	return b
}

func (b *SubscriptionBuilder) WithAutoRenew(autoRenew bool) *SubscriptionBuilder {
	b.subscription.AutoRenew = autoRenew
	return b
}

func (b *SubscriptionBuilder) WithStatus(status domain.SubscriptionStatus) *SubscriptionBuilder {
	b.subscription.Status = status
	return b
}

// PendingRenewal marks the subscription as awaiting retry number retryCount+1
// at retryAt.
func (b *SubscriptionBuilder) PendingRenewal(retryCount int, retryAt time.Time) *SubscriptionBuilder {
	b.subscription.Status = domain.SubscriptionStatusPendingRenewal
	b.subscription.RetryCount = retryCount
	b.subscription.NextRetryAt = &retryAt
	return b
}

func (b *SubscriptionBuilder) Canceled(at time.Time) *SubscriptionBuilder {
	b.subscription.Status = domain.SubscriptionStatusCanceled
	b.subscription.AutoRenew = false
	b.subscription.CanceledAt = &at
	return b
}

func (b *SubscriptionBuilder) Build() *domain.UserSubscription {
	s := *b.subscription
	return &s
}
