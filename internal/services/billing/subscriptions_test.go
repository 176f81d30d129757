package billing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/testutil/fixtures"
)

func TestCancelSubscription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.seedUser(t, "0")
	plan := h.seedPlan(t, "300", 30)
	sub := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).WithTerm(testNow.AddDate(0, 0, -5), 30))

	result, err := h.svc.CancelSubscription(ctx, CancelRequest{UserID: user.ID, SubscriptionID: sub.ID, Reason: "too expensive"})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCanceled, result.Status)
	assert.Equal(t, testNow, result.CanceledAt)

	stored := h.subscription(t, sub.ID)
	assert.Equal(t, domain.SubscriptionStatusCanceled, stored.Status)
	assert.False(t, stored.AutoRenew)
	require.NotNil(t, stored.CanceledAt)
	assert.Equal(t, *sub.EndDate, *stored.EndDate, "cancellation keeps the paid-through date")

	txns := h.transactions(t, user.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, result.TransactionID, txns[0].ID)
	assert.Equal(t, domain.TransactionTypeCancel, txns[0].Type)
	assert.Equal(t, domain.TransactionStatusCompleted, txns[0].Status)
	assert.True(t, txns[0].Amount.IsZero())
	assert.Equal(t, "too expensive", txns[0].PaymentData["reason"])

	assert.Equal(t, "0.00", h.balance(t, user.ID))
	assert.Equal(t, []domain.NotificationType{domain.NotificationSubscriptionCanceled}, h.notificationTypes(t, user.ID))

	_, err = h.svc.CancelSubscription(ctx, CancelRequest{UserID: user.ID, SubscriptionID: sub.ID})
	assert.ErrorIs(t, err, domain.ErrSubscriptionInvalidState)
	assert.Len(t, h.transactions(t, user.ID), 1, "rejected cancel writes nothing")
}

func TestCancelSubscription_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		build   func(userID, planID uuid.UUID) *fixtures.SubscriptionBuilder
		asOther bool
		wantErr error
	}{
		{
			name: "pending renewal",
			build: func(userID, planID uuid.UUID) *fixtures.SubscriptionBuilder {
				return fixtures.NewSubscription().ForUser(userID).ForPlan(planID).PendingRenewal(1, testNow)
			},
			wantErr: domain.ErrSubscriptionInvalidState,
		},
		{
			name: "expired",
			build: func(userID, planID uuid.UUID) *fixtures.SubscriptionBuilder {
				return fixtures.NewSubscription().ForUser(userID).ForPlan(planID).WithStatus(domain.SubscriptionStatusExpired)
			},
			wantErr: domain.ErrSubscriptionInvalidState,
		},
		{
			name: "owned by someone else",
			build: func(userID, planID uuid.UUID) *fixtures.SubscriptionBuilder {
				return fixtures.NewSubscription().ForUser(userID).ForPlan(planID)
			},
			asOther: true,
			wantErr: domain.ErrSubscriptionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			owner := h.seedUser(t, "0")
			plan := h.seedPlan(t, "300", 30)
			sub := h.seedSubscription(t, tt.build(owner.ID, plan.ID))

			caller := owner
			if tt.asOther {
				caller = h.seedUser(t, "0")
			}

			_, err := h.svc.CancelSubscription(context.Background(), CancelRequest{UserID: caller.ID, SubscriptionID: sub.ID})

			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, sub.Status, h.subscription(t, sub.ID).Status)
			assert.Empty(t, h.notificationTypes(t, owner.ID))
		})
	}
}

func TestToggleAutoRenew(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.seedUser(t, "0")
	plan := h.seedPlan(t, "300", 30)
	sub := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).WithTerm(testNow, 30))

	updated, err := h.svc.ToggleAutoRenew(ctx, AutoRenewRequest{UserID: user.ID, SubscriptionID: sub.ID})
	require.NoError(t, err)
	assert.False(t, updated.AutoRenew)

	updated, err = h.svc.ToggleAutoRenew(ctx, AutoRenewRequest{UserID: user.ID, SubscriptionID: sub.ID, Desired: fixtures.BoolPtr(true)})
	require.NoError(t, err)
	assert.True(t, updated.AutoRenew)

	updated, err = h.svc.ToggleAutoRenew(ctx, AutoRenewRequest{UserID: user.ID, SubscriptionID: sub.ID, Desired: fixtures.BoolPtr(true)})
	require.NoError(t, err)
	assert.True(t, updated.AutoRenew, "setting the current value is accepted")

	assert.True(t, h.subscription(t, sub.ID).AutoRenew)
	assert.Len(t, h.notificationTypes(t, user.ID), 3)
	assert.Empty(t, h.transactions(t, user.ID))
}

func TestToggleAutoRenew_RequiresActive(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "0")
	plan := h.seedPlan(t, "300", 30)
	sub := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).Canceled(testNow))

	_, err := h.svc.ToggleAutoRenew(context.Background(), AutoRenewRequest{UserID: user.ID, SubscriptionID: sub.ID, Desired: fixtures.BoolPtr(true)})

	require.ErrorIs(t, err, domain.ErrSubscriptionInvalidState)
	assert.False(t, h.subscription(t, sub.ID).AutoRenew)
	assert.Empty(t, h.notificationTypes(t, user.ID))
}
