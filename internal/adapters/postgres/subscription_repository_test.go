package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/internal/testutil/fixtures"
)

func subscriptionRow(t *testing.T, sub *domain.UserSubscription) *pgxmock.Rows {
	t.Helper()
	return pgxmock.NewRows(subscriptionColumns).AddRow(
		sub.ID, sub.UserID, sub.PlanID, string(sub.Status), sub.StartDate, sub.EndDate, sub.AutoRenew,
		sub.RetryCount, sub.NextRetryAt, sub.PendingSince, sub.CanceledAt, sub.CreatedAt, sub.UpdatedAt,
	)
}

func TestSubscriptionRepository_GetByIDForUpdate(t *testing.T) {
	ctx := context.Background()
	sub := fixtures.NewSubscription().WithTerm(fixedTime, 30).Build()

	mock := newMockPool(t)
	mock.ExpectQuery(`SELECT id, user_id, plan_id, status, .* FROM user_subscriptions WHERE id = \$1 FOR UPDATE`).
		WithArgs(sub.ID).
		WillReturnRows(subscriptionRow(t, sub))

	got, err := NewSubscriptionRepository(mock).GetByIDForUpdate(ctx, nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, fixedTime.AddDate(0, 0, 30), *got.EndDate)
	assert.Nil(t, got.NextRetryAt)
}

func TestSubscriptionRepository_GetByIDNotFound(t *testing.T) {
	id := uuid.New()
	mock := newMockPool(t)
	mock.ExpectQuery(`FROM user_subscriptions WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(subscriptionColumns))

	_, err := NewSubscriptionRepository(mock).GetByID(context.Background(), nil, id)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestSubscriptionRepository_ListRenewalCandidates(t *testing.T) {
	ctx := context.Background()
	from := fixedTime
	to := fixedTime.Add(24 * time.Hour)
	due := fixtures.NewSubscription().EndingAt(fixedTime.Add(time.Hour)).Build()

	mock := newMockPool(t)
	mock.ExpectQuery(`FROM user_subscriptions WHERE status IN \(\$1\) AND auto_renew = \$2 AND end_date >= \$3 AND end_date <= \$4 ORDER BY end_date ASC NULLS LAST, created_at ASC LIMIT 500`).
		WithArgs("active", true, from, to).
		WillReturnRows(subscriptionRow(t, due))

	subs, err := NewSubscriptionRepository(mock).List(ctx, nil, ports.SubscriptionFilter{
		Statuses:  []domain.SubscriptionStatus{domain.SubscriptionStatusActive},
		AutoRenew: fixtures.BoolPtr(true),
		EndAfter:  &from,
		EndBefore: &to,
		Limit:     500,
	})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, due.ID, subs[0].ID)
}

func TestSubscriptionRepository_ListRetryDue(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(`WHERE status IN \(\$1\) AND \(next_retry_at IS NULL OR next_retry_at <= \$2\)`).
		WithArgs("pending_renewal", fixedTime).
		WillReturnRows(pgxmock.NewRows(subscriptionColumns))

	subs, err := NewSubscriptionRepository(mock).List(context.Background(), nil, ports.SubscriptionFilter{
		Statuses:   []domain.SubscriptionStatus{domain.SubscriptionStatusPendingRenewal},
		RetryDueBy: &fixedTime,
	})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubscriptionRepository_CreateMapsForeignKeys(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		wantErr    error
	}{
		{name: "missing plan", constraint: "user_subscriptions_plan_id_fkey", wantErr: domain.ErrPlanNotFound},
		{name: "missing user", constraint: "user_subscriptions_user_id_fkey", wantErr: domain.ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := fixtures.NewSubscription().Build()
			mock := newMockPool(t)
			mock.ExpectExec(`INSERT INTO user_subscriptions`).
				WillReturnError(&pgconn.PgError{Code: pgFKViolation, ConstraintName: tt.constraint})

			err := NewSubscriptionRepository(mock).Create(context.Background(), nil, sub)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSubscriptionRepository_Update(t *testing.T) {
	sub := fixtures.NewSubscription().Build()

	mock := newMockPool(t)
	mock.ExpectExec(`UPDATE user_subscriptions SET`).
		WithArgs(sub.ID, "active", pgxmock.AnyArg(), pgxmock.AnyArg(), true, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewSubscriptionRepository(mock).Update(context.Background(), nil, sub)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}
