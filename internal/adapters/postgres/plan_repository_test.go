package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/testutil/fixtures"
)

var planRowColumns = []string{"id", "name", "description", "price", "duration_days", "is_active", "created_at"}

func TestPlanRepository_Create(t *testing.T) {
	ctx := context.Background()
	plan := fixtures.NewPlan().WithPrice("300").WithDurationDays(30).Build()

	t.Run("inserts or refreshes catalog fields", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`WHERE subscription_plans.price = EXCLUDED.price`).
			WithArgs(plan.ID, plan.Name, plan.Description, pgxmock.AnyArg(), 30, true, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewPlanRepository(mock).Create(ctx, nil, plan))
	})

	t.Run("differing price or duration is rejected", func(t *testing.T) {
		repriced := *plan
		repriced.Price = decimal.NewFromInt(900)
		repriced.DurationDays = 1

		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO subscription_plans`).
			WithArgs(plan.ID, plan.Name, plan.Description, pgxmock.AnyArg(), 1, true, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery(`FROM subscription_plans WHERE id = \$1`).
			WithArgs(plan.ID).
			WillReturnRows(pgxmock.NewRows(planRowColumns).
				AddRow(plan.ID, plan.Name, plan.Description, numeric(t, "300.00"), 30, true, fixedTime))

		err := NewPlanRepository(mock).Create(ctx, nil, &repriced)
		assert.ErrorIs(t, err, domain.ErrPlanImmutable)
	})
}
