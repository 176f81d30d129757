package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/internal/testutil/fixtures"
)

func TestTransactionRepository_GetByID(t *testing.T) {
	subID := uuid.New()
	gatewayID := "gw_123"
	txn := fixtures.NewTransaction().ForSubscription(subID).Build()

	mock := newMockPool(t)
	mock.ExpectQuery(`FROM transactions WHERE id = \$1`).
		WithArgs(txn.ID).
		WillReturnRows(pgxmock.NewRows(transactionColumns).AddRow(
			txn.ID, txn.UserID, &subID, nil, numeric(t, "270.00"), "purchase",
			"completed", "Premium", &gatewayID, []byte(`{"auth_code":"A1"}`), fixedTime, fixedTime,
		))

	got, err := NewTransactionRepository(mock).GetByID(context.Background(), nil, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, "270.00", got.Amount.StringFixed(2))
	assert.Equal(t, domain.TransactionTypePurchase, got.Type)
	assert.Equal(t, domain.TransactionStatusCompleted, got.Status)
	require.NotNil(t, got.SubscriptionID)
	assert.Equal(t, subID, *got.SubscriptionID)
	assert.Nil(t, got.ParentTransactionID)
	require.NotNil(t, got.GatewayTransactionID)
	assert.Equal(t, "gw_123", *got.GatewayTransactionID)
	assert.Equal(t, "A1", got.PaymentData["auth_code"])
}

func TestTransactionRepository_UpdateOutcome(t *testing.T) {
	ctx := context.Background()
	txn := fixtures.NewTransaction().WithStatus(domain.TransactionStatusCompleted).Build()

	t.Run("pending row is updated", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`WHERE id = \$1 AND status = 'pending'`).
			WithArgs(txn.ID, "completed", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewTransactionRepository(mock).UpdateOutcome(ctx, nil, txn))
	})

	t.Run("already terminal row is rejected", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`WHERE id = \$1 AND status = 'pending'`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT status FROM transactions WHERE id = \$1`).
			WithArgs(txn.ID).
			WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("failed"))

		err := NewTransactionRepository(mock).UpdateOutcome(ctx, nil, txn)
		require.ErrorIs(t, err, domain.ErrTxnAlreadyProcessed)
		var domainErr *domain.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "failed", domainErr.Details["status"])
	})

	t.Run("missing row", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`WHERE id = \$1 AND status = 'pending'`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT status FROM transactions`).
			WithArgs(txn.ID).
			WillReturnRows(pgxmock.NewRows([]string{"status"}))

		err := NewTransactionRepository(mock).UpdateOutcome(ctx, nil, txn)
		assert.ErrorIs(t, err, domain.ErrTxnNotFound)
	})

	t.Run("second completed refund hits the partial unique index", func(t *testing.T) {
		refund := fixtures.NewTransaction().WithType(domain.TransactionTypeRefund).Build()
		mock := newMockPool(t)
		mock.ExpectExec(`WHERE id = \$1 AND status = 'pending'`).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: completedRefundIndex})

		err := NewTransactionRepository(mock).UpdateOutcome(ctx, nil, refund)
		assert.ErrorIs(t, err, domain.ErrDuplicateRefund)
	})
}

func TestTransactionRepository_HasCompletedRefund(t *testing.T) {
	subID := uuid.New()
	mock := newMockPool(t)
	mock.ExpectQuery(`transaction_type = 'refund' AND status = 'completed'`).
		WithArgs(subID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	found, err := NewTransactionRepository(mock).HasCompletedRefund(context.Background(), nil, subID)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestTransactionRepository_ListFilters(t *testing.T) {
	userID := uuid.New()
	mock := newMockPool(t)
	mock.ExpectQuery(`FROM transactions WHERE user_id = \$1 AND transaction_type = \$2 AND status = \$3 ORDER BY created_at DESC, id LIMIT 20 OFFSET 40`).
		WithArgs(userID, "refund", "completed").
		WillReturnRows(pgxmock.NewRows(transactionColumns))

	txns, err := NewTransactionRepository(mock).List(context.Background(), nil, ports.TransactionFilter{
		UserID: &userID,
		Type:   domain.TransactionTypeRefund,
		Status: domain.TransactionStatusCompleted,
		Limit:  20,
		Offset: 40,
	})
	require.NoError(t, err)
	assert.Empty(t, txns)
}
