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
	"github.com/kevin07696/subscription-billing/internal/testutil/fixtures"
)

var userRowColumns = []string{"id", "username", "email", "balance", "created_at", "updated_at"}

func TestUserRepository_GetByIDForUpdate(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("locks and scans the row", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows(userRowColumns).
				AddRow(id, "alice", "alice@example.com", numeric(t, "1000.50"), fixedTime, fixedTime))

		user, err := NewUserRepository(mock).GetByIDForUpdate(ctx, nil, id)
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
		assert.Equal(t, "alice", user.Username)
		assert.Equal(t, "1000.50", user.Balance.StringFixed(2))
	})

	t.Run("missing row is a domain not-found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows(userRowColumns))

		_, err := NewUserRepository(mock).GetByIDForUpdate(ctx, nil, id)
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})
}

func TestUserRepository_UpdateBalance(t *testing.T) {
	ctx := context.Background()
	user := fixtures.NewUser().WithBalance("250.00").Build()

	t.Run("writes the balance", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`UPDATE users SET balance = \$2, updated_at = \$3 WHERE id = \$1`).
			WithArgs(user.ID, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewUserRepository(mock).UpdateBalance(ctx, nil, user))
	})

	t.Run("check constraint maps to insufficient funds", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`UPDATE users SET balance`).
			WithArgs(user.ID, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgCheckViolation, ConstraintName: "users_balance_non_negative"})

		err := NewUserRepository(mock).UpdateBalance(ctx, nil, user)
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`UPDATE users SET balance`).
			WithArgs(user.ID, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := NewUserRepository(mock).UpdateBalance(ctx, nil, user)
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})
}

func TestUserRepository_CreateDuplicateUsername(t *testing.T) {
	mock := newMockPool(t)
	user := fixtures.NewUser().WithUsername("taken").WithBalance("0").Build()

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(user.ID, "taken", user.Email, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "users_username_key"})

	err := NewUserRepository(mock).Create(context.Background(), nil, user)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}
