package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func numeric(t *testing.T, s string) pgtype.Numeric {
	t.Helper()
	var n pgtype.Numeric
	require.NoError(t, n.Scan(s))
	return n
}

var fixedTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDBExecutor_WithTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits when fn succeeds", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE users SET balance").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := NewDBExecutor(mock).WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
			_, err := tx.Exec(ctx, "UPDATE users SET balance = 1")
			return err
		})
		require.NoError(t, err)
	})

	t.Run("rolls back and returns fn error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := NewDBExecutor(mock).WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.PanicsWithValue(t, "kaboom", func() {
			_ = NewDBExecutor(mock).WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
				panic("kaboom")
			})
		})
	})

	t.Run("begin failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin().WillReturnError(errors.New("no connection"))

		called := false
		err := NewDBExecutor(mock).WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "begin transaction")
		assert.False(t, called)
	})
}

func TestDBExecutor_WithReadOnlyTransaction(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectQuery("SELECT 1").WillReturnRows(pgxmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectCommit()

	var got int
	err := NewDBExecutor(mock).WithReadOnlyTransaction(context.Background(), func(ctx context.Context, tx ports.DBTX) error {
		return tx.QueryRow(ctx, "SELECT 1").Scan(&got)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestPgNumericToDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"300.00", "300"},
		{"0.5", "0.5"},
		{"1234567.89", "1234567.89"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			dec, err := pgNumericToDecimal(numeric(t, tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, dec.String())
		})
	}

	dec, err := pgNumericToDecimal(pgtype.Numeric{})
	require.NoError(t, err)
	assert.True(t, dec.IsZero(), "NULL numeric reads as zero")
}
