package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

const completedRefundIndex = "uq_transactions_completed_refund"

var transactionColumns = []string{
	"id", "user_id", "subscription_id", "parent_transaction_id", "amount", "transaction_type",
	"status", "description", "gateway_transaction_id", "payment_data", "created_at", "updated_at",
}

// TransactionRepository implements ports.TransactionRepository using pgx
type TransactionRepository struct {
	pool Pool
}

var _ ports.TransactionRepository = (*TransactionRepository)(nil)

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(pool Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Create inserts a new ledger entry
func (r *TransactionRepository) Create(ctx context.Context, tx ports.DBTX, txn *domain.Transaction) error {
	amount, err := decimalToPgNumeric(txn.Amount)
	if err != nil {
		return fmt.Errorf("convert amount: %w", err)
	}
	paymentData, err := encodeJSON(txn.PaymentData)
	if err != nil {
		return fmt.Errorf("marshal payment data: %w", err)
	}

	_, err = executor(r.pool, tx).Exec(ctx, `
		INSERT INTO transactions (
			id, user_id, subscription_id, parent_transaction_id, amount, transaction_type,
			status, description, gateway_transaction_id, payment_data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		txn.ID, txn.UserID, txn.SubscriptionID, txn.ParentTransactionID, amount, string(txn.Type),
		string(txn.Status), txn.Description, txn.GatewayTransactionID, paymentData, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		return r.mapWriteError(err, txn)
	}
	return nil
}

// GetByID retrieves a transaction by its ID
func (r *TransactionRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.Transaction, error) {
	return r.get(ctx, executor(r.pool, db), false, id)
}

// GetByIDForUpdate retrieves a transaction and locks the row until tx ends
func (r *TransactionRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*domain.Transaction, error) {
	return r.get(ctx, executor(r.pool, tx), true, id)
}

func (r *TransactionRepository) get(ctx context.Context, db ports.DBTX, forUpdate bool, id uuid.UUID) (*domain.Transaction, error) {
	builder := psql.Select(transactionColumns...).From("transactions").Where(sq.Eq{"id": id})
	if forUpdate {
		builder = builder.Suffix("FOR UPDATE")
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get transaction query: %w", err)
	}

	txn, err := scanTransaction(db.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").
				WithDetail("transaction_id", id.String())
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return txn, nil
}

// UpdateOutcome records the terminal status of a pending transaction.
// The status guard makes a second writer fail instead of overwriting.
func (r *TransactionRepository) UpdateOutcome(ctx context.Context, tx ports.DBTX, txn *domain.Transaction) error {
	paymentData, err := encodeJSON(txn.PaymentData)
	if err != nil {
		return fmt.Errorf("marshal payment data: %w", err)
	}

	db := executor(r.pool, tx)
	tag, err := db.Exec(ctx, `
		UPDATE transactions SET
			status = $2,
			gateway_transaction_id = $3,
			payment_data = $4,
			updated_at = $5
		WHERE id = $1 AND status = 'pending'`,
		txn.ID, string(txn.Status), txn.GatewayTransactionID, paymentData, txn.UpdatedAt,
	)
	if err != nil {
		return r.mapWriteError(err, txn)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	if err := db.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1`, txn.ID).Scan(&current); err != nil {
		if isNoRows(err) {
			return domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").
				WithDetail("transaction_id", txn.ID.String())
		}
		return fmt.Errorf("get transaction status: %w", err)
	}
	return domain.NewDomainError(domain.ErrorCodeTxnAlreadyProcessed, "transaction already processed").
		WithDetail("transaction_id", txn.ID.String()).
		WithDetail("status", current)
}

// HasCompletedRefund reports whether the subscription already has a completed refund
func (r *TransactionRepository) HasCompletedRefund(ctx context.Context, db ports.DBTX, subscriptionID uuid.UUID) (bool, error) {
	var exists bool
	err := executor(r.pool, db).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE subscription_id = $1 AND transaction_type = 'refund' AND status = 'completed'
		)`, subscriptionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check completed refund: %w", err)
	}
	return exists, nil
}

// List returns transactions matching filter, newest first
func (r *TransactionRepository) List(ctx context.Context, db ports.DBTX, filter ports.TransactionFilter) ([]*domain.Transaction, error) {
	builder := psql.Select(transactionColumns...).
		From("transactions").
		OrderBy("created_at DESC", "id")

	if filter.UserID != nil {
		builder = builder.Where(sq.Eq{"user_id": *filter.UserID})
	}
	if filter.SubscriptionID != nil {
		builder = builder.Where(sq.Eq{"subscription_id": *filter.SubscriptionID})
	}
	if filter.Type != "" {
		builder = builder.Where(sq.Eq{"transaction_type": string(filter.Type)})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list transactions query: %w", err)
	}

	rows, err := executor(r.pool, db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txns, nil
}

func (r *TransactionRepository) mapWriteError(err error, txn *domain.Transaction) error {
	code, constraint := pgErrorCode(err)
	switch {
	case code == pgUniqueViolation && constraint == completedRefundIndex:
		return domain.WrapError(domain.ErrorCodeDuplicateRefund, "subscription already has a completed refund", err)
	case code == pgFKViolation:
		return domain.WrapError(domain.ErrorCodeUserNotFound, "user not found", err).
			WithDetail("user_id", txn.UserID.String())
	}
	return fmt.Errorf("write transaction: %w", err)
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		txn         domain.Transaction
		amount      pgtype.Numeric
		txnType     string
		status      string
		paymentData []byte
	)
	if err := row.Scan(
		&txn.ID, &txn.UserID, &txn.SubscriptionID, &txn.ParentTransactionID, &amount, &txnType,
		&status, &txn.Description, &txn.GatewayTransactionID, &paymentData, &txn.CreatedAt, &txn.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if txn.Amount, err = pgNumericToDecimal(amount); err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	data, err := decodeJSON(paymentData)
	if err != nil {
		return nil, err
	}
	txn.PaymentData = domain.PaymentData(data)
	txn.Type = domain.TransactionType(txnType)
	txn.Status = domain.TransactionStatus(status)
	return &txn, nil
}
