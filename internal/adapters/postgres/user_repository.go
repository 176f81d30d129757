package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

const userColumns = `id, username, email, balance, created_at, updated_at`

// UserRepository implements ports.UserRepository using pgx
type UserRepository struct {
	pool Pool
}

var _ ports.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates a new user repository
func NewUserRepository(pool Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, tx ports.DBTX, user *domain.User) error {
	balance, err := decimalToPgNumeric(user.Balance)
	if err != nil {
		return fmt.Errorf("convert balance: %w", err)
	}

	_, err = executor(r.pool, tx).Exec(ctx, `
		INSERT INTO users (id, username, email, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Username, user.Email, balance, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if code, _ := pgErrorCode(err); code == pgUniqueViolation {
			return domain.WrapError(domain.ErrorCodeValidationFailed, "username already taken", err).
				WithDetail("username", user.Username)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.User, error) {
	return r.get(ctx, executor(r.pool, db), `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a user and locks the row until tx ends
func (r *UserRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*domain.User, error) {
	return r.get(ctx, executor(r.pool, tx), `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (r *UserRepository) get(ctx context.Context, db ports.DBTX, query string, id uuid.UUID) (*domain.User, error) {
	var (
		user    domain.User
		balance pgtype.Numeric
	)
	err := db.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email, &balance, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrorCodeUserNotFound, "user not found").
				WithDetail("user_id", id.String())
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	if user.Balance, err = pgNumericToDecimal(balance); err != nil {
		return nil, fmt.Errorf("convert balance: %w", err)
	}
	return &user, nil
}

// UpdateBalance writes the user's balance. The table's check constraint
// rejects negative balances.
func (r *UserRepository) UpdateBalance(ctx context.Context, tx ports.DBTX, user *domain.User) error {
	balance, err := decimalToPgNumeric(user.Balance)
	if err != nil {
		return fmt.Errorf("convert balance: %w", err)
	}

	tag, err := executor(r.pool, tx).Exec(ctx,
		`UPDATE users SET balance = $2, updated_at = $3 WHERE id = $1`,
		user.ID, balance, user.UpdatedAt,
	)
	if err != nil {
		if code, _ := pgErrorCode(err); code == pgCheckViolation {
			return domain.WrapError(domain.ErrorCodeInsufficientFunds, "balance cannot be negative", err)
		}
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrorCodeUserNotFound, "user not found").
			WithDetail("user_id", user.ID.String())
	}
	return nil
}
