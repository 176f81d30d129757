package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

const promoColumns = `id, code, description, discount_percent, max_uses, used_count, valid_from, valid_to, is_active, created_at`

// PromoCodeRepository implements ports.PromoCodeRepository using pgx.
// Codes are stored upper-cased.
type PromoCodeRepository struct {
	pool Pool
}

var _ ports.PromoCodeRepository = (*PromoCodeRepository)(nil)

// NewPromoCodeRepository creates a new promo code repository
func NewPromoCodeRepository(pool Pool) *PromoCodeRepository {
	return &PromoCodeRepository{pool: pool}
}

// Create inserts a promo code under its normalized code
func (r *PromoCodeRepository) Create(ctx context.Context, tx ports.DBTX, promo *domain.PromoCode) error {
	code := domain.NormalizePromoCode(promo.Code)
	_, err := executor(r.pool, tx).Exec(ctx, `
		INSERT INTO promo_codes (id, code, description, discount_percent, max_uses, used_count, valid_from, valid_to, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		promo.ID, code, promo.Description, promo.DiscountPercent, promo.MaxUses, promo.UsedCount,
		promo.ValidFrom, promo.ValidTo, promo.IsActive, promo.CreatedAt,
	)
	if err != nil {
		if c, _ := pgErrorCode(err); c == pgUniqueViolation {
			return domain.WrapError(domain.ErrorCodeValidationFailed, "promo code already exists", err).
				WithDetail("code", code)
		}
		return fmt.Errorf("create promo code: %w", err)
	}
	return nil
}

// GetByCode retrieves a promo code
func (r *PromoCodeRepository) GetByCode(ctx context.Context, db ports.DBTX, code string) (*domain.PromoCode, error) {
	return r.get(ctx, executor(r.pool, db), `SELECT `+promoColumns+` FROM promo_codes WHERE code = $1`, code)
}

// GetByCodeForUpdate retrieves a promo code and locks the row until tx ends
func (r *PromoCodeRepository) GetByCodeForUpdate(ctx context.Context, tx ports.DBTX, code string) (*domain.PromoCode, error) {
	return r.get(ctx, executor(r.pool, tx), `SELECT `+promoColumns+` FROM promo_codes WHERE code = $1 FOR UPDATE`, code)
}

func (r *PromoCodeRepository) get(ctx context.Context, db ports.DBTX, query, code string) (*domain.PromoCode, error) {
	code = domain.NormalizePromoCode(code)
	promo, err := scanPromo(db.QueryRow(ctx, query, code))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrorCodePromoInvalid, "promo code not found").
				WithDetail("code", code).
				WithDetail("reason", "not found")
		}
		return nil, fmt.Errorf("get promo code: %w", err)
	}
	return promo, nil
}

// UpdateUsage writes the redemption counter. The usage check constraint
// rejects counts above max_uses.
func (r *PromoCodeRepository) UpdateUsage(ctx context.Context, tx ports.DBTX, promo *domain.PromoCode) error {
	code := domain.NormalizePromoCode(promo.Code)
	tag, err := executor(r.pool, tx).Exec(ctx,
		`UPDATE promo_codes SET used_count = $2 WHERE code = $1`,
		code, promo.UsedCount,
	)
	if err != nil {
		if c, _ := pgErrorCode(err); c == pgCheckViolation {
			return domain.WrapError(domain.ErrorCodePromoInvalid, "promo code usage limit reached", err).
				WithDetail("code", code).
				WithDetail("reason", "usage limit reached")
		}
		return fmt.Errorf("update promo usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrorCodePromoInvalid, "promo code not found").WithDetail("code", code)
	}
	return nil
}

// ListActive returns the codes redeemable at now
func (r *PromoCodeRepository) ListActive(ctx context.Context, db ports.DBTX, now time.Time) ([]*domain.PromoCode, error) {
	rows, err := executor(r.pool, db).Query(ctx, `
		SELECT `+promoColumns+` FROM promo_codes
		WHERE is_active AND valid_from <= $1 AND valid_to >= $1 AND used_count < max_uses
		ORDER BY code`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("list active promo codes: %w", err)
	}
	defer rows.Close()

	var promos []*domain.PromoCode
	for rows.Next() {
		promo, err := scanPromo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promo code: %w", err)
		}
		promos = append(promos, promo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promo codes: %w", err)
	}
	return promos, nil
}

func scanPromo(row pgx.Row) (*domain.PromoCode, error) {
	var promo domain.PromoCode
	if err := row.Scan(
		&promo.ID, &promo.Code, &promo.Description, &promo.DiscountPercent, &promo.MaxUses,
		&promo.UsedCount, &promo.ValidFrom, &promo.ValidTo, &promo.IsActive, &promo.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &promo, nil
}
