package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

const planColumns = `id, name, description, price, duration_days, is_active, created_at`

// PlanRepository implements ports.PlanRepository using pgx
type PlanRepository struct {
	pool Pool
}

var _ ports.PlanRepository = (*PlanRepository)(nil)

// NewPlanRepository creates a new plan repository
func NewPlanRepository(pool Pool) *PlanRepository {
	return &PlanRepository{pool: pool}
}

// Create inserts a plan. Re-creating an existing ID may change its name,
// description and availability; price and duration are fixed once written.
func (r *PlanRepository) Create(ctx context.Context, tx ports.DBTX, plan *domain.SubscriptionPlan) error {
	price, err := decimalToPgNumeric(plan.Price)
	if err != nil {
		return fmt.Errorf("convert price: %w", err)
	}

	tag, err := executor(r.pool, tx).Exec(ctx, `
		INSERT INTO subscription_plans (id, name, description, price, duration_days, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active
		WHERE subscription_plans.price = EXCLUDED.price
			AND subscription_plans.duration_days = EXCLUDED.duration_days`,
		plan.ID, plan.Name, plan.Description, price, plan.DurationDays, plan.IsActive, plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		stored, err := r.GetByID(ctx, tx, plan.ID)
		if err != nil {
			return err
		}
		return plan.TermsChanged(stored)
	}
	return nil
}

// GetByID retrieves a plan by ID
func (r *PlanRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.SubscriptionPlan, error) {
	row := executor(r.pool, db).QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id)
	plan, err := scanPlan(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrorCodePlanNotFound, "subscription plan not found").
				WithDetail("plan_id", id.String())
		}
		return nil, fmt.Errorf("get plan by id: %w", err)
	}
	return plan, nil
}

// ListActive returns the purchasable catalog, cheapest first
func (r *PlanRepository) ListActive(ctx context.Context, db ports.DBTX) ([]*domain.SubscriptionPlan, error) {
	rows, err := executor(r.pool, db).Query(ctx,
		`SELECT `+planColumns+` FROM subscription_plans WHERE is_active ORDER BY price, name`)
	if err != nil {
		return nil, fmt.Errorf("list active plans: %w", err)
	}
	defer rows.Close()

	var plans []*domain.SubscriptionPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

func scanPlan(row pgx.Row) (*domain.SubscriptionPlan, error) {
	var (
		plan  domain.SubscriptionPlan
		price pgtype.Numeric
	)
	if err := row.Scan(
		&plan.ID, &plan.Name, &plan.Description, &price, &plan.DurationDays, &plan.IsActive, &plan.CreatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if plan.Price, err = pgNumericToDecimal(price); err != nil {
		return nil, fmt.Errorf("convert price: %w", err)
	}
	return &plan, nil
}
