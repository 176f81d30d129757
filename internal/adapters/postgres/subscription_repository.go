package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

// psql builds queries with PostgreSQL $n placeholders
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var subscriptionColumns = []string{
	"id", "user_id", "plan_id", "status", "start_date", "end_date", "auto_renew",
	"retry_count", "next_retry_at", "pending_since", "canceled_at", "created_at", "updated_at",
}

// SubscriptionRepository implements ports.SubscriptionRepository using pgx
type SubscriptionRepository struct {
	pool Pool
}

var _ ports.SubscriptionRepository = (*SubscriptionRepository)(nil)

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(pool Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

// Create inserts a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *domain.UserSubscription) error {
	_, err := executor(r.pool, tx).Exec(ctx, `
		INSERT INTO user_subscriptions (
			id, user_id, plan_id, status, start_date, end_date, auto_renew,
			retry_count, next_retry_at, pending_since, canceled_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.ID, sub.UserID, sub.PlanID, string(sub.Status), sub.StartDate, sub.EndDate, sub.AutoRenew,
		sub.RetryCount, sub.NextRetryAt, sub.PendingSince, sub.CanceledAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if code, constraint := pgErrorCode(err); code == pgFKViolation {
			if constraint == "user_subscriptions_plan_id_fkey" {
				return domain.WrapError(domain.ErrorCodePlanNotFound, "subscription plan not found", err).
					WithDetail("plan_id", sub.PlanID.String())
			}
			return domain.WrapError(domain.ErrorCodeUserNotFound, "user not found", err).
				WithDetail("user_id", sub.UserID.String())
		}
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription by its ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.UserSubscription, error) {
	return r.get(ctx, executor(r.pool, db), false, id)
}

// GetByIDForUpdate retrieves a subscription and locks the row until tx ends
func (r *SubscriptionRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*domain.UserSubscription, error) {
	return r.get(ctx, executor(r.pool, tx), true, id)
}

func (r *SubscriptionRepository) get(ctx context.Context, db ports.DBTX, forUpdate bool, id uuid.UUID) (*domain.UserSubscription, error) {
	builder := psql.Select(subscriptionColumns...).From("user_subscriptions").Where(sq.Eq{"id": id})
	if forUpdate {
		builder = builder.Suffix("FOR UPDATE")
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get subscription query: %w", err)
	}

	sub, err := scanSubscription(db.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrorCodeSubscriptionNotFound, "subscription not found").
				WithDetail("subscription_id", id.String())
		}
		return nil, fmt.Errorf("get subscription by id: %w", err)
	}
	return sub, nil
}

// Update writes every mutable subscription field
func (r *SubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, sub *domain.UserSubscription) error {
	tag, err := executor(r.pool, tx).Exec(ctx, `
		UPDATE user_subscriptions SET
			status = $2,
			start_date = $3,
			end_date = $4,
			auto_renew = $5,
			retry_count = $6,
			next_retry_at = $7,
			pending_since = $8,
			canceled_at = $9,
			updated_at = $10
		WHERE id = $1`,
		sub.ID, string(sub.Status), sub.StartDate, sub.EndDate, sub.AutoRenew,
		sub.RetryCount, sub.NextRetryAt, sub.PendingSince, sub.CanceledAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrorCodeSubscriptionNotFound, "subscription not found").
			WithDetail("subscription_id", sub.ID.String())
	}
	return nil
}

// List returns subscriptions matching filter, earliest end date first.
// Date bounds are inclusive.
func (r *SubscriptionRepository) List(ctx context.Context, db ports.DBTX, filter ports.SubscriptionFilter) ([]*domain.UserSubscription, error) {
	builder := psql.Select(subscriptionColumns...).
		From("user_subscriptions").
		OrderBy("end_date ASC NULLS LAST", "created_at ASC")

	if filter.UserID != nil {
		builder = builder.Where(sq.Eq{"user_id": *filter.UserID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		builder = builder.Where(sq.Eq{"status": statuses})
	}
	if filter.AutoRenew != nil {
		builder = builder.Where(sq.Eq{"auto_renew": *filter.AutoRenew})
	}
	if filter.EndAfter != nil {
		builder = builder.Where(sq.GtOrEq{"end_date": *filter.EndAfter})
	}
	if filter.EndBefore != nil {
		builder = builder.Where(sq.LtOrEq{"end_date": *filter.EndBefore})
	}
	if filter.RetryDueBy != nil {
		builder = builder.Where(sq.Or{
			sq.Eq{"next_retry_at": nil},
			sq.LtOrEq{"next_retry_at": *filter.RetryDueBy},
		})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list subscriptions query: %w", err)
	}

	rows, err := executor(r.pool, db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.UserSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(row pgx.Row) (*domain.UserSubscription, error) {
	var (
		sub    domain.UserSubscription
		status string
	)
	if err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &status, &sub.StartDate, &sub.EndDate, &sub.AutoRenew,
		&sub.RetryCount, &sub.NextRetryAt, &sub.PendingSince, &sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.Status = domain.SubscriptionStatus(status)
	return &sub, nil
}
