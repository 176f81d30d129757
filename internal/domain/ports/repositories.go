package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/subscription-billing/internal/domain"
)

// Repository methods take a DBTX. Pass the tx handed out by
// TransactionManager to take part in a unit of work; pass nil to run
// against the pool directly. *ForUpdate methods lock the row until the
// surrounding transaction ends and must only be called with a tx.

// UserRepository persists users and their balances
type UserRepository interface {
	Create(ctx context.Context, tx DBTX, user *domain.User) error
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.User, error)
	GetByIDForUpdate(ctx context.Context, tx DBTX, id uuid.UUID) (*domain.User, error)
	UpdateBalance(ctx context.Context, tx DBTX, user *domain.User) error
}

// PlanRepository persists the plan catalog
type PlanRepository interface {
	Create(ctx context.Context, tx DBTX, plan *domain.SubscriptionPlan) error
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.SubscriptionPlan, error)
	ListActive(ctx context.Context, db DBTX) ([]*domain.SubscriptionPlan, error)
}

// SubscriptionFilter narrows subscription listings. Zero values are ignored.
type SubscriptionFilter struct {
	UserID     *uuid.UUID
	AutoRenew  *bool
	EndAfter   *time.Time
	EndBefore  *time.Time
	RetryDueBy *time.Time
	Statuses   []domain.SubscriptionStatus
	Limit      int
}

// SubscriptionRepository defines the interface for subscription persistence
type SubscriptionRepository interface {
	Create(ctx context.Context, tx DBTX, subscription *domain.UserSubscription) error
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.UserSubscription, error)
	GetByIDForUpdate(ctx context.Context, tx DBTX, id uuid.UUID) (*domain.UserSubscription, error)
	Update(ctx context.Context, tx DBTX, subscription *domain.UserSubscription) error
	List(ctx context.Context, db DBTX, filter SubscriptionFilter) ([]*domain.UserSubscription, error)
}

// TransactionFilter narrows transaction listings. Zero values are ignored.
type TransactionFilter struct {
	UserID         *uuid.UUID
	SubscriptionID *uuid.UUID
	Type           domain.TransactionType
	Status         domain.TransactionStatus
	Limit          int
	Offset         int
}

// TransactionRepository persists the transaction ledger
type TransactionRepository interface {
	Create(ctx context.Context, tx DBTX, txn *domain.Transaction) error
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx DBTX, id uuid.UUID) (*domain.Transaction, error)
	// UpdateOutcome writes the terminal status of a pending transaction.
	// It fails with ErrTxnAlreadyProcessed if the stored row is no longer pending.
	UpdateOutcome(ctx context.Context, tx DBTX, txn *domain.Transaction) error
	HasCompletedRefund(ctx context.Context, db DBTX, subscriptionID uuid.UUID) (bool, error)
	List(ctx context.Context, db DBTX, filter TransactionFilter) ([]*domain.Transaction, error)
}

// PromoCodeRepository persists promo codes
type PromoCodeRepository interface {
	Create(ctx context.Context, tx DBTX, promo *domain.PromoCode) error
	GetByCode(ctx context.Context, db DBTX, code string) (*domain.PromoCode, error)
	GetByCodeForUpdate(ctx context.Context, tx DBTX, code string) (*domain.PromoCode, error)
	UpdateUsage(ctx context.Context, tx DBTX, promo *domain.PromoCode) error
	ListActive(ctx context.Context, db DBTX, now time.Time) ([]*domain.PromoCode, error)
}

// NotificationRepository is the notification inbox and publish outbox
type NotificationRepository interface {
	Create(ctx context.Context, tx DBTX, notification *domain.Notification) error
	ListUnpublished(ctx context.Context, db DBTX, limit int) ([]*domain.Notification, error)
	MarkPublished(ctx context.Context, db DBTX, id uuid.UUID, at time.Time) error
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit int) ([]*domain.Notification, error)
	// ExistsSince reports whether a notification of type was recorded for
	// the subscription at or after since.
	ExistsSince(ctx context.Context, db DBTX, subscriptionID uuid.UUID, notificationType domain.NotificationType, since time.Time) (bool, error)
}
