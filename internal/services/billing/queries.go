package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// Balance is a user's current balance
type Balance struct {
	Balance decimal.Decimal `json:"balance"`
	UserID  uuid.UUID       `json:"user_id"`
}

// GetBalance returns the user's balance
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	return &Balance{UserID: user.ID, Balance: user.Balance}, nil
}

// TransactionQuery narrows ListTransactions
type TransactionQuery struct {
	Type   domain.TransactionType
	Status domain.TransactionStatus
	Limit  int
	Offset int
}

// ListTransactions returns the user's transactions, newest first
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, q TransactionQuery) ([]*domain.Transaction, error) {
	if q.Type != "" && !q.Type.Valid() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "unknown transaction type").
			WithDetail("type", string(q.Type))
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "unknown transaction status").
			WithDetail("status", string(q.Status))
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.txns.List(ctx, nil, ports.TransactionFilter{
		UserID: &userID,
		Type:   q.Type,
		Status: q.Status,
		Limit:  clampLimit(q.Limit),
		Offset: q.Offset,
	})
}

// ListSubscriptions returns the user's subscriptions, optionally only those
// in the given statuses.
func (s *Service) ListSubscriptions(ctx context.Context, userID uuid.UUID, statuses ...domain.SubscriptionStatus) ([]*domain.UserSubscription, error) {
	for _, status := range statuses {
		if !status.Valid() {
			return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "unknown subscription status").
				WithDetail("status", string(status))
		}
	}
	return s.subs.List(ctx, nil, ports.SubscriptionFilter{
		UserID:   &userID,
		Statuses: statuses,
		Limit:    maxListLimit,
	})
}

// GetSubscription returns one of the user's subscriptions
func (s *Service) GetSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*domain.UserSubscription, error) {
	sub, err := s.subs.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.BelongsTo(userID) {
		return nil, domain.NewDomainError(domain.ErrorCodeSubscriptionNotFound, "subscription not found").
			WithDetail("subscription_id", subscriptionID.String())
	}
	return sub, nil
}

// ListPlans returns the plans that can be purchased
func (s *Service) ListPlans(ctx context.Context) ([]*domain.SubscriptionPlan, error) {
	return s.plans.ListActive(ctx, nil)
}

// ListActivePromoCodes returns promo codes redeemable right now
func (s *Service) ListActivePromoCodes(ctx context.Context) ([]*domain.PromoCode, error) {
	now := s.now()
	promos, err := s.promos.ListActive(ctx, nil, now)
	if err != nil {
		return nil, err
	}
	valid := promos[:0]
	for _, p := range promos {
		if p.Validate(now) == nil {
			valid = append(valid, p)
		}
	}
	return valid, nil
}

// ListNotifications returns the user's notifications, newest first
func (s *Service) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Notification, error) {
	return s.notifications.ListByUser(ctx, nil, userID, clampLimit(limit))
}
