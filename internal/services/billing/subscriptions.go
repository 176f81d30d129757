package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/pkg/observability"
)

// CancelRequest cancels a user's active subscription
type CancelRequest struct {
	Reason         string
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
}

// CancelResult is the subscription state after cancellation
type CancelResult struct {
	CanceledAt     time.Time                 `json:"canceled_at"`
	Status         domain.SubscriptionStatus `json:"status"`
	SubscriptionID uuid.UUID                 `json:"subscription_id"`
	TransactionID  uuid.UUID                 `json:"transaction_id"`
}

// lockOwnedSubscription locks the user row then the subscription row.
// A subscription owned by someone else is reported as not found.
func (s *Service) lockOwnedSubscription(ctx context.Context, tx ports.DBTX, userID, subID uuid.UUID) (*domain.User, *domain.UserSubscription, error) {
	user, err := s.users.GetByIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}
	sub, err := s.subs.GetByIDForUpdate(ctx, tx, subID)
	if err != nil {
		return nil, nil, err
	}
	if !sub.BelongsTo(user.ID) {
		return nil, nil, domain.NewDomainError(domain.ErrorCodeSubscriptionNotFound, "subscription not found").
			WithDetail("subscription_id", subID.String())
	}
	return user, sub, nil
}

// CancelSubscription stops an active subscription. auto_renew is forced off
// and a zero-amount audit transaction records the cancellation.
func (s *Service) CancelSubscription(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "billing.CancelSubscription", trace.WithAttributes(
		attribute.String("user_id", req.UserID.String()),
		attribute.String("subscription_id", req.SubscriptionID.String()),
	))
	defer span.End()

	var result *CancelResult
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
		user, sub, err := s.lockOwnedSubscription(ctx, tx, req.UserID, req.SubscriptionID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := sub.Cancel(now); err != nil {
			return err
		}
		if err := s.subs.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("cancel subscription: %w", err)
		}

		audit := domain.NewTransaction(user.ID, &sub.ID, decimal.Zero, domain.TransactionTypeCancel, "Subscription canceled", now)
		if req.Reason != "" {
			audit.PaymentData.Set("reason", req.Reason)
		}
		if err := audit.Complete("", nil, now); err != nil {
			return err
		}
		if err := s.txns.Create(ctx, tx, audit); err != nil {
			return fmt.Errorf("record cancellation: %w", err)
		}

		if err := s.notify(ctx, tx, subscriptionCanceled(sub, req.Reason, now)); err != nil {
			return fmt.Errorf("record notification: %w", err)
		}

		result = &CancelResult{
			SubscriptionID: sub.ID,
			TransactionID:  audit.ID,
			Status:         sub.Status,
			CanceledAt:     now,
		}
		return nil
	})
	if err != nil {
		observability.RecordBillingOperation("cancel", "rejected")
		s.logger.Warn("cancel rejected",
			ports.String("user_id", req.UserID.String()),
			ports.String("subscription_id", req.SubscriptionID.String()),
			ports.String("error", err.Error()))
		return nil, recordSpanError(span, err)
	}

	observability.RecordBillingOperation("cancel", "success")
	s.logger.Info("subscription canceled",
		ports.String("user_id", req.UserID.String()),
		ports.String("subscription_id", result.SubscriptionID.String()),
		ports.String("transaction_id", result.TransactionID.String()))
	return result, nil
}

// AutoRenewRequest sets auto-renew to Desired, or flips it when Desired is nil
type AutoRenewRequest struct {
	Desired        *bool
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
}

// ToggleAutoRenew changes the auto-renew flag of an active subscription
func (s *Service) ToggleAutoRenew(ctx context.Context, req AutoRenewRequest) (*domain.UserSubscription, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "billing.ToggleAutoRenew", trace.WithAttributes(
		attribute.String("user_id", req.UserID.String()),
		attribute.String("subscription_id", req.SubscriptionID.String()),
	))
	defer span.End()

	var updated *domain.UserSubscription
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
		_, sub, err := s.lockOwnedSubscription(ctx, tx, req.UserID, req.SubscriptionID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := sub.SetAutoRenew(req.Desired, now); err != nil {
			return err
		}
		if err := s.subs.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("update auto-renew: %w", err)
		}

		message := "Auto-renew has been turned off."
		if sub.AutoRenew {
			message = "Auto-renew has been turned on."
		}
		if err := s.notify(ctx, tx, subscriptionModified(sub, message, now)); err != nil {
			return fmt.Errorf("record notification: %w", err)
		}
		updated = sub
		return nil
	})
	if err != nil {
		observability.RecordBillingOperation("auto_renew", "rejected")
		return nil, recordSpanError(span, err)
	}

	observability.RecordBillingOperation("auto_renew", "success")
	s.logger.Info("auto-renew updated",
		ports.String("user_id", req.UserID.String()),
		ports.String("subscription_id", updated.ID.String()),
		ports.Bool("auto_renew", updated.AutoRenew))
	return updated, nil
}
