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

// RefundRequest asks for a refund of a subscription charge
type RefundRequest struct {
	Reason        string
	UserID        uuid.UUID
	TransactionID uuid.UUID
}

// RefundResult describes a processed refund. On a gateway failure it is
// returned alongside the error and points at the failed refund record.
type RefundResult struct {
	EndDate             *time.Time                `json:"end_date,omitempty"`
	Amount              decimal.Decimal           `json:"refund_amount"`
	NewBalance          decimal.Decimal           `json:"new_balance"`
	Reason              string                    `json:"reason"`
	Status              domain.TransactionStatus  `json:"status"`
	SubscriptionStatus  domain.SubscriptionStatus `json:"subscription_status"`
	RefundTransactionID uuid.UUID                 `json:"refund_transaction_id"`
	SubscriptionID      uuid.UUID                 `json:"subscription_id"`
	Canceled            bool                      `json:"canceled"`
}

// Refund returns part or all of a subscription charge to the user's
// balance. A refund at or above the full-refund threshold cancels the
// subscription; a smaller one shortens its term proportionally. At most one
// completed refund exists per subscription.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "billing.Refund", trace.WithAttributes(
		attribute.String("user_id", req.UserID.String()),
		attribute.String("transaction_id", req.TransactionID.String()),
	))
	defer span.End()

	// unlocked read to learn which subscription to lock; everything is
	// re-read under lock below
	original, err := s.txns.GetByID(ctx, nil, req.TransactionID)
	if err != nil {
		observability.RecordBillingOperation("refund", "rejected")
		return nil, recordSpanError(span, err)
	}
	if original.UserID != req.UserID {
		observability.RecordBillingOperation("refund", "rejected")
		return nil, recordSpanError(span, domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").
			WithDetail("transaction_id", req.TransactionID.String()))
	}
	if original.SubscriptionID == nil || !original.Type.IsSubscriptionCharge() {
		observability.RecordBillingOperation("refund", "rejected")
		return nil, recordSpanError(span, domain.NewDomainError(domain.ErrorCodeTxnInvalidState, "only subscription charges can be refunded").
			WithDetail("transaction_id", original.ID.String()).
			WithDetail("transaction_type", string(original.Type)))
	}

	var result *RefundResult
	var gatewayErr error

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
		user, sub, err := s.lockOwnedSubscription(ctx, tx, req.UserID, *original.SubscriptionID)
		if err != nil {
			return err
		}
		txn, err := s.txns.GetByIDForUpdate(ctx, tx, req.TransactionID)
		if err != nil {
			return err
		}

		duplicate, err := s.txns.HasCompletedRefund(ctx, tx, sub.ID)
		if err != nil {
			return fmt.Errorf("check existing refund: %w", err)
		}
		if duplicate {
			return domain.NewDomainError(domain.ErrorCodeDuplicateRefund, "subscription already has a completed refund").
				WithDetail("subscription_id", sub.ID.String())
		}
		if !txn.IsRefundable() {
			return domain.NewDomainError(domain.ErrorCodeTxnInvalidState, "transaction is not a completed charge").
				WithDetail("transaction_id", txn.ID.String()).
				WithDetail("status", string(txn.Status))
		}
		if !sub.IsActive() {
			return domain.NewDomainError(domain.ErrorCodeSubscriptionInvalidState, "subscription is not active").
				WithDetail("subscription_id", sub.ID.String()).
				WithDetail("status", string(sub.Status))
		}

		quote := s.pricing.RefundAmount(txn, sub, s.now())
		if !quote.Eligible() {
			return domain.NewDomainError(domain.ErrorCodeNoEligibleRefund, "transaction is not eligible for a refund").
				WithDetail("transaction_id", txn.ID.String()).
				WithDetail("reason", string(quote.Reason))
		}

		plan, err := s.plans.GetByID(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}

		refund := domain.NewTransaction(user.ID, &sub.ID, quote.Amount, domain.TransactionTypeRefund, "Refund of "+plan.Name, s.now())
		parentID := txn.ID
		refund.ParentTransactionID = &parentID
		refund.PaymentData.
			Set("refund_reason", string(quote.Reason)).
			Set("fraction", quote.Fraction.StringFixed(4)).
			Set("original_amount", txn.Amount.StringFixed(2))
		if req.Reason != "" {
			refund.PaymentData.Set("requested_reason", req.Reason)
		}
		if err := s.txns.Create(ctx, tx, refund); err != nil {
			return fmt.Errorf("create refund transaction: %w", err)
		}

		gatewayRef := txn.ID.String()
		if txn.GatewayTransactionID != nil {
			gatewayRef = *txn.GatewayTransactionID
		}
		outcome := s.refund(ctx, &ports.RefundRequest{
			Amount:                quote.Amount,
			OriginalTransactionID: gatewayRef,
			Reference:             refund.ID.String(),
		})
		now := s.now()

		if !outcome.success {
			if err := refund.Fail(outcome.message, outcome.data, now); err != nil {
				return err
			}
			if err := s.txns.UpdateOutcome(ctx, tx, refund); err != nil {
				return fmt.Errorf("record failed refund: %w", err)
			}
			if err := s.notify(ctx, tx, paymentFailed(refund, outcome.message, now)); err != nil {
				return fmt.Errorf("record notification: %w", err)
			}
			result = &RefundResult{
				RefundTransactionID: refund.ID,
				SubscriptionID:      sub.ID,
				Amount:              quote.Amount,
				NewBalance:          user.Balance,
				Reason:              string(quote.Reason),
				Status:              refund.Status,
				SubscriptionStatus:  sub.Status,
				EndDate:             sub.EndDate,
			}
			gatewayErr = outcome.asError(refund.ID.String())
			return nil
		}

		if err := refund.Complete(outcome.id, outcome.data, now); err != nil {
			return err
		}
		if err := s.txns.UpdateOutcome(ctx, tx, refund); err != nil {
			return fmt.Errorf("record refund: %w", err)
		}
		if err := user.Credit(quote.Amount, now); err != nil {
			return err
		}
		if err := s.users.UpdateBalance(ctx, tx, user); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		canceled := s.pricing.IsFullRefund(quote.Amount, txn.Amount)
		if canceled {
			if err := sub.CancelForRefund(now); err != nil {
				return err
			}
		} else {
			reduction := s.pricing.TermReduction(plan.DurationDays, quote.Amount, txn.Amount)
			if err := sub.ShortenTerm(reduction, now); err != nil {
				return err
			}
		}
		if err := s.subs.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("update refunded subscription: %w", err)
		}

		if err := s.notify(ctx, tx, refundProcessed(refund, sub, canceled, user.Balance, now)); err != nil {
			return fmt.Errorf("record notification: %w", err)
		}

		result = &RefundResult{
			RefundTransactionID: refund.ID,
			SubscriptionID:      sub.ID,
			Amount:              quote.Amount,
			NewBalance:          user.Balance,
			Reason:              string(quote.Reason),
			Status:              refund.Status,
			SubscriptionStatus:  sub.Status,
			EndDate:             sub.EndDate,
			Canceled:            canceled,
		}
		return nil
	})

	if err != nil {
		observability.RecordBillingOperation("refund", "rejected")
		s.logger.Warn("refund rejected",
			ports.String("user_id", req.UserID.String()),
			ports.String("transaction_id", req.TransactionID.String()),
			ports.String("error", err.Error()))
		return nil, recordSpanError(span, err)
	}
	if gatewayErr != nil {
		observability.RecordBillingOperation("refund", "failed")
		s.logger.Warn("refund payment failed",
			ports.String("user_id", req.UserID.String()),
			ports.String("subscription_id", result.SubscriptionID.String()),
			ports.String("transaction_id", result.RefundTransactionID.String()),
			ports.String("amount", result.Amount.StringFixed(2)),
			ports.String("error", gatewayErr.Error()))
		return result, recordSpanError(span, gatewayErr)
	}

	observability.RecordBillingOperation("refund", "success")
	observability.RecordBillingAmount("refund", result.Amount.InexactFloat64())
	s.logger.Info("refund processed",
		ports.String("user_id", req.UserID.String()),
		ports.String("subscription_id", result.SubscriptionID.String()),
		ports.String("transaction_id", result.RefundTransactionID.String()),
		ports.String("amount", result.Amount.StringFixed(2)),
		ports.Bool("canceled", result.Canceled))
	return result, nil
}
