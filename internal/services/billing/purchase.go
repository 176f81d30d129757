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

// PurchaseRequest buys a plan for a user
type PurchaseRequest struct {
	PromoCode string
	UserID    uuid.UUID
	PlanID    uuid.UUID
}

// PurchaseResult describes the recorded outcome of a purchase. It is also
// returned alongside a gateway error so callers can reference the failed
// transaction.
type PurchaseResult struct {
	EndDate            *time.Time                `json:"end_date,omitempty"`
	Amount             decimal.Decimal           `json:"amount"`
	NewBalance         decimal.Decimal           `json:"new_balance"`
	Status             domain.TransactionStatus  `json:"status"`
	SubscriptionStatus domain.SubscriptionStatus `json:"subscription_status"`
	SubscriptionID     uuid.UUID                 `json:"subscription_id"`
	TransactionID      uuid.UUID                 `json:"transaction_id"`
}

// Purchase charges the plan price (less any promo discount) and activates a
// new subscription. Insufficient funds and invalid promos are rejected
// before anything is written. A gateway failure is committed as a failed
// transaction plus an expired subscription and returned as a gateway error.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	// runs to a recorded outcome even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "billing.Purchase", trace.WithAttributes(
		attribute.String("user_id", req.UserID.String()),
		attribute.String("plan_id", req.PlanID.String()),
	))
	defer span.End()

	plan, err := s.plans.GetByID(ctx, nil, req.PlanID)
	if err != nil {
		observability.RecordBillingOperation("purchase", "rejected")
		return nil, recordSpanError(span, err)
	}
	if !plan.IsActive {
		observability.RecordBillingOperation("purchase", "rejected")
		return nil, recordSpanError(span, domain.NewDomainError(domain.ErrorCodePlanInactive, "subscription plan is not available").
			WithDetail("plan_id", plan.ID.String()))
	}

	var result *PurchaseResult
	var gatewayErr error

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
		pricedAt := s.now()

		user, err := s.users.GetByIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		var promo *domain.PromoCode
		if code := domain.NormalizePromoCode(req.PromoCode); code != "" {
			promo, err = s.promos.GetByCodeForUpdate(ctx, tx, code)
			if err != nil {
				return err
			}
		}

		price, err := s.pricing.PriceForPurchase(plan, promo, pricedAt)
		if err != nil {
			return err
		}
		if !user.CanAfford(price) {
			return domain.NewDomainError(domain.ErrorCodeInsufficientFunds, "insufficient funds for purchase").
				WithDetail("balance", user.Balance.StringFixed(2)).
				WithDetail("required", price.StringFixed(2))
		}

		sub := domain.NewPendingSubscription(user.ID, plan.ID, pricedAt)
		if err := s.subs.Create(ctx, tx, sub); err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}

		txn := domain.NewTransaction(user.ID, &sub.ID, price, domain.TransactionTypePurchase, "Purchase of "+plan.Name, pricedAt)
		txn.PaymentData.Set("plan_id", plan.ID.String()).Set("list_price", plan.Price.StringFixed(2))
		if promo != nil {
			txn.PaymentData.Set("promo_code", promo.Code).Set("discount_percent", promo.DiscountPercent)
		}
		if err := s.txns.Create(ctx, tx, txn); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}

		outcome := s.charge(ctx, &ports.ChargeRequest{
			Amount:      price,
			UserID:      user.ID.String(),
			Description: txn.Description,
			Reference:   txn.ID.String(),
		})
		now := s.now()

		if !outcome.success {
			if err := txn.Fail(outcome.message, outcome.data, now); err != nil {
				return err
			}
			if err := s.txns.UpdateOutcome(ctx, tx, txn); err != nil {
				return fmt.Errorf("record failed charge: %w", err)
			}
			if err := sub.Expire(now); err != nil {
				return err
			}
			if err := s.subs.Update(ctx, tx, sub); err != nil {
				return fmt.Errorf("expire subscription: %w", err)
			}
			if err := s.notify(ctx, tx, paymentFailed(txn, outcome.message, now)); err != nil {
				return fmt.Errorf("record notification: %w", err)
			}

			result = &PurchaseResult{
				SubscriptionID:     sub.ID,
				TransactionID:      txn.ID,
				Status:             txn.Status,
				SubscriptionStatus: sub.Status,
				Amount:             price,
				NewBalance:         user.Balance,
			}
			gatewayErr = outcome.asError(txn.ID.String())
			return nil
		}

		if err := txn.Complete(outcome.id, outcome.data, now); err != nil {
			return err
		}
		if err := s.txns.UpdateOutcome(ctx, tx, txn); err != nil {
			return fmt.Errorf("record charge: %w", err)
		}
		if err := user.Debit(price, now); err != nil {
			return err
		}
		if err := s.users.UpdateBalance(ctx, tx, user); err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if err := sub.Activate(plan, now); err != nil {
			return err
		}
		if err := s.subs.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("activate subscription: %w", err)
		}
		if promo != nil {
			// validity was checked under this lock at pricedAt
			if err := promo.Redeem(pricedAt); err != nil {
				return err
			}
			if err := s.promos.UpdateUsage(ctx, tx, promo); err != nil {
				return fmt.Errorf("redeem promo code: %w", err)
			}
		}
		if err := s.notify(ctx, tx, paymentSucceeded(txn, plan.Name, user.Balance, now)); err != nil {
			return fmt.Errorf("record notification: %w", err)
		}

		result = &PurchaseResult{
			SubscriptionID:     sub.ID,
			TransactionID:      txn.ID,
			Status:             txn.Status,
			SubscriptionStatus: sub.Status,
			Amount:             price,
			NewBalance:         user.Balance,
			EndDate:            sub.EndDate,
		}
		return nil
	})

	if err != nil {
		observability.RecordBillingOperation("purchase", "rejected")
		s.logger.Warn("purchase rejected",
			ports.String("user_id", req.UserID.String()),
			ports.String("plan_id", req.PlanID.String()),
			ports.String("error", err.Error()))
		return nil, recordSpanError(span, err)
	}

	if gatewayErr != nil {
		observability.RecordBillingOperation("purchase", "failed")
		s.logger.Warn("purchase payment failed",
			ports.String("user_id", req.UserID.String()),
			ports.String("subscription_id", result.SubscriptionID.String()),
			ports.String("transaction_id", result.TransactionID.String()),
			ports.String("amount", result.Amount.StringFixed(2)),
			ports.String("error", gatewayErr.Error()))
		return result, recordSpanError(span, gatewayErr)
	}

	observability.RecordBillingOperation("purchase", "success")
	observability.RecordBillingAmount("purchase", result.Amount.InexactFloat64())
	s.logger.Info("subscription purchased",
		ports.String("user_id", req.UserID.String()),
		ports.String("subscription_id", result.SubscriptionID.String()),
		ports.String("transaction_id", result.TransactionID.String()),
		ports.String("amount", result.Amount.StringFixed(2)),
		ports.String("new_balance", result.NewBalance.StringFixed(2)))

	return result, nil
}

// DepositRequest tops up a user's balance through the gateway
type DepositRequest struct {
	Amount decimal.Decimal
	UserID uuid.UUID
}

// DepositResult describes the recorded outcome of a deposit
type DepositResult struct {
	Amount        decimal.Decimal          `json:"amount"`
	NewBalance    decimal.Decimal          `json:"new_balance"`
	Status        domain.TransactionStatus `json:"status"`
	TransactionID uuid.UUID                `json:"transaction_id"`
}

// Deposit charges amount through the gateway and credits it to the balance
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "billing.Deposit", trace.WithAttributes(
		attribute.String("user_id", req.UserID.String()),
	))
	defer span.End()

	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		observability.RecordBillingOperation("deposit", "rejected")
		return nil, recordSpanError(span, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid, "deposit amount must be positive").
			WithDetail("amount", req.Amount.String()))
	}

	var result *DepositResult
	var gatewayErr error

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
		user, err := s.users.GetByIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		txn := domain.NewTransaction(user.ID, nil, amount, domain.TransactionTypeDeposit, "Balance top-up", s.now())
		if err := s.txns.Create(ctx, tx, txn); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}

		outcome := s.charge(ctx, &ports.ChargeRequest{
			Amount:      amount,
			UserID:      user.ID.String(),
			Description: txn.Description,
			Reference:   txn.ID.String(),
		})
		now := s.now()

		if !outcome.success {
			if err := txn.Fail(outcome.message, outcome.data, now); err != nil {
				return err
			}
			if err := s.txns.UpdateOutcome(ctx, tx, txn); err != nil {
				return fmt.Errorf("record failed charge: %w", err)
			}
			if err := s.notify(ctx, tx, paymentFailed(txn, outcome.message, now)); err != nil {
				return fmt.Errorf("record notification: %w", err)
			}
			result = &DepositResult{TransactionID: txn.ID, Amount: amount, NewBalance: user.Balance, Status: txn.Status}
			gatewayErr = outcome.asError(txn.ID.String())
			return nil
		}

		if err := txn.Complete(outcome.id, outcome.data, now); err != nil {
			return err
		}
		if err := s.txns.UpdateOutcome(ctx, tx, txn); err != nil {
			return fmt.Errorf("record charge: %w", err)
		}
		if err := user.Credit(amount, now); err != nil {
			return err
		}
		if err := s.users.UpdateBalance(ctx, tx, user); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		if err := s.notify(ctx, tx, paymentSucceeded(txn, "", user.Balance, now)); err != nil {
			return fmt.Errorf("record notification: %w", err)
		}
		result = &DepositResult{TransactionID: txn.ID, Amount: amount, NewBalance: user.Balance, Status: txn.Status}
		return nil
	})

	if err != nil {
		observability.RecordBillingOperation("deposit", "rejected")
		s.logger.Warn("deposit rejected",
			ports.String("user_id", req.UserID.String()),
			ports.String("error", err.Error()))
		return nil, recordSpanError(span, err)
	}
	if gatewayErr != nil {
		observability.RecordBillingOperation("deposit", "failed")
		s.logger.Warn("deposit payment failed",
			ports.String("user_id", req.UserID.String()),
			ports.String("transaction_id", result.TransactionID.String()),
			ports.String("error", gatewayErr.Error()))
		return result, recordSpanError(span, gatewayErr)
	}

	observability.RecordBillingOperation("deposit", "success")
	observability.RecordBillingAmount("deposit", amount.InexactFloat64())
	s.logger.Info("balance deposited",
		ports.String("user_id", req.UserID.String()),
		ports.String("transaction_id", result.TransactionID.String()),
		ports.String("amount", amount.StringFixed(2)),
		ports.String("new_balance", result.NewBalance.StringFixed(2)))

	return result, nil
}
