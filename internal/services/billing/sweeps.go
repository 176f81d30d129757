package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/pkg/observability"
)

// Sweep names, used in results, metrics and lease keys
const (
	SweepRenewal        = "renewal"
	SweepRetry          = "retry"
	SweepExpire         = "expire"
	SweepExpiringNotice = "expiring_notice"
)

// SweepOutcome is what a sweep did to one subscription
type SweepOutcome string

const (
	OutcomeRenewed        SweepOutcome = "renewed"
	OutcomeFailed         SweepOutcome = "failed"
	OutcomeSkipped        SweepOutcome = "skipped"
	OutcomeExpired        SweepOutcome = "expired"
	OutcomeRetryScheduled SweepOutcome = "retry_scheduled"
	OutcomeNotified       SweepOutcome = "notified"
	OutcomeError          SweepOutcome = "error"
)

// SweepItem is the per-subscription result of a sweep
type SweepItem struct {
	NewEndDate     *time.Time                `json:"new_end_date,omitempty"`
	TransactionID  *uuid.UUID                `json:"transaction_id,omitempty"`
	Outcome        SweepOutcome              `json:"outcome"`
	Status         domain.SubscriptionStatus `json:"status,omitempty"`
	Reason         string                    `json:"reason,omitempty"`
	Error          string                    `json:"error,omitempty"`
	SubscriptionID uuid.UUID                 `json:"subscription_id"`
	UserID         uuid.UUID                 `json:"user_id"`
}

// SweepResult summarizes one sweep invocation. AsOf is the evaluation time
// the sweep judged due dates against; StartedAt and CompletedAt are both
// read from the service clock.
type SweepResult struct {
	AsOf           time.Time   `json:"as_of"`
	StartedAt      time.Time   `json:"started_at"`
	CompletedAt    time.Time   `json:"completed_at"`
	Sweep          string      `json:"sweep"`
	Results        []SweepItem `json:"results"`
	Checked        int         `json:"checked"`
	Renewed        int         `json:"renewed"`
	Failed         int         `json:"failed"`
	Skipped        int         `json:"skipped"`
	Expired        int         `json:"expired"`
	RetryScheduled int         `json:"retry_scheduled"`
	Notified       int         `json:"notified"`
	Errors         int         `json:"errors"`
}

// HasErrors reports whether any subscription hit an infrastructure error
func (r *SweepResult) HasErrors() bool {
	return r.Errors > 0
}

func (r *SweepResult) tally() map[string]int {
	counts := make(map[string]int)
	for _, item := range r.Results {
		counts[string(item.Outcome)]++
		switch item.Outcome {
		case OutcomeRenewed:
			r.Renewed++
		case OutcomeFailed:
			r.Failed++
		case OutcomeSkipped:
			r.Skipped++
		case OutcomeExpired:
			r.Expired++
		case OutcomeRetryScheduled:
			r.RetryScheduled++
		case OutcomeNotified:
			r.Notified++
		case OutcomeError:
			r.Errors++
		}
	}
	return counts
}

type sweepFunc func(ctx context.Context, sub *domain.UserSubscription, now time.Time) SweepItem

// runSweep processes candidates independently with bounded concurrency.
// Each subscription gets its own unit of work, so one failure never rolls
// back another. Once ctx is done, candidates not yet started are skipped;
// started ones run to completion.
func (s *Service) runSweep(ctx context.Context, name string, now time.Time, filter ports.SubscriptionFilter, fn sweepFunc) (*SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "billing."+name+"_sweep", trace.WithAttributes(
		attribute.String("sweep", name),
		attribute.String("now", now.Format(time.RFC3339)),
	))
	defer span.End()

	start := time.Now()
	result := &SweepResult{Sweep: name, AsOf: now, StartedAt: s.now()}

	if filter.Limit == 0 {
		filter.Limit = s.cfg.SweepBatchSize
	}
	candidates, err := s.subs.List(ctx, nil, filter)
	if err != nil {
		s.logger.Error("sweep candidate query failed",
			ports.String("sweep", name),
			ports.String("error", err.Error()))
		return nil, recordSpanError(span, fmt.Errorf("list %s candidates: %w", name, err))
	}

	result.Checked = len(candidates)
	result.Results = make([]SweepItem, len(candidates))

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.SweepConcurrency)
	for i, sub := range candidates {
		if ctx.Err() != nil {
			result.Results[i] = SweepItem{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				Status:         sub.Status,
				Outcome:        OutcomeSkipped,
				Reason:         "sweep canceled",
			}
			continue
		}
		g.Go(func() error {
			result.Results[i] = fn(context.WithoutCancel(ctx), sub, now)
			return nil
		})
	}
	_ = g.Wait()

	counts := result.tally()
	result.CompletedAt = s.now()
	observability.RecordSweep(name, time.Since(start).Seconds(), counts)
	span.SetAttributes(
		attribute.Int("checked", result.Checked),
		attribute.Int("renewed", result.Renewed),
		attribute.Int("failed", result.Failed),
		attribute.Int("errors", result.Errors),
	)

	s.logger.Info("sweep completed",
		ports.String("sweep", name),
		ports.Int("checked", result.Checked),
		ports.Int("renewed", result.Renewed),
		ports.Int("failed", result.Failed),
		ports.Int("skipped", result.Skipped),
		ports.Int("expired", result.Expired),
		ports.Int("retry_scheduled", result.RetryScheduled),
		ports.Int("notified", result.Notified),
		ports.Int("errors", result.Errors),
		ports.Duration("duration", time.Since(start)))

	return result, nil
}

func errorItem(sub *domain.UserSubscription, err error) SweepItem {
	return SweepItem{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Status:         sub.Status,
		Outcome:        OutcomeError,
		Error:          err.Error(),
	}
}

// RenewalSweep charges every active auto-renewing subscription whose term
// ends within the renewal lookahead of now.
func (s *Service) RenewalSweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	now = now.UTC()
	autoRenew := true
	windowEnd := now.Add(s.cfg.RenewalLookahead)
	return s.runSweep(ctx, SweepRenewal, now, ports.SubscriptionFilter{
		Statuses:  []domain.SubscriptionStatus{domain.SubscriptionStatusActive},
		AutoRenew: &autoRenew,
		EndAfter:  &now,
		EndBefore: &windowEnd,
	}, func(ctx context.Context, sub *domain.UserSubscription, now time.Time) SweepItem {
		return s.renewOne(ctx, sub, now, false)
	})
}

// RetrySweep retries pending renewals whose next attempt is due
func (s *Service) RetrySweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	now = now.UTC()
	autoRenew := true
	return s.runSweep(ctx, SweepRetry, now, ports.SubscriptionFilter{
		Statuses:   []domain.SubscriptionStatus{domain.SubscriptionStatusPendingRenewal},
		AutoRenew:  &autoRenew,
		RetryDueBy: &now,
	}, func(ctx context.Context, sub *domain.UserSubscription, now time.Time) SweepItem {
		return s.renewOne(ctx, sub, now, true)
	})
}

// renewOne runs one renewal attempt for a subscription in its own unit of
// work. Gateway failures are recorded, never returned.
func (s *Service) renewOne(ctx context.Context, candidate *domain.UserSubscription, now time.Time, retry bool) SweepItem {
	ctx, span := s.tracer.Start(ctx, "billing.renew", trace.WithAttributes(
		attribute.String("subscription_id", candidate.ID.String()),
		attribute.Bool("retry", retry),
	))
	defer span.End()

	txnType := domain.TransactionTypeAutoRenewal
	if retry {
		txnType = domain.TransactionTypeRenewal
	}

	var item SweepItem
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
		user, err := s.users.GetByIDForUpdate(ctx, tx, candidate.UserID)
		if err != nil {
			return err
		}
		sub, err := s.subs.GetByIDForUpdate(ctx, tx, candidate.ID)
		if err != nil {
			return err
		}

		item = SweepItem{SubscriptionID: sub.ID, UserID: user.ID, Status: sub.Status}

		// the row may have changed between the candidate query and the lock
		if retry {
			if !sub.DueForRetry(now) {
				item.Outcome, item.Reason = OutcomeSkipped, "no longer due"
				return nil
			}
			if sub.IsStale(now, s.cfg.StaleHorizon) {
				item.Outcome, item.Reason = OutcomeSkipped, "past staleness horizon"
				return nil
			}
		} else if !sub.DueForRenewal(now, s.cfg.RenewalLookahead) {
			item.Outcome, item.Reason = OutcomeSkipped, "no longer due"
			return nil
		}

		plan, err := s.plans.GetByID(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}
		price := plan.Price.Round(2)

		if !user.CanAfford(price) {
			if retry {
				if err := sub.ScheduleRetry(s.nextRetryAt(sub.RetryCount+1, now), now); err != nil {
					return err
				}
				if err := s.subs.Update(ctx, tx, sub); err != nil {
					return fmt.Errorf("reschedule retry: %w", err)
				}
				item.Outcome, item.Reason, item.Status = OutcomeRetryScheduled, "insufficient funds", sub.Status
				return nil
			}

			if err := sub.MarkPendingRenewal(s.nextRetryAt(1, now), now); err != nil {
				return err
			}
			if err := s.subs.Update(ctx, tx, sub); err != nil {
				return fmt.Errorf("mark pending renewal: %w", err)
			}
			txn := domain.NewTransaction(user.ID, &sub.ID, price, txnType, "Renewal of "+plan.Name, now)
			txn.PaymentData.Set("balance", user.Balance.StringFixed(2))
			if err := txn.Fail("insufficient funds", nil, now); err != nil {
				return err
			}
			if err := s.txns.Create(ctx, tx, txn); err != nil {
				return fmt.Errorf("record failed renewal: %w", err)
			}
			if err := s.notify(ctx, tx, paymentFailed(txn, "insufficient funds", now)); err != nil {
				return fmt.Errorf("record notification: %w", err)
			}
			txnID := txn.ID
			item.TransactionID = &txnID
			item.Outcome, item.Reason, item.Status = OutcomeFailed, "insufficient funds", sub.Status
			return nil
		}

		txn := domain.NewTransaction(user.ID, &sub.ID, price, txnType, "Renewal of "+plan.Name, now)
		if retry {
			txn.PaymentData.Set("retry_count", sub.RetryCount)
		}
		if err := s.txns.Create(ctx, tx, txn); err != nil {
			return fmt.Errorf("create renewal transaction: %w", err)
		}
		txnID := txn.ID
		item.TransactionID = &txnID

		outcome := s.charge(ctx, &ports.ChargeRequest{
			Amount:      price,
			UserID:      user.ID.String(),
			Description: txn.Description,
			Reference:   txn.ID.String(),
		})

		if !outcome.success {
			if err := txn.Fail(outcome.message, outcome.data, now); err != nil {
				return err
			}
			if err := s.txns.UpdateOutcome(ctx, tx, txn); err != nil {
				return fmt.Errorf("record failed charge: %w", err)
			}
			if retry {
				err = sub.ScheduleRetry(s.nextRetryAt(sub.RetryCount+1, now), now)
			} else {
				err = sub.MarkPendingRenewal(s.nextRetryAt(1, now), now)
			}
			if err != nil {
				return err
			}
			if err := s.subs.Update(ctx, tx, sub); err != nil {
				return fmt.Errorf("schedule retry: %w", err)
			}
			if err := s.notify(ctx, tx, paymentFailed(txn, outcome.message, now)); err != nil {
				return fmt.Errorf("record notification: %w", err)
			}
			item.Outcome, item.Reason, item.Status = OutcomeFailed, outcome.message, sub.Status
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
		if err := sub.Renew(plan, now); err != nil {
			return err
		}
		if err := s.subs.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("extend subscription: %w", err)
		}
		if err := s.notify(ctx, tx, paymentSucceeded(txn, plan.Name, user.Balance, now)); err != nil {
			return fmt.Errorf("record notification: %w", err)
		}
		item.Outcome, item.Status, item.NewEndDate = OutcomeRenewed, sub.Status, sub.EndDate
		return nil
	})

	if err != nil {
		s.logger.Error("renewal attempt failed",
			ports.String("subscription_id", candidate.ID.String()),
			ports.String("user_id", candidate.UserID.String()),
			ports.Bool("retry", retry),
			ports.String("error", err.Error()))
		recordSpanError(span, err)
		return errorItem(candidate, err)
	}

	fields := []ports.Field{
		ports.String("subscription_id", item.SubscriptionID.String()),
		ports.String("user_id", item.UserID.String()),
		ports.String("outcome", string(item.Outcome)),
		ports.Bool("retry", retry),
	}
	if item.TransactionID != nil {
		fields = append(fields, ports.String("transaction_id", item.TransactionID.String()))
	}
	if item.Reason != "" {
		fields = append(fields, ports.String("reason", item.Reason))
	}
	switch item.Outcome {
	case OutcomeRenewed:
		s.logger.Info("subscription renewed", fields...)
	case OutcomeFailed:
		s.logger.Warn("subscription renewal failed", fields...)
	default:
		s.logger.Debug("subscription renewal skipped", fields...)
	}
	return item
}

// ExpireSweep closes out lapsed subscriptions without billing: stale
// pending renewals and lapsed non-renewing subscriptions expire, and lapsed
// auto-renewing subscriptions that missed their renewal window are handed to
// the retry sweep.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	now = now.UTC()
	return s.runSweep(ctx, SweepExpire, now, ports.SubscriptionFilter{
		Statuses:  []domain.SubscriptionStatus{domain.SubscriptionStatusActive, domain.SubscriptionStatusPendingRenewal},
		EndBefore: &now,
	}, s.expireOne)
}

func (s *Service) expireOne(ctx context.Context, candidate *domain.UserSubscription, now time.Time) SweepItem {
	var item SweepItem
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
		if _, err := s.users.GetByIDForUpdate(ctx, tx, candidate.UserID); err != nil {
			return err
		}
		sub, err := s.subs.GetByIDForUpdate(ctx, tx, candidate.ID)
		if err != nil {
			return err
		}
		item = SweepItem{SubscriptionID: sub.ID, UserID: sub.UserID, Status: sub.Status, Outcome: OutcomeSkipped}

		switch {
		case sub.IsStale(now, s.cfg.StaleHorizon):
			if err := sub.Expire(now); err != nil {
				return err
			}
			item.Reason = "renewal retries exhausted"

		case sub.IsLapsed(now) && !sub.AutoRenew:
			if err := sub.Expire(now); err != nil {
				return err
			}
			item.Reason = "term ended"

		case sub.IsLapsed(now):
			if err := sub.MarkPendingRenewal(now, now); err != nil {
				return err
			}
			if err := s.subs.Update(ctx, tx, sub); err != nil {
				return fmt.Errorf("schedule missed renewal: %w", err)
			}
			item.Outcome, item.Reason, item.Status = OutcomeRetryScheduled, "missed renewal window", sub.Status
			return nil

		default:
			item.Reason = "not lapsed"
			return nil
		}

		if err := s.subs.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("expire subscription: %w", err)
		}
		if err := s.notify(ctx, tx, subscriptionModified(sub, "Your subscription has expired.", now)); err != nil {
			return fmt.Errorf("record notification: %w", err)
		}
		item.Outcome, item.Status = OutcomeExpired, sub.Status
		return nil
	})
	if err != nil {
		s.logger.Error("expiration failed",
			ports.String("subscription_id", candidate.ID.String()),
			ports.String("error", err.Error()))
		return errorItem(candidate, err)
	}
	if item.Outcome == OutcomeExpired {
		s.logger.Info("subscription expired",
			ports.String("subscription_id", item.SubscriptionID.String()),
			ports.String("user_id", item.UserID.String()),
			ports.String("reason", item.Reason))
	}
	return item
}

// ExpiringNoticeSweep records one subscription_expiring notification per
// term for active subscriptions ending within the notice window.
func (s *Service) ExpiringNoticeSweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	now = now.UTC()
	windowEnd := now.Add(s.cfg.ExpiringNoticeWindow)
	return s.runSweep(ctx, SweepExpiringNotice, now, ports.SubscriptionFilter{
		Statuses:  []domain.SubscriptionStatus{domain.SubscriptionStatusActive},
		EndAfter:  &now,
		EndBefore: &windowEnd,
	}, s.noticeOne)
}

func (s *Service) noticeOne(ctx context.Context, candidate *domain.UserSubscription, now time.Time) SweepItem {
	var item SweepItem
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
		sub, err := s.subs.GetByIDForUpdate(ctx, tx, candidate.ID)
		if err != nil {
			return err
		}
		item = SweepItem{SubscriptionID: sub.ID, UserID: sub.UserID, Status: sub.Status, Outcome: OutcomeSkipped}

		if !sub.IsActive() || sub.EndDate == nil ||
			!sub.EndDate.After(now) || sub.EndDate.After(now.Add(s.cfg.ExpiringNoticeWindow)) {
			item.Reason = "outside notice window"
			return nil
		}

		// a notice recorded after the window opened for this end date covers it
		since := sub.EndDate.Add(-s.cfg.ExpiringNoticeWindow)
		sent, err := s.notifications.ExistsSince(ctx, tx, sub.ID, domain.NotificationSubscriptionExpiring, since)
		if err != nil {
			return fmt.Errorf("check existing notice: %w", err)
		}
		if sent {
			item.Reason = "already notified"
			return nil
		}

		if err := s.notify(ctx, tx, subscriptionExpiring(sub, now)); err != nil {
			return fmt.Errorf("record notification: %w", err)
		}
		item.Outcome = OutcomeNotified
		return nil
	})
	if err != nil {
		s.logger.Error("expiring notice failed",
			ports.String("subscription_id", candidate.ID.String()),
			ports.String("error", err.Error()))
		return errorItem(candidate, err)
	}
	return item
}
