package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/internal/testutil/fixtures"
)

func TestRenewalSweep_InsufficientFundsSkipsGateway(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.seedUser(t, "50")
	plan := h.seedPlan(t, "300", 30)
	end := testNow.Add(6 * time.Hour)
	sub := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).EndingAt(end))

	result, err := h.svc.RenewalSweep(ctx, testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 0, result.Renewed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 1)
	assert.Equal(t, OutcomeFailed, result.Results[0].Outcome)
	assert.Equal(t, "insufficient funds", result.Results[0].Reason)

	stored := h.subscription(t, sub.ID)
	assert.Equal(t, domain.SubscriptionStatusPendingRenewal, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, testNow.Add(time.Hour), *stored.NextRetryAt)
	assert.Equal(t, end, *stored.EndDate)
	assert.Equal(t, "50.00", h.balance(t, user.ID))

	txns := h.transactions(t, user.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TransactionStatusFailed, txns[0].Status)
	assert.Equal(t, domain.TransactionTypeAutoRenewal, txns[0].Type)
	assert.Equal(t, "insufficient funds", txns[0].PaymentData["reason"])

	assert.Equal(t, []domain.NotificationType{domain.NotificationPaymentFailed}, h.notificationTypes(t, user.ID))
	h.gateway.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestRenewalSweep_SuccessExtendsByExactlyOneTerm(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "1000")
	plan := h.seedPlan(t, "300", 30)
	end := testNow.Add(20 * time.Hour)
	sub := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).EndingAt(end))
	h.gateway.ApproveCharges()

	result, err := h.svc.RenewalSweep(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Renewed)

	item := result.Results[0]
	assert.Equal(t, OutcomeRenewed, item.Outcome)
	require.NotNil(t, item.TransactionID)
	require.NotNil(t, item.NewEndDate)

	stored := h.subscription(t, sub.ID)
	assert.Equal(t, domain.SubscriptionStatusActive, stored.Status)
	assert.Equal(t, end.AddDate(0, 0, 30), *stored.EndDate)
	assert.Equal(t, "700.00", h.balance(t, user.ID))

	txns := h.transactions(t, user.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, *item.TransactionID, txns[0].ID)
	assert.Equal(t, domain.TransactionTypeAutoRenewal, txns[0].Type)
	assert.Equal(t, domain.TransactionStatusCompleted, txns[0].Status)

	// a second run within the same window finds nothing due
	again, err := h.svc.RenewalSweep(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Checked)
	h.gateway.AssertNumberOfCalls(t, "Charge", 1)
}

func TestRenewalSweep_GatewayFailureSchedulesRetry(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "1000")
	plan := h.seedPlan(t, "300", 30)
	sub := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).EndingAt(testNow.Add(time.Hour)))
	h.gateway.DeclineCharges("insufficient card funds")

	result, err := h.svc.RenewalSweep(context.Background(), testNow)
	require.NoError(t, err, "gateway failures are recorded, not returned")
	assert.Equal(t, 1, result.Failed)

	stored := h.subscription(t, sub.ID)
	assert.Equal(t, domain.SubscriptionStatusPendingRenewal, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "1000.00", h.balance(t, user.ID))

	txns := h.transactions(t, user.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TransactionStatusFailed, txns[0].Status)
	assert.Equal(t, "insufficient card funds", txns[0].PaymentData["reason"])
}

func TestRenewalSweep_SelectsOnlyDueAutoRenewing(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "10000")
	plan := h.seedPlan(t, "300", 30)
	h.gateway.ApproveCharges()

	due := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).EndingAt(testNow.Add(2*time.Hour)))
	h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).EndingAt(testNow.Add(48*time.Hour)))
	h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).EndingAt(testNow.Add(2*time.Hour)).WithAutoRenew(false))
	h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).EndingAt(testNow.Add(-2*time.Hour)))
	h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).EndingAt(testNow.Add(2*time.Hour)).Canceled(testNow))

	result, err := h.svc.RenewalSweep(context.Background(), testNow)
	require.NoError(t, err)

	require.Equal(t, 1, result.Checked)
	assert.Equal(t, due.ID, result.Results[0].SubscriptionID)
	assert.Equal(t, OutcomeRenewed, result.Results[0].Outcome)
}

// failingPlans fails plan lookups for one plan id
type failingPlans struct {
	ports.PlanRepository
	failID uuid.UUID
}

func (f *failingPlans) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.SubscriptionPlan, error) {
	if id == f.failID {
		return nil, errors.New("connection reset")
	}
	return f.PlanRepository.GetByID(ctx, db, id)
}

func TestRenewalSweep_OneFailureDoesNotAffectOthers(t *testing.T) {
	store := newHarness(t).store
	h := newHarnessWithRepos(t, store, Repositories{
		Users:         store.Users(),
		Subscriptions: store.Subscriptions(),
		Transactions:  store.Transactions(),
		PromoCodes:    store.PromoCodes(),
		Notifications: store.Notifications(),
	})
	broken := h.seedPlan(t, "300", 30)
	good := h.seedPlan(t, "100", 30)
	h.svc.plans = &failingPlans{PlanRepository: store.Plans(), failID: broken.ID}
	h.gateway.ApproveCharges()

	users := []*domain.User{h.seedUser(t, "1000"), h.seedUser(t, "1000"), h.seedUser(t, "1000")}
	brokenSub := h.seedSubscription(t, fixtures.NewSubscription().ForUser(users[0].ID).ForPlan(broken.ID).EndingAt(testNow.Add(time.Hour)))
	h.seedSubscription(t, fixtures.NewSubscription().ForUser(users[1].ID).ForPlan(good.ID).EndingAt(testNow.Add(2*time.Hour)))
	h.seedSubscription(t, fixtures.NewSubscription().ForUser(users[2].ID).ForPlan(good.ID).EndingAt(testNow.Add(3*time.Hour)))

	result, err := h.svc.RenewalSweep(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, 2, result.Renewed)
	assert.Equal(t, 1, result.Errors)
	assert.True(t, result.HasErrors())

	assert.Equal(t, domain.SubscriptionStatusActive, h.subscription(t, brokenSub.ID).Status)
	assert.Equal(t, "1000.00", h.balance(t, users[0].ID))
	assert.Empty(t, h.transactions(t, users[0].ID), "the failed unit of work is rolled back")
	assert.Equal(t, "900.00", h.balance(t, users[1].ID))
	assert.Equal(t, "900.00", h.balance(t, users[2].ID))
}

func TestRenewalSweep_CanceledContextSkipsRemaining(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "1000")
	plan := h.seedPlan(t, "300", 30)
	h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).EndingAt(testNow.Add(time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.svc.RenewalSweep(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, "sweep canceled", result.Results[0].Reason)
	h.gateway.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestRetrySweep_SuccessAfterLapseExtendsFromNow(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "1000")
	plan := h.seedPlan(t, "300", 30)
	sub := h.seedSubscription(t, fixtures.NewSubscription().
		ForUser(user.ID).
		ForPlan(plan.ID).
		EndingAt(testNow.Add(-10*time.Hour)).
		PendingRenewal(2, testNow.Add(-time.Minute)))
	h.gateway.ApproveCharges()

	result, err := h.svc.RetrySweep(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Renewed)

	stored := h.subscription(t, sub.ID)
	assert.Equal(t, domain.SubscriptionStatusActive, stored.Status)
	assert.Equal(t, testNow.AddDate(0, 0, 30), *stored.EndDate)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Nil(t, stored.NextRetryAt)
	assert.Equal(t, "700.00", h.balance(t, user.ID))

	txns := h.transactions(t, user.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TransactionTypeRenewal, txns[0].Type)
	assert.Equal(t, domain.TransactionStatusCompleted, txns[0].Status)
}

func TestRetrySweep_InsufficientFundsOnlyReschedules(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "10")
	plan := h.seedPlan(t, "300", 30)
	sub := h.seedSubscription(t, fixtures.NewSubscription().
		ForUser(user.ID).
		ForPlan(plan.ID).
		EndingAt(testNow.Add(-time.Hour)).
		PendingRenewal(1, testNow))

	result, err := h.svc.RetrySweep(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RetryScheduled)

	stored := h.subscription(t, sub.ID)
	assert.Equal(t, domain.SubscriptionStatusPendingRenewal, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Equal(t, testNow.Add(2*time.Hour), *stored.NextRetryAt)

	assert.Empty(t, h.transactions(t, user.ID))
	assert.Empty(t, h.notificationTypes(t, user.ID))
	h.gateway.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestRetrySweep_GatewayFailureBacksOff(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "1000")
	plan := h.seedPlan(t, "300", 30)
	sub := h.seedSubscription(t, fixtures.NewSubscription().
		ForUser(user.ID).
		ForPlan(plan.ID).
		EndingAt(testNow.Add(-time.Hour)).
		PendingRenewal(2, testNow))
	h.gateway.DeclineCharges("declined")

	result, err := h.svc.RetrySweep(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	stored := h.subscription(t, sub.ID)
	assert.Equal(t, 3, stored.RetryCount)
	assert.Equal(t, testNow.Add(4*time.Hour), *stored.NextRetryAt)

	txns := h.transactions(t, user.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TransactionTypeRenewal, txns[0].Type)
	assert.Equal(t, domain.TransactionStatusFailed, txns[0].Status)
}

func TestRetrySweep_SkipsNotYetDue(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "1000")
	plan := h.seedPlan(t, "300", 30)
	h.seedSubscription(t, fixtures.NewSubscription().
		ForUser(user.ID).
		ForPlan(plan.ID).
		EndingAt(testNow.Add(-time.Hour)).
		PendingRenewal(1, testNow.Add(30*time.Minute)))

	result, err := h.svc.RetrySweep(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Checked)
}

func TestExpireSweep(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "1000")
	plan := h.seedPlan(t, "300", 30)

	stale := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).
		EndingAt(testNow.Add(-49*time.Hour)).PendingRenewal(4, testNow.Add(time.Hour)))
	recent := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).
		EndingAt(testNow.Add(-10*time.Hour)).PendingRenewal(1, testNow.Add(time.Hour)))
	lapsedManual := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).
		EndingAt(testNow.Add(-time.Hour)).WithAutoRenew(false))
	lapsedAuto := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).
		EndingAt(testNow.Add(-time.Hour)))
	running := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).
		EndingAt(testNow.Add(time.Hour)))

	result, err := h.svc.ExpireSweep(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Checked)
	assert.Equal(t, 2, result.Expired)
	assert.Equal(t, 1, result.RetryScheduled)
	assert.Equal(t, 1, result.Skipped)

	assert.Equal(t, domain.SubscriptionStatusExpired, h.subscription(t, stale.ID).Status)
	assert.Equal(t, domain.SubscriptionStatusPendingRenewal, h.subscription(t, recent.ID).Status)
	assert.Equal(t, domain.SubscriptionStatusExpired, h.subscription(t, lapsedManual.ID).Status)
	assert.Equal(t, domain.SubscriptionStatusActive, h.subscription(t, running.ID).Status)

	missed := h.subscription(t, lapsedAuto.ID)
	assert.Equal(t, domain.SubscriptionStatusPendingRenewal, missed.Status)
	assert.Equal(t, 1, missed.RetryCount)
	assert.Equal(t, testNow, *missed.NextRetryAt)

	assert.Equal(t, "1000.00", h.balance(t, user.ID))
	assert.Empty(t, h.transactions(t, user.ID))
	assert.Len(t, h.notificationTypes(t, user.ID), 2)
	h.gateway.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestExpireSweep_MissedWindowIsStillBilled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.seedUser(t, "1000")
	plan := h.seedPlan(t, "300", 30)
	sub := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).
		EndingAt(testNow.Add(-72*time.Hour)))
	h.gateway.ApproveCharges()

	expired, err := h.svc.ExpireSweep(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, expired.RetryScheduled)

	pending := h.subscription(t, sub.ID)
	assert.Equal(t, domain.SubscriptionStatusPendingRenewal, pending.Status)
	require.NotNil(t, pending.PendingSince)
	assert.Equal(t, testNow, *pending.PendingSince)

	retried, err := h.svc.RetrySweep(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, retried.Results, 1)
	assert.Equal(t, OutcomeRenewed, retried.Results[0].Outcome)

	renewed := h.subscription(t, sub.ID)
	assert.Equal(t, domain.SubscriptionStatusActive, renewed.Status)
	assert.Equal(t, testNow.AddDate(0, 0, 30), *renewed.EndDate)
	assert.Nil(t, renewed.PendingSince)
	assert.Equal(t, "700.00", h.balance(t, user.ID))

	again, err := h.svc.ExpireSweep(ctx, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, again.Checked)
}

func TestRetrySweep_StaleAfterHorizonFromFirstFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.seedUser(t, "1000")
	plan := h.seedPlan(t, "300", 30)
	sub := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).
		EndingAt(testNow.Add(-72*time.Hour)))

	_, err := h.svc.ExpireSweep(ctx, testNow)
	require.NoError(t, err)

	later := testNow.Add(49 * time.Hour)
	retried, err := h.svc.RetrySweep(ctx, later)
	require.NoError(t, err)
	require.Len(t, retried.Results, 1)
	assert.Equal(t, OutcomeSkipped, retried.Results[0].Outcome)
	assert.Equal(t, "past staleness horizon", retried.Results[0].Reason)

	_, err = h.svc.ExpireSweep(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, h.subscription(t, sub.ID).Status)
	assert.Empty(t, h.transactions(t, user.ID))
}

func TestRenewalSweep_ChargesPurchasedTermsAfterRejectedReprice(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "1000")
	plan := h.seedPlan(t, "300", 30)
	end := testNow.Add(6 * time.Hour)
	sub := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).EndingAt(end))
	h.gateway.ApproveCharges()

	repriced := *plan
	repriced.Price = repriced.Price.Mul(repriced.Price)
	repriced.DurationDays = 1
	assert.ErrorIs(t, h.store.Plans().Create(context.Background(), nil, &repriced), domain.ErrPlanImmutable)

	result, err := h.svc.RenewalSweep(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Renewed)
	assert.Equal(t, end.AddDate(0, 0, 30), *h.subscription(t, sub.ID).EndDate)
	assert.Equal(t, "700.00", h.balance(t, user.ID))
}

func TestSweepResult_BackfillTimestamps(t *testing.T) {
	h := newHarness(t)
	asOf := testNow.AddDate(0, 0, -3)

	result, err := h.svc.ExpireSweep(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, asOf, result.AsOf)
	assert.Equal(t, testNow, result.StartedAt)
	assert.Equal(t, testNow, result.CompletedAt)
}

func TestExpiringNoticeSweep_NotifiesOncePerTerm(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "1000")
	plan := h.seedPlan(t, "300", 30)
	soon := h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).EndingAt(testNow.Add(48*time.Hour)))
	h.seedSubscription(t, fixtures.NewSubscription().ForUser(user.ID).ForPlan(plan.ID).EndingAt(testNow.Add(10*24*time.Hour)))

	first, err := h.svc.ExpiringNoticeSweep(context.Background(), testNow)
	require.NoError(t, err)
	require.Equal(t, 1, first.Checked)
	assert.Equal(t, 1, first.Notified)
	assert.Equal(t, soon.ID, first.Results[0].SubscriptionID)

	second, err := h.svc.ExpiringNoticeSweep(context.Background(), testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Notified)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, "already notified", second.Results[0].Reason)

	assert.Equal(t, []domain.NotificationType{domain.NotificationSubscriptionExpiring}, h.notificationTypes(t, user.ID))
}
