package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/subscription-billing/internal/adapters/memory"
	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/internal/services/pricing"
	"github.com/kevin07696/subscription-billing/internal/testutil/fixtures"
	"github.com/kevin07696/subscription-billing/internal/testutil/mocks"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock is a settable clock shared between the test and the service
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	svc     *Service
	store   *memory.Store
	gateway *mocks.MockPaymentGateway
	logger  *mocks.MockLogger
	clock   *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	return newHarnessWithRepos(t, store, Repositories{
		Users:         store.Users(),
		Plans:         store.Plans(),
		Subscriptions: store.Subscriptions(),
		Transactions:  store.Transactions(),
		PromoCodes:    store.PromoCodes(),
		Notifications: store.Notifications(),
	})
}

func newHarnessWithRepos(t *testing.T, store *memory.Store, repos Repositories) *harness {
	t.Helper()
	gateway := &mocks.MockPaymentGateway{}
	clock := &testClock{now: testNow}
	logger := mocks.NewMockLogger()

	svc := NewService(store, repos, gateway, pricing.NewEngine(pricing.DefaultPolicy()), DefaultConfig(), logger,
		WithClock(clock.Now))

	return &harness{svc: svc, store: store, gateway: gateway, logger: logger, clock: clock}
}

func (h *harness) seedUser(t *testing.T, balance string) *domain.User {
	t.Helper()
	user := fixtures.NewUser().WithBalance(balance).Build()
	require.NoError(t, h.store.Users().Create(context.Background(), nil, user))
	return user
}

func (h *harness) seedPlan(t *testing.T, price string, days int) *domain.SubscriptionPlan {
	t.Helper()
	plan := fixtures.NewPlan().WithPrice(price).WithDurationDays(days).Build()
	require.NoError(t, h.store.Plans().Create(context.Background(), nil, plan))
	return plan
}

func (h *harness) seedPromo(t *testing.T, code string, discount, used, maxUses int) *domain.PromoCode {
	t.Helper()
	promo := fixtures.NewPromo().
		WithCode(code).
		WithDiscount(discount).
		WithUses(used, maxUses).
		ValidBetween(testNow.AddDate(0, 0, -7), testNow.AddDate(0, 1, 0)).
		Build()
	require.NoError(t, h.store.PromoCodes().Create(context.Background(), nil, promo))
	return promo
}

func (h *harness) seedSubscription(t *testing.T, b *fixtures.SubscriptionBuilder) *domain.UserSubscription {
	t.Helper()
	sub := b.Build()
	require.NoError(t, h.store.Subscriptions().Create(context.Background(), nil, sub))
	return sub
}

func (h *harness) balance(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	user, err := h.store.Users().GetByID(context.Background(), nil, userID)
	require.NoError(t, err)
	return user.Balance.StringFixed(2)
}

func (h *harness) subscription(t *testing.T, id uuid.UUID) *domain.UserSubscription {
	t.Helper()
	sub, err := h.store.Subscriptions().GetByID(context.Background(), nil, id)
	require.NoError(t, err)
	return sub
}

func (h *harness) transactions(t *testing.T, userID uuid.UUID) []*domain.Transaction {
	t.Helper()
	txns, err := h.store.Transactions().List(context.Background(), nil, ports.TransactionFilter{UserID: &userID})
	require.NoError(t, err)
	return txns
}

func (h *harness) notificationTypes(t *testing.T, userID uuid.UUID) []domain.NotificationType {
	t.Helper()
	list, err := h.store.Notifications().ListByUser(context.Background(), nil, userID, 100)
	require.NoError(t, err)
	types := make([]domain.NotificationType, 0, len(list))
	for _, n := range list {
		types = append(types, n.Type)
	}
	return types
}

func TestNextRetryAt_ExponentialCappedSchedule(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{retryCount: 0, want: time.Hour},
		{retryCount: 1, want: time.Hour},
		{retryCount: 2, want: 2 * time.Hour},
		{retryCount: 3, want: 4 * time.Hour},
		{retryCount: 5, want: 16 * time.Hour},
		{retryCount: 6, want: 24 * time.Hour},
		{retryCount: 12, want: 24 * time.Hour},
	}

	for _, tt := range tests {
		got := h.svc.nextRetryAt(tt.retryCount, testNow)
		assert.Equal(t, testNow.Add(tt.want), got, "retry_count=%d", tt.retryCount)
	}
}

func TestCharge_TimeoutBecomesGatewayTimeout(t *testing.T) {
	h := newHarness(t)
	h.gateway.On("Charge", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)

	outcome := h.svc.charge(context.Background(), &ports.ChargeRequest{Amount: decimal.NewFromInt(10)})

	assert.False(t, outcome.success)
	assert.Equal(t, domain.ErrorCodeGatewayTimeout, outcome.code)
	assert.Equal(t, "timeout", outcome.data["error"])
	assert.ErrorIs(t, outcome.asError("txn-1"), domain.ErrGatewayTimedOut)
}

func TestCharge_DeclineKeepsGatewayMessage(t *testing.T) {
	h := newHarness(t)
	h.gateway.DeclineCharges("card declined")

	outcome := h.svc.charge(context.Background(), &ports.ChargeRequest{Amount: decimal.NewFromInt(10)})

	assert.False(t, outcome.success)
	assert.Equal(t, domain.ErrorCodeGatewayDeclined, outcome.code)
	assert.Equal(t, "card declined", outcome.message)
	assert.Equal(t, "declined", outcome.metricLabel())
}
