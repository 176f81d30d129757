package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kevin07696/subscription-billing/internal/adapters/memory"
	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/testutil/mocks"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memory.Store, count int) []*domain.Notification {
	t.Helper()
	userID := uuid.New()
	out := make([]*domain.Notification, count)
	for i := range out {
		out[i] = domain.NewNotification(domain.NotificationPaymentSuccess, userID, nil, "Payment successful", "ok", nil, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.Notifications().Create(context.Background(), nil, out[i]))
	}
	return out
}

func TestDispatchOnce_PublishesInOrderAndMarks(t *testing.T) {
	store := memory.NewStore()
	seeded := seed(t, store, 3)
	publisher := &mocks.MockPublisher{}

	var order []uuid.UUID
	publisher.On("Publish", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { order = append(order, args.Get(1).(*domain.Notification).ID) }).
		Return(nil)

	d := NewDispatcher(store.Notifications(), publisher, DefaultConfig(), zaptest.NewLogger(t))
	n, err := d.DispatchOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uuid.UUID{seeded[0].ID, seeded[1].ID, seeded[2].ID}, order)

	pending, err := store.Notifications().ListUnpublished(context.Background(), nil, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatchOnce_StopsAtFirstFailure(t *testing.T) {
	store := memory.NewStore()
	seeded := seed(t, store, 3)
	publisher := &mocks.MockPublisher{}
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(n *domain.Notification) bool { return n.ID == seeded[0].ID })).Return(nil)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(n *domain.Notification) bool { return n.ID == seeded[1].ID })).Return(errors.New("broker unavailable"))

	d := NewDispatcher(store.Notifications(), publisher, DefaultConfig(), zaptest.NewLogger(t))
	n, err := d.DispatchOnce(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Equal(t, 1, n)

	pending, err := store.Notifications().ListUnpublished(context.Background(), nil, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, seeded[1].ID, pending[0].ID)
	publisher.AssertNumberOfCalls(t, "Publish", 2)
}

func TestDispatchOnce_RespectsBatchSize(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, 5)
	publisher := &mocks.MockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	d := NewDispatcher(store.Notifications(), publisher, Config{BatchSize: 2, PollInterval: time.Second}, zaptest.NewLogger(t))
	n, err := d.DispatchOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRun_DrainsOutboxAndStopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, 5)
	publisher := &mocks.MockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	d := NewDispatcher(store.Notifications(), publisher, Config{BatchSize: 2, PollInterval: 10 * time.Millisecond}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		pending, err := store.Notifications().ListUnpublished(context.Background(), nil, 10)
		return err == nil && len(pending) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
