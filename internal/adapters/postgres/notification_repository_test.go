package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/subscription-billing/internal/domain"
)

func TestNotificationRepository_Create(t *testing.T) {
	subID := uuid.New()
	n := domain.NewNotification(domain.NotificationPaymentSuccess, uuid.New(), &subID,
		"Payment received", "Thanks", map[string]interface{}{"amount": "270.00"}, fixedTime)

	mock := newMockPool(t)
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(n.ID, n.UserID, &subID, "payment_success", "Payment received", "Thanks",
			[]byte(`{"amount":"270.00"}`), false, pgxmock.AnyArg(), fixedTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewNotificationRepository(mock).Create(context.Background(), nil, n))
}

func TestNotificationRepository_ListUnpublished(t *testing.T) {
	id := uuid.New()
	mock := newMockPool(t)
	mock.ExpectQuery(`FROM notifications WHERE published_at IS NULL ORDER BY created_at ASC, id LIMIT 100`).
		WillReturnRows(pgxmock.NewRows(notificationColumns).AddRow(
			id, uuid.New(), nil, "subscription_expiring", "Expiring soon", "Renews in 3 days",
			[]byte(`{}`), false, nil, fixedTime,
		))

	list, err := NewNotificationRepository(mock).ListUnpublished(context.Background(), nil, 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, domain.NotificationSubscriptionExpiring, list[0].Type)
	assert.Nil(t, list[0].PublishedAt)
	assert.NotNil(t, list[0].Data)
}

func TestNotificationRepository_MarkPublished(t *testing.T) {
	id := uuid.New()
	mock := newMockPool(t)
	mock.ExpectExec(`UPDATE notifications SET published_at = \$2 WHERE id = \$1 AND published_at IS NULL`).
		WithArgs(id, fixedTime).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewNotificationRepository(mock).MarkPublished(context.Background(), nil, id, fixedTime))
}

func TestNotificationRepository_ExistsSince(t *testing.T) {
	subID := uuid.New()
	since := fixedTime.Add(-72 * time.Hour)
	mock := newMockPool(t)
	mock.ExpectQuery(`WHERE subscription_id = \$1 AND notification_type = \$2 AND created_at >= \$3`).
		WithArgs(subID, "subscription_expiring", since).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	found, err := NewNotificationRepository(mock).ExistsSince(context.Background(), nil, subID, domain.NotificationSubscriptionExpiring, since)
	require.NoError(t, err)
	assert.False(t, found)
}
