package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType identifies a user-facing billing event
type NotificationType string

const (
	NotificationPaymentSuccess       NotificationType = "payment_success"
	NotificationPaymentFailed        NotificationType = "payment_failed"
	NotificationSubscriptionExpiring NotificationType = "subscription_expiring"
	NotificationSubscriptionCanceled NotificationType = "subscription_canceled"
	NotificationSubscriptionModified NotificationType = "subscription_modified"
	NotificationRefundProcessed      NotificationType = "refund_processed"
)

// Notification is a billing event recorded in the same database
// transaction as the state change it describes, then published
// asynchronously.
type Notification struct {
	CreatedAt      time.Time              `json:"created_at"`
	PublishedAt    *time.Time             `json:"published_at,omitempty"`
	SubscriptionID *uuid.UUID             `json:"subscription_id,omitempty"`
	Data           map[string]interface{} `json:"data"`
	Type           NotificationType       `json:"type"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	IsRead         bool                   `json:"is_read"`
	ID             uuid.UUID              `json:"id"`
	UserID         uuid.UUID              `json:"user_id"`
}

// NewNotification creates an unpublished notification
func NewNotification(notificationType NotificationType, userID uuid.UUID, subscriptionID *uuid.UUID, title, message string, data map[string]interface{}, now time.Time) *Notification {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Notification{
		ID:             uuid.New(),
		Type:           notificationType,
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Title:          title,
		Message:        message,
		Data:           data,
		CreatedAt:      now,
	}
}

// IsPublished returns true once the notification has left the outbox
func (n *Notification) IsPublished() bool {
	return n.PublishedAt != nil
}
