package ports

import (
	"context"

	"github.com/kevin07696/subscription-billing/internal/domain"
)

// NotificationPublisher delivers committed notifications to downstream
// consumers (push, email, analytics).
type NotificationPublisher interface {
	Publish(ctx context.Context, notification *domain.Notification) error
	Close() error
}
