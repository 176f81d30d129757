package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

var notificationColumns = []string{
	"id", "user_id", "subscription_id", "notification_type", "title", "message",
	"data", "is_read", "published_at", "created_at",
}

// NotificationRepository implements ports.NotificationRepository. Rows with
// a NULL published_at form the outbox drained by the dispatcher.
type NotificationRepository struct {
	pool Pool
}

var _ ports.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(pool Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Create records a notification
func (r *NotificationRepository) Create(ctx context.Context, tx ports.DBTX, n *domain.Notification) error {
	data, err := encodeJSON(n.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}

	_, err = executor(r.pool, tx).Exec(ctx, `
		INSERT INTO notifications (
			id, user_id, subscription_id, notification_type, title, message,
			data, is_read, published_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.UserID, n.SubscriptionID, string(n.Type), n.Title, n.Message,
		data, n.IsRead, n.PublishedAt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListUnpublished returns the oldest notifications not yet published
func (r *NotificationRepository) ListUnpublished(ctx context.Context, db ports.DBTX, limit int) ([]*domain.Notification, error) {
	builder := psql.Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"published_at": nil}).
		OrderBy("created_at ASC", "id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return r.list(ctx, executor(r.pool, db), builder)
}

// MarkPublished stamps a notification as delivered. Unknown IDs are ignored.
func (r *NotificationRepository) MarkPublished(ctx context.Context, db ports.DBTX, id uuid.UUID, at time.Time) error {
	_, err := executor(r.pool, db).Exec(ctx,
		`UPDATE notifications SET published_at = $2 WHERE id = $1 AND published_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("mark notification published: %w", err)
	}
	return nil
}

// ListByUser returns a user's notifications, newest first
func (r *NotificationRepository) ListByUser(ctx context.Context, db ports.DBTX, userID uuid.UUID, limit int) ([]*domain.Notification, error) {
	builder := psql.Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return r.list(ctx, executor(r.pool, db), builder)
}

// ExistsSince reports whether a notification of the given type was recorded
// for the subscription at or after since
func (r *NotificationRepository) ExistsSince(ctx context.Context, db ports.DBTX, subscriptionID uuid.UUID, notificationType domain.NotificationType, since time.Time) (bool, error) {
	var exists bool
	err := executor(r.pool, db).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE subscription_id = $1 AND notification_type = $2 AND created_at >= $3
		)`, subscriptionID, string(notificationType), since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notification exists: %w", err)
	}
	return exists, nil
}

func (r *NotificationRepository) list(ctx context.Context, db ports.DBTX, builder sq.SelectBuilder) ([]*domain.Notification, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list notifications query: %w", err)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n       domain.Notification
		nType   string
		rawData []byte
	)
	if err := row.Scan(
		&n.ID, &n.UserID, &n.SubscriptionID, &nType, &n.Title, &n.Message,
		&rawData, &n.IsRead, &n.PublishedAt, &n.CreatedAt,
	); err != nil {
		return nil, err
	}

	data, err := decodeJSON(rawData)
	if err != nil {
		return nil, err
	}
	n.Data = data
	n.Type = domain.NotificationType(nType)
	return &n, nil
}
