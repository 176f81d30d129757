// Package broker delivers committed billing notifications to downstream
// consumers.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

// DefaultExchange is the topic exchange notifications are published to.
// The routing key is the notification type.
const DefaultExchange = "billing.notifications"

// channel is the part of *amqp.Channel the publisher uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher publishes notifications to a RabbitMQ topic exchange
type RabbitMQPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  channel
	exchange string
	logger   *zap.Logger
}

var _ ports.NotificationPublisher = (*RabbitMQPublisher)(nil)

// NewRabbitMQPublisher dials url and declares a durable topic exchange
func NewRabbitMQPublisher(url, exchange string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("RabbitMQ publisher connected", zap.String("exchange", exchange))

	return &RabbitMQPublisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Publish sends one notification as a persistent JSON message
func (p *RabbitMQPublisher) Publish(ctx context.Context, n *domain.Notification) error {
	msg, err := newPublishing(n)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.PublishWithContext(ctx, p.exchange, string(n.Type), false, false, msg); err != nil {
		p.logger.Error("Failed to publish notification",
			zap.String("notification_id", n.ID.String()),
			zap.String("routing_key", string(n.Type)),
			zap.Error(err),
		)
		return fmt.Errorf("publish notification %s: %w", n.ID, err)
	}

	p.logger.Debug("Notification published",
		zap.String("notification_id", n.ID.String()),
		zap.String("routing_key", string(n.Type)),
		zap.Int("size", len(msg.Body)),
	)
	return nil
}

// Close closes the channel and connection
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Warn("Error closing RabbitMQ channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}

	p.logger.Info("RabbitMQ publisher closed")
	return nil
}

func newPublishing(n *domain.Notification) (amqp.Publishing, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal notification: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID.String(),
		Type:         string(n.Type),
		Timestamp:    n.CreatedAt,
		Headers: amqp.Table{
			"user_id": n.UserID.String(),
		},
		Body: body,
	}, nil
}

// LogPublisher writes notifications to the log instead of a broker
type LogPublisher struct {
	logger *zap.Logger
}

var _ ports.NotificationPublisher = (*LogPublisher)(nil)

// NewLogPublisher creates a publisher for development without a broker
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the notification
func (p *LogPublisher) Publish(ctx context.Context, n *domain.Notification) error {
	fields := []zap.Field{
		zap.String("notification_id", n.ID.String()),
		zap.String("type", string(n.Type)),
		zap.String("user_id", n.UserID.String()),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
		zap.Time("created_at", n.CreatedAt.UTC().Truncate(time.Millisecond)),
	}
	if n.SubscriptionID != nil {
		fields = append(fields, zap.String("subscription_id", n.SubscriptionID.String()))
	}
	p.logger.Info("Notification", fields...)
	return nil
}

// Close is a no-op
func (p *LogPublisher) Close() error {
	return nil
}
