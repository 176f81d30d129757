// Package notification moves committed notifications from the outbox table
// to the configured publisher.
package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/pkg/observability"
	"github.com/kevin07696/subscription-billing/pkg/resilience"
)

// Config controls outbox polling
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultConfig polls every 5 seconds, 100 notifications at a time
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
	}
}

// Dispatcher publishes unpublished notifications in creation order. A
// notification is marked published only after the publisher accepted it, so
// delivery is at least once.
type Dispatcher struct {
	repo      ports.NotificationRepository
	publisher ports.NotificationPublisher
	backoff   resilience.BackoffStrategy
	logger    *zap.Logger
	clock     func() time.Time
	cfg       Config
}

// NewDispatcher creates a new outbox dispatcher
func NewDispatcher(repo ports.NotificationRepository, publisher ports.NotificationPublisher, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Dispatcher{
		repo:      repo,
		publisher: publisher,
		backoff:   resilience.DispatchBackoff(),
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
		cfg:       cfg,
	}
}

// DispatchOnce publishes one batch. It stops at the first publish failure
// so later notifications never overtake an earlier one.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.repo.ListUnpublished(ctx, nil, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unpublished notifications: %w", err)
	}

	published := 0
	for _, n := range pending {
		if err := d.publisher.Publish(ctx, n); err != nil {
			observability.RecordNotificationPublished(string(n.Type), "failed")
			d.logger.Warn("notification publish failed",
				zap.String("notification_id", n.ID.String()),
				zap.String("type", string(n.Type)),
				zap.Error(err),
			)
			return published, fmt.Errorf("publish notification %s: %w", n.ID, err)
		}
		observability.RecordNotificationPublished(string(n.Type), "success")

		if err := d.repo.MarkPublished(ctx, nil, n.ID, d.clock()); err != nil {
			return published, fmt.Errorf("mark notification %s published: %w", n.ID, err)
		}
		published++
	}

	if published > 0 {
		d.logger.Debug("notifications published", zap.Int("count", published))
	}
	return published, nil
}

// Run polls the outbox until ctx is done. A full batch is followed
// immediately by the next one; failures back off exponentially.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("notification dispatcher started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize),
	)

	failures := 0
	for {
		n, err := d.DispatchOnce(ctx)

		wait := d.cfg.PollInterval
		switch {
		case err != nil:
			if ctx.Err() != nil {
				break
			}
			failures++
			wait = d.backoff.NextDelay(failures - 1)
			d.logger.Error("notification dispatch failed",
				zap.Error(err),
				zap.Int("consecutive_failures", failures),
				zap.Duration("retry_in", wait),
			)
		case n == d.cfg.BatchSize:
			failures = 0
			wait = 0
		default:
			failures = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info("notification dispatcher stopped")
			return
		case <-timer.C:
		}
	}
}
