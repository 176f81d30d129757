// Package billing is the subscription billing engine: purchases, renewals,
// retries, refunds, cancellation and the periodic sweeps that drive them.
//
// Every operation that moves money or changes subscription state runs as
// one unit of work through ports.TransactionManager. Inside a unit rows are
// locked in the order User, Subscription, Transaction, PromoCode. The gateway
// result is written to the transaction record before the balance changes,
// and the notification describing the outcome is inserted in the same unit.
package billing

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/internal/services/pricing"
	"github.com/kevin07696/subscription-billing/pkg/observability"
	"github.com/kevin07696/subscription-billing/pkg/resilience"
	"github.com/kevin07696/subscription-billing/pkg/timeutil"
)

const tracerName = "github.com/kevin07696/subscription-billing/internal/services/billing"

// Config holds the billing policy knobs that are not refund math
type Config struct {
	RenewalLookahead     time.Duration
	StaleHorizon         time.Duration
	ExpiringNoticeWindow time.Duration
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	GatewayTimeout       time.Duration
	SweepBatchSize       int
	SweepConcurrency     int
}

// DefaultConfig returns the standard billing policy
func DefaultConfig() Config {
	return Config{
		RenewalLookahead:     24 * time.Hour,
		StaleHorizon:         48 * time.Hour,
		ExpiringNoticeWindow: 72 * time.Hour,
		RetryBaseDelay:       time.Hour,
		RetryMaxDelay:        24 * time.Hour,
		GatewayTimeout:       10 * time.Second,
		SweepBatchSize:       500,
		SweepConcurrency:     8,
	}
}

// Repositories groups the ledger store ports the service needs
type Repositories struct {
	Users         ports.UserRepository
	Plans         ports.PlanRepository
	Subscriptions ports.SubscriptionRepository
	Transactions  ports.TransactionRepository
	PromoCodes    ports.PromoCodeRepository
	Notifications ports.NotificationRepository
}

// Option customizes a Service
type Option func(*Service)

// WithClock replaces the wall clock, for tests
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithTracer replaces the global tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// Service is the billing engine
type Service struct {
	db            ports.TransactionManager
	users         ports.UserRepository
	plans         ports.PlanRepository
	subs          ports.SubscriptionRepository
	txns          ports.TransactionRepository
	promos        ports.PromoCodeRepository
	notifications ports.NotificationRepository
	gateway       ports.PaymentGateway
	pricing       *pricing.Engine
	retryBackoff  resilience.BackoffStrategy
	clock         func() time.Time
	tracer        trace.Tracer
	logger        ports.Logger
	cfg           Config
}

// NewService creates a new billing service
func NewService(
	db ports.TransactionManager,
	repos Repositories,
	gateway ports.PaymentGateway,
	pricingEngine *pricing.Engine,
	cfg Config,
	logger ports.Logger,
	opts ...Option,
) *Service {
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 1
	}
	s := &Service{
		db:            db,
		users:         repos.Users,
		plans:         repos.Plans,
		subs:          repos.Subscriptions,
		txns:          repos.Transactions,
		promos:        repos.PromoCodes,
		notifications: repos.Notifications,
		gateway:       gateway,
		pricing:       pricingEngine,
		retryBackoff:  resilience.RenewalRetryBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		clock:         timeutil.Now,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		cfg:           cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// nextRetryAt is when the attempt after retryCount failures should run
func (s *Service) nextRetryAt(retryCount int, now time.Time) time.Time {
	attempt := retryCount - 1
	if attempt < 0 {
		attempt = 0
	}
	return now.Add(s.retryBackoff.NextDelay(attempt))
}

// recordSpanError marks span failed and returns err unchanged
func recordSpanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// gatewayOutcome normalizes gateway answers and transport failures
type gatewayOutcome struct {
	data    map[string]interface{}
	id      string
	message string
	code    domain.ErrorCode
	success bool
}

func (o gatewayOutcome) metricLabel() string {
	switch o.code {
	case "":
		return "success"
	case domain.ErrorCodeGatewayTimeout:
		return "timeout"
	case domain.ErrorCodeGatewayDeclined:
		return "declined"
	default:
		return "error"
	}
}

// asError builds the error returned to a synchronous caller, pointing at
// the failed transaction record.
func (o gatewayOutcome) asError(txnID string) error {
	return domain.NewDomainError(o.code, o.message).WithDetail("transaction_id", txnID)
}

func failedOutcome(err error, data map[string]interface{}) gatewayOutcome {
	if data == nil {
		data = map[string]interface{}{}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		data["error"] = "timeout"
		return gatewayOutcome{code: domain.ErrorCodeGatewayTimeout, message: "payment gateway timed out", data: data}
	}
	data["error"] = err.Error()
	return gatewayOutcome{code: domain.ErrorCodeGatewayError, message: "payment gateway error: " + err.Error(), data: data}
}

// charge calls the gateway once. Errors and timeouts come back as a failed
// outcome, never as an error, so the caller always has something to record.
func (s *Service) charge(ctx context.Context, req *ports.ChargeRequest) gatewayOutcome {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.gateway.Charge(callCtx, req)

	var outcome gatewayOutcome
	switch {
	case err != nil:
		outcome = failedOutcome(err, nil)
	case res == nil:
		outcome = failedOutcome(errors.New("empty gateway response"), nil)
	case !res.Success:
		outcome = gatewayOutcome{code: domain.ErrorCodeGatewayDeclined, message: declineMessage(res.Message), data: res.Data}
	default:
		outcome = gatewayOutcome{success: true, id: res.TransactionID, message: res.Message, data: res.Data}
	}
	observability.RecordGatewayCall("charge", outcome.metricLabel(), time.Since(start).Seconds())
	return outcome
}

// refund calls the gateway refund endpoint once, see charge
func (s *Service) refund(ctx context.Context, req *ports.RefundRequest) gatewayOutcome {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.gateway.Refund(callCtx, req)

	var outcome gatewayOutcome
	switch {
	case err != nil:
		outcome = failedOutcome(err, nil)
	case res == nil:
		outcome = failedOutcome(errors.New("empty gateway response"), nil)
	case !res.Success:
		outcome = gatewayOutcome{code: domain.ErrorCodeGatewayDeclined, message: declineMessage(res.Message), data: res.Data}
	default:
		outcome = gatewayOutcome{success: true, id: res.RefundID, message: res.Message, data: res.Data}
	}
	observability.RecordGatewayCall("refund", outcome.metricLabel(), time.Since(start).Seconds())
	return outcome
}

func declineMessage(msg string) string {
	if msg == "" {
		return "payment declined by gateway"
	}
	return msg
}

func (s *Service) notify(ctx context.Context, tx ports.DBTX, n *domain.Notification) error {
	return s.notifications.Create(ctx, tx, n)
}
