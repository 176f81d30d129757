package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/pkg/observability"
)

// BreakerConfig configures circuit breaker behavior
type BreakerConfig struct {
	// MaxFailures is the number of consecutive transport failures before opening
	MaxFailures uint32
	// OpenTimeout is how long to stay open before letting a probe through
	OpenTimeout time.Duration
	// MaxRequestsHalfOpen is how many probes run while half-open
	MaxRequestsHalfOpen uint32
}

// DefaultBreakerConfig returns sensible defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:         5,
		OpenTimeout:         30 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

// ResilientGateway fails fast while the wrapped gateway is unreachable.
// Only transport errors and timeouts count as failures; a declined charge
// is a normal answer.
type ResilientGateway struct {
	next    ports.PaymentGateway
	charges *gobreaker.CircuitBreaker[*ports.ChargeResult]
	refunds *gobreaker.CircuitBreaker[*ports.RefundResult]
	logger  *zap.Logger
}

var _ ports.PaymentGateway = (*ResilientGateway)(nil)

// NewResilientGateway wraps next with one breaker per call type
func NewResilientGateway(next ports.PaymentGateway, cfg BreakerConfig, logger *zap.Logger) *ResilientGateway {
	g := &ResilientGateway{next: next, logger: logger}
	g.charges = gobreaker.NewCircuitBreaker[*ports.ChargeResult](g.settings("gateway_charge", cfg))
	g.refunds = gobreaker.NewCircuitBreaker[*ports.RefundResult](g.settings("gateway_refund", cfg))
	observability.SetGatewayCircuitState("gateway_charge", stateValue(gobreaker.StateClosed))
	observability.SetGatewayCircuitState("gateway_refund", stateValue(gobreaker.StateClosed))
	return g
}

func (g *ResilientGateway) settings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequestsHalfOpen,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// the caller giving up is not the gateway's fault
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("Payment gateway circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			observability.SetGatewayCircuitState(name, stateValue(to))
		},
	}
}

// Charge forwards to the wrapped gateway unless the breaker is open
func (g *ResilientGateway) Charge(ctx context.Context, req *ports.ChargeRequest) (*ports.ChargeResult, error) {
	res, err := g.charges.Execute(func() (*ports.ChargeResult, error) {
		return g.next.Charge(ctx, req)
	})
	return res, g.mapBreakerError(err)
}

// Refund forwards to the wrapped gateway unless the breaker is open
func (g *ResilientGateway) Refund(ctx context.Context, req *ports.RefundRequest) (*ports.RefundResult, error) {
	res, err := g.refunds.Execute(func() (*ports.RefundResult, error) {
		return g.next.Refund(ctx, req)
	})
	return res, g.mapBreakerError(err)
}

func (g *ResilientGateway) mapBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.WrapError(domain.ErrorCodeGatewayError, "payment gateway unavailable", err)
	}
	return err
}

// stateValue encodes breaker state for the circuit state gauge
func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
