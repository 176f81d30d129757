// Package gateway provides payment gateway adapters: a simulated processor
// for development and demos, and a circuit-breaking decorator for any
// ports.PaymentGateway.
package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/pkg/timeutil"
)

// SimulatedConfig configures the simulated processor
type SimulatedConfig struct {
	ChargeSuccessRate float64
	RefundSuccessRate float64
	MinLatency        time.Duration
	MaxLatency        time.Duration
}

// DefaultSimulatedConfig approves 90% of charges and 95% of refunds after
// 0.5 to 2 seconds of latency.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		ChargeSuccessRate: 0.90,
		RefundSuccessRate: 0.95,
		MinLatency:        500 * time.Millisecond,
		MaxLatency:        2 * time.Second,
	}
}

var declineReasons = []string{
	"insufficient funds at issuer",
	"network unavailable",
	"connection timed out",
	"invalid card data",
	"limit exceeded",
}

// SimulatedGateway is a probabilistic stand-in for a real processor
type SimulatedGateway struct {
	mu     sync.Mutex
	rng    *rand.Rand
	now    timeutil.Clock
	cfg    SimulatedConfig
	logger *zap.Logger
}

var _ ports.PaymentGateway = (*SimulatedGateway)(nil)

// SimulatedOption customizes a SimulatedGateway
type SimulatedOption func(*SimulatedGateway)

// WithRand makes outcomes reproducible
func WithRand(rng *rand.Rand) SimulatedOption {
	return func(g *SimulatedGateway) { g.rng = rng }
}

// NewSimulatedGateway creates a simulated gateway
func NewSimulatedGateway(cfg SimulatedConfig, logger *zap.Logger, opts ...SimulatedOption) *SimulatedGateway {
	g := &SimulatedGateway{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    timeutil.Now,
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Charge approves with probability ChargeSuccessRate
func (g *SimulatedGateway) Charge(ctx context.Context, req *ports.ChargeRequest) (*ports.ChargeResult, error) {
	latency, roll, suffix, reason := g.draw()
	if err := wait(ctx, latency); err != nil {
		return nil, err
	}

	if roll >= g.cfg.ChargeSuccessRate {
		g.logger.Debug("Simulated charge declined",
			zap.String("reference", req.Reference),
			zap.String("amount", req.Amount.StringFixed(2)),
			zap.String("reason", reason),
		)
		return &ports.ChargeResult{
			Success: false,
			Message: reason,
			Data: map[string]interface{}{
				"simulated":  true,
				"error_code": fmt.Sprintf("ERR_%03d", 100+suffix%900),
			},
		}, nil
	}

	return &ports.ChargeResult{
		Success:       true,
		TransactionID: fmt.Sprintf("SIM_%d_%04d", g.now().Unix(), suffix),
		Message:       "payment processed",
		Data: map[string]interface{}{
			"simulated":     true,
			"approval_code": fmt.Sprintf("APPROVAL_%06d", suffix*97),
		},
	}, nil
}

// Refund approves with probability RefundSuccessRate
func (g *SimulatedGateway) Refund(ctx context.Context, req *ports.RefundRequest) (*ports.RefundResult, error) {
	latency, roll, suffix, _ := g.draw()
	if err := wait(ctx, latency); err != nil {
		return nil, err
	}

	if roll >= g.cfg.RefundSuccessRate {
		g.logger.Debug("Simulated refund rejected",
			zap.String("original_transaction_id", req.OriginalTransactionID),
			zap.String("amount", req.Amount.StringFixed(2)),
		)
		return &ports.RefundResult{
			Success: false,
			Message: "refund rejected by processor",
			Data:    map[string]interface{}{"simulated": true},
		}, nil
	}

	return &ports.RefundResult{
		Success:  true,
		RefundID: fmt.Sprintf("REFUND_%d_%04d", g.now().Unix(), suffix),
		Message:  "refund processed",
		Data: map[string]interface{}{
			"simulated":               true,
			"original_transaction_id": req.OriginalTransactionID,
		},
	}, nil
}

// draw takes every random value a call needs under one lock
func (g *SimulatedGateway) draw() (latency time.Duration, roll float64, suffix int, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	latency = g.cfg.MinLatency
	if spread := g.cfg.MaxLatency - g.cfg.MinLatency; spread > 0 {
		latency += time.Duration(g.rng.Int63n(int64(spread)))
	}
	roll = g.rng.Float64()
	suffix = 1000 + g.rng.Intn(9000)
	reason = declineReasons[g.rng.Intn(len(declineReasons))]
	return latency, roll, suffix, reason
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
