package gateway

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/internal/testutil/mocks"
)

func instant(chargeRate, refundRate float64) SimulatedConfig {
	return SimulatedConfig{ChargeSuccessRate: chargeRate, RefundSuccessRate: refundRate}
}

func TestSimulatedGateway_Charge(t *testing.T) {
	ctx := context.Background()
	req := &ports.ChargeRequest{Amount: decimal.NewFromInt(300), UserID: "u1", Reference: "txn-1"}

	t.Run("always approves at rate 1", func(t *testing.T) {
		g := NewSimulatedGateway(instant(1, 1), zaptest.NewLogger(t), WithRand(rand.New(rand.NewSource(1))))
		for i := 0; i < 20; i++ {
			res, err := g.Charge(ctx, req)
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.True(t, strings.HasPrefix(res.TransactionID, "SIM_"))
			assert.Contains(t, res.Data, "approval_code")
		}
	})

	t.Run("always declines at rate 0", func(t *testing.T) {
		g := NewSimulatedGateway(instant(0, 0), zaptest.NewLogger(t), WithRand(rand.New(rand.NewSource(1))))
		res, err := g.Charge(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Empty(t, res.TransactionID)
		assert.Contains(t, declineReasons, res.Message)
		assert.Contains(t, res.Data, "error_code")
	})

	t.Run("roughly matches the configured rate", func(t *testing.T) {
		g := NewSimulatedGateway(instant(0.9, 0.95), zaptest.NewLogger(t), WithRand(rand.New(rand.NewSource(42))))
		approved := 0
		const n = 2000
		for i := 0; i < n; i++ {
			res, err := g.Charge(ctx, req)
			require.NoError(t, err)
			if res.Success {
				approved++
			}
		}
		assert.InDelta(t, 0.9, float64(approved)/n, 0.03)
	})

	t.Run("honors caller deadline during latency", func(t *testing.T) {
		cfg := instant(1, 1)
		cfg.MinLatency = time.Second
		cfg.MaxLatency = 2 * time.Second
		g := NewSimulatedGateway(cfg, zaptest.NewLogger(t))

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := g.Charge(callCtx, req)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSimulatedGateway_Refund(t *testing.T) {
	g := NewSimulatedGateway(instant(1, 1), zaptest.NewLogger(t))
	res, err := g.Refund(context.Background(), &ports.RefundRequest{Amount: decimal.NewFromInt(150), OriginalTransactionID: "SIM_1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.RefundID, "REFUND_"))
	assert.Equal(t, "SIM_1", res.Data["original_transaction_id"])

	rejecting := NewSimulatedGateway(instant(1, 0), zaptest.NewLogger(t))
	res, err = rejecting.Refund(context.Background(), &ports.RefundRequest{Amount: decimal.NewFromInt(150)})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestResilientGateway_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	inner := &mocks.MockPaymentGateway{}
	inner.On("Charge", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Times(3)

	g := NewResilientGateway(inner, BreakerConfig{MaxFailures: 3, OpenTimeout: time.Minute, MaxRequestsHalfOpen: 1}, zaptest.NewLogger(t))
	req := &ports.ChargeRequest{Amount: decimal.NewFromInt(10)}

	for i := 0; i < 3; i++ {
		_, err := g.Charge(ctx, req)
		require.Error(t, err)
		assert.False(t, domain.IsGatewayError(err), "transport errors pass through unchanged")
	}

	_, err := g.Charge(ctx, req)
	require.ErrorIs(t, err, domain.ErrGatewayError)
	inner.AssertNumberOfCalls(t, "Charge", 3)
}

func TestResilientGateway_DeclinesDoNotTrip(t *testing.T) {
	ctx := context.Background()
	inner := &mocks.MockPaymentGateway{}
	inner.On("Charge", mock.Anything, mock.Anything).Return(&ports.ChargeResult{Success: false, Message: "limit exceeded"}, nil)

	g := NewResilientGateway(inner, BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute, MaxRequestsHalfOpen: 1}, zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		res, err := g.Charge(ctx, &ports.ChargeRequest{})
		require.NoError(t, err)
		assert.False(t, res.Success)
	}
	inner.AssertNumberOfCalls(t, "Charge", 5)
}

func TestResilientGateway_RefundBreakerIsSeparate(t *testing.T) {
	ctx := context.Background()
	inner := &mocks.MockPaymentGateway{}
	inner.On("Charge", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)
	inner.On("Refund", mock.Anything, mock.Anything).Return(&ports.RefundResult{Success: true, RefundID: "r1"}, nil)

	g := NewResilientGateway(inner, BreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute, MaxRequestsHalfOpen: 1}, zaptest.NewLogger(t))
	_, err := g.Charge(ctx, &ports.ChargeRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, err = g.Charge(ctx, &ports.ChargeRequest{})
	assert.ErrorIs(t, err, domain.ErrGatewayError)

	res, err := g.Refund(ctx, &ports.RefundRequest{})
	require.NoError(t, err)
	assert.Equal(t, "r1", res.RefundID)
}
