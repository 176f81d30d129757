// Package mocks provides shared mock implementations of the domain ports
// for tests.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

// MockPaymentGateway is a testify mock of ports.PaymentGateway
type MockPaymentGateway struct {
	mock.Mock
}

var _ ports.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Charge(ctx context.Context, req *ports.ChargeRequest) (*ports.ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.ChargeResult), args.Error(1)
}

func (m *MockPaymentGateway) Refund(ctx context.Context, req *ports.RefundRequest) (*ports.RefundResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.RefundResult), args.Error(1)
}

// ApproveCharges makes every Charge succeed
func (m *MockPaymentGateway) ApproveCharges() *mock.Call {
	return m.On("Charge", mock.Anything, mock.Anything).
		Return(&ports.ChargeResult{Success: true, TransactionID: "gw_charge", Message: "approved"}, nil)
}

// DeclineCharges makes every Charge come back declined with message
func (m *MockPaymentGateway) DeclineCharges(message string) *mock.Call {
	return m.On("Charge", mock.Anything, mock.Anything).
		Return(&ports.ChargeResult{Success: false, Message: message}, nil)
}

// ApproveRefunds makes every Refund succeed
func (m *MockPaymentGateway) ApproveRefunds() *mock.Call {
	return m.On("Refund", mock.Anything, mock.Anything).
		Return(&ports.RefundResult{Success: true, RefundID: "gw_refund", Message: "refunded"}, nil)
}
