package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeRequest asks the gateway to collect amount for a user
type ChargeRequest struct {
	Amount      decimal.Decimal
	UserID      string
	Description string
	// Reference is the local transaction id, echoed back by the gateway
	Reference string
}

// ChargeResult is the gateway's answer to a charge
type ChargeResult struct {
	Data          map[string]interface{}
	TransactionID string
	Message       string
	Success       bool
}

// RefundRequest asks the gateway to return part or all of an earlier charge
type RefundRequest struct {
	Amount                decimal.Decimal
	OriginalTransactionID string
	Reference             string
}

// RefundResult is the gateway's answer to a refund
type RefundResult struct {
	Data     map[string]interface{}
	RefundID string
	Message  string
	Success  bool
}

// PaymentGateway is the external payment processor. A returned error
// (including context deadline) is treated as a failed outcome.
type PaymentGateway interface {
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error)
}
