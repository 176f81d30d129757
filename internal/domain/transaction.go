package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus represents where a transaction is in its lifecycle.
// pending is the only non-terminal status.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

// Valid reports whether s is a known status
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusRefunded:
		return true
	}
	return false
}

// TransactionType represents why money moved
type TransactionType string

const (
	TransactionTypePurchase    TransactionType = "purchase"
	TransactionTypeRenewal     TransactionType = "renewal"
	TransactionTypeAutoRenewal TransactionType = "auto_renewal"
	TransactionTypeRefund      TransactionType = "refund"
	TransactionTypeCancel      TransactionType = "cancel"
	TransactionTypeDeposit     TransactionType = "deposit"
)

// Valid reports whether t is a known type
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePurchase, TransactionTypeRenewal, TransactionTypeAutoRenewal,
		TransactionTypeRefund, TransactionTypeCancel, TransactionTypeDeposit:
		return true
	}
	return false
}

// IsSubscriptionCharge reports whether t paid for a subscription term
func (t TransactionType) IsSubscriptionCharge() bool {
	return t == TransactionTypePurchase || t == TransactionTypeRenewal || t == TransactionTypeAutoRenewal
}

// PaymentData holds gateway details as a flat map of primitive values
type PaymentData map[string]interface{}

// Set stores value under key. Non-primitive values are stored as their
// string form.
func (d PaymentData) Set(key string, value interface{}) PaymentData {
	switch v := value.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		d[key] = v
	case fmt.Stringer:
		d[key] = v.String()
	default:
		d[key] = fmt.Sprintf("%v", v)
	}
	return d
}

// Merge copies every entry of other into d
func (d PaymentData) Merge(other map[string]interface{}) PaymentData {
	for k, v := range other {
		d.Set(k, v)
	}
	return d
}

// Transaction is an immutable-once-terminal ledger record of money movement
type Transaction struct {
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	SubscriptionID       *uuid.UUID        `json:"subscription_id,omitempty"`
	ParentTransactionID  *uuid.UUID        `json:"parent_transaction_id,omitempty"`
	GatewayTransactionID *string           `json:"gateway_transaction_id,omitempty"`
	PaymentData          PaymentData       `json:"payment_data"`
	Amount               decimal.Decimal   `json:"amount"`
	Type                 TransactionType   `json:"transaction_type"`
	Status               TransactionStatus `json:"status"`
	Description          string            `json:"description"`
	ID                   uuid.UUID         `json:"id"`
	UserID               uuid.UUID         `json:"user_id"`
}

// NewTransaction creates a pending transaction
func NewTransaction(userID uuid.UUID, subscriptionID *uuid.UUID, amount decimal.Decimal, txnType TransactionType, description string, now time.Time) *Transaction {
	return &Transaction{
		ID:             uuid.New(),
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Amount:         amount.Round(2),
		Type:           txnType,
		Status:         TransactionStatusPending,
		Description:    description,
		PaymentData:    PaymentData{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsPending returns true while the gateway outcome is unknown
func (t *Transaction) IsPending() bool {
	return t.Status == TransactionStatusPending
}

// IsRefundable reports whether t is a completed subscription charge
func (t *Transaction) IsRefundable() bool {
	return t.Status == TransactionStatusCompleted && t.Type.IsSubscriptionCharge()
}

func (t *Transaction) alreadyProcessed() *DomainError {
	return NewDomainError(ErrorCodeTxnAlreadyProcessed, "transaction already processed").
		WithDetail("transaction_id", t.ID.String()).
		WithDetail("status", string(t.Status))
}

// Complete records a successful outcome
func (t *Transaction) Complete(gatewayTransactionID string, data map[string]interface{}, now time.Time) error {
	if !t.IsPending() {
		return t.alreadyProcessed()
	}
	t.Status = TransactionStatusCompleted
	t.ensurePaymentData()
	if gatewayTransactionID != "" {
		t.GatewayTransactionID = &gatewayTransactionID
	}
	t.PaymentData.Merge(data)
	t.UpdatedAt = now
	return nil
}

// Fail records a failed outcome with reason
func (t *Transaction) Fail(reason string, data map[string]interface{}, now time.Time) error {
	if !t.IsPending() {
		return t.alreadyProcessed()
	}
	t.Status = TransactionStatusFailed
	t.ensurePaymentData()
	t.PaymentData.Merge(data)
	t.PaymentData.Set("reason", reason)
	t.UpdatedAt = now
	return nil
}

func (t *Transaction) ensurePaymentData() {
	if t.PaymentData == nil {
		t.PaymentData = PaymentData{}
	}
}
