package fixtures

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kevin07696/subscription-billing/internal/domain"
)

// TransactionBuilder provides fluent API for building test transactions.
type TransactionBuilder struct {
	txn *domain.Transaction
}

// NewTransaction creates a completed 300.00 purchase created now.
func NewTransaction() *TransactionBuilder {
	now := time.Now().UTC()
	gatewayID := "txn_" + uuid.NewString()[:12]
	return &TransactionBuilder{
		txn: &domain.Transaction{
			ID:                   uuid.New(),
			UserID:               uuid.New(),
			Amount:               decimal.NewFromInt(300),
			Type:                 domain.TransactionTypePurchase,
			Status:               domain.TransactionStatusCompleted,
			Description:          "Purchase of Standard",
			GatewayTransactionID: &gatewayID,
			PaymentData:          domain.PaymentData{},
			CreatedAt:            now,
			UpdatedAt:            now,
		},
	}
}

func (b *TransactionBuilder) WithID(id uuid.UUID) *TransactionBuilder {
	b.txn.ID = id
	return b
}

func (b *TransactionBuilder) ForUser(userID uuid.UUID) *TransactionBuilder {
	b.txn.UserID = userID
	return b
}

func (b *TransactionBuilder) ForSubscription(subscriptionID uuid.UUID) *TransactionBuilder {
	b.txn.SubscriptionID = &subscriptionID
	return b
}

// WithAmount sets the amount from a decimal string such as "270.00".
func (b *TransactionBuilder) WithAmount(amount string) *TransactionBuilder {
	b.txn.Amount = decimal.RequireFromString(amount)
	return b
}

func (b *TransactionBuilder) WithType(txnType domain.TransactionType) *TransactionBuilder {
	b.txn.Type = txnType
	return b
}

func (b *TransactionBuilder) WithStatus(status domain.TransactionStatus) *TransactionBuilder {
	b.txn.Status = status
	return b
}

func (b *TransactionBuilder) CreatedAt(at time.Time) *TransactionBuilder {
	b.txn.CreatedAt = at
	b.txn.UpdatedAt = at
	return b
}

func (b *TransactionBuilder) Build() *domain.Transaction {
	t := *b.txn
	t.PaymentData = domain.PaymentData{}.Merge(b.txn.PaymentData)
	return &t
}
