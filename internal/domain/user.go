package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is an account holder with a prepaid balance
type User struct {
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Balance   decimal.Decimal `json:"balance"`
	Username  string          `json:"username"`
	Email     string          `json:"email"`
	ID        uuid.UUID       `json:"id"`
}

// CanAfford reports whether the balance covers amount
func (u *User) CanAfford(amount decimal.Decimal) bool {
	return u.Balance.GreaterThanOrEqual(amount)
}

// Debit removes amount from the balance. The balance never goes negative.
func (u *User) Debit(amount decimal.Decimal, now time.Time) error {
	if amount.IsNegative() {
		return NewDomainError(ErrorCodeValidationAmountInvalid, "debit amount must not be negative")
	}
	if !u.CanAfford(amount) {
		return NewDomainError(ErrorCodeInsufficientFunds, "insufficient funds").
			WithDetail("balance", u.Balance.StringFixed(2)).
			WithDetail("required", amount.StringFixed(2))
	}
	u.Balance = u.Balance.Sub(amount).Round(2)
	u.UpdatedAt = now
	return nil
}

// Credit adds amount to the balance
func (u *User) Credit(amount decimal.Decimal, now time.Time) error {
	if amount.IsNegative() {
		return NewDomainError(ErrorCodeValidationAmountInvalid, "credit amount must not be negative")
	}
	u.Balance = u.Balance.Add(amount).Round(2)
	u.UpdatedAt = now
	return nil
}
