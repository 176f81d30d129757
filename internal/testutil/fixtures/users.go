package fixtures

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kevin07696/subscription-billing/internal/domain"
)

// UserBuilder provides fluent API for building test users.
type UserBuilder struct {
	user *domain.User
}

// NewUser creates a new user builder with sensible defaults.
func NewUser() *UserBuilder {
	now := time.Now().UTC()
	id := uuid.New()
	return &UserBuilder{
		user: &domain.User{
			ID:        id,
			Username:  "user-" + id.String()[:8],
			Email:     id.String()[:8] + "@example.com",
			Balance:   decimal.NewFromInt(1000),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func (b *UserBuilder) WithID(id uuid.UUID) *UserBuilder {
	b.user.ID = id
	return b
}

func (b *UserBuilder) WithUsername(username string) *UserBuilder {
	b.user.Username = username
	return b
}

// WithBalance sets the balance from a decimal string such as "49.99".
func (b *UserBuilder) WithBalance(balance string) *UserBuilder {
	b.user.Balance = decimal.RequireFromString(balance)
	return b
}

func (b *UserBuilder) Build() *domain.User {
	u := *b.user
	return &u
}
