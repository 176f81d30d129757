// Package seed loads the demo catalog: the standard plans, two launch promo
// codes and a pair of funded demo users. Loading is idempotent, so it can run
// on every start of a development server.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

var namespace = uuid.MustParse("6f1c8a52-2f0e-4a51-9d3e-5b7a0c4e9d21")

// StableID derives a fixed id so repeated seeding updates rather than duplicates
func StableID(kind, name string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(kind+":"+name))
}

// Repositories are the stores the seed writes to
type Repositories struct {
	Users      ports.UserRepository
	Plans      ports.PlanRepository
	PromoCodes ports.PromoCodeRepository
}

// Result counts what a Load call created
type Result struct {
	Plans      int
	PromoCodes int
	Users      int
}

// Plans returns the standard catalog
func Plans(now time.Time) []*domain.SubscriptionPlan {
	mk := func(name, desc string, cents int64, days int) *domain.SubscriptionPlan {
		return &domain.SubscriptionPlan{
			ID:           StableID("plan", name),
			Name:         name,
			Description:  desc,
			Price:        decimal.New(cents, -2),
			DurationDays: days,
			IsActive:     true,
			CreatedAt:    now,
		}
	}
	return []*domain.SubscriptionPlan{
		mk("Basic", "Core features, billed monthly", 29900, 30),
		mk("Advanced", "Everything in Basic plus reporting", 59900, 30),
		mk("Professional", "Full feature set with priority support", 99900, 30),
		mk("Annual", "Professional features billed yearly", 959900, 365),
	}
}

// PromoCodes returns the launch promo codes, valid from now
func PromoCodes(now time.Time) []*domain.PromoCode {
	mk := func(code, desc string, percent, maxUses, days int) *domain.PromoCode {
		return &domain.PromoCode{
			ID:              StableID("promo", code),
			Code:            code,
			Description:     desc,
			DiscountPercent: percent,
			MaxUses:         maxUses,
			ValidFrom:       now,
			ValidTo:         now.AddDate(0, 0, days),
			IsActive:        true,
			CreatedAt:       now,
		}
	}
	return []*domain.PromoCode{
		mk("WELCOME10", "10% off your first purchase", 10, 100, 365),
		mk("SUMMER2025", "Seasonal 20% discount", 20, 50, 90),
	}
}

// Users returns the demo accounts
func Users(now time.Time) []*domain.User {
	mk := func(username string, balance int64) *domain.User {
		return &domain.User{
			ID:        StableID("user", username),
			Username:  username,
			Email:     username + "@example.com",
			Balance:   decimal.NewFromInt(balance),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return []*domain.User{
		mk("alice", 10000),
		mk("bob", 500),
	}
}

// Load writes the demo data in a single unit of work. Plans are upserted;
// promo codes and users that already exist are left alone.
func Load(ctx context.Context, db ports.TransactionManager, repos Repositories, now time.Time, logger *zap.Logger) (Result, error) {
	var res Result
	err := db.WithTransaction(ctx, func(ctx context.Context, tx ports.DBTX) error {
		res = Result{}
		for _, plan := range Plans(now) {
			if err := repos.Plans.Create(ctx, tx, plan); err != nil {
				return fmt.Errorf("seed plan %s: %w", plan.Name, err)
			}
			res.Plans++
		}

		for _, promo := range PromoCodes(now) {
			_, err := repos.PromoCodes.GetByCode(ctx, tx, promo.Code)
			switch {
			case err == nil:
				continue
			case !errors.Is(err, domain.ErrPromoInvalid):
				return fmt.Errorf("look up promo %s: %w", promo.Code, err)
			}
			if err := repos.PromoCodes.Create(ctx, tx, promo); err != nil {
				return fmt.Errorf("seed promo %s: %w", promo.Code, err)
			}
			res.PromoCodes++
		}

		for _, user := range Users(now) {
			_, err := repos.Users.GetByID(ctx, tx, user.ID)
			switch {
			case err == nil:
				continue
			case !errors.Is(err, domain.ErrUserNotFound):
				return fmt.Errorf("look up user %s: %w", user.Username, err)
			}
			if err := repos.Users.Create(ctx, tx, user); err != nil {
				return fmt.Errorf("seed user %s: %w", user.Username, err)
			}
			res.Users++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	logger.Info("Demo data seeded",
		zap.Int("plans", res.Plans),
		zap.Int("promo_codes", res.PromoCodes),
		zap.Int("users", res.Users),
	)
	return res, nil
}
