package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	return &c
}

func clonePlan(p *domain.SubscriptionPlan) *domain.SubscriptionPlan {
	c := *p
	return &c
}

func cloneSubscription(s *domain.UserSubscription) *domain.UserSubscription {
	c := *s
	c.StartDate = cloneTime(s.StartDate)
	c.EndDate = cloneTime(s.EndDate)
	c.NextRetryAt = cloneTime(s.NextRetryAt)
	c.PendingSince = cloneTime(s.PendingSince)
	c.CanceledAt = cloneTime(s.CanceledAt)
	return &c
}

func cloneTransaction(t *domain.Transaction) *domain.Transaction {
	c := *t
	c.SubscriptionID = cloneUUID(t.SubscriptionID)
	c.ParentTransactionID = cloneUUID(t.ParentTransactionID)
	if t.GatewayTransactionID != nil {
		id := *t.GatewayTransactionID
		c.GatewayTransactionID = &id
	}
	c.PaymentData = domain.PaymentData(cloneMap(t.PaymentData))
	return &c
}

func clonePromo(p *domain.PromoCode) *domain.PromoCode {
	c := *p
	return &c
}

func cloneNotification(n *domain.Notification) *domain.Notification {
	c := *n
	c.SubscriptionID = cloneUUID(n.SubscriptionID)
	c.PublishedAt = cloneTime(n.PublishedAt)
	c.Data = cloneMap(n.Data)
	return &c
}

type userRepository struct {
	store *Store
}

func (r *userRepository) Create(ctx context.Context, tx ports.DBTX, user *domain.User) error {
	return r.store.write(tx, func(t *tables) error {
		if _, exists := t.users[user.ID]; exists {
			return domain.NewDomainError(domain.ErrorCodeValidationFailed, "user already exists")
		}
		for _, u := range t.users {
			if u.Username == user.Username {
				return domain.NewDomainError(domain.ErrorCodeValidationFailed, "username already taken").
					WithDetail("username", user.Username)
			}
		}
		t.users[user.ID] = cloneUser(user)
		return nil
	})
}

func (r *userRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.User, error) {
	var out *domain.User
	err := r.store.read(func(t *tables) error {
		u, ok := t.users[id]
		if !ok {
			return domain.NewDomainError(domain.ErrorCodeUserNotFound, "user not found").WithDetail("user_id", id.String())
		}
		out = cloneUser(u)
		return nil
	})
	return out, err
}

func (r *userRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*domain.User, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *userRepository) UpdateBalance(ctx context.Context, tx ports.DBTX, user *domain.User) error {
	return r.store.write(tx, func(t *tables) error {
		stored, ok := t.users[user.ID]
		if !ok {
			return domain.NewDomainError(domain.ErrorCodeUserNotFound, "user not found").WithDetail("user_id", user.ID.String())
		}
		if user.Balance.IsNegative() {
			return domain.NewDomainError(domain.ErrorCodeInsufficientFunds, "balance cannot be negative")
		}
		updated := cloneUser(stored)
		updated.Balance = user.Balance
		updated.UpdatedAt = user.UpdatedAt
		t.users[user.ID] = updated
		return nil
	})
}

type planRepository struct {
	store *Store
}

func (r *planRepository) Create(ctx context.Context, tx ports.DBTX, plan *domain.SubscriptionPlan) error {
	return r.store.write(tx, func(t *tables) error {
		stored, ok := t.plans[plan.ID]
		if !ok {
			t.plans[plan.ID] = clonePlan(plan)
			return nil
		}
		if !stored.SameTerms(plan) {
			return plan.TermsChanged(stored)
		}
		updated := clonePlan(stored)
		updated.Name = plan.Name
		updated.Description = plan.Description
		updated.IsActive = plan.IsActive
		t.plans[plan.ID] = updated
		return nil
	})
}

func (r *planRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.SubscriptionPlan, error) {
	var out *domain.SubscriptionPlan
	err := r.store.read(func(t *tables) error {
		p, ok := t.plans[id]
		if !ok {
			return domain.NewDomainError(domain.ErrorCodePlanNotFound, "subscription plan not found").WithDetail("plan_id", id.String())
		}
		out = clonePlan(p)
		return nil
	})
	return out, err
}

func (r *planRepository) ListActive(ctx context.Context, db ports.DBTX) ([]*domain.SubscriptionPlan, error) {
	var out []*domain.SubscriptionPlan
	err := r.store.read(func(t *tables) error {
		for _, p := range t.plans {
			if p.IsActive {
				out = append(out, clonePlan(p))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price.Equal(out[j].Price) {
			return out[i].Name < out[j].Name
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out, err
}

type subscriptionRepository struct {
	store *Store
}

func (r *subscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *domain.UserSubscription) error {
	return r.store.write(tx, func(t *tables) error {
		if _, ok := t.users[sub.UserID]; !ok {
			return domain.NewDomainError(domain.ErrorCodeUserNotFound, "user not found").WithDetail("user_id", sub.UserID.String())
		}
		if _, ok := t.plans[sub.PlanID]; !ok {
			return domain.NewDomainError(domain.ErrorCodePlanNotFound, "subscription plan not found").WithDetail("plan_id", sub.PlanID.String())
		}
		t.subscriptions[sub.ID] = cloneSubscription(sub)
		return nil
	})
}

func (r *subscriptionRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.UserSubscription, error) {
	var out *domain.UserSubscription
	err := r.store.read(func(t *tables) error {
		s, ok := t.subscriptions[id]
		if !ok {
			return domain.NewDomainError(domain.ErrorCodeSubscriptionNotFound, "subscription not found").WithDetail("subscription_id", id.String())
		}
		out = cloneSubscription(s)
		return nil
	})
	return out, err
}

func (r *subscriptionRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*domain.UserSubscription, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *subscriptionRepository) Update(ctx context.Context, tx ports.DBTX, sub *domain.UserSubscription) error {
	return r.store.write(tx, func(t *tables) error {
		if _, ok := t.subscriptions[sub.ID]; !ok {
			return domain.NewDomainError(domain.ErrorCodeSubscriptionNotFound, "subscription not found").WithDetail("subscription_id", sub.ID.String())
		}
		t.subscriptions[sub.ID] = cloneSubscription(sub)
		return nil
	})
}

func matchesSubscription(s *domain.UserSubscription, f ports.SubscriptionFilter) bool {
	if f.UserID != nil && s.UserID != *f.UserID {
		return false
	}
	if f.AutoRenew != nil && s.AutoRenew != *f.AutoRenew {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if s.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.EndAfter != nil && (s.EndDate == nil || s.EndDate.Before(*f.EndAfter)) {
		return false
	}
	if f.EndBefore != nil && (s.EndDate == nil || s.EndDate.After(*f.EndBefore)) {
		return false
	}
	if f.RetryDueBy != nil && s.NextRetryAt != nil && s.NextRetryAt.After(*f.RetryDueBy) {
		return false
	}
	return true
}

func (r *subscriptionRepository) List(ctx context.Context, db ports.DBTX, filter ports.SubscriptionFilter) ([]*domain.UserSubscription, error) {
	var out []*domain.UserSubscription
	err := r.store.read(func(t *tables) error {
		for _, s := range t.subscriptions {
			if matchesSubscription(s, filter) {
				out = append(out, cloneSubscription(s))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].EndDate, out[j].EndDate
		switch {
		case a == nil && b == nil:
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Before(*b)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}

type transactionRepository struct {
	store *Store
}

func (r *transactionRepository) Create(ctx context.Context, tx ports.DBTX, txn *domain.Transaction) error {
	return r.store.write(tx, func(t *tables) error {
		if _, ok := t.users[txn.UserID]; !ok {
			return domain.NewDomainError(domain.ErrorCodeUserNotFound, "user not found").WithDetail("user_id", txn.UserID.String())
		}
		if txn.Type == domain.TransactionTypeRefund && txn.Status == domain.TransactionStatusCompleted && txn.SubscriptionID != nil {
			if hasCompletedRefund(t, *txn.SubscriptionID) {
				return domain.NewDomainError(domain.ErrorCodeDuplicateRefund, "subscription already has a completed refund")
			}
		}
		t.transactions[txn.ID] = cloneTransaction(txn)
		return nil
	})
}

func (r *transactionRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := r.store.read(func(t *tables) error {
		txn, ok := t.transactions[id]
		if !ok {
			return domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").WithDetail("transaction_id", id.String())
		}
		out = cloneTransaction(txn)
		return nil
	})
	return out, err
}

func (r *transactionRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*domain.Transaction, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *transactionRepository) UpdateOutcome(ctx context.Context, tx ports.DBTX, txn *domain.Transaction) error {
	return r.store.write(tx, func(t *tables) error {
		stored, ok := t.transactions[txn.ID]
		if !ok {
			return domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").WithDetail("transaction_id", txn.ID.String())
		}
		if !stored.IsPending() {
			return domain.NewDomainError(domain.ErrorCodeTxnAlreadyProcessed, "transaction already processed").
				WithDetail("transaction_id", txn.ID.String()).
				WithDetail("status", string(stored.Status))
		}
		if txn.Type == domain.TransactionTypeRefund && txn.Status == domain.TransactionStatusCompleted && txn.SubscriptionID != nil {
			if hasCompletedRefund(t, *txn.SubscriptionID) {
				return domain.NewDomainError(domain.ErrorCodeDuplicateRefund, "subscription already has a completed refund")
			}
		}
		updated := cloneTransaction(stored)
		updated.Status = txn.Status
		updated.GatewayTransactionID = txn.GatewayTransactionID
		updated.PaymentData = domain.PaymentData(cloneMap(txn.PaymentData))
		updated.UpdatedAt = txn.UpdatedAt
		t.transactions[txn.ID] = updated
		return nil
	})
}

func hasCompletedRefund(t *tables, subscriptionID uuid.UUID) bool {
	for _, txn := range t.transactions {
		if txn.Type == domain.TransactionTypeRefund &&
			txn.Status == domain.TransactionStatusCompleted &&
			txn.SubscriptionID != nil && *txn.SubscriptionID == subscriptionID {
			return true
		}
	}
	return false
}

func (r *transactionRepository) HasCompletedRefund(ctx context.Context, db ports.DBTX, subscriptionID uuid.UUID) (bool, error) {
	var found bool
	err := r.store.read(func(t *tables) error {
		found = hasCompletedRefund(t, subscriptionID)
		return nil
	})
	return found, err
}

func (r *transactionRepository) List(ctx context.Context, db ports.DBTX, filter ports.TransactionFilter) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	err := r.store.read(func(t *tables) error {
		for _, txn := range t.transactions {
			if filter.UserID != nil && txn.UserID != *filter.UserID {
				continue
			}
			if filter.SubscriptionID != nil && (txn.SubscriptionID == nil || *txn.SubscriptionID != *filter.SubscriptionID) {
				continue
			}
			if filter.Type != "" && txn.Type != filter.Type {
				continue
			}
			if filter.Status != "" && txn.Status != filter.Status {
				continue
			}
			out = append(out, cloneTransaction(txn))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, err
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}

type promoRepository struct {
	store *Store
}

func (r *promoRepository) Create(ctx context.Context, tx ports.DBTX, promo *domain.PromoCode) error {
	return r.store.write(tx, func(t *tables) error {
		code := domain.NormalizePromoCode(promo.Code)
		if _, exists := t.promos[code]; exists {
			return domain.NewDomainError(domain.ErrorCodeValidationFailed, "promo code already exists").WithDetail("code", code)
		}
		stored := clonePromo(promo)
		stored.Code = code
		t.promos[code] = stored
		return nil
	})
}

func (r *promoRepository) GetByCode(ctx context.Context, db ports.DBTX, code string) (*domain.PromoCode, error) {
	var out *domain.PromoCode
	code = domain.NormalizePromoCode(code)
	err := r.store.read(func(t *tables) error {
		p, ok := t.promos[code]
		if !ok {
			return domain.NewDomainError(domain.ErrorCodePromoInvalid, "promo code not found").
				WithDetail("code", code).
				WithDetail("reason", "not found")
		}
		out = clonePromo(p)
		return nil
	})
	return out, err
}

func (r *promoRepository) GetByCodeForUpdate(ctx context.Context, tx ports.DBTX, code string) (*domain.PromoCode, error) {
	return r.GetByCode(ctx, tx, code)
}

func (r *promoRepository) UpdateUsage(ctx context.Context, tx ports.DBTX, promo *domain.PromoCode) error {
	return r.store.write(tx, func(t *tables) error {
		code := domain.NormalizePromoCode(promo.Code)
		stored, ok := t.promos[code]
		if !ok {
			return domain.NewDomainError(domain.ErrorCodePromoInvalid, "promo code not found").WithDetail("code", code)
		}
		if promo.UsedCount > stored.MaxUses {
			return domain.NewDomainError(domain.ErrorCodePromoInvalid, "promo code usage limit reached").
				WithDetail("code", code).
				WithDetail("reason", "usage limit reached")
		}
		updated := clonePromo(stored)
		updated.UsedCount = promo.UsedCount
		t.promos[code] = updated
		return nil
	})
}

func (r *promoRepository) ListActive(ctx context.Context, db ports.DBTX, now time.Time) ([]*domain.PromoCode, error) {
	var out []*domain.PromoCode
	err := r.store.read(func(t *tables) error {
		for _, p := range t.promos {
			if p.Validate(now) == nil {
				out = append(out, clonePromo(p))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, err
}

type notificationRepository struct {
	store *Store
}

func (r *notificationRepository) Create(ctx context.Context, tx ports.DBTX, n *domain.Notification) error {
	return r.store.write(tx, func(t *tables) error {
		t.notifications[n.ID] = cloneNotification(n)
		t.outbox = append(t.outbox, n.ID)
		return nil
	})
}

func (r *notificationRepository) ListUnpublished(ctx context.Context, db ports.DBTX, limit int) ([]*domain.Notification, error) {
	var out []*domain.Notification
	err := r.store.read(func(t *tables) error {
		for _, id := range t.outbox {
			n := t.notifications[id]
			if n == nil || n.IsPublished() {
				continue
			}
			out = append(out, cloneNotification(n))
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r *notificationRepository) MarkPublished(ctx context.Context, db ports.DBTX, id uuid.UUID, at time.Time) error {
	return r.store.write(db, func(t *tables) error {
		stored, ok := t.notifications[id]
		if !ok {
			return nil
		}
		updated := cloneNotification(stored)
		updated.PublishedAt = &at
		t.notifications[id] = updated
		return nil
	})
}

func (r *notificationRepository) ListByUser(ctx context.Context, db ports.DBTX, userID uuid.UUID, limit int) ([]*domain.Notification, error) {
	var out []*domain.Notification
	err := r.store.read(func(t *tables) error {
		for i := len(t.outbox) - 1; i >= 0; i-- {
			n := t.notifications[t.outbox[i]]
			if n == nil || n.UserID != userID {
				continue
			}
			out = append(out, cloneNotification(n))
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r *notificationRepository) ExistsSince(ctx context.Context, db ports.DBTX, subscriptionID uuid.UUID, notificationType domain.NotificationType, since time.Time) (bool, error) {
	var found bool
	err := r.store.read(func(t *tables) error {
		for _, n := range t.notifications {
			if n.Type == notificationType && n.SubscriptionID != nil && *n.SubscriptionID == subscriptionID && !n.CreatedAt.Before(since) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}
