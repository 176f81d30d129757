// Package cache holds read-through caches in front of repositories.
package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

const activePlansKey = "plans:active"

// PlanCache caches the plan catalog in process memory. Entries are copied
// in and out so callers can't mutate cached plans. Plan rows are never
// locked, so reads inside a transaction may be served from the cache.
type PlanCache struct {
	next  ports.PlanRepository
	cache *gocache.Cache
}

var _ ports.PlanRepository = (*PlanCache)(nil)

// NewPlanCache wraps next. A non-positive ttl disables expiry.
func NewPlanCache(next ports.PlanRepository, ttl time.Duration) *PlanCache {
	expiry := ttl
	if expiry <= 0 {
		expiry = gocache.NoExpiration
	}
	return &PlanCache{
		next:  next,
		cache: gocache.New(expiry, 2*expiry),
	}
}

// Create writes through and drops every cached entry
func (c *PlanCache) Create(ctx context.Context, tx ports.DBTX, plan *domain.SubscriptionPlan) error {
	if err := c.next.Create(ctx, tx, plan); err != nil {
		return err
	}
	c.cache.Flush()
	return nil
}

// GetByID serves from cache, falling back to the wrapped repository
func (c *PlanCache) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.SubscriptionPlan, error) {
	key := planKey(id)
	if cached, found := c.cache.Get(key); found {
		plan := *cached.(*domain.SubscriptionPlan)
		return &plan, nil
	}

	plan, err := c.next.GetByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	stored := *plan
	c.cache.Set(key, &stored, gocache.DefaultExpiration)
	return plan, nil
}

// ListActive serves the active catalog from cache
func (c *PlanCache) ListActive(ctx context.Context, db ports.DBTX) ([]*domain.SubscriptionPlan, error) {
	if cached, found := c.cache.Get(activePlansKey); found {
		return clonePlans(cached.([]*domain.SubscriptionPlan)), nil
	}

	plans, err := c.next.ListActive(ctx, db)
	if err != nil {
		return nil, err
	}
	c.cache.Set(activePlansKey, clonePlans(plans), gocache.DefaultExpiration)
	return plans, nil
}

// Invalidate drops every cached entry
func (c *PlanCache) Invalidate() {
	c.cache.Flush()
}

func planKey(id uuid.UUID) string {
	return "plan:" + id.String()
}

func clonePlans(plans []*domain.SubscriptionPlan) []*domain.SubscriptionPlan {
	out := make([]*domain.SubscriptionPlan, len(plans))
	for i, p := range plans {
		plan := *p
		out[i] = &plan
	}
	return out
}
