// Package memory is an in-process ledger store for local development and
// tests. Write units are serialized by a single mutex, which gives the same
// guarantees as row locks at the cost of all concurrency between writers.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

var errNoSQL = errors.New("memory store does not execute SQL")

// txHandle is handed to unit-of-work callbacks so repositories can tell
// transactional calls (lock already held) from standalone ones.
type txHandle struct{}

func (txHandle) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errNoSQL
}

func (txHandle) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errNoSQL
}

func (txHandle) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return errRow{}
}

type errRow struct{}

func (errRow) Scan(...interface{}) error { return errNoSQL }

type tables struct {
	users         map[uuid.UUID]*domain.User
	plans         map[uuid.UUID]*domain.SubscriptionPlan
	subscriptions map[uuid.UUID]*domain.UserSubscription
	transactions  map[uuid.UUID]*domain.Transaction
	promos        map[string]*domain.PromoCode
	notifications map[uuid.UUID]*domain.Notification
	// notification insertion order
	outbox []uuid.UUID
}

func newTables() tables {
	return tables{
		users:         make(map[uuid.UUID]*domain.User),
		plans:         make(map[uuid.UUID]*domain.SubscriptionPlan),
		subscriptions: make(map[uuid.UUID]*domain.UserSubscription),
		transactions:  make(map[uuid.UUID]*domain.Transaction),
		promos:        make(map[string]*domain.PromoCode),
		notifications: make(map[uuid.UUID]*domain.Notification),
	}
}

// snapshot copies the table maps. Stored records are never mutated in
// place (writes replace them with fresh copies), so sharing pointers is safe.
func (t tables) snapshot() tables {
	out := newTables()
	for k, v := range t.users {
		out.users[k] = v
	}
	for k, v := range t.plans {
		out.plans[k] = v
	}
	for k, v := range t.subscriptions {
		out.subscriptions[k] = v
	}
	for k, v := range t.transactions {
		out.transactions[k] = v
	}
	for k, v := range t.promos {
		out.promos[k] = v
	}
	for k, v := range t.notifications {
		out.notifications[k] = v
	}
	out.outbox = append([]uuid.UUID(nil), t.outbox...)
	return out
}

// Store implements ports.TransactionManager and hands out repositories
// backed by the same tables.
type Store struct {
	// txMu serializes write units and standalone writes
	txMu sync.Mutex
	// mu guards data
	mu   sync.RWMutex
	data tables
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{data: newTables()}
}

var _ ports.TransactionManager = (*Store)(nil)

// WithTransaction runs fn while holding the store's write lock. Changes
// made by fn are discarded if it returns an error or panics.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.DBTX) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	saved := s.data.snapshot()
	s.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(saved)
			panic(p)
		}
		if err != nil {
			s.restore(saved)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, txHandle{})
}

// WithReadOnlyTransaction runs fn without taking the write lock
func (s *Store) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.DBTX) error) error {
	return fn(ctx, nil)
}

func (s *Store) restore(saved tables) {
	s.mu.Lock()
	s.data = saved
	s.mu.Unlock()
}

// write applies fn under the data lock. Standalone calls (db == nil) also
// take the unit-of-work lock so they cannot interleave with a rollback.
func (s *Store) write(db ports.DBTX, fn func(t *tables) error) error {
	if db == nil {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.data)
}

func (s *Store) read(fn func(t *tables) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.data)
}

// Users returns the user repository
func (s *Store) Users() ports.UserRepository { return &userRepository{store: s} }

// Plans returns the plan repository
func (s *Store) Plans() ports.PlanRepository { return &planRepository{store: s} }

// Subscriptions returns the subscription repository
func (s *Store) Subscriptions() ports.SubscriptionRepository {
	return &subscriptionRepository{store: s}
}

// Transactions returns the transaction repository
func (s *Store) Transactions() ports.TransactionRepository {
	return &transactionRepository{store: s}
}

// PromoCodes returns the promo code repository
func (s *Store) PromoCodes() ports.PromoCodeRepository { return &promoRepository{store: s} }

// Notifications returns the notification repository
func (s *Store) Notifications() ports.NotificationRepository {
	return &notificationRepository{store: s}
}
