// Package lock provides named leases that keep replicas from running the
// same sweep concurrently.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/pkg/timeutil"
)

const keyPrefix = "billing:lease:"

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements ports.Locker with SET NX PX
type RedisLocker struct {
	client *redis.Client
	logger *zap.Logger
}

var _ ports.Locker = (*RedisLocker)(nil)

// NewRedisLocker connects to addr and verifies the connection
func NewRedisLocker(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	logger.Info("Redis lease store connected", zap.String("addr", addr))
	return &RedisLocker{client: client, logger: logger}, nil
}

// TryAcquire takes the lease if nobody holds it
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("Failed to release lease", zap.String("key", key), zap.Error(err))
			return fmt.Errorf("release lease %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}

// Ping reports whether redis is reachable
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the redis client
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// LocalLocker is an in-process ports.Locker for single-replica deployments
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    timeutil.Clock
}

type lease struct {
	token   string
	expires time.Time
}

var _ ports.Locker = (*LocalLocker)(nil)

// NewLocalLocker creates an empty in-process lease table
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{leases: make(map[string]lease), now: timeutil.Now}
}

// TryAcquire takes the lease if it is free or expired
func (l *LocalLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expires) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.leases[key] = lease{token: token, expires: now.Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.leases[key]; ok && held.token == token {
			delete(l.leases, key)
		}
		return nil
	}
	return release, true, nil
}
