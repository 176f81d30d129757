// Package secrets resolves startup credentials from the local filesystem,
// AWS Secrets Manager or HashiCorp Vault.
package secrets

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

// ErrSecretNotFound is returned when a backend has no secret at path
var ErrSecretNotFound = errors.New("secret not found")

// CachedStore keeps resolved secrets for a TTL
type CachedStore struct {
	next   ports.SecretStore
	cache  *gocache.Cache
	logger *zap.Logger
}

var _ ports.SecretStore = (*CachedStore)(nil)

// NewCachedStore wraps next with a ttl cache
func NewCachedStore(next ports.SecretStore, ttl time.Duration, logger *zap.Logger) *CachedStore {
	return &CachedStore{
		next:   next,
		cache:  gocache.New(ttl, 2*ttl),
		logger: logger,
	}
}

// GetSecret returns a cached secret or fetches it
func (s *CachedStore) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	if cached, found := s.cache.Get(path); found {
		s.logger.Debug("Secret retrieved from cache", zap.String("path", path))
		return cached.(*ports.Secret), nil
	}

	secret, err := s.next.GetSecret(ctx, path)
	if err != nil {
		return nil, err
	}
	s.cache.Set(path, secret, gocache.DefaultExpiration)
	return secret, nil
}

// Resolve returns the secret at path, or fallback when path is empty
func Resolve(ctx context.Context, store ports.SecretStore, path, fallback string) (string, error) {
	if path == "" || store == nil {
		return fallback, nil
	}
	secret, err := store.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}
	return secret.Value, nil
}
