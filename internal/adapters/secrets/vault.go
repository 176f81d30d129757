package secrets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

// VaultConfig configures the Vault KV v2 store
type VaultConfig struct {
	Address   string
	Token     string
	Namespace string
	// MountPath is the KV v2 engine mount, "secret" by default
	MountPath string
}

// VaultStore resolves secrets from a Vault KV v2 engine. The secret value
// is read from the "value" key.
type VaultStore struct {
	kv     *vault.KVv2
	logger *zap.Logger
}

var _ ports.SecretStore = (*VaultStore)(nil)

// NewVaultStore creates a token-authenticated Vault client
func NewVaultStore(cfg VaultConfig, logger *zap.Logger) (*VaultStore, error) {
	if cfg.Token == "" {
		return nil, errors.New("vault token is required")
	}
	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}

	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address

	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	logger.Info("Vault store initialized",
		zap.String("address", cfg.Address),
		zap.String("mount_path", mount),
	)

	return &VaultStore{kv: client.KVv2(mount), logger: logger}, nil
}

// GetSecret reads the latest version of path
func (s *VaultStore) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	start := time.Now()
	kvSecret, err := s.kv.Get(ctx, path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
		}
		s.logger.Error("Failed to retrieve secret from Vault", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}

	value, ok := kvSecret.Data["value"].(string)
	if !ok {
		return nil, fmt.Errorf("secret %s has no string \"value\" key", path)
	}

	s.logger.Info("Secret retrieved",
		zap.String("path", path),
		zap.Duration("elapsed", time.Since(start)),
	)

	secret := &ports.Secret{Value: value}
	if md := kvSecret.VersionMetadata; md != nil {
		secret.Version = strconv.Itoa(md.Version)
		secret.CreatedAt = md.CreatedTime.Format(time.RFC3339)
	}
	if len(kvSecret.CustomMetadata) > 0 {
		secret.Metadata = make(map[string]string, len(kvSecret.CustomMetadata))
		for k, v := range kvSecret.CustomMetadata {
			secret.Metadata[k] = fmt.Sprint(v)
		}
	}
	return secret, nil
}
