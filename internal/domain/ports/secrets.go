package ports

import "context"

// Secret is a resolved secret value
type Secret struct {
	Metadata  map[string]string
	Value     string
	Version   string
	CreatedAt string
}

// SecretStore resolves secrets such as the database password and the
// sweep trigger credential. Path format depends on the backend:
//   - local: file path relative to the base directory
//   - AWS: secret name or ARN
//   - Vault: path under the KV mount, e.g. "billing/db"
type SecretStore interface {
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
