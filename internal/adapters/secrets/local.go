package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

// LocalStore reads secrets from files under a base directory.
// For development only.
type LocalStore struct {
	basePath string
	logger   *zap.Logger
}

var _ ports.SecretStore = (*LocalStore)(nil)

// NewLocalStore creates a filesystem secret store
func NewLocalStore(basePath string, logger *zap.Logger) *LocalStore {
	return &LocalStore{basePath: basePath, logger: logger}
}

// GetSecret reads the file at path. Files may hold the bare value or a
// JSON object with value, tags and created_at.
func (s *LocalStore) GetSecret(_ context.Context, path string) (*ports.Secret, error) {
	filePath := filepath.Join(s.basePath, filepath.Clean("/"+path))

	s.logger.Debug("Reading secret from filesystem", zap.String("path", path))

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	var stored struct {
		Value     string            `json:"value"`
		Tags      map[string]string `json:"tags"`
		CreatedAt string            `json:"created_at"`
	}
	if err := json.Unmarshal(data, &stored); err == nil && stored.Value != "" {
		return &ports.Secret{
			Value:     stored.Value,
			Version:   "v1",
			Metadata:  stored.Tags,
			CreatedAt: stored.CreatedAt,
		}, nil
	}

	return &ports.Secret{
		Value:   strings.TrimRight(string(data), "\r\n"),
		Version: "v1",
	}, nil
}
