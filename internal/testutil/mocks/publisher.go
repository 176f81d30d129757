package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

// MockPublisher is a testify mock of ports.NotificationPublisher
type MockPublisher struct {
	mock.Mock
}

var _ ports.NotificationPublisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, n *domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return nil
}
