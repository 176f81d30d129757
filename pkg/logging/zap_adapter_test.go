package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

func TestZapAdapter_ConvertsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	adapter := NewZapAdapter(zap.New(core))

	adapter.Info("renewal charged",
		ports.String("subscription_id", "sub-1"),
		ports.Int("retry_count", 2),
		ports.Duration("latency", 150*time.Millisecond),
		ports.Err(errors.New("declined")),
	)
	adapter.Debug("debug line")

	entries := logs.All()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "renewal charged", entries[0].Message)
	assert.Equal(t, "sub-1", fields["subscription_id"])
	assert.EqualValues(t, 2, fields["retry_count"])
	assert.Equal(t, 150*time.Millisecond, fields["latency"])
	assert.Equal(t, "declined", fields["error"])
}
