package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTimeoutConfig_Hierarchy(t *testing.T) {
	config := DefaultTimeoutConfig()

	assert.Greater(t, config.Sweep, config.HTTPHandler)
	assert.Greater(t, config.HTTPHandler, 10*time.Second, "must leave room for one gateway call")
}

func TestTimeoutConfig_SweepContextSurvivesParentCancel(t *testing.T) {
	type key struct{}
	config := TimeoutConfig{Sweep: 50 * time.Millisecond}

	parent, cancelParent := context.WithCancel(context.WithValue(context.Background(), key{}, "req-1"))
	ctx, cancel := config.SweepContext(parent)
	defer cancel()

	cancelParent()
	assert.NoError(t, ctx.Err())
	assert.Equal(t, "req-1", ctx.Value(key{}))

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 20*time.Millisecond)

	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}
