package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestManager_ShutsDownInReverseOrder(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), time.Second)

	var order []string
	m.RegisterNoErr("database", func() { order = append(order, "database") })
	m.Register("dispatcher", func(context.Context) error {
		order = append(order, "dispatcher")
		return errors.New("publisher gone")
	})
	m.RegisterNoErr("http", func() { order = append(order, "http") })

	errs := m.Shutdown()
	assert.Equal(t, []string{"http", "dispatcher", "database"}, order)
	require.Len(t, errs, 1)
	assert.EqualError(t, errs["dispatcher"], "publisher gone")

	assert.Nil(t, m.Shutdown(), "second call is a no-op")
	assert.Len(t, order, 3)
}

func TestInFlightTracker(t *testing.T) {
	tr := NewInFlightTracker("sweeps", zaptest.NewLogger(t))
	require.True(t, tr.Add())

	finished := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.Done()
		close(finished)
	}()

	require.NoError(t, tr.Shutdown(context.Background()))
	select {
	case <-finished:
	default:
		t.Fatal("shutdown returned before work finished")
	}
	assert.False(t, tr.Add(), "no new work after shutdown")
}

func TestInFlightTracker_Timeout(t *testing.T) {
	tr := NewInFlightTracker("sweeps", zaptest.NewLogger(t))
	require.True(t, tr.Add())
	defer tr.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Shutdown(ctx), context.DeadlineExceeded)
}

func TestBackgroundWorker(t *testing.T) {
	w := NewBackgroundWorker("dispatcher", zaptest.NewLogger(t))
	started := make(chan struct{})
	w.Start(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started
	assert.NoError(t, w.Shutdown(context.Background()))
}
