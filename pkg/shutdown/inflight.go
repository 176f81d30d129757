package shutdown

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InFlightTracker lets shutdown wait for work that must not be cut short,
// such as a running billing sweep.
type InFlightTracker struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	draining bool
	logger   *zap.Logger
	name     string
}

// NewInFlightTracker creates a tracker
func NewInFlightTracker(name string, logger *zap.Logger) *InFlightTracker {
	return &InFlightTracker{logger: logger, name: name}
}

// Add registers one unit of work. It returns false once shutdown started.
func (t *InFlightTracker) Add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return false
	}
	t.wg.Add(1)
	return true
}

// Done marks one unit of work finished
func (t *InFlightTracker) Done() {
	t.wg.Done()
}

// Shutdown rejects new work and waits for the rest
func (t *InFlightTracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()

	t.logger.Info("Waiting for in-flight work", zap.String("tracker", t.name))

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.logger.Warn("Shutdown timeout with work still in flight", zap.String("tracker", t.name))
		return ctx.Err()
	}
}

// BackgroundWorker runs one long-lived loop until shutdown
type BackgroundWorker struct {
	name   string
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBackgroundWorker creates a stopped worker
func NewBackgroundWorker(name string, logger *zap.Logger) *BackgroundWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &BackgroundWorker{
		name:   name,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start runs work in a goroutine. work must return when its ctx is done.
func (w *BackgroundWorker) Start(work func(ctx context.Context)) {
	go func() {
		defer close(w.done)
		w.logger.Info("Background worker started", zap.String("worker", w.name))
		work(w.ctx)
		w.logger.Info("Background worker stopped", zap.String("worker", w.name))
	}()
}

// Shutdown cancels the worker and waits for it to return
func (w *BackgroundWorker) Shutdown(ctx context.Context) error {
	w.cancel()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("Background worker shutdown timeout", zap.String("worker", w.name))
		return ctx.Err()
	}
}
