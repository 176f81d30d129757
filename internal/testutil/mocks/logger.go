package mocks

import (
	"sync"

	"github.com/kevin07696/subscription-billing/internal/domain/ports"
)

// LogCall represents a captured log call
type LogCall struct {
	Message string
	Fields  []ports.Field
}

// Field returns the value logged under key, or nil
func (c LogCall) Field(key string) interface{} {
	for _, f := range c.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

// MockLogger records every call. Safe for concurrent use, since sweeps log
// from several goroutines.
type MockLogger struct {
	mu    sync.Mutex
	calls map[string][]LogCall
}

var _ ports.Logger = (*MockLogger)(nil)

// NewMockLogger creates a new mock logger
func NewMockLogger() *MockLogger {
	return &MockLogger{calls: make(map[string][]LogCall)}
}

func (m *MockLogger) record(level, msg string, fields []ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[level] = append(m.calls[level], LogCall{Message: msg, Fields: fields})
}

func (m *MockLogger) Info(msg string, fields ...ports.Field)  { m.record("info", msg, fields) }
func (m *MockLogger) Error(msg string, fields ...ports.Field) { m.record("error", msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...ports.Field)  { m.record("warn", msg, fields) }
func (m *MockLogger) Debug(msg string, fields ...ports.Field) { m.record("debug", msg, fields) }

// Calls returns a copy of the calls made at level (info, warn, error, debug)
func (m *MockLogger) Calls(level string) []LogCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogCall, len(m.calls[level]))
	copy(out, m.calls[level])
	return out
}

// Find returns the first call at level with message msg
func (m *MockLogger) Find(level, msg string) (LogCall, bool) {
	for _, c := range m.Calls(level) {
		if c.Message == msg {
			return c, true
		}
	}
	return LogCall{}, false
}

// Reset clears all captured calls
func (m *MockLogger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string][]LogCall)
}
