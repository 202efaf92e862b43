package healthgate_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	healthgate "github.com/JohnPlummer/jp-go-healthgate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockProber returns canned results per service and records which services it checked.
type mockProber struct {
	mu      sync.Mutex
	results map[string]healthgate.HealthCheckResult
	panics  map[string]bool
	checked []string
}

func newMockProber() *mockProber {
	return &mockProber{
		results: map[string]healthgate.HealthCheckResult{},
		panics:  map[string]bool{},
	}
}

func (m *mockProber) Check(_ context.Context, service, _ string, _ time.Duration) healthgate.HealthCheckResult {
	m.mu.Lock()
	m.checked = append(m.checked, service)
	result, ok := m.results[service]
	shouldPanic := m.panics[service]
	m.mu.Unlock()

	if shouldPanic {
		panic("probe exploded")
	}
	if !ok {
		return healthgate.HealthCheckResult{Status: healthgate.StatusHealthy, StatusCode: 200}
	}
	return result
}

func (m *mockProber) checkedServices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.checked...)
}

func unhealthy(msg string) healthgate.HealthCheckResult {
	return healthgate.HealthCheckResult{Status: healthgate.StatusUnhealthy, Error: msg}
}

// mapSource is an in-memory KVSource.
type mapSource struct {
	mu      sync.Mutex
	entries map[string]string
	errs    []error
	calls   int
}

func (m *mapSource) List(_ context.Context, _ string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.entries, nil
}

func (m *mapSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
