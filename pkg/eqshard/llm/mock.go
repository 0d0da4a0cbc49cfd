package llm

import (
	"context"
	"sync"
)

// MockClient is a scriptable Client for tests.
type MockClient struct {
	mu       sync.Mutex
	response string
	failures int
	failWith error
	err      error
	calls    []string
}

// NewMockClient creates a mock that always returns response.
func NewMockClient(response string) *MockClient {
	return &MockClient{response: response}
}

// WithError makes every call fail with err.
func (m *MockClient) WithError(err error) *MockClient {
	m.err = err
	return m
}

// WithFailures makes the first n calls fail with err before succeeding.
func (m *MockClient) WithFailures(n int, err error) *MockClient {
	m.failures = n
	m.failWith = err
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, prompt)
	if m.err != nil {
		return "", m.err
	}
	if m.failures > 0 {
		m.failures--
		return "", m.failWith
	}
	return m.response, nil
}

// Calls returns the prompts received so far.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
