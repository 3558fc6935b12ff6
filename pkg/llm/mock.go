package llm

import (
	"context"
	"sync"
)

// MockProvider is a configurable Provider for tests. Responses, if set, are
// returned in order by Generate; the last one repeats.
type MockProvider struct {
	NameValue string

	GenerateFunc    func(ctx context.Context, prompt string) (GenerateResult, error)
	HealthCheckFunc func(ctx context.Context) bool
	ListModelsFunc  func(ctx context.Context) ([]string, error)
	Responses       []string

	mu      sync.Mutex
	model   string
	prompts []string
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock that answers with the given responses.
func NewMockProvider(name string, responses ...string) *MockProvider {
	return &MockProvider{NameValue: name, Responses: responses, model: "mock-model"}
}

func (m *MockProvider) Name() string { return m.NameValue }

func (m *MockProvider) Generate(ctx context.Context, prompt string) (GenerateResult, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	n := len(m.prompts)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	if len(m.Responses) == 0 {
		return GenerateResult{Model: m.Model()}, nil
	}
	i := n - 1
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	return GenerateResult{Text: m.Responses[i], TokensUsed: 10, Model: m.Model()}, nil
}

func (m *MockProvider) HealthCheck(ctx context.Context) bool {
	if m.HealthCheckFunc != nil {
		return m.HealthCheckFunc(ctx)
	}
	return true
}

func (m *MockProvider) ListModels(ctx context.Context) ([]string, error) {
	if m.ListModelsFunc != nil {
		return m.ListModelsFunc(ctx)
	}
	return []string{m.Model()}, nil
}

func (m *MockProvider) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

func (m *MockProvider) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
}

// Calls returns the number of Generate calls.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns every prompt Generate received, in order.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
