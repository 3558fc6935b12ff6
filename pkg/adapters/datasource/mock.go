package datasource

import (
	"context"
	"sync"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// MockAdapter is a scriptable Adapter for tests. Nil funcs fall back to
// benign defaults: connect succeeds, schema is empty, every query passes the
// gates and executes to an empty result.
type MockAdapter struct {
	ConnectFunc    func(ctx context.Context) error
	GetSchemaFunc  func(ctx context.Context) ([]models.TableSchema, error)
	SanitizeFunc   func(text string) (string, error)
	ValidateFunc   func(text string) error
	ExecuteFunc    func(ctx context.Context, text string) models.ExecutionResult
	GetSampleFunc  func(ctx context.Context, name string, limit int) models.ExecutionResult
	DialectValue   Dialect
	ErrorRuleTable ErrorRules

	mu              sync.Mutex
	connected       bool
	ConnectCalls    int
	DisconnectCalls int
	ExecutedQueries []string
}

var _ Adapter = (*MockAdapter)(nil)

func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.ConnectCalls++
	m.mu.Unlock()
	if m.ConnectFunc != nil {
		if err := m.ConnectFunc(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MockAdapter) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisconnectCalls++
	m.connected = false
	return nil
}

func (m *MockAdapter) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockAdapter) GetSchema(ctx context.Context) ([]models.TableSchema, error) {
	if m.GetSchemaFunc != nil {
		return m.GetSchemaFunc(ctx)
	}
	return nil, nil
}

func (m *MockAdapter) SanitizeQuery(text string) (string, error) {
	if m.SanitizeFunc != nil {
		return m.SanitizeFunc(text)
	}
	return text, nil
}

func (m *MockAdapter) ValidateQuery(text string) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(text)
	}
	return nil
}

func (m *MockAdapter) Execute(ctx context.Context, text string) models.ExecutionResult {
	m.mu.Lock()
	m.ExecutedQueries = append(m.ExecutedQueries, text)
	m.mu.Unlock()
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, text)
	}
	return models.ExecutionResult{Columns: []string{}, Rows: [][]any{}}
}

func (m *MockAdapter) GetSample(ctx context.Context, name string, limit int) models.ExecutionResult {
	if m.GetSampleFunc != nil {
		return m.GetSampleFunc(ctx, name, limit)
	}
	return models.ExecutionResult{Columns: []string{}, Rows: [][]any{}}
}

func (m *MockAdapter) Dialect() Dialect {
	if m.DialectValue == "" {
		return DialectSQL
	}
	return m.DialectValue
}

func (m *MockAdapter) ErrorRules() ErrorRules { return m.ErrorRuleTable }

// Executed returns a copy of the queries passed to Execute.
func (m *MockAdapter) Executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ExecutedQueries...)
}

// MockFactory hands out a fixed adapter, or fails with Err.
type MockFactory struct {
	Adapter Adapter
	Err     error
	Types   []AdapterInfo

	mu    sync.Mutex
	Calls int
}

var _ AdapterFactory = (*MockFactory)(nil)

func (f *MockFactory) NewAdapter(models.ConnectionDescriptor) (Adapter, error) {
	f.mu.Lock()
	f.Calls++
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Adapter, nil
}

func (f *MockFactory) ListTypes() []AdapterInfo { return f.Types }
