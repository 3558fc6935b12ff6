package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/retry"
)

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestCircuitBreaker_TripsAndProbes(t *testing.T) {
	cb := NewCircuitBreaker("p", CircuitBreakerConfig{Threshold: 3, ResetAfter: 30 * time.Second})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	assert.NoError(t, cb.Allow())
	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, 3, cb.ConsecutiveFailures())

	err := cb.Allow()
	require.Error(t, err)
	assert.Equal(t, ErrorTypeCircuitOpen, GetErrorType(err))
	assert.Contains(t, err.Error(), "circuit breaker open")

	now = now.Add(31 * time.Second)
	assert.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.Error(t, cb.Allow(), "only one probe at a time")

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(31 * time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

func TestGuard_RetriesTransientErrors(t *testing.T) {
	calls := 0
	m := NewMockProvider("p")
	m.GenerateFunc = func(context.Context, string) (GenerateResult, error) {
		calls++
		if calls == 1 {
			return GenerateResult{}, errors.New("status 503: service unavailable")
		}
		return GenerateResult{Text: "SELECT 1"}, nil
	}

	g := Guard(m, DefaultCircuitBreakerConfig(), fastRetry(), zap.NewNop())
	res, err := g.Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", res.Text)
	assert.Equal(t, 2, calls)
	assert.Equal(t, CircuitClosed, g.Breaker().State())
}

func TestGuard_DoesNotRetryAuthErrors(t *testing.T) {
	m := failing("p", errors.New("401 unauthorized"))
	g := Guard(m, DefaultCircuitBreakerConfig(), fastRetry(), zap.NewNop())

	_, err := g.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, ErrorTypeAuth, GetErrorType(err))
	assert.Equal(t, 1, m.Calls())

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, "p", llmErr.Provider)
	assert.Equal(t, "mock-model", llmErr.Model)
}

func TestGuard_OpenCircuitFailsFast(t *testing.T) {
	m := failing("p", errors.New("invalid api key"))
	g := Guard(m, CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Hour}, fastRetry(), zap.NewNop())

	for i := 0; i < 2; i++ {
		_, _ = g.Generate(context.Background(), "x")
	}
	assert.Equal(t, CircuitOpen, g.Breaker().State())

	_, err := g.Generate(context.Background(), "x")
	assert.Equal(t, ErrorTypeCircuitOpen, GetErrorType(err))
	assert.Equal(t, 2, m.Calls(), "open circuit must not reach the provider")
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{errors.New("error, status code: 401, message: Incorrect API key"), ErrorTypeAuth, false},
		{errors.New("The model `gpt-9` does not exist"), ErrorTypeModel, false},
		{errors.New("status code: 404, not found"), ErrorTypeEndpoint, false},
		{errors.New("status code: 429, Rate limit reached"), ErrorTypeRateLimit, true},
		{errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), ErrorTypeEndpoint, true},
		{fmt.Errorf("post: %w", context.DeadlineExceeded), ErrorTypeTimeout, true},
		{context.Canceled, ErrorTypeTimeout, false},
		{errors.New("anthropic: overloaded_error"), ErrorTypeEndpoint, true},
		{errors.New("status code: 502"), ErrorTypeEndpoint, true},
		{errors.New("something odd"), ErrorTypeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.retryable, retry.IsRetryable(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, ClassifyError(nil))
	already := NewError(ErrorTypeModel, "x", false, nil)
	assert.Same(t, already, ClassifyError(fmt.Errorf("wrapped: %w", already)))
}

func TestError_ErrorRedactsEndpointPath(t *testing.T) {
	e := &Error{Type: ErrorTypeEndpoint, Message: "server error", StatusCode: 503, Model: "gpt-4o",
		Provider: "work", Endpoint: "https://example.openai.azure.com/openai/deployments/secret"}
	msg := e.Error()
	assert.Contains(t, msg, "HTTP 503")
	assert.Contains(t, msg, "model=gpt-4o")
	assert.Contains(t, msg, "provider=work")
	assert.Contains(t, msg, "endpoint=example.openai.azure.com")
	assert.NotContains(t, msg, "secret")
}

func TestAllProvidersFailedError(t *testing.T) {
	e := &AllProvidersFailedError{}
	assert.Contains(t, e.Error(), "no providers available")

	inner := NewError(ErrorTypeAuth, "authentication failed", false, nil)
	e.Attempts = append(e.Attempts, ProviderAttempt{Provider: "a", Err: inner})
	assert.ErrorIs(t, e, inner)
	assert.Contains(t, e.Error(), "a: auth")
}
