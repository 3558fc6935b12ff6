package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/insightpilot/pkg/llm"
	"github.com/ekaya-inc/insightpilot/pkg/retry"
)

func TestIsRetryable_ProviderErrors(t *testing.T) {
	assert.True(t, retry.IsRetryable(llm.NewError(llm.ErrorTypeRateLimit, "rate limited", true, nil)))
	assert.False(t, retry.IsRetryable(llm.NewError(llm.ErrorTypeAuth, "authentication failed", false, errors.New("HTTP 401"))))
	assert.False(t, retry.IsRetryable(llm.NewError(llm.ErrorTypeCircuitOpen, "circuit breaker open", false, nil)))

	// Flattened into a string the declaration is lost, but the status pattern still matches.
	flat := fmt.Errorf("generate: %s", llm.NewError(llm.ErrorTypeEndpoint, "server error", true, errors.New("HTTP 503")))
	assert.True(t, retry.IsRetryable(flat))
}

func TestDoIfRetryable_WithProviderErrors(t *testing.T) {
	cfg := &retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	calls := 0
	err := retry.DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return llm.NewError(llm.ErrorTypeEndpoint, "server error", true, nil)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	authErr := llm.NewError(llm.ErrorTypeAuth, "authentication failed", false, nil)
	err = retry.DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return authErr
	})
	assert.Same(t, authErr, err)
	assert.Equal(t, 1, calls)
}
