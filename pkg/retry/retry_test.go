package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) *Config {
	return &Config{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
}

func TestProviderConfig_TwoTries(t *testing.T) {
	cfg := ProviderConfig()
	cfg.InitialDelay = time.Millisecond

	calls := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return errors.New("HTTP 503 service unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	calls := 0
	want := errors.New("still broken")
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return want
	})
	assert.ErrorIs(t, err, want)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	err := Do(ctx, cfg, func() error {
		calls++
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoWithResult_KeepsLastResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(1), func() (int, error) {
		calls++
		return calls * 10, errors.New("nope")
	})
	assert.Error(t, err)
	assert.Equal(t, 20, got)
}

func TestDoWithResult_NilConfigUsesDefault(t *testing.T) {
	got, err := DoWithResult(context.Background(), nil, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

type declared struct{ retryable bool }

func (d declared) Error() string     { return "declared 503" }
func (d declared) IsRetryable() bool { return d.retryable }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("status 429: too many requests"), true},
		{errors.New("502 bad gateway"), true},
		{errors.New("anthropic: overloaded_error"), true},
		{errors.New("invalid api key"), false},
		{errors.New("syntax error"), false},
		{declared{retryable: false}, false},
		{declared{retryable: true}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "%v", tt.err)
	}
}

func TestDoIfRetryable_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	err := DoIfRetryable(context.Background(), fastConfig(5), func() error {
		calls++
		return errors.New("401 unauthorized")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoIfRetryable_EscalatesRepeatedErrors(t *testing.T) {
	cfg := fastConfig(10)
	cfg.MaxSameErrorType = 3

	calls := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return errors.New("HTTP 503")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated error (3 times, type=503)")
	assert.Equal(t, 3, calls)
}

func TestDoIfRetryableWithResult_Success(t *testing.T) {
	calls := 0
	got, err := DoIfRetryableWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("connection reset by peer")
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, 2, calls)
}
