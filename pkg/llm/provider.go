// Package llm holds the LLM provider abstraction, its implementations and
// the provider pool used by the query orchestrator.
package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/logging"
	"github.com/ekaya-inc/insightpilot/pkg/retry"
)

// Generation defaults shared by every provider.
const (
	DefaultTemperature float32 = 0.1
	DefaultMaxTokens           = 1000
	DefaultTimeout             = 180 * time.Second
)

// GenerateResult is the raw output of one provider call.
type GenerateResult struct {
	Text         string
	TokensUsed   int
	Model        string
	ResponseTime time.Duration
}

// Provider is the capability interface every LLM backend implements.
type Provider interface {
	Name() string
	// HealthCheck performs a live probe. Results are never cached.
	HealthCheck(ctx context.Context) bool
	Generate(ctx context.Context, prompt string) (GenerateResult, error)
	ListModels(ctx context.Context) ([]string, error)
	Model() string
	SetModel(model string)
}

// Options are the generation parameters of a provider.
type Options struct {
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultOptions returns temperature 0.1, 1000 tokens, 180s.
func DefaultOptions() Options {
	return Options{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens, Timeout: DefaultTimeout}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Temperature <= 0 {
		o.Temperature = d.Temperature
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = d.MaxTokens
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	return o
}

// GuardedProvider wraps a Provider with a circuit breaker and transient
// retry. Generate errors are always classified *Error values.
type GuardedProvider struct {
	Provider
	breaker  *CircuitBreaker
	retryCfg *retry.Config
	logger   *zap.Logger
}

// Guard wraps p. A nil retryCfg uses retry.ProviderConfig.
func Guard(p Provider, breaker CircuitBreakerConfig, retryCfg *retry.Config, logger *zap.Logger) *GuardedProvider {
	if retryCfg == nil {
		retryCfg = retry.ProviderConfig()
	}
	return &GuardedProvider{
		Provider: p,
		breaker:  NewCircuitBreaker(p.Name(), breaker),
		retryCfg: retryCfg,
		logger:   logger.Named("provider").With(zap.String("provider", p.Name())),
	}
}

// Breaker exposes the wrapped provider's circuit breaker.
func (g *GuardedProvider) Breaker() *CircuitBreaker {
	return g.breaker
}

func (g *GuardedProvider) Generate(ctx context.Context, prompt string) (GenerateResult, error) {
	if err := g.breaker.Allow(); err != nil {
		g.logger.Warn("Provider call refused by circuit breaker")
		return GenerateResult{}, err
	}

	res, err := retry.DoIfRetryableWithResult(ctx, g.retryCfg, func() (GenerateResult, error) {
		r, err := g.Provider.Generate(ctx, prompt)
		if err != nil {
			classified := ClassifyError(err)
			if classified.Provider == "" {
				classified.Provider = g.Name()
			}
			if classified.Model == "" {
				classified.Model = g.Model()
			}
			return r, classified
		}
		return r, nil
	})
	if err != nil {
		g.breaker.RecordFailure()
		g.logger.Warn("Provider call failed",
			zap.String("error", logging.SanitizeError(err)),
			zap.String("circuit", g.breaker.State().String()))
		return GenerateResult{}, ClassifyError(err)
	}
	g.breaker.RecordSuccess()
	return res, nil
}

var _ Provider = (*GuardedProvider)(nil)
