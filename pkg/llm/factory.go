package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// defaultModels are used when a descriptor names no model.
var defaultModels = map[models.LLMSubtype]string{
	models.LLMOpenAI:    "gpt-4o-mini",
	models.LLMGitHub:    "gpt-4o-mini",
	models.LLMOllama:    "llama3.1",
	models.LLMAnthropic: "claude-3-5-haiku-latest",
	models.LLMGemini:    "gemini-2.0-flash",
}

// FactoryOptions configure every provider built by NewProvider.
type FactoryOptions struct {
	Timeout time.Duration
	Breaker CircuitBreakerConfig
}

// NewProvider builds a guarded provider from an LLM descriptor.
func NewProvider(ctx context.Context, desc models.ConnectionDescriptor, fo FactoryOptions, logger *zap.Logger) (*GuardedProvider, error) {
	if desc.LLM == nil {
		return nil, fmt.Errorf("connection %q is not an llm connection", desc.Name)
	}
	cfg := desc.LLM
	model := cfg.Model
	if model == "" {
		model = defaultModels[cfg.Subtype]
	}
	opts := Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens, Timeout: fo.Timeout}
	if fo.Breaker.Threshold == 0 {
		fo.Breaker = DefaultCircuitBreakerConfig()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Subtype {
	case models.LLMOpenAI, models.LLMGitHub, models.LLMOllama:
		base := cfg.BaseURL
		if base == "" {
			base = map[models.LLMSubtype]string{
				models.LLMOpenAI: OpenAIBaseURL,
				models.LLMGitHub: GitHubBaseURL,
				models.LLMOllama: OllamaBaseURL,
			}[cfg.Subtype]
		}
		p, err = NewOpenAIProvider(OpenAIConfig{Name: desc.Name, BaseURL: base, APIKey: cfg.APIKey, Model: model, Options: opts}, logger)
	case models.LLMAnthropic:
		p, err = NewAnthropicProvider(AnthropicConfig{Name: desc.Name, BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: model, Options: opts}, logger)
	case models.LLMGemini:
		p, err = NewGeminiProvider(ctx, GeminiConfig{Name: desc.Name, BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: model, Options: opts}, logger)
	default:
		return nil, fmt.Errorf("unsupported llm subtype %q", cfg.Subtype)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %q: %w", desc.Name, err)
	}
	return Guard(p, fo.Breaker, nil, logger), nil
}
