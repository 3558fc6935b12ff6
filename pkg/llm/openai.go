package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Base URLs for the OpenAI-compatible subtypes.
const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	GitHubBaseURL = "https://models.inference.ai.azure.com"
	OllamaBaseURL = "http://localhost:11434/v1"
)

const systemMessage = "You translate questions into database queries. Follow the rules in the prompt exactly."

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	Name    string
	BaseURL string
	APIKey  string // optional for local endpoints
	Model   string
	Options Options
}

// OpenAIProvider talks to any OpenAI-compatible chat completions API. It
// serves the openai, github and ollama subtypes.
type OpenAIProvider struct {
	name    string
	baseURL string
	client  *openai.Client
	opts    Options
	logger  *zap.Logger

	mu    sync.RWMutex
	model string
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &OpenAIProvider{
		name:    cfg.Name,
		baseURL: clientConfig.BaseURL,
		client:  openai.NewClientWithConfig(clientConfig),
		opts:    cfg.Options.withDefaults(),
		model:   cfg.Model,
		logger:  logger.Named("openai"),
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Model() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

func (p *OpenAIProvider) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

// Generate runs one chat completion.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (GenerateResult, error) {
	model := p.Model()
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	p.logger.Debug("LLM request",
		zap.String("model", model),
		zap.Int("prompt_len", len(prompt)))

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: p.opts.Temperature,
		MaxTokens:   p.opts.MaxTokens,
	})
	elapsed := time.Since(start)
	if err != nil {
		p.logger.Debug("LLM request failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		e := ClassifyError(err)
		e.Provider, e.Model, e.Endpoint = p.name, model, p.baseURL
		return GenerateResult{}, e
	}
	if len(resp.Choices) == 0 {
		return GenerateResult{}, NewError(ErrorTypeUnknown, "no choices in response", true, nil)
	}

	p.logger.Debug("LLM request completed",
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", elapsed))

	return GenerateResult{
		Text:         resp.Choices[0].Message.Content,
		TokensUsed:   resp.Usage.TotalTokens,
		Model:        model,
		ResponseTime: elapsed,
	}, nil
}

// HealthCheck lists models as a cheap authenticated probe.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := p.client.ListModels(ctx)
	if err != nil {
		p.logger.Debug("Health check failed", zap.String("provider", p.name), zap.Error(err))
	}
	return err == nil
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, ClassifyError(err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}
