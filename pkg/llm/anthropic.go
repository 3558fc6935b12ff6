package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// anthropicModels is reported by ListModels; the configured model is added
// when it is not among them.
var anthropicModels = []string{
	"claude-3-5-haiku-latest",
	"claude-3-7-sonnet-latest",
	"claude-opus-4-0",
	"claude-sonnet-4-0",
}

// AnthropicConfig configures an Anthropic provider.
type AnthropicConfig struct {
	Name    string
	BaseURL string // optional
	APIKey  string
	Model   string
	Options Options
}

// AnthropicProvider calls the Anthropic messages API.
type AnthropicProvider struct {
	name   string
	client *anthropic.Client
	opts   Options
	logger *zap.Logger

	mu    sync.RWMutex
	model string
}

var _ Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig, logger *zap.Logger) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	var clientOpts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}
	return &AnthropicProvider{
		name:   cfg.Name,
		client: anthropic.NewClient(cfg.APIKey, clientOpts...),
		opts:   cfg.Options.withDefaults(),
		model:  cfg.Model,
		logger: logger.Named("anthropic"),
	}, nil
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) Model() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

func (p *AnthropicProvider) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

func (p *AnthropicProvider) send(ctx context.Context, prompt string, maxTokens int) (anthropic.MessagesResponse, error) {
	temperature := p.opts.Temperature
	return p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(p.Model()),
		MaxTokens:   maxTokens,
		System:      systemMessage,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
}

func responseText(resp anthropic.MessagesResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			b.WriteString(*block.Text)
		}
	}
	return b.String()
}

func (p *AnthropicProvider) Generate(ctx context.Context, prompt string) (GenerateResult, error) {
	model := p.Model()
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.send(ctx, prompt, p.opts.MaxTokens)
	elapsed := time.Since(start)
	if err != nil {
		p.logger.Debug("LLM request failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		e := ClassifyError(err)
		e.Provider, e.Model = p.name, model
		return GenerateResult{}, e
	}

	return GenerateResult{
		Text:         responseText(resp),
		TokensUsed:   resp.Usage.InputTokens + resp.Usage.OutputTokens,
		Model:        model,
		ResponseTime: elapsed,
	}, nil
}

// HealthCheck sends a one-token message.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := p.send(ctx, "ping", 1)
	if err != nil {
		p.logger.Debug("Health check failed", zap.String("provider", p.name), zap.Error(err))
	}
	return err == nil
}

func (p *AnthropicProvider) ListModels(_ context.Context) ([]string, error) {
	models := append([]string(nil), anthropicModels...)
	current := p.Model()
	for _, m := range models {
		if m == current {
			return models, nil
		}
	}
	return append(models, current), nil
}
