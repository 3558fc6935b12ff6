package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig configures a Gemini provider.
type GeminiConfig struct {
	Name    string
	BaseURL string // optional
	APIKey  string
	Model   string
	Options Options
}

// GeminiProvider calls the Gemini API through the genai SDK.
type GeminiProvider struct {
	name   string
	client *genai.Client
	opts   Options
	logger *zap.Logger

	mu    sync.RWMutex
	model string
}

var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientCfg := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiProvider{
		name:   cfg.Name,
		client: client,
		opts:   cfg.Options.withDefaults(),
		model:  cfg.Model,
		logger: logger.Named("gemini"),
	}, nil
}

func (p *GeminiProvider) Name() string { return p.name }

func (p *GeminiProvider) Model() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

func (p *GeminiProvider) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

func (p *GeminiProvider) generate(ctx context.Context, prompt string, maxTokens int) (*genai.GenerateContentResponse, error) {
	return p.client.Models.GenerateContent(ctx, p.Model(), genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemMessage, genai.RoleUser),
		Temperature:       genai.Ptr(p.opts.Temperature),
		MaxOutputTokens:   int32(maxTokens),
	})
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (GenerateResult, error) {
	model := p.Model()
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.generate(ctx, prompt, p.opts.MaxTokens)
	elapsed := time.Since(start)
	if err != nil {
		p.logger.Debug("LLM request failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		e := ClassifyError(err)
		e.Provider, e.Model = p.name, model
		return GenerateResult{}, e
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return GenerateResult{
		Text:         resp.Text(),
		TokensUsed:   tokens,
		Model:        model,
		ResponseTime: elapsed,
	}, nil
}

func (p *GeminiProvider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := p.generate(ctx, "ping", 1)
	if err != nil {
		p.logger.Debug("Health check failed", zap.String("provider", p.name), zap.Error(err))
	}
	return err == nil
}

func (p *GeminiProvider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx, nil)
	if err != nil {
		return nil, ClassifyError(err)
	}
	ids := make([]string, 0, len(page.Items))
	for _, m := range page.Items {
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	sort.Strings(ids)
	return ids, nil
}
