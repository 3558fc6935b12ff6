package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// CallObserver is told about every provider call the pool makes.
type CallObserver func(provider string, elapsed time.Duration, err error)

type snapshot struct {
	providers   map[string]Provider
	defaultName string
}

// Pool holds the registered providers. Registration is copy-on-write, so
// lookups never take a lock.
type Pool struct {
	mu       sync.Mutex // serializes writers
	state    atomic.Pointer[snapshot]
	timeout  time.Duration
	observer CallObserver
	logger   *zap.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithTimeout bounds every provider call made through the pool.
func WithTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithObserver installs a call observer, typically metrics.
func WithObserver(o CallObserver) PoolOption {
	return func(p *Pool) { p.observer = o }
}

// NewPool creates an empty pool.
func NewPool(logger *zap.Logger, opts ...PoolOption) *Pool {
	p := &Pool{timeout: DefaultTimeout, logger: logger.Named("provider-pool")}
	p.state.Store(&snapshot{providers: map[string]Provider{}})
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) load() *snapshot { return p.state.Load() }

// update applies fn to a copy of the current state and publishes it.
func (p *Pool) update(fn func(s *snapshot) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.load()
	next := &snapshot{providers: make(map[string]Provider, len(cur.providers)+1), defaultName: cur.defaultName}
	for k, v := range cur.providers {
		next.providers[k] = v
	}
	if err := fn(next); err != nil {
		return err
	}
	p.state.Store(next)
	return nil
}

// Register adds or replaces a provider. The first registered provider
// becomes the default.
func (p *Pool) Register(name string, provider Provider) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("provider name is required")
	}
	if provider == nil {
		return fmt.Errorf("provider %q is nil", name)
	}
	return p.update(func(s *snapshot) error {
		s.providers[name] = provider
		if s.defaultName == "" {
			s.defaultName = name
		}
		return nil
	})
}

// Remove drops a provider. Removing the default clears it.
func (p *Pool) Remove(name string) {
	_ = p.update(func(s *snapshot) error {
		delete(s.providers, name)
		if s.defaultName == name {
			s.defaultName = ""
		}
		return nil
	})
}

// SetDefault selects the default provider.
func (p *Pool) SetDefault(name string) error {
	return p.update(func(s *snapshot) error {
		if _, ok := s.providers[name]; !ok {
			return fmt.Errorf("%w: %q", ErrProviderUnavailable, name)
		}
		s.defaultName = name
		return nil
	})
}

func (p *Pool) Default() string { return p.load().defaultName }

// Names returns the registered provider names, sorted.
func (p *Pool) Names() []string {
	s := p.load()
	names := make([]string, 0, len(s.providers))
	for n := range s.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get resolves a provider; an empty name means the default.
func (p *Pool) Get(name string) (Provider, error) {
	s := p.load()
	if name == "" {
		name = s.defaultName
	}
	if name == "" {
		return nil, fmt.Errorf("%w: no default provider", ErrProviderUnavailable)
	}
	provider, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderUnavailable, name)
	}
	return provider, nil
}

func (p *Pool) call(ctx context.Context, provider Provider, prompt string) (res GenerateResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrorTypeUnknown, fmt.Sprintf("provider panicked: %v", r), false, nil)
		}
		if p.observer != nil {
			p.observer(provider.Name(), time.Since(start), err)
		}
	}()
	return provider.Generate(ctx, prompt)
}

// Generate calls one provider. An empty name resolves to the default. The
// returned query names the provider by its registered name.
func (p *Pool) Generate(ctx context.Context, prompt, name string) (models.GeneratedQuery, error) {
	if name == "" {
		name = p.Default()
	}
	provider, err := p.Get(name)
	if err != nil {
		return models.GeneratedQuery{}, err
	}
	res, err := p.call(ctx, provider, prompt)
	if err != nil {
		return models.GeneratedQuery{}, err
	}
	return models.GeneratedQuery{Text: res.Text, Provider: name, TokensUsed: res.TokensUsed}, nil
}

// FailoverOrder is the default try order: the default provider first, then
// the rest sorted by name, without exclude.
func (p *Pool) FailoverOrder(exclude string) []string {
	s := p.load()
	var order []string
	if s.defaultName != "" && s.defaultName != exclude {
		order = append(order, s.defaultName)
	}
	for _, n := range p.Names() {
		if n != exclude && n != s.defaultName {
			order = append(order, n)
		}
	}
	return order
}

// GenerateWithFailover tries providers in order and returns the first
// success. With no order, FailoverOrder(exclude) is used. Only when every
// candidate fails is an *AllProvidersFailedError returned.
func (p *Pool) GenerateWithFailover(ctx context.Context, prompt string, order []string, exclude string) (models.GeneratedQuery, error) {
	if len(order) == 0 {
		order = p.FailoverOrder(exclude)
	}

	failed := &AllProvidersFailedError{}
	seen := map[string]bool{}
	for _, name := range order {
		if name == exclude || seen[name] {
			continue
		}
		seen[name] = true
		if err := ctx.Err(); err != nil {
			return models.GeneratedQuery{}, err
		}

		q, err := p.Generate(ctx, prompt, name)
		if err == nil {
			if len(failed.Attempts) > 0 {
				p.logger.Info("Failover succeeded",
					zap.String("provider", name),
					zap.Int("failed_attempts", len(failed.Attempts)))
			}
			return q, nil
		}
		p.logger.Warn("Provider failed, trying next", zap.String("provider", name), zap.Error(err))
		failed.Attempts = append(failed.Attempts, ProviderAttempt{Provider: name, Err: err})
	}
	return models.GeneratedQuery{}, failed
}

// HealthCheck probes one provider. Unknown names are unhealthy.
func (p *Pool) HealthCheck(ctx context.Context, name string) bool {
	provider, err := p.Get(name)
	if err != nil {
		return false
	}
	return provider.HealthCheck(ctx)
}

// HealthReport probes every provider concurrently.
func (p *Pool) HealthReport(ctx context.Context) map[string]bool {
	s := p.load()
	var mu sync.Mutex
	report := make(map[string]bool, len(s.providers))

	g, gctx := errgroup.WithContext(ctx)
	for name, provider := range s.providers {
		g.Go(func() error {
			ok := provider.HealthCheck(gctx)
			mu.Lock()
			report[name] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// ListModels lists the models a provider offers.
func (p *Pool) ListModels(ctx context.Context, name string) ([]string, error) {
	provider, err := p.Get(name)
	if err != nil {
		return nil, err
	}
	return provider.ListModels(ctx)
}

// SetModel switches the model of a provider.
func (p *Pool) SetModel(name, model string) error {
	if strings.TrimSpace(model) == "" {
		return errors.New("model is required")
	}
	provider, err := p.Get(name)
	if err != nil {
		return err
	}
	provider.SetModel(model)
	return nil
}
