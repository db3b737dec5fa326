package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

const (
	defaultAnthropicModel   = "claude-3-5-haiku-latest"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultTimeout          = 30 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = time.Second
)

// Provider is one LLM completion backend.
type Provider interface {
	// Name identifies the provider in logs and proposals.
	Name() string

	// Complete returns the raw completion for a prompt.
	Complete(ctx context.Context, prompt string) (string, error)
}

// retryableError marks transport failures, 429s, and 5xx responses.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// NewProvider builds one provider from config.
func NewProvider(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case "anthropic":
		return newAnthropicProvider(cfg)
	case "openai":
		return newOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("classify: unknown provider %q", cfg.Name)
	}
}

// Chain runs an ordered provider list behind one shared rate limiter
// and a breaker per provider. The primary is tried first; each
// fallback only sees traffic when everything before it is failing.
type Chain struct {
	providers []Provider
	breakers  []*Breaker
	limiter   *rate.Limiter
	logger    *logging.Logger
}

// NewChain wires providers from config.
func NewChain(cfg config.ClassifyConfig, logger *logging.Logger) (*Chain, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("classify: at least one provider required")
	}
	c := &Chain{
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit/60.0), cfg.Burst),
		logger:  logger,
	}
	for _, pc := range cfg.Providers {
		p, err := NewProvider(pc)
		if err != nil {
			return nil, err
		}
		c.providers = append(c.providers, p)
		c.breakers = append(c.breakers, NewBreaker(cfg.Breaker))
	}
	return c, nil
}

// NewChainFromProviders wires explicit providers, used in tests.
func NewChainFromProviders(providers []Provider, breaker config.BreakerConfig, limiter *rate.Limiter, logger *logging.Logger) *Chain {
	c := &Chain{limiter: limiter, logger: logger}
	for _, p := range providers {
		c.providers = append(c.providers, p)
		c.breakers = append(c.breakers, NewBreaker(breaker))
	}
	return c
}

// Complete tries each provider in order until one succeeds. The rate
// limiter is waited once per call, not per provider, so fallbacks don't
// double-spend the budget.
func (c *Chain) Complete(ctx context.Context, prompt string) (string, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", "", fmt.Errorf("classify: rate limiter: %w", err)
	}

	var lastErr error
	for i, p := range c.providers {
		br := c.breakers[i]
		if err := br.Allow(); err != nil {
			lastErr = err
			continue
		}
		out, err := p.Complete(ctx, prompt)
		if err != nil {
			br.Failure()
			lastErr = err
			c.logger.Warn(ctx, "classification provider failed",
				zap.String("provider", p.Name()),
				zap.String("breaker", br.State()),
				zap.Error(err))
			continue
		}
		br.Success()
		return out, p.Name(), nil
	}
	return "", "", fmt.Errorf("%w: %v", memory.ErrProviderExhausted, lastErr)
}

// BreakerStates reports each provider's breaker for status output.
func (c *Chain) BreakerStates() map[string]string {
	states := make(map[string]string, len(c.providers))
	for i, p := range c.providers {
		states[p.Name()] = c.breakers[i].State()
	}
	return states
}
