package ai

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Router is the production Gateway. It dispatches each call to a named
// Provider and wraps it with timeout, retry, circuit breaking, concurrency
// limiting, rate limiting and cost accounting.
type Router struct {
	providers       map[string]Provider
	defaultProvider string
	retry           RetryConfig
	breakers        map[string]*CircuitBreaker
	concurrencySem  *semaphore.Weighted
	limiter         *rate.Limiter
	costTracker     CostTracker
	logger          *slog.Logger
}

// Compile-time check that Router implements Gateway
var _ Gateway = (*Router)(nil)

// RouterConfig holds router configuration
type RouterConfig struct {
	Providers       []Provider
	DefaultProvider string      // Provider used when a call names none (default: first provider)
	Retry           RetryConfig // Uses defaults if MaxRetries and Timeout are both zero
	CostTracker     CostTracker // Optional
	Logger          *slog.Logger
}

// NewRouter creates a router over the given providers.
func NewRouter(cfg *RouterConfig) (*Router, error) {
	if cfg == nil || len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.Timeout == 0 {
		retry = DefaultRetryConfig()
	}
	if retry.BackoffMultiplier <= 0 {
		retry.BackoffMultiplier = 2.0
	}

	r := &Router{
		providers:   make(map[string]Provider, len(cfg.Providers)),
		retry:       retry,
		breakers:    make(map[string]*CircuitBreaker),
		costTracker: cfg.CostTracker,
		logger:      logger,
	}

	for _, p := range cfg.Providers {
		name := strings.ToLower(p.Name())
		if _, dup := r.providers[name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", name)
		}
		r.providers[name] = p
		if retry.CircuitBreakerEnabled {
			r.breakers[name] = NewCircuitBreaker(name, retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout, logger)
		}
	}

	r.defaultProvider = strings.ToLower(cfg.DefaultProvider)
	if r.defaultProvider == "" {
		r.defaultProvider = strings.ToLower(cfg.Providers[0].Name())
	}
	if _, ok := r.providers[r.defaultProvider]; !ok {
		return nil, fmt.Errorf("%w: default provider %q is not registered", ErrUnknownProvider, r.defaultProvider)
	}

	if retry.MaxConcurrentCalls > 0 {
		r.concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	if retry.RequestsPerSecond > 0 {
		burst := retry.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(retry.RequestsPerSecond), burst)
	}

	logger.Debug("model router initialized",
		"providers", r.ProviderNames(),
		"default", r.defaultProvider,
		"max_concurrent", retry.MaxConcurrentCalls,
		"rps", retry.RequestsPerSecond)

	return r, nil
}

// ProviderNames lists registered providers in sorted order.
func (r *Router) ProviderNames() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProvider returns the provider used when a call names none.
func (r *Router) DefaultProvider() string {
	return r.defaultProvider
}

// BreakerState returns the circuit state for a provider.
func (r *Router) BreakerState(provider string) CircuitState {
	if b := r.breakers[strings.ToLower(provider)]; b != nil {
		return b.GetState()
	}
	return CircuitClosed
}

// Execute implements Gateway. It never returns a nil Response and never
// panics on provider failure; errors are carried in Response.Err.
func (r *Router) Execute(ctx context.Context, provider, model string, payload Payload) *Response {
	start := time.Now()
	operation := OperationFrom(ctx)
	if operation == "" {
		operation = "execute"
	}
	runID := RunIDFrom(ctx)

	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		name = r.defaultProvider
	}
	p, ok := r.providers[name]
	if !ok {
		return &Response{
			Provider: name,
			Model:    model,
			Err:      fmt.Errorf("%w: %q", ErrUnknownProvider, provider),
		}
	}
	if model == "" {
		model = p.DefaultModel()
	}

	resp := &Response{Provider: name, Model: model}

	if r.costTracker != nil {
		if ok, reason := r.costTracker.CanProceed(runID); !ok {
			resp.Err = fmt.Errorf("%w: %s", ErrBudgetExceeded, reason)
			resp.ProcessingTime = time.Since(start)
			r.logger.Warn("model call refused by cost budget",
				"operation", operation, "run_id", runID, "reason", reason)
			return resp
		}
	}

	var completion *Completion
	err := r.retryWithBackoff(ctx, name, operation, func(attemptCtx context.Context) error {
		c, apiErr := p.Complete(attemptCtx, model, payload)
		if apiErr != nil {
			return apiErr
		}
		if c == nil || strings.TrimSpace(c.Text) == "" {
			return ErrEmptyResponse
		}
		completion = c
		return nil
	})
	resp.ProcessingTime = time.Since(start)

	if err != nil {
		resp.Err = fmt.Errorf("%s call failed: %w", name, err)
		r.logger.Warn("model call failed",
			"provider", name,
			"model", model,
			"operation", operation,
			"duration", resp.ProcessingTime,
			"error", err)
		return resp
	}

	resp.Content = completion.Text
	resp.TokensUsed = int(completion.Usage.Total())

	if r.costTracker != nil {
		callCost, costErr := r.costTracker.RecordUsage(ctx, runID, completion.Usage.InputTokens, completion.Usage.OutputTokens)
		if costErr != nil {
			r.logger.Warn("failed to record model usage", "run_id", runID, "error", costErr)
		}
		resp.Cost = callCost
	}

	r.logger.Debug("model call",
		"provider", name,
		"model", model,
		"operation", operation,
		"input_tokens", completion.Usage.InputTokens,
		"output_tokens", completion.Usage.OutputTokens,
		"duration", resp.ProcessingTime)

	return resp
}
