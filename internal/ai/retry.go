package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// RetryConfig holds retry configuration for model calls
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retries (default: 2)
	InitialBackoff    time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 8s)
	BackoffMultiplier float64       // Backoff multiplier (default: 2.0)
	Timeout           time.Duration // Per-attempt timeout (default: 45s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          // Enable circuit breaker (default: true)
	FailureThreshold      int           // Failures before opening circuit (default: 5)
	SuccessThreshold      int           // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 30s)

	// MaxConcurrentCalls caps in-flight model calls across the process (0 = unlimited)
	MaxConcurrentCalls int

	// RequestsPerSecond throttles calls with a token bucket (0 = unlimited)
	RequestsPerSecond float64
	Burst             int
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            2,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            8 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               45 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		MaxConcurrentCalls:    8,
		RequestsPerSecond:     5,
		Burst:                 5,
	}
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, block requests (fail fast)
	CircuitHalfOpen                     // Testing recovery, allow limited requests
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops hammering a provider that keeps failing. One breaker
// exists per provider.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	logger           *slog.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(name string, failureThreshold, successThreshold int, openTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		name:             name,
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		logger:           logger,
	}
}

// Allow returns ErrCircuitOpen while the circuit is open and the open
// timeout has not elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure while probing reopens the circuit
		cb.transition(CircuitOpen)
	}
}

// GetState returns the current state (for testing/monitoring)
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition must be called with the lock held
func (cb *CircuitBreaker) transition(next CircuitState) {
	prev := cb.state
	cb.state = next
	cb.successCount = 0
	if next == CircuitClosed {
		cb.failureCount = 0
	}
	cb.logger.Info("circuit breaker state transition",
		"provider", cb.name,
		"from", prev.String(),
		"to", next.String(),
		"failures", cb.failureCount)
}

// retryWithBackoff executes fn with a per-attempt timeout, exponential
// backoff between retriable failures, the provider's circuit breaker, the
// global concurrency limit and the rate limiter.
func (r *Router) retryWithBackoff(ctx context.Context, provider, operation string, fn func(context.Context) error) error {
	if r.concurrencySem != nil {
		if err := r.concurrencySem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
		}
		defer r.concurrencySem.Release(1)
	}

	breaker := r.breakers[provider]
	var lastErr error
	backoff := r.retry.InitialBackoff

	for attempt := 0; attempt <= r.retry.MaxRetries; attempt++ {
		if breaker != nil {
			if err := breaker.Allow(); err != nil {
				r.logger.Warn("model call blocked by circuit breaker",
					"provider", provider, "operation", operation)
				return fmt.Errorf("%s failed: %w", operation, err)
			}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s failed waiting for rate limiter: %w", operation, err)
			}
		}

		attemptCtx := ctx
		cancel := func() {}
		if r.retry.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.retry.Timeout)
		}
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			if attempt > 0 {
				r.logger.Info("model call succeeded after retries",
					"provider", provider, "operation", operation, "retries", attempt)
			}
			return nil
		}

		lastErr = err

		// Auth failures and bad requests should not trip the breaker
		if breaker != nil && isRetriableError(err) {
			breaker.RecordFailure()
		}

		if !isRetriableError(err) {
			r.logger.Warn("model call failed with non-retriable error",
				"provider", provider, "operation", operation, "error", err)
			return err
		}

		if attempt == r.retry.MaxRetries {
			break
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: context canceled: %w", operation, ctx.Err())
		}

		r.logger.Info("model call failed, retrying",
			"provider", provider,
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", r.retry.MaxRetries+1,
			"backoff", backoff,
			"error", err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * r.retry.BackoffMultiplier)
			if backoff > r.retry.MaxBackoff {
				backoff = r.retry.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("%s failed: context canceled during backoff: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, r.retry.MaxRetries+1, lastErr)
}

// isRetriableError determines if an error is retriable (transient)
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyResponse) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// Rate limits (429) are retriable
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return true
	}

	// Server errors (5xx) are retriable
	for _, s := range []string{"500", "502", "503", "504", "529", "overloaded",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout"} {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	// Network/connection errors are retriable
	for _, s := range []string{"connection refused", "connection reset", "timeout",
		"temporary failure", "network", "eof"} {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	// 4xx client errors (except rate limits) and unknown errors are not retried
	return false
}
