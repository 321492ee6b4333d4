package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider answers from a list of scripted results, repeating the last.
type stubProvider struct {
	mu      sync.Mutex
	name    string
	results []stubResult
	calls   int
}

type stubResult struct {
	text string
	err  error
}

func (s *stubProvider) Name() string         { return s.name }
func (s *stubProvider) DefaultModel() string { return "stub-model" }

func (s *stubProvider) Complete(ctx context.Context, model string, payload Payload) (*Completion, error) {
	s.mu.Lock()
	i := min(s.calls, len(s.results)-1)
	s.calls++
	r := s.results[i]
	s.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return &Completion{Text: r.text, Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:            2,
		InitialBackoff:        time.Millisecond,
		MaxBackoff:            2 * time.Millisecond,
		BackoffMultiplier:     2,
		Timeout:               time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      1,
		OpenTimeout:           time.Hour,
	}
}

func newStubRouter(t *testing.T, retry RetryConfig, results ...stubResult) (*Router, *stubProvider) {
	t.Helper()
	p := &stubProvider{name: "stub", results: results}
	r, err := NewRouter(&RouterConfig{Providers: []Provider{p}, Retry: retry})
	require.NoError(t, err)
	return r, p
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	r, p := newStubRouter(t, fastRetry(),
		stubResult{err: errors.New("503 service unavailable")},
		stubResult{text: "ok"})

	resp := r.Execute(context.Background(), "", "", Payload{Content: "hi"})
	require.False(t, resp.Failed(), resp.FailureReason())
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, p.callCount())
	assert.Equal(t, CircuitClosed, r.BreakerState("stub"))
}

func TestRetry_NonRetriableStopsImmediately(t *testing.T) {
	r, p := newStubRouter(t, fastRetry(), stubResult{err: errors.New("401 unauthorized: invalid x-api-key")})

	resp := r.Execute(context.Background(), "", "", Payload{Content: "hi"})
	assert.True(t, resp.Failed())
	assert.ErrorContains(t, resp.Err, "401")
	assert.Equal(t, 1, p.callCount())
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	r, p := newStubRouter(t, fastRetry(), stubResult{err: errors.New("connection reset by peer")})

	resp := r.Execute(context.Background(), "", "", Payload{Content: "hi"})
	assert.ErrorContains(t, resp.Err, "failed after 3 attempts")
	assert.Equal(t, 3, p.callCount())
}

func TestRetry_EmptyResponseIsRetried(t *testing.T) {
	r, p := newStubRouter(t, fastRetry(), stubResult{text: "  "}, stubResult{text: "second try"})

	resp := r.Execute(context.Background(), "", "", Payload{Content: "hi"})
	require.False(t, resp.Failed(), resp.FailureReason())
	assert.Equal(t, "second try", resp.Content)
	assert.Equal(t, 2, p.callCount())
}

func TestRetry_BreakerOpensDuringRetries(t *testing.T) {
	retry := fastRetry()
	retry.FailureThreshold = 2
	r, p := newStubRouter(t, retry, stubResult{err: errors.New("429 rate limit exceeded")})

	resp := r.Execute(context.Background(), "", "", Payload{Content: "hi"})
	assert.ErrorIs(t, resp.Err, ErrCircuitOpen)
	assert.Equal(t, 2, p.callCount())
	assert.Equal(t, CircuitOpen, r.BreakerState("stub"))

	// Further calls fail fast without reaching the provider
	resp = r.Execute(context.Background(), "", "", Payload{Content: "hi"})
	assert.ErrorIs(t, resp.Err, ErrCircuitOpen)
	assert.Equal(t, 2, p.callCount())
}

func TestRetry_CanceledContext(t *testing.T) {
	r, p := newStubRouter(t, fastRetry(), stubResult{err: context.Canceled})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := r.Execute(ctx, "", "", Payload{Content: "hi"})
	assert.True(t, resp.Failed())
	assert.LessOrEqual(t, p.callCount(), 1)
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 2, 10*time.Millisecond, nil)
	assert.Equal(t, CircuitClosed, cb.GetState())

	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.GetState())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.GetState())

	// A failure while probing reopens the circuit
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitHalfOpen, cb.GetState())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.GetState())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 1, time.Minute, nil)
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.GetState())
}

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{fmt.Errorf("wrapped: %w", ErrEmptyResponse), true},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("529 overloaded_error"), true},
		{errors.New("502 Bad Gateway"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("400 invalid_request_error: max_tokens too large"), false},
		{errors.New("403 permission denied"), false},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetriableError(tt.err))
		})
	}
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", CircuitClosed.String())
	assert.Equal(t, "OPEN", CircuitOpen.String())
	assert.Equal(t, "HALF_OPEN", CircuitHalfOpen.String())
	assert.Equal(t, "UNKNOWN", CircuitState(42).String())
}
