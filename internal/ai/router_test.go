package ai

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTracker struct {
	mu       sync.Mutex
	allow    bool
	recorded map[string]int64
}

func (s *stubTracker) RecordUsage(ctx context.Context, runID string, in, out int64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recorded == nil {
		s.recorded = make(map[string]int64)
	}
	s.recorded[runID] += in + out
	return 0.25, nil
}

func (s *stubTracker) CanProceed(runID string) (bool, string) {
	if s.allow {
		return true, ""
	}
	return false, "hourly token budget exhausted"
}

func TestNewRouter_Validation(t *testing.T) {
	_, err := NewRouter(nil)
	assert.Error(t, err)

	_, err = NewRouter(&RouterConfig{})
	assert.ErrorContains(t, err, "at least one provider")

	a := &stubProvider{name: "stub", results: []stubResult{{text: "a"}}}
	b := &stubProvider{name: "STUB", results: []stubResult{{text: "b"}}}
	_, err = NewRouter(&RouterConfig{Providers: []Provider{a, b}})
	assert.ErrorContains(t, err, "duplicate provider")

	_, err = NewRouter(&RouterConfig{Providers: []Provider{a}, DefaultProvider: "gemini"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRouter_DefaultsAndNames(t *testing.T) {
	fake := NewFakeProvider(nil)
	stub := &stubProvider{name: "stub", results: []stubResult{{text: "from stub"}}}
	r, err := NewRouter(&RouterConfig{Providers: []Provider{stub, fake}, Retry: fastRetry()})
	require.NoError(t, err)

	assert.Equal(t, "stub", r.DefaultProvider())
	assert.Equal(t, []string{"fake", "stub"}, r.ProviderNames())

	resp := r.Execute(context.Background(), "", "", Payload{Content: "hi"})
	require.False(t, resp.Failed())
	assert.Equal(t, "from stub", resp.Content)
	assert.Equal(t, "stub-model", resp.Model)
	assert.Equal(t, 15, resp.TokensUsed)

	resp = r.Execute(WithOperation(context.Background(), OpABExecution), " FAKE ", "custom", Payload{Content: "one two"})
	require.False(t, resp.Failed())
	assert.Equal(t, "fake", resp.Provider)
	assert.Equal(t, "custom", resp.Model)
	assert.Equal(t, "Answer: one two", resp.Content)
	assert.Equal(t, "custom", fake.Calls()[0].Model)
}

func TestRouter_UnknownProvider(t *testing.T) {
	r, p := newStubRouter(t, fastRetry(), stubResult{text: "x"})

	resp := r.Execute(context.Background(), "openai", "", Payload{Content: "hi"})
	require.NotNil(t, resp)
	assert.ErrorIs(t, resp.Err, ErrUnknownProvider)
	assert.Zero(t, p.callCount())
}

func TestRouter_CostTracking(t *testing.T) {
	tracker := &stubTracker{allow: true}
	p := &stubProvider{name: "stub", results: []stubResult{{text: "ok"}}}
	r, err := NewRouter(&RouterConfig{Providers: []Provider{p}, Retry: fastRetry(), CostTracker: tracker})
	require.NoError(t, err)

	ctx := WithRunID(context.Background(), "run-7")
	resp := r.Execute(ctx, "", "", Payload{Content: "hi"})
	require.False(t, resp.Failed())
	assert.Equal(t, 0.25, resp.Cost)
	assert.Equal(t, int64(15), tracker.recorded["run-7"])

	tracker.allow = false
	resp = r.Execute(ctx, "", "", Payload{Content: "hi"})
	assert.ErrorIs(t, resp.Err, ErrBudgetExceeded)
	assert.ErrorContains(t, resp.Err, "hourly token budget exhausted")
	assert.Equal(t, 1, p.callCount())
}

// slowProvider tracks how many calls are in flight at once.
type slowProvider struct {
	inFlight, peak atomic.Int32
}

func (s *slowProvider) Name() string         { return "slow" }
func (s *slowProvider) DefaultModel() string { return "slow-model" }

func (s *slowProvider) Complete(ctx context.Context, model string, payload Payload) (*Completion, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return &Completion{Text: "done"}, nil
}

func TestRouter_ConcurrencyLimit(t *testing.T) {
	retry := fastRetry()
	retry.MaxConcurrentCalls = 2
	p := &slowProvider{}
	r, err := NewRouter(&RouterConfig{Providers: []Provider{p}, Retry: retry})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := r.Execute(context.Background(), "", "", Payload{Content: "hi"})
			assert.False(t, resp.Failed())
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, p.peak.Load(), int32(2))
}

func TestResponse_Failed(t *testing.T) {
	var nilResp *Response
	assert.True(t, nilResp.Failed())
	assert.Equal(t, "no response", nilResp.FailureReason())

	assert.True(t, (&Response{Content: " \n"}).Failed())
	assert.Equal(t, ErrEmptyResponse.Error(), (&Response{}).FailureReason())

	ok := &Response{Content: "fine"}
	assert.False(t, ok.Failed())
	assert.Empty(t, ok.FailureReason())
}

func TestPromptWrapping(t *testing.T) {
	wrapped := "Judge this:\n" + WrapPrompt("  Summarize the report.  ") + "\nReturn JSON."
	got, ok := UnwrapPrompt(wrapped)
	require.True(t, ok)
	assert.Equal(t, "Summarize the report.", got)

	_, ok = UnwrapPrompt("no delimiters")
	assert.False(t, ok)
	_, ok = UnwrapPrompt(PromptOpen + " unterminated")
	assert.False(t, ok)
}

func TestContextTags(t *testing.T) {
	ctx := WithRunID(WithOperation(context.Background(), OpRewrite), "r1")
	assert.Equal(t, OpRewrite, OperationFrom(ctx))
	assert.Equal(t, "r1", RunIDFrom(ctx))
	assert.Empty(t, OperationFrom(context.Background()))
}
