// Package ai is the single doorway to language models. Every component that
// needs a model goes through Gateway, which makes the rest of the system
// testable with a scripted provider and keeps retries, timeouts, rate limits
// and cost accounting in one place.
package ai

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Provider names understood by the router.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderFake      = "fake"
)

// Default models per provider.
const (
	// ModelSonnet is the default judge/rewrite model
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cheap model used for A/B executions when configured
	ModelHaiku = "claude-3-5-haiku-20241022"

	// ModelGeminiFlash is the default Gemini model
	ModelGeminiFlash = "gemini-2.5-flash"
)

var (
	// ErrEmptyResponse is returned when a model answers with no text.
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrUnknownProvider is returned for provider names with no backend.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrBudgetExceeded is returned when the cost tracker refuses a call.
	ErrBudgetExceeded = errors.New("cost budget exceeded")
)

// Payload is what gets sent to a model.
type Payload struct {
	Content     string
	System      string
	Temperature *float64
	MaxTokens   int
}

// Temperature is a helper for building payloads.
func Temperature(t float64) *float64 { return &t }

// Response is the outcome of one gateway call. A call has failed when Err is
// set or Content is blank; callers never receive a Go error from Execute.
type Response struct {
	Content        string
	TokensUsed     int
	Cost           float64
	ProcessingTime time.Duration
	Provider       string
	Model          string
	Err            error
}

// Failed reports whether the call should be treated as a failure.
func (r *Response) Failed() bool {
	return r == nil || r.Err != nil || strings.TrimSpace(r.Content) == ""
}

// FailureReason describes why a call failed, or "" if it did not.
func (r *Response) FailureReason() string {
	switch {
	case r == nil:
		return "no response"
	case r.Err != nil:
		return r.Err.Error()
	case strings.TrimSpace(r.Content) == "":
		return ErrEmptyResponse.Error()
	}
	return ""
}

// Gateway executes a prompt against a provider/model pair.
type Gateway interface {
	Execute(ctx context.Context, provider, model string, payload Payload) *Response
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Completion is a provider's raw answer.
type Completion struct {
	Text  string
	Usage Usage
}

// Provider is one model backend (Anthropic, Gemini, fake).
type Provider interface {
	Name() string
	DefaultModel() string
	Complete(ctx context.Context, model string, payload Payload) (*Completion, error)
}

// CostTracker records usage and enforces budgets. It lives behind an
// interface so this package does not depend on the cost package.
type CostTracker interface {
	// RecordUsage records a call's tokens against runID and returns its cost in USD.
	RecordUsage(ctx context.Context, runID string, inputTokens, outputTokens int64) (float64, error)
	// CanProceed checks whether another call fits within the budget.
	CanProceed(runID string) (bool, string)
}

// RunCloser releases per-run bookkeeping once a run has finished.
type RunCloser interface {
	EndRun(runID string)
}

type ctxKey int

const (
	operationKey ctxKey = iota
	runIDKey
)

// WithOperation tags ctx with the logical operation (e.g. "quality_analysis")
// used in logs and by the fake provider to pick a canned answer.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey, op)
}

// OperationFrom returns the operation tagged on ctx, or "".
func OperationFrom(ctx context.Context) string {
	if v, ok := ctx.Value(operationKey).(string); ok {
		return v
	}
	return ""
}

// WithRunID tags ctx with the refinement or A/B run the call belongs to, so
// cost is attributed per run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFrom returns the run ID tagged on ctx, or "".
func RunIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}
