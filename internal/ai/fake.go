package ai

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Logical operations tagged on model calls.
const (
	OpQualityAnalysis = "quality_analysis"
	OpSuggestions     = "suggestion_generation"
	OpRewrite         = "prompt_rewrite"
	OpABExecution     = "ab_execution"
)

// Delimiters around a prompt embedded in a meta-prompt. They keep the prompt
// under review visibly separate from our instructions.
const (
	PromptOpen  = "<<<PROMPT"
	PromptClose = "PROMPT>>>"
)

// WrapPrompt embeds content between the prompt delimiters.
func WrapPrompt(content string) string {
	return PromptOpen + "\n" + content + "\n" + PromptClose
}

// UnwrapPrompt returns the first delimited prompt in text, if any.
func UnwrapPrompt(text string) (string, bool) {
	start := strings.Index(text, PromptOpen)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(PromptOpen):]
	end := strings.Index(rest, PromptClose)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// FakeHandler produces the text of a fake completion.
type FakeHandler func(ctx context.Context, model string, payload Payload) (string, error)

// FakeCall records one call made to a FakeProvider.
type FakeCall struct {
	Operation string
	Model     string
	Payload   Payload
}

// FakeProvider returns deterministic answers for offline runs and tests.
type FakeProvider struct {
	mu      sync.Mutex
	handler FakeHandler
	calls   []FakeCall
}

// NewFakeProvider creates a fake provider. A nil handler uses
// DefaultFakeHandler.
func NewFakeProvider(handler FakeHandler) *FakeProvider {
	if handler == nil {
		handler = DefaultFakeHandler
	}
	return &FakeProvider{handler: handler}
}

// NewFakeGateway builds a Router over a single FakeProvider with retries,
// breaker and throttling disabled.
func NewFakeGateway(handler FakeHandler) (*Router, *FakeProvider) {
	fake := NewFakeProvider(handler)
	router, err := NewRouter(&RouterConfig{
		Providers: []Provider{fake},
		Retry: RetryConfig{
			MaxRetries:        0,
			Timeout:           5 * time.Second,
			BackoffMultiplier: 2.0,
		},
	})
	if err != nil {
		// Only reachable with zero providers
		panic(err)
	}
	return router, fake
}

// Name implements Provider
func (f *FakeProvider) Name() string { return ProviderFake }

// DefaultModel implements Provider
func (f *FakeProvider) DefaultModel() string { return "fake-model" }

// Complete implements Provider
func (f *FakeProvider) Complete(ctx context.Context, model string, payload Payload) (*Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{Operation: OperationFrom(ctx), Model: model, Payload: payload})
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := f.handler(ctx, model, payload)
	if err != nil {
		return nil, err
	}
	return &Completion{
		Text: text,
		Usage: Usage{
			InputTokens:  int64(countTokens(payload.Content)),
			OutputTokens: int64(countTokens(text)),
		},
	}, nil
}

// Calls returns a copy of every call made so far.
func (f *FakeProvider) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

// CallCount returns how many calls were tagged with operation op.
// An empty op counts every call.
func (f *FakeProvider) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op == "" {
		return len(f.calls)
	}
	n := 0
	for _, c := range f.calls {
		if c.Operation == op {
			n++
		}
	}
	return n
}

func countTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return len(text)/4 + 1
}

// DefaultFakeHandler answers each operation with a plausible canned
// response. Judge scores grow with the length of the prompt under review so
// that offline refinement shows movement.
func DefaultFakeHandler(ctx context.Context, model string, payload Payload) (string, error) {
	switch OperationFrom(ctx) {
	case OpQualityAnalysis:
		prompt, _ := UnwrapPrompt(payload.Content)
		words := float64(len(strings.Fields(prompt)))
		overall := math.Min(0.95, 0.35+words/200)
		return fmt.Sprintf(`{"overall": %.2f, "clarity": %.2f, "specificity": %.2f, "context_usage": %.2f, "task_alignment": %.2f, "safety": 0.9, "issues": ["offline judge"], "suggestions": ["add detail"]}`,
			overall, overall, math.Max(0, overall-0.05), math.Max(0, overall-0.1), overall), nil
	case OpSuggestions:
		return `[
  {"type": "specificity", "description": "State the exact output format and length expected.", "priority": "high"},
  {"type": "clarity", "description": "Split the instructions into numbered steps.", "priority": "medium"},
  {"type": "context", "description": "Describe the audience and the purpose of the answer.", "priority": "medium"}
]`, nil
	case OpRewrite:
		prompt, ok := UnwrapPrompt(payload.Content)
		if !ok {
			prompt = payload.Content
		}
		return prompt + "\n\nRespond in numbered steps. State the output format explicitly and keep the audience and purpose in mind.", nil
	default:
		// Echo the tail of the request so lexical overlap scoring has something to work with
		fields := strings.Fields(payload.Content)
		if len(fields) > 40 {
			fields = fields[len(fields)-40:]
		}
		return "Answer: " + strings.Join(fields, " "), nil
	}
}
