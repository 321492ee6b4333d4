package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/promptlab/refinery/internal/ai"
	"github.com/promptlab/refinery/internal/types"
)

// maxAppliedSuggestions is how many suggestions a single rewrite embeds.
const maxAppliedSuggestions = 3

var (
	rewriteFenceRegex  = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")
	rewritePreambleRex = regexp.MustCompile(`(?i)^(here is|here's) (the )?(improved|rewritten|refined) prompt:?\s*\n`)
)

// RefinerConfig configures a PromptRefiner.
type RefinerConfig struct {
	Gateway ai.Gateway
	Model   ModelConfig
	Logger  *slog.Logger
}

// PromptRefiner rewrites a prompt with suggestions applied.
type PromptRefiner struct {
	gateway ai.Gateway
	model   ModelConfig
	logger  *slog.Logger
}

// NewPromptRefiner creates a refiner.
func NewPromptRefiner(cfg *RefinerConfig) (*PromptRefiner, error) {
	if cfg == nil || cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	r := &PromptRefiner{
		gateway: cfg.Gateway,
		model:   cfg.Model,
		logger:  cfg.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.model.MaxTokens == 0 {
		r.model.MaxTokens = 4096
	}
	return r, nil
}

// Apply returns a new candidate derived from prompt with the first few
// suggestions applied. When the rewrite fails, prompt itself is returned
// unchanged so the step is a no-op.
func (r *PromptRefiner) Apply(ctx context.Context, prompt types.PromptCandidate, suggestions []types.Suggestion) types.PromptCandidate {
	if len(suggestions) == 0 {
		return prompt
	}

	ctx = ai.WithOperation(ctx, ai.OpRewrite)
	resp := r.gateway.Execute(ctx, r.model.Provider, r.model.Model, r.model.payload(buildRewritePrompt(prompt, suggestions)))
	if resp.Failed() {
		r.logger.Warn("prompt rewrite failed, keeping current prompt",
			"prompt_id", prompt.ID, "error", resp.FailureReason())
		return prompt
	}

	text := cleanRewrite(resp.Content)
	if text == "" {
		r.logger.Warn("prompt rewrite returned no usable text, keeping current prompt", "prompt_id", prompt.ID)
		return prompt
	}
	return prompt.WithContent(text)
}

// cleanRewrite strips wrapping the model sometimes adds around the prompt.
func cleanRewrite(text string) string {
	text = strings.TrimSpace(text)
	if inner, ok := ai.UnwrapPrompt(text); ok {
		text = inner
	}
	text = rewritePreambleRex.ReplaceAllString(text, "")
	if m := rewriteFenceRegex.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(text)
	for _, q := range []string{`"""`, `"`, `'`} {
		if len(text) >= 2*len(q) && strings.HasPrefix(text, q) && strings.HasSuffix(text, q) {
			text = strings.TrimSpace(text[len(q) : len(text)-len(q)])
			break
		}
	}
	return text
}

func buildRewritePrompt(prompt types.PromptCandidate, suggestions []types.Suggestion) string {
	n := len(suggestions)
	if n > maxAppliedSuggestions {
		n = maxAppliedSuggestions
	}
	var list strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&list, "%d. %s\n", i+1, suggestions[i].Description)
	}

	return fmt.Sprintf(`You are an expert prompt engineer. Rewrite the prompt between the markers below so that it applies these improvements:

%s
%s

RULES:
1. Keep the original intent and any template variables exactly as written
2. Apply every improvement listed above
3. Do not add commentary, headings or explanations about your changes

IMPORTANT: Respond with ONLY the rewritten prompt text. No preamble, no markers, no code fences.`,
		list.String(), ai.WrapPrompt(prompt.Content))
}
