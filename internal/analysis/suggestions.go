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

// Batch bounds for a suggestion round.
const (
	MinSuggestions = 3
	MaxSuggestions = 5
)

// SuggestionSink persists suggestion batches. storage.Recorder satisfies it.
type SuggestionSink interface {
	SaveSuggestions(ctx context.Context, promptID string, suggestions []types.Suggestion)
}

// FallbackSuggestions is returned when the model's answer cannot be used at all.
func FallbackSuggestions() []types.Suggestion {
	return []types.Suggestion{
		{
			Type:        "specificity",
			Description: "Add specific details about the expected output format, length and level of detail.",
			Priority:    types.PriorityHigh,
			ImpactScore: 0.7,
		},
		{
			Type:        "clarity",
			Description: "Rephrase ambiguous instructions and break the task into clear, ordered steps.",
			Priority:    types.PriorityMedium,
			ImpactScore: 0.6,
		},
		{
			Type:        "context",
			Description: "Provide background on the audience, purpose and constraints of the task.",
			Priority:    types.PriorityMedium,
			ImpactScore: 0.5,
		},
	}
}

// GeneratorConfig configures a SuggestionGenerator.
type GeneratorConfig struct {
	Gateway ai.Gateway
	Sink    SuggestionSink // Optional
	Model   ModelConfig
	Logger  *slog.Logger
}

// SuggestionGenerator asks the model for a ranked batch of improvements.
type SuggestionGenerator struct {
	gateway ai.Gateway
	sink    SuggestionSink
	model   ModelConfig
	logger  *slog.Logger
}

// NewSuggestionGenerator creates a generator.
func NewSuggestionGenerator(cfg *GeneratorConfig) (*SuggestionGenerator, error) {
	if cfg == nil || cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	g := &SuggestionGenerator{
		gateway: cfg.Gateway,
		sink:    cfg.Sink,
		model:   cfg.Model,
		logger:  cfg.Logger,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.model.MaxTokens == 0 {
		g.model.MaxTokens = 1024
	}
	return g, nil
}

type suggestionItem struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	ImpactScore *float64 `json:"impact_score"`
}

type suggestionEnvelope struct {
	Suggestions []suggestionItem `json:"suggestions"`
}

// Suggest returns between MinSuggestions and MaxSuggestions suggestions for
// prompt, most important first.
func (g *SuggestionGenerator) Suggest(ctx context.Context, prompt types.PromptCandidate, score types.QualityScore) []types.Suggestion {
	suggestions := g.suggest(ctx, prompt, score)
	if g.sink != nil {
		g.sink.SaveSuggestions(ctx, prompt.ID, suggestions)
	}
	return suggestions
}

func (g *SuggestionGenerator) suggest(ctx context.Context, prompt types.PromptCandidate, score types.QualityScore) []types.Suggestion {
	ctx = ai.WithOperation(ctx, ai.OpSuggestions)
	resp := g.gateway.Execute(ctx, g.model.Provider, g.model.Model, g.model.payload(buildSuggestionPrompt(prompt, score)))
	if resp.Failed() {
		g.logger.Warn("suggestion generation failed, using fallback suggestions",
			"prompt_id", prompt.ID, "error", resp.FailureReason())
		return FallbackSuggestions()
	}

	items, ok := parseSuggestionItems(resp.Content)
	if !ok {
		g.logger.Warn("suggestion response is not a JSON array, using fallback suggestions", "prompt_id", prompt.ID)
		return FallbackSuggestions()
	}
	return normalizeSuggestions(items)
}

// emptyArrayRegex matches a reply that is nothing but [], optionally fenced.
var emptyArrayRegex = regexp.MustCompile("^(?:```[a-zA-Z]*)?\\s*\\[\\s*\\]\\s*(?:```)?$")

// parseSuggestionItems accepts either a bare array or {"suggestions": [...]}.
// An empty array counts only when it is the whole reply.
func parseSuggestionItems(text string) ([]suggestionItem, bool) {
	if arr := ai.Parse[[]suggestionItem](text, ai.ParseOptions{Context: "suggestions"}); arr.Success {
		if len(arr.Data) > 0 || emptyArrayRegex.MatchString(strings.TrimSpace(text)) {
			return arr.Data, true
		}
	}
	if env := ai.Parse[suggestionEnvelope](text, ai.ParseOptions{Context: "suggestions"}); env.Success && env.Data.Suggestions != nil {
		return env.Data.Suggestions, true
	}
	return nil, false
}

// normalizeSuggestions fills invalid fields from the generic suggestion,
// pads short batches from the fallback list and truncates long ones.
func normalizeSuggestions(items []suggestionItem) []types.Suggestion {
	generic := types.GenericSuggestion()
	out := make([]types.Suggestion, 0, MaxSuggestions)

	for _, item := range items {
		if len(out) == MaxSuggestions {
			break
		}
		s := types.Suggestion{
			Type:        strings.ToLower(strings.TrimSpace(item.Type)),
			Description: strings.TrimSpace(item.Description),
			Priority:    types.Priority(strings.ToLower(strings.TrimSpace(item.Priority))),
			ImpactScore: generic.ImpactScore,
		}
		if s.Description == "" {
			out = append(out, generic)
			continue
		}
		if s.Type == "" {
			s.Type = generic.Type
		}
		if !s.Priority.IsValid() {
			s.Priority = generic.Priority
		}
		if item.ImpactScore != nil && *item.ImpactScore >= 0 && *item.ImpactScore <= 1 {
			s.ImpactScore = *item.ImpactScore
		}
		out = append(out, s)
	}

	for _, fb := range FallbackSuggestions() {
		if len(out) >= MinSuggestions {
			break
		}
		if !containsType(out, fb.Type) {
			out = append(out, fb)
		}
	}
	for len(out) < MinSuggestions {
		out = append(out, generic)
	}
	return out
}

func containsType(suggestions []types.Suggestion, typ string) bool {
	for _, s := range suggestions {
		if s.Type == typ {
			return true
		}
	}
	return false
}

func buildSuggestionPrompt(prompt types.PromptCandidate, score types.QualityScore) string {
	issues := "none reported"
	if len(score.Issues) > 0 {
		issues = "- " + strings.Join(score.Issues, "\n- ")
	}

	return fmt.Sprintf(`You are an expert prompt engineer. Propose improvements for the prompt between the markers below.

%s

Current quality assessment (0.0-1.0):
- Overall: %.2f
- Clarity: %.2f
- Specificity: %.2f
- Context usage: %.2f
- Task alignment: %.2f
- Safety: %.2f

Known issues:
%s

Give between %d and %d suggestions, most impactful first. Focus on the weakest dimensions.
Each suggestion must be a concrete edit, not general advice.

Provide your suggestions as a JSON array:
[
  {
    "type": "specificity|clarity|context|structure|safety|examples",
    "description": "Exactly what to change in the prompt",
    "priority": "high|medium|low",
    "impact_score": 0.7
  }
]

IMPORTANT: Respond with ONLY raw JSON. Do NOT wrap it in markdown code fences (`+"`"+`). Just the JSON array.`,
		ai.WrapPrompt(prompt.Content),
		score.Overall, score.Clarity, score.Specificity, score.ContextUsage, score.TaskAlignment, score.Safety,
		issues, MinSuggestions, MaxSuggestions)
}
