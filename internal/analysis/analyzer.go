// Package analysis holds the three model-backed steps of a refinement
// iteration: judging a prompt, proposing improvements, and rewriting the
// prompt with those improvements applied.
//
// None of the steps return errors. A failed or malformed model call degrades
// to a conservative fallback value so the refinement loop always has
// something to compare against.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/promptlab/refinery/internal/ai"
	"github.com/promptlab/refinery/internal/types"
)

// ScoreSink persists quality scores. storage.Recorder satisfies it.
type ScoreSink interface {
	SaveQualityScore(ctx context.Context, promptID string, score types.QualityScore)
}

// ModelConfig selects the provider and model used for a step.
// Empty values fall through to the gateway defaults.
type ModelConfig struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

func (m ModelConfig) payload(content string) ai.Payload {
	p := ai.Payload{Content: content, MaxTokens: m.MaxTokens}
	if m.Temperature > 0 {
		p.Temperature = ai.Temperature(m.Temperature)
	}
	return p
}

// AnalyzerConfig configures a QualityAnalyzer.
type AnalyzerConfig struct {
	Gateway   ai.Gateway
	Sink      ScoreSink // Optional
	Model     ModelConfig
	CacheSize int // Judged prompts kept in memory (0 disables the cache)
	Logger    *slog.Logger
}

// QualityAnalyzer scores prompts with an LLM judge.
type QualityAnalyzer struct {
	gateway ai.Gateway
	sink    ScoreSink
	model   ModelConfig
	cache   *lru.Cache[string, types.QualityScore]
	logger  *slog.Logger
}

// NewQualityAnalyzer creates an analyzer.
func NewQualityAnalyzer(cfg *AnalyzerConfig) (*QualityAnalyzer, error) {
	if cfg == nil || cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	a := &QualityAnalyzer{
		gateway: cfg.Gateway,
		sink:    cfg.Sink,
		model:   cfg.Model,
		logger:  cfg.Logger,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.model.MaxTokens == 0 {
		a.model.MaxTokens = 1024
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, types.QualityScore](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create judge cache: %w", err)
		}
		a.cache = cache
	}
	return a, nil
}

// judgeResponse mirrors the JSON the judge is asked for. Pointers let us
// tell a missing dimension from a zero score.
type judgeResponse struct {
	Overall       *float64 `json:"overall"`
	Clarity       *float64 `json:"clarity"`
	Specificity   *float64 `json:"specificity"`
	ContextUsage  *float64 `json:"context_usage"`
	TaskAlignment *float64 `json:"task_alignment"`
	Safety        *float64 `json:"safety"`
	Issues        []string `json:"issues"`
	Suggestions   []string `json:"suggestions"`

	// Some models answer in camelCase regardless of instructions
	ContextUsageAlt  *float64 `json:"contextUsage"`
	TaskAlignmentAlt *float64 `json:"taskAlignment"`
}

func (j judgeResponse) toScore() (types.QualityScore, bool) {
	contextUsage := j.ContextUsage
	if contextUsage == nil {
		contextUsage = j.ContextUsageAlt
	}
	taskAlignment := j.TaskAlignment
	if taskAlignment == nil {
		taskAlignment = j.TaskAlignmentAlt
	}
	for _, v := range []*float64{j.Overall, j.Clarity, j.Specificity, contextUsage, taskAlignment, j.Safety} {
		if v == nil {
			return types.QualityScore{}, false
		}
	}
	score := types.QualityScore{
		Overall:       *j.Overall,
		Clarity:       *j.Clarity,
		Specificity:   *j.Specificity,
		ContextUsage:  *contextUsage,
		TaskAlignment: *taskAlignment,
		Safety:        *j.Safety,
		Issues:        nonNil(j.Issues),
		Suggestions:   nonNil(j.Suggestions),
	}
	return score.Clamp(), true
}

// Analyze judges prompt and returns its score. It never fails: unusable
// judge output yields types.FallbackQualityScore. The score is persisted
// through the sink when one is configured.
func (a *QualityAnalyzer) Analyze(ctx context.Context, prompt types.PromptCandidate) types.QualityScore {
	score := a.analyze(ctx, prompt)
	score.ID = uuid.NewString()
	score.PromptID = prompt.ID
	score.CreatedAt = time.Now()

	if a.sink != nil {
		a.sink.SaveQualityScore(ctx, prompt.ID, score)
	}
	return score
}

func (a *QualityAnalyzer) analyze(ctx context.Context, prompt types.PromptCandidate) types.QualityScore {
	key := a.cacheKey(prompt)
	if a.cache != nil {
		if cached, ok := a.cache.Get(key); ok {
			a.logger.Debug("judge cache hit", "prompt_id", prompt.ID)
			cached.Issues = append([]string(nil), cached.Issues...)
			cached.Suggestions = append([]string(nil), cached.Suggestions...)
			return cached
		}
	}

	ctx = ai.WithOperation(ctx, ai.OpQualityAnalysis)
	resp := a.gateway.Execute(ctx, a.model.Provider, a.model.Model, a.model.payload(buildJudgePrompt(prompt)))
	if resp.Failed() {
		a.logger.Warn("quality analysis failed, using fallback score",
			"prompt_id", prompt.ID, "error", resp.FailureReason())
		return types.FallbackQualityScore(prompt.ID, types.IssueAnalysisFailed)
	}

	parsed := ai.Parse[judgeResponse](resp.Content, ai.ParseOptions{Context: "quality analysis", LogErrors: true})
	if !parsed.Success {
		a.logger.Warn("judge response is not valid JSON, using fallback score",
			"prompt_id", prompt.ID, "error", parsed.Error)
		return types.FallbackQualityScore(prompt.ID, types.IssueParsingError)
	}
	score, ok := parsed.Data.toScore()
	if !ok {
		a.logger.Warn("judge response is missing dimensions, using fallback score", "prompt_id", prompt.ID)
		return types.FallbackQualityScore(prompt.ID, types.IssueParsingError)
	}

	if a.cache != nil {
		a.cache.Add(key, score)
	}
	return score
}

func (a *QualityAnalyzer) cacheKey(prompt types.PromptCandidate) string {
	parts := []string{a.model.Provider, a.model.Model, prompt.TargetModel, prompt.Task, prompt.Content}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

func buildJudgePrompt(prompt types.PromptCandidate) string {
	target := prompt.TargetModel
	if target == "" {
		target = "a general-purpose LLM"
	}
	task := prompt.Task
	if task == "" {
		task = "not stated; infer it from the prompt"
	}
	variables := "none"
	if len(prompt.Variables) > 0 {
		variables = strings.Join(prompt.Variables, ", ")
	}

	return fmt.Sprintf(`You are an expert prompt engineer reviewing a prompt that will be sent to %s.

Task the prompt is meant to accomplish: %s
Template variables: %s

The prompt under review is between the markers below:

%s

Score the prompt on each dimension from 0.0 (very poor) to 1.0 (excellent):

1. CLARITY: Is the instruction unambiguous and easy to follow?
2. SPECIFICITY: Does it state the expected output, format and constraints?
3. CONTEXT_USAGE: Does it give the model the background it needs?
4. TASK_ALIGNMENT: Does every part of the prompt serve the stated task?
5. SAFETY: Is it free of instructions that invite harmful or unreliable output?

Then give an OVERALL score that reflects how well the prompt will perform.

List concrete problems in "issues" and short fixes in "suggestions".

Provide your review as a JSON object:
{
  "overall": 0.72,
  "clarity": 0.8,
  "specificity": 0.6,
  "context_usage": 0.5,
  "task_alignment": 0.9,
  "safety": 0.95,
  "issues": ["Output format is not specified", ...],
  "suggestions": ["Ask for a numbered list", ...]
}

IMPORTANT: Respond with ONLY raw JSON. Do NOT wrap it in markdown code fences (`+"`"+`). Just the JSON object.`,
		target, task, variables, ai.WrapPrompt(prompt.Content))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
