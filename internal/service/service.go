// Package service assembles the refinement components from a Config and
// exposes the operations the CLI drives: refine, A/B test, validate,
// generate test cases, and read back history.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/promptlab/refinery/internal/abtest"
	"github.com/promptlab/refinery/internal/ai"
	"github.com/promptlab/refinery/internal/analysis"
	"github.com/promptlab/refinery/internal/config"
	"github.com/promptlab/refinery/internal/cost"
	"github.com/promptlab/refinery/internal/iterative"
	"github.com/promptlab/refinery/internal/storage"
	"github.com/promptlab/refinery/internal/storage/objectstore"
	"github.com/promptlab/refinery/internal/testcases"
	"github.com/promptlab/refinery/internal/types"
	"github.com/promptlab/refinery/internal/validation"
)

// Options configures New. Only Config is required; the other fields replace
// what would otherwise be built from it.
type Options struct {
	Config      *config.Config
	Logger      *slog.Logger
	Gateway     ai.Gateway            // Replaces the router built from Config.LLM
	Repository  storage.Repository    // Replaces the backend opened from Config.Storage
	Transcripts abtest.TranscriptSink // Replaces the archive built from Config.Artifacts
}

// Service is the public API of refinery.
type Service struct {
	cfg          *config.Config
	logger       *slog.Logger
	gateway      ai.Gateway
	costs        *cost.Tracker
	repo         storage.Repository
	orchestrator *iterative.Orchestrator
	runner       *abtest.Runner
	validator    *validation.Service
	metrics      *iterative.InMemoryMetricsCollector
}

// New wires every component. The caller owns the returned Service and must
// Close it.
func New(ctx context.Context, opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracker, err := cost.NewTracker(&cfg.Cost, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost tracker: %w", err)
	}

	gateway := opts.Gateway
	if gateway == nil {
		router, err := NewRouter(ctx, cfg, tracker, logger)
		if err != nil {
			return nil, err
		}
		gateway = router
	}

	repo := opts.Repository
	if repo == nil {
		repo, err = storage.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
	}
	recorder := storage.NewRecorder(repo, logger)

	transcripts := opts.Transcripts
	if transcripts == nil && cfg.Artifacts.Enabled {
		store, err := objectstore.New(cfg.Artifacts)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to create transcript archive: %w", err)
		}
		transcripts = store
	}

	s := &Service{
		cfg:     cfg,
		logger:  logger,
		gateway: gateway,
		costs:   tracker,
		repo:    repo,
		metrics: iterative.NewInMemoryMetricsCollector(),
	}
	if err := s.build(recorder, transcripts); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(recorder *storage.Recorder, transcripts abtest.TranscriptSink) error {
	llm := s.cfg.LLM
	judge := analysis.ModelConfig{Provider: llm.Provider, Model: firstNonEmpty(llm.JudgeModel, llm.Model)}
	writer := analysis.ModelConfig{Provider: llm.Provider, Model: llm.Model, Temperature: llm.Temperature}

	analyzer, err := analysis.NewQualityAnalyzer(&analysis.AnalyzerConfig{
		Gateway:   s.gateway,
		Sink:      recorder,
		Model:     judge,
		CacheSize: s.cfg.Refinement.CacheSize,
		Logger:    s.logger,
	})
	if err != nil {
		return err
	}
	suggester, err := analysis.NewSuggestionGenerator(&analysis.GeneratorConfig{
		Gateway: s.gateway,
		Sink:    recorder,
		Model:   analysis.ModelConfig{Provider: llm.Provider, Model: llm.Model},
		Logger:  s.logger,
	})
	if err != nil {
		return err
	}
	refiner, err := analysis.NewPromptRefiner(&analysis.RefinerConfig{
		Gateway: s.gateway,
		Model:   writer,
		Logger:  s.logger,
	})
	if err != nil {
		return err
	}

	s.runner, err = abtest.NewRunner(&abtest.RunnerConfig{
		Gateway:     s.gateway,
		Sink:        recorder,
		Transcripts: transcripts,
		Runs:        s.costs,
		Workers:     s.cfg.ABTest.Workers,
		TargetA:     abtest.Target{Provider: llm.Provider, Model: firstNonEmpty(s.cfg.ABTest.Model, llm.Model)},
		Logger:      s.logger,
	})
	if err != nil {
		return err
	}
	s.validator, err = validation.NewService(&validation.Config{
		Runner:         s.runner,
		Sink:           recorder,
		MinImprovement: &s.cfg.ABTest.MinImprovement,
		TestCaseCount:  s.cfg.ABTest.TestCaseCount,
		Logger:         s.logger,
	})
	if err != nil {
		return err
	}

	var validator iterative.Validator
	if s.cfg.Refinement.Validate {
		validator = s.validator
	}
	s.orchestrator, err = iterative.NewOrchestrator(&iterative.OrchestratorConfig{
		Analyzer:  analyzer,
		Suggester: suggester,
		Rewriter:  refiner,
		Validator: validator,
		Sink:      recorder,
		Collector: s.metrics,
		Runs:      s.costs,
		Logger:    s.logger,
	})
	return err
}

// NewRouter builds a model router over every provider that has credentials.
// The fake provider is registered when it is the configured default.
func NewRouter(ctx context.Context, cfg *config.Config, tracker ai.CostTracker, logger *slog.Logger) (*ai.Router, error) {
	llm := cfg.LLM
	modelFor := func(provider string) string {
		if provider == llm.Provider {
			return llm.Model
		}
		return ""
	}

	var providers []ai.Provider
	if llm.AnthropicAPIKey != "" {
		p, err := ai.NewAnthropicProvider(llm.AnthropicAPIKey, modelFor(ai.ProviderAnthropic))
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic provider: %w", err)
		}
		providers = append(providers, p)
	}
	if llm.GeminiAPIKey != "" {
		p, err := ai.NewGeminiProvider(ctx, llm.GeminiAPIKey, modelFor(ai.ProviderGemini))
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini provider: %w", err)
		}
		providers = append(providers, p)
	}
	if llm.Provider == ai.ProviderFake {
		providers = append(providers, ai.NewFakeProvider(ai.DefaultFakeHandler))
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no API key configured for provider %q (set ANTHROPIC_API_KEY or GEMINI_API_KEY, or use the fake provider)", llm.Provider)
	}

	router, err := ai.NewRouter(&ai.RouterConfig{
		Providers:       providers,
		DefaultProvider: llm.Provider,
		Retry:           cfg.RetryConfig(),
		CostTracker:     tracker,
		Logger:          logger,
	})
	if err != nil {
		if errors.Is(err, ai.ErrUnknownProvider) {
			return nil, fmt.Errorf("no API key configured for provider %q: %w", llm.Provider, err)
		}
		return nil, err
	}
	return router, nil
}

// RefineRequest describes one refinement run.
type RefineRequest struct {
	PromptID        string // Optional; a fresh ID is assigned when empty
	Content         string
	TaskDescription string
	MaxIterations   int // Overrides the configured limit when positive
}

// Refine runs the refinement loop. Failures inside the loop are reported on
// the result with status failed; the error return is only for requests that
// cannot start.
func (s *Service) Refine(ctx context.Context, req RefineRequest) (*types.RefinementResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("prompt content is required")
	}
	prompt := types.NewPromptCandidate(req.Content)
	if req.PromptID != "" {
		prompt.ID = req.PromptID
	}
	prompt.Task = req.TaskDescription

	loop := s.cfg.LoopConfig()
	if req.MaxIterations > 0 {
		loop.MaxIterations = req.MaxIterations
	}
	return s.orchestrator.Refine(ctx, prompt, loop), nil
}

// RunABTest compares two prompts at the configured significance level.
// When testCases is empty the standard scenarios are generated from promptA.
func (s *Service) RunABTest(ctx context.Context, promptA, promptB types.PromptCandidate, testCases []types.TestCase) (*types.ABTestResult, error) {
	if len(testCases) == 0 {
		testCases = s.GenerateTestCases(promptA, s.cfg.ABTest.TestCaseCount)
	}
	return s.validator.RunABTest(ctx, promptA, promptB, testCases, s.cfg.ABTest.SignificanceLevel)
}

// ValidateRefinement decides whether refined is a significant improvement
// over original.
func (s *Service) ValidateRefinement(ctx context.Context, original, refined types.PromptCandidate, testCases []types.TestCase) (*types.ValidationResult, *types.ABTestResult, error) {
	return s.validator.ValidateRefinementSuccess(ctx, original, refined, testCases, s.cfg.ABTest.MinImprovement)
}

// GenerateTestCases returns up to count standard scenarios for prompt.
func (s *Service) GenerateTestCases(prompt types.PromptCandidate, count int) []types.TestCase {
	return testcases.Generate(prompt, count)
}

// History lists past refinement runs, newest first. An empty promptID lists
// all prompts.
func (s *Service) History(ctx context.Context, promptID string, limit int) ([]*types.RefinementResult, error) {
	return s.repo.ListRefinementResults(ctx, promptID, limit)
}

// Refinement returns one stored run, or nil if it does not exist.
func (s *Service) Refinement(ctx context.Context, id string) (*types.RefinementResult, error) {
	return s.repo.GetRefinementResult(ctx, id)
}

// QualityHistory lists every score recorded for promptID, newest first.
func (s *Service) QualityHistory(ctx context.Context, promptID string, limit int) ([]*types.QualityScore, error) {
	return s.repo.GetQualityHistory(ctx, promptID, limit)
}

// ABTest returns a stored A/B test together with its validation verdict,
// if one was recorded.
func (s *Service) ABTest(ctx context.Context, testID string) (*types.ABTestResult, *types.ValidationResult, error) {
	ab, err := s.repo.GetABTestResult(ctx, testID)
	if err != nil || ab == nil {
		return nil, nil, err
	}
	v, err := s.repo.GetValidationResult(ctx, testID)
	if err != nil {
		return ab, nil, err
	}
	return ab, v, nil
}

// CostStats reports token and cost usage for the current budget window.
func (s *Service) CostStats() cost.BudgetStats {
	return s.costs.GetStats()
}

// ResetCosts clears the budget window and persisted usage.
func (s *Service) ResetCosts() error {
	return s.costs.Reset()
}

// Metrics aggregates every run completed by this process.
func (s *Service) Metrics() *iterative.AggregateMetrics {
	return s.metrics.GetAggregateMetrics()
}

// Close releases the repository.
func (s *Service) Close() error {
	return s.repo.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
