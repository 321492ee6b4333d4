// Package validation answers whether a refined prompt is a real improvement
// over its original by A/B testing the two and requiring both statistical
// and practical significance.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptlab/refinery/internal/stats"
	"github.com/promptlab/refinery/internal/testcases"
	"github.com/promptlab/refinery/internal/types"
)

// Defaults for validation runs.
const (
	DefaultMinImprovement = 0.05
	DefaultTestCaseCount  = testcases.LibrarySize
)

// UseServiceMinImprovement asks ValidateRefinementSuccess for the service's
// configured threshold. Zero is a real threshold: any significant gain.
const UseServiceMinImprovement = -1.0

// SignificanceLevel is fixed for validation; RunABTest accepts any level.
const SignificanceLevel = stats.DefaultSignificanceLevel

// ABRunner executes an A/B test. abtest.Runner satisfies it.
type ABRunner interface {
	Run(ctx context.Context, promptA, promptB types.PromptCandidate, testCases []types.TestCase, significanceLevel float64) (*types.ABTestResult, error)
}

// ResultSink persists validation outcomes. storage.Recorder satisfies it.
type ResultSink interface {
	SaveValidationResult(ctx context.Context, testID string, result *types.ValidationResult)
}

// Config configures a Service.
type Config struct {
	Runner         ABRunner
	Sink           ResultSink // Optional
	MinImprovement *float64   // Relative gain required; nil means DefaultMinImprovement
	TestCaseCount  int        // Generated when none are supplied (default: DefaultTestCaseCount)
	Logger         *slog.Logger
}

// Service composes the A/B runner with the improvement decision.
type Service struct {
	runner         ABRunner
	sink           ResultSink
	minImprovement float64
	testCaseCount  int
	logger         *slog.Logger
}

// NewService creates a validation service.
func NewService(cfg *Config) (*Service, error) {
	if cfg == nil || cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	s := &Service{
		runner:         cfg.Runner,
		sink:           cfg.Sink,
		minImprovement: DefaultMinImprovement,
		testCaseCount:  cfg.TestCaseCount,
		logger:         cfg.Logger,
	}
	if cfg.MinImprovement != nil {
		if *cfg.MinImprovement < 0 {
			return nil, fmt.Errorf("min improvement cannot be negative (got %.2f)", *cfg.MinImprovement)
		}
		s.minImprovement = *cfg.MinImprovement
	}
	if s.testCaseCount <= 0 {
		s.testCaseCount = DefaultTestCaseCount
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// RunABTest runs promptA against promptB over testCases.
func (s *Service) RunABTest(ctx context.Context, promptA, promptB types.PromptCandidate, testCases []types.TestCase, significanceLevel float64) (*types.ABTestResult, error) {
	return s.runner.Run(ctx, promptA, promptB, testCases, significanceLevel)
}

// ValidateRefinementSuccess A/B tests original against refined and derives
// the verdict. testCases may be empty, in which case the standard library of
// scenarios is generated for original. A negative minImprovement (see
// UseServiceMinImprovement) uses the service threshold. The A/B result is returned alongside for callers that display it.
func (s *Service) ValidateRefinementSuccess(ctx context.Context, original, refined types.PromptCandidate, testCases []types.TestCase, minImprovement float64) (*types.ValidationResult, *types.ABTestResult, error) {
	if minImprovement < 0 {
		minImprovement = s.minImprovement
	}
	if len(testCases) == 0 {
		testCases = testcases.Generate(original, s.testCaseCount)
	}

	ab, err := s.runner.Run(ctx, original, refined, testCases, SignificanceLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("A/B test failed: %w", err)
	}

	result := Derive(ab.TestID, ab.Analysis, minImprovement)
	result.CreatedAt = time.Now()
	s.logger.Info("refinement validated",
		"test_id", ab.TestID,
		"significant_improvement", result.IsSignificantImprovement,
		"improvement", result.ImprovementPercentage,
		"p_value", result.PValue,
		"sample_size", result.SampleSize)

	if s.sink != nil {
		s.sink.SaveValidationResult(context.WithoutCancel(ctx), ab.TestID, &result)
	}
	return &result, ab, nil
}

// ValidateRefinement runs ValidateRefinementSuccess with generated test
// cases and the default minimum improvement. It lets the refinement loop use
// the service as its validation hook.
func (s *Service) ValidateRefinement(ctx context.Context, original, refined types.PromptCandidate) (*types.ValidationResult, error) {
	result, _, err := s.ValidateRefinementSuccess(ctx, original, refined, nil, s.minImprovement)
	return result, err
}

// Derive computes a ValidationResult from an analysis. It is a pure function
// and leaves CreatedAt unset. The verdict requires p < SignificanceLevel and
// a relative improvement (meanDiff / meanA, or 0 when meanA is 0) strictly
// above minImprovement. SampleSize counts test cases, not executions.
func Derive(testID string, a types.StatisticalAnalysis, minImprovement float64) types.ValidationResult {
	improvement := 0.0
	if a.MeanA != 0 {
		improvement = a.MeanDiff / a.MeanA
	}
	return types.ValidationResult{
		TestID:                   testID,
		IsSignificantImprovement: a.Error == "" && a.PValue < SignificanceLevel && improvement > minImprovement,
		ImprovementPercentage:    improvement,
		CILow:                    a.CILow,
		CIHigh:                   a.CIHigh,
		PValue:                   a.PValue,
		EffectSize:               a.EffectSize,
		SampleSize:               a.SampleSizeA,
	}
}
