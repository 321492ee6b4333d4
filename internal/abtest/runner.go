// Package abtest runs two prompt variants over the same test cases and
// decides which one performed better.
package abtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/promptlab/refinery/internal/ai"
	"github.com/promptlab/refinery/internal/stats"
	"github.com/promptlab/refinery/internal/types"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of executions kept in flight.
const DefaultWorkers = 6

// ResultSink persists finished A/B tests. storage.Recorder satisfies it.
type ResultSink interface {
	SaveABTestResult(ctx context.Context, result *types.ABTestResult)
}

// TranscriptSink archives the raw outputs of an A/B test.
type TranscriptSink interface {
	PutTranscript(ctx context.Context, result *types.ABTestResult) (string, error)
}

// Target selects the provider and model a variant runs on.
type Target struct {
	Provider  string
	Model     string
	MaxTokens int
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Gateway     ai.Gateway
	Sink        ResultSink     // Optional
	Transcripts TranscriptSink // Optional
	Runs        ai.RunCloser   // Optional; released when a test finishes
	Workers     int            // Executions in flight (default: DefaultWorkers)
	TargetA     Target
	TargetB     Target // Zero value means same as TargetA
	Logger      *slog.Logger
}

// Runner executes A/B tests.
type Runner struct {
	gateway     ai.Gateway
	sink        ResultSink
	transcripts TranscriptSink
	runs        ai.RunCloser
	workers     int
	targetA     Target
	targetB     Target
	logger      *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(cfg *RunnerConfig) (*Runner, error) {
	if cfg == nil || cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	r := &Runner{
		gateway:     cfg.Gateway,
		sink:        cfg.Sink,
		transcripts: cfg.Transcripts,
		runs:        cfg.Runs,
		workers:     cfg.Workers,
		targetA:     cfg.TargetA,
		targetB:     cfg.TargetB,
		logger:      cfg.Logger,
	}
	if r.workers <= 0 {
		r.workers = DefaultWorkers
	}
	if r.targetB == (Target{}) {
		r.targetB = r.targetA
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Run executes promptA and promptB over every test case and analyzes the
// scores at the given significance level.
//
// Executions run concurrently but every result lands in the slot of its test
// case, so ResultsA, ResultsB and TestCases are always index-aligned. Failed
// or canceled executions produce zero-score results instead of being dropped.
// The returned error is only for invalid input.
func (r *Runner) Run(ctx context.Context, promptA, promptB types.PromptCandidate, testCases []types.TestCase, significanceLevel float64) (*types.ABTestResult, error) {
	if err := promptA.Validate(); err != nil {
		return nil, fmt.Errorf("prompt A: %w", err)
	}
	if err := promptB.Validate(); err != nil {
		return nil, fmt.Errorf("prompt B: %w", err)
	}

	start := time.Now()
	result := &types.ABTestResult{
		TestID:    uuid.NewString(),
		PromptA:   promptA,
		PromptB:   promptB,
		TestCases: testCases,
		ResultsA:  make([]types.TestResult, len(testCases)),
		ResultsB:  make([]types.TestResult, len(testCases)),
		CreatedAt: start,
	}
	ctx = ai.WithOperation(ai.WithRunID(ctx, result.TestID), ai.OpABExecution)
	if r.runs != nil {
		defer r.runs.EndRun(result.TestID)
	}

	r.logger.Info("A/B test started",
		"test_id", result.TestID,
		"test_cases", len(testCases),
		"workers", r.workers)

	// Jobs never return an error so one failure cannot cancel its siblings.
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, tc := range testCases {
		g.Go(func() error {
			result.ResultsA[i] = r.execute(ctx, r.targetA, promptA, tc, types.VariantA)
			return nil
		})
		g.Go(func() error {
			result.ResultsB[i] = r.execute(ctx, r.targetB, promptB, tc, types.VariantB)
			return nil
		})
	}
	_ = g.Wait()

	result.Analysis = analyze(result.ResultsA, result.ResultsB, significanceLevel)
	result.ConfidenceLevel = 1 - result.Analysis.SignificanceLevel
	result.Winner = DetermineWinner(result.Analysis)
	if result.Analysis.Error == "" {
		d := result.Analysis.EffectSize
		result.EffectSize = &d
	}
	result.Recommendations = Recommend(result.Winner, result.Analysis)
	result.ExecutionTime = time.Since(start)

	r.logger.Info("A/B test completed",
		"test_id", result.TestID,
		"winner", string(result.Winner),
		"p_value", result.Analysis.PValue,
		"effect_size", result.Analysis.EffectSize,
		"failed_a", countFailed(result.ResultsA),
		"failed_b", countFailed(result.ResultsB),
		"duration", result.ExecutionTime)

	r.archive(ctx, result)
	if r.sink != nil {
		r.sink.SaveABTestResult(context.WithoutCancel(ctx), result)
	}
	return result, nil
}

// execute runs one variant on one test case. It never fails: errors become a
// zero-score result with the reason under CustomMetrics["error"].
func (r *Runner) execute(ctx context.Context, target Target, prompt types.PromptCandidate, tc types.TestCase, variant types.Variant) types.TestResult {
	res := types.TestResult{TestCaseID: tc.ID, Variant: variant}

	if err := ctx.Err(); err != nil {
		return failedResult(res, fmt.Sprintf("canceled: %v", err))
	}

	payload := ai.Payload{
		Content:   prompt.Content + "\n\n" + tc.InputText,
		MaxTokens: target.MaxTokens,
	}
	resp := r.gateway.Execute(ctx, target.Provider, target.Model, payload)
	if resp != nil {
		res.ProcessingTime = resp.ProcessingTime
		res.TokensUsed = resp.TokensUsed
		res.Cost = resp.Cost
	}
	if resp.Failed() {
		r.logger.Warn("A/B execution failed",
			"test_case", tc.ID,
			"variant", string(variant),
			"error", resp.FailureReason())
		return failedResult(res, resp.FailureReason())
	}

	score := HeuristicScore(tc.InputText, resp.Content)
	res.Output = resp.Content
	res.QualityScore = &score
	res.CustomMetrics = map[string]any{
		"provider": resp.Provider,
		"model":    resp.Model,
	}
	return res
}

func failedResult(res types.TestResult, reason string) types.TestResult {
	zero := 0.0
	res.QualityScore = &zero
	res.CustomMetrics = map[string]any{"error": reason}
	return res
}

// archive stores the transcript and records its location on the result.
func (r *Runner) archive(ctx context.Context, result *types.ABTestResult) {
	if r.transcripts == nil {
		return
	}
	location, err := r.transcripts.PutTranscript(context.WithoutCancel(ctx), result)
	if err != nil {
		r.logger.Warn("failed to archive A/B transcript", "test_id", result.TestID, "error", err)
		return
	}
	result.TranscriptURI = location
}

// analyze extracts the score and latency vectors and runs the statistics.
func analyze(resultsA, resultsB []types.TestResult, significanceLevel float64) types.StatisticalAnalysis {
	scoresA, timesA := vectors(resultsA)
	scoresB, timesB := vectors(resultsB)

	analysis := stats.Analyze(scoresA, scoresB, significanceLevel)
	analysis.MeanTimeA, _ = stats.Describe(timesA)
	analysis.MeanTimeB, _ = stats.Describe(timesB)
	return analysis
}

func vectors(results []types.TestResult) (scores, seconds []float64) {
	scores = make([]float64, 0, len(results))
	seconds = make([]float64, 0, len(results))
	for _, res := range results {
		if res.QualityScore == nil {
			continue
		}
		scores = append(scores, *res.QualityScore)
		seconds = append(seconds, res.ProcessingTime.Seconds())
	}
	return scores, seconds
}

func countFailed(results []types.TestResult) int {
	n := 0
	for _, res := range results {
		if res.Failed() {
			n++
		}
	}
	return n
}
