package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/promptlab/refinery/internal/abtest"
	"github.com/promptlab/refinery/internal/ai"
	"github.com/promptlab/refinery/internal/iterative"
	"github.com/promptlab/refinery/internal/testcases"
	"github.com/promptlab/refinery/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time check that Service can serve as the refinement loop's hook
var _ iterative.Validator = (*Service)(nil)

type mockRunner struct {
	analysis  types.StatisticalAnalysis
	err       error
	gotCases  []types.TestCase
	gotAlpha  float64
	callCount int
}

func (m *mockRunner) Run(_ context.Context, a, b types.PromptCandidate, cases []types.TestCase, alpha float64) (*types.ABTestResult, error) {
	m.callCount++
	m.gotCases = cases
	m.gotAlpha = alpha
	if m.err != nil {
		return nil, m.err
	}
	return &types.ABTestResult{TestID: "ab-1", PromptA: a, PromptB: b, TestCases: cases, Analysis: m.analysis}, nil
}

type mockSink struct {
	testIDs []string
	results []*types.ValidationResult
}

func (m *mockSink) SaveValidationResult(_ context.Context, testID string, r *types.ValidationResult) {
	m.testIDs = append(m.testIDs, testID)
	m.results = append(m.results, r)
}

func TestDerive_RequiresBothSignificanceAndImprovement(t *testing.T) {
	tests := []struct {
		name     string
		analysis types.StatisticalAnalysis
		minImpr  float64
		want     bool
	}{
		{
			name:     "significant but small",
			analysis: types.StatisticalAnalysis{PValue: 0.01, MeanA: 1.0, MeanB: 1.01, MeanDiff: 0.01},
			minImpr:  0.05,
			want:     false,
		},
		{
			name:     "large but not significant",
			analysis: types.StatisticalAnalysis{PValue: 0.2, MeanA: 0.5, MeanB: 0.7, MeanDiff: 0.2},
			minImpr:  0.05,
			want:     false,
		},
		{
			name:     "both",
			analysis: types.StatisticalAnalysis{PValue: 0.01, MeanA: 0.5, MeanB: 0.6, MeanDiff: 0.1},
			minImpr:  0.05,
			want:     true,
		},
		{
			name:     "improvement equal to minimum",
			analysis: types.StatisticalAnalysis{PValue: 0.01, MeanA: 0.5, MeanB: 0.525, MeanDiff: 0.025},
			minImpr:  0.05,
			want:     false,
		},
		{
			name:     "p at the boundary",
			analysis: types.StatisticalAnalysis{PValue: 0.05, MeanA: 0.5, MeanB: 0.7, MeanDiff: 0.2},
			minImpr:  0.05,
			want:     false,
		},
		{
			name:     "zero baseline",
			analysis: types.StatisticalAnalysis{PValue: 0.001, MeanA: 0, MeanB: 0.6, MeanDiff: 0.6},
			minImpr:  0.05,
			want:     false,
		},
		{
			name:     "analysis error",
			analysis: types.StatisticalAnalysis{Error: "insufficient data", PValue: 0, MeanA: 0.5, MeanDiff: 0.5},
			minImpr:  0.05,
			want:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive("t", tt.analysis, tt.minImpr)
			assert.Equal(t, tt.want, got.IsSignificantImprovement)
		})
	}
}

func TestDerive_CopiesStatistics(t *testing.T) {
	a := types.StatisticalAnalysis{
		MeanA: 0.5, MeanB: 0.6, MeanDiff: 0.1,
		PValue: 0.02, EffectSize: 1.3, CILow: 0.05, CIHigh: 0.15,
		SampleSizeA: 10, SampleSizeB: 10,
	}

	got := Derive("ab-9", a, 0.05)

	assert.Equal(t, "ab-9", got.TestID)
	assert.InDelta(t, 0.2, got.ImprovementPercentage, 1e-12)
	assert.Equal(t, 0.02, got.PValue)
	assert.Equal(t, 1.3, got.EffectSize)
	assert.Equal(t, 0.05, got.CILow)
	assert.Equal(t, 0.15, got.CIHigh)
	assert.Equal(t, 10, got.SampleSize)
	assert.True(t, got.CreatedAt.IsZero())
	// Pure: same input, same output
	assert.Equal(t, got, Derive("ab-9", a, 0.05))
}

func TestNewService(t *testing.T) {
	_, err := NewService(nil)
	assert.Error(t, err)
	_, err = NewService(&Config{})
	assert.Error(t, err)
	negative := -1.0
	_, err = NewService(&Config{Runner: &mockRunner{}, MinImprovement: &negative})
	assert.Error(t, err)

	s, err := NewService(&Config{Runner: &mockRunner{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultMinImprovement, s.minImprovement)
	assert.Equal(t, DefaultTestCaseCount, s.testCaseCount)

	zero := 0.0
	s, err = NewService(&Config{Runner: &mockRunner{}, MinImprovement: &zero})
	require.NoError(t, err)
	assert.Zero(t, s.minImprovement)
}

func TestValidateRefinementSuccess_ZeroThresholdAcceptsAnySignificantGain(t *testing.T) {
	// 2% relative gain, below the default threshold
	runner := &mockRunner{analysis: types.StatisticalAnalysis{PValue: 0.01, MeanA: 0.5, MeanDiff: 0.01}}
	zero := 0.0
	s, err := NewService(&Config{Runner: runner, MinImprovement: &zero})
	require.NoError(t, err)
	p := types.NewPromptCandidate("p")

	result, err := s.ValidateRefinement(context.Background(), p, p.WithContent("q"))
	require.NoError(t, err)
	assert.True(t, result.IsSignificantImprovement)

	defaults, err := NewService(&Config{Runner: runner})
	require.NoError(t, err)
	v, _, err := defaults.ValidateRefinementSuccess(context.Background(), p, p.WithContent("q"), nil, 0)
	require.NoError(t, err)
	assert.True(t, v.IsSignificantImprovement)

	v, _, err = defaults.ValidateRefinementSuccess(context.Background(), p, p.WithContent("q"), nil, UseServiceMinImprovement)
	require.NoError(t, err)
	assert.False(t, v.IsSignificantImprovement)
}

func TestValidateRefinementSuccess_GeneratesTestCases(t *testing.T) {
	runner := &mockRunner{analysis: types.StatisticalAnalysis{PValue: 0.01, MeanA: 0.5, MeanDiff: 0.2}}
	sink := &mockSink{}
	s, err := NewService(&Config{Runner: runner, Sink: sink})
	require.NoError(t, err)

	original := types.NewPromptCandidate("Summarize.")
	result, ab, err := s.ValidateRefinementSuccess(context.Background(), original, original.WithContent("Summarize in 3 bullets."), nil, UseServiceMinImprovement)
	require.NoError(t, err)

	assert.Len(t, runner.gotCases, testcases.LibrarySize)
	assert.Equal(t, SignificanceLevel, runner.gotAlpha)
	assert.True(t, result.IsSignificantImprovement)
	assert.False(t, result.CreatedAt.IsZero())
	assert.Equal(t, "ab-1", ab.TestID)
	require.Len(t, sink.results, 1)
	assert.Equal(t, "ab-1", sink.testIDs[0])
	assert.Same(t, result, sink.results[0])
}

func TestValidateRefinementSuccess_UsesGivenTestCasesAndThreshold(t *testing.T) {
	// 40% relative gain
	runner := &mockRunner{analysis: types.StatisticalAnalysis{PValue: 0.01, MeanA: 0.5, MeanDiff: 0.2}}
	s, err := NewService(&Config{Runner: runner})
	require.NoError(t, err)

	cases := []types.TestCase{{ID: "a", InputText: "x"}, {ID: "b", InputText: "y"}}
	p := types.NewPromptCandidate("p")

	result, _, err := s.ValidateRefinementSuccess(context.Background(), p, p.WithContent("q"), cases, 0.5)
	require.NoError(t, err)
	assert.Equal(t, cases, runner.gotCases)
	assert.False(t, result.IsSignificantImprovement)

	result, _, err = s.ValidateRefinementSuccess(context.Background(), p, p.WithContent("q"), cases, 0.3)
	require.NoError(t, err)
	assert.True(t, result.IsSignificantImprovement)
}

func TestValidateRefinementSuccess_RunnerError(t *testing.T) {
	sink := &mockSink{}
	s, err := NewService(&Config{Runner: &mockRunner{err: errors.New("prompt A: empty")}, Sink: sink})
	require.NoError(t, err)

	p := types.NewPromptCandidate("p")
	_, err = s.ValidateRefinement(context.Background(), p, p.WithContent("q"))
	assert.ErrorContains(t, err, "A/B test failed")
	assert.Empty(t, sink.results)
}

func TestValidateRefinement_EndToEndWithFakeGateway(t *testing.T) {
	// The refined prompt echoes the test input; the original answers with one word
	handler := func(_ context.Context, _ string, p ai.Payload) (string, error) {
		prompt, input, _ := strings.Cut(p.Content, "\n\n")
		if !strings.Contains(prompt, "numbered steps") {
			return "ok", nil
		}
		fields := strings.Fields(input)
		return strings.Join(fields[:len(fields)-1], " "), nil
	}
	gw, fake := ai.NewFakeGateway(handler)
	runner, err := abtest.NewRunner(&abtest.RunnerConfig{Gateway: gw})
	require.NoError(t, err)
	s, err := NewService(&Config{Runner: runner})
	require.NoError(t, err)

	original := types.NewPromptCandidate("Explain the topic.")
	refined := original.WithContent("Explain the topic in numbered steps.")

	result, err := s.ValidateRefinement(context.Background(), original, refined)
	require.NoError(t, err)

	assert.Equal(t, 2*testcases.LibrarySize, fake.CallCount(ai.OpABExecution))
	assert.True(t, result.IsSignificantImprovement)
	assert.Greater(t, result.ImprovementPercentage, 1.0)
	assert.Less(t, result.PValue, 0.05)
	assert.Equal(t, testcases.LibrarySize, result.SampleSize)
}
