package repl

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/promptlab/refinery/internal/cost"
	"github.com/promptlab/refinery/internal/service"
	"github.com/promptlab/refinery/internal/testcases"
	"github.com/promptlab/refinery/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAPI struct {
	refineReqs  []service.RefineRequest
	refineErr   error
	validations int
	historyArgs []int
}

func (s *stubAPI) Refine(ctx context.Context, req service.RefineRequest) (*types.RefinementResult, error) {
	s.refineReqs = append(s.refineReqs, req)
	if s.refineErr != nil {
		return nil, s.refineErr
	}
	original := types.NewPromptCandidate(req.Content)
	return &types.RefinementResult{
		ID:                 "run-1",
		OriginalPrompt:     original,
		RefinedPrompt:      original.WithContent(req.Content + " Use numbered steps."),
		InitialQuality:     0.5,
		FinalQuality:       0.7,
		QualityImprovement: 0.2,
		Iterations:         2,
		Status:             types.RefinementCompleted,
		History:            []types.QualityScore{{Overall: 0.5}, {Overall: 0.7, Fallback: true}},
		ABTestTriggered:    true,
		ProcessingTime:     1234 * time.Millisecond,
	}, nil
}

func (s *stubAPI) ValidateRefinement(ctx context.Context, original, refined types.PromptCandidate, _ []types.TestCase) (*types.ValidationResult, *types.ABTestResult, error) {
	s.validations++
	return &types.ValidationResult{TestID: "t-1", IsSignificantImprovement: true, ImprovementPercentage: 0.4, PValue: 0.001, SampleSize: 10},
		&types.ABTestResult{
			TestID:          "t-1",
			Winner:          types.WinnerB,
			Analysis:        types.StatisticalAnalysis{MeanA: 0.5, MeanB: 0.7, MeanDiff: 0.2, PValue: 0.001},
			Recommendations: []string{"Adopt prompt B"},
		}, nil
}

func (s *stubAPI) GenerateTestCases(prompt types.PromptCandidate, count int) []types.TestCase {
	return testcases.Generate(prompt, count)
}

func (s *stubAPI) History(ctx context.Context, promptID string, limit int) ([]*types.RefinementResult, error) {
	s.historyArgs = append(s.historyArgs, limit)
	return []*types.RefinementResult{{
		Status:         types.RefinementCompleted,
		OriginalPrompt: types.PromptCandidate{Content: "Summarize the report\nsecond line"},
		CreatedAt:      time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}}, nil
}

func (s *stubAPI) CostStats() cost.BudgetStats {
	return cost.BudgetStats{Status: cost.BudgetWarning, HourlyTokensUsed: 1200, TotalTokensUsed: 5000, TotalCostUsed: 0.05}
}

func newTestREPL(t *testing.T) (*REPL, *stubAPI, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	api := &stubAPI{}
	var out bytes.Buffer
	r, err := New(&Config{API: api, Out: &out})
	require.NoError(t, err)
	return r, api, &out
}

func TestNew_RequiresAPI(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
	_, err = New(nil)
	assert.Error(t, err)
}

func TestBareTextIsRefined(t *testing.T) {
	r, api, out := newTestREPL(t)

	require.NoError(t, r.processInput("Summarize the article for me"))
	require.Len(t, api.refineReqs, 1)
	assert.Equal(t, "Summarize the article for me", api.refineReqs[0].Content)

	text := out.String()
	assert.Contains(t, text, "0.50 → 0.70 (+0.200)")
	assert.Contains(t, text, "Scores:      0.50 → 0.70*")
	assert.Contains(t, text, "Validation:  skipped")
	assert.Contains(t, text, "Use numbered steps.")
	assert.Contains(t, text, "1.234s")
}

func TestTaskAndIterationsApplyToNextRefine(t *testing.T) {
	r, api, _ := newTestREPL(t)

	require.NoError(t, r.processInput("task write release notes"))
	require.NoError(t, r.processInput("iterations 5"))
	require.NoError(t, r.processInput("refine Describe the change"))

	require.Len(t, api.refineReqs, 1)
	assert.Equal(t, "write release notes", api.refineReqs[0].TaskDescription)
	assert.Equal(t, 5, api.refineReqs[0].MaxIterations)
	assert.Equal(t, "Describe the change", api.refineReqs[0].Content)

	assert.Error(t, r.processInput("iterations -1"))
	assert.Error(t, r.processInput("iterations many"))
}

func TestABTestNeedsARefinement(t *testing.T) {
	r, api, out := newTestREPL(t)

	assert.ErrorContains(t, r.processInput("abtest"), "nothing refined yet")
	assert.ErrorContains(t, r.processInput("show"), "nothing refined yet")

	require.NoError(t, r.processInput("Explain recursion"))
	require.NoError(t, r.processInput("abtest"))
	assert.Equal(t, 1, api.validations)
	assert.Contains(t, out.String(), "Winner:      B")
	assert.Contains(t, out.String(), "• Adopt prompt B")
	assert.Contains(t, out.String(), "significant improvement (+40.0%")
}

func TestHistoryAndCost(t *testing.T) {
	r, api, out := newTestREPL(t)

	require.NoError(t, r.processInput("history"))
	require.NoError(t, r.processInput("history 3"))
	assert.Equal(t, []int{10, 3}, api.historyArgs)
	assert.Contains(t, out.String(), "2026-03-01 09:30")
	assert.Contains(t, out.String(), "Summarize the report")
	assert.NotContains(t, out.String(), "second line")
	assert.Error(t, r.processInput("history zero"))

	require.NoError(t, r.processInput("cost"))
	assert.Contains(t, out.String(), "Budget WARNING: 1200 tokens")
}

func TestCases(t *testing.T) {
	r, _, out := newTestREPL(t)

	require.NoError(t, r.processInput("cases 2"))
	for _, category := range testcases.Categories()[:2] {
		assert.Contains(t, out.String(), "["+category+"]")
	}
}

func TestRefineErrorsSurface(t *testing.T) {
	r, api, _ := newTestREPL(t)
	api.refineErr = errors.New("budget exceeded")

	assert.ErrorContains(t, r.processInput("Make it better"), "budget exceeded")
	assert.ErrorContains(t, r.processInput("refine"), "usage")
}

func TestExitAndBlankLines(t *testing.T) {
	r, api, _ := newTestREPL(t)

	assert.NoError(t, r.processInput("   "))
	assert.ErrorIs(t, r.processInput("EXIT"), errExit)
	assert.ErrorIs(t, r.processInput("quit"), errExit)
	assert.Empty(t, api.refineReqs)
}

func TestPrintABTest_InsufficientData(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	PrintABTest(&out, &types.ABTestResult{TestID: "t", Analysis: types.StatisticalAnalysis{Error: "insufficient data"}})
	assert.Contains(t, out.String(), "Analysis:    insufficient data")
	assert.Contains(t, out.String(), "Winner:      none")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
