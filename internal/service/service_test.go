package service

import (
	"context"
	"strings"
	"testing"

	"github.com/promptlab/refinery/internal/ai"
	"github.com/promptlab/refinery/internal/config"
	"github.com/promptlab/refinery/internal/storage"
	"github.com/promptlab/refinery/internal/testcases"
	"github.com/promptlab/refinery/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.LLM.Provider = ai.ProviderFake
	cfg.LLM.RequestsPerSecond = 0
	cfg.Storage.Driver = config.DriverMemory
	cfg.Cost.PersistStatePath = ""
	return cfg
}

// scriptedHandler plays the judge, suggester and rewriter with the default
// fake answers. For A/B executions, prompts rewritten by the fake rewriter
// echo the test input and all others answer with a single word.
func scriptedHandler(ctx context.Context, model string, p ai.Payload) (string, error) {
	if ai.OperationFrom(ctx) != ai.OpABExecution {
		return ai.DefaultFakeHandler(ctx, model, p)
	}
	if !strings.Contains(p.Content, "Respond in numbered steps") {
		return "ok", nil
	}
	input := p.Content[strings.LastIndex(p.Content, "\n\n")+2:]
	fields := strings.Fields(input)
	return strings.Join(fields[:len(fields)-1], " "), nil
}

func newTestService(t *testing.T, cfg *config.Config, gw ai.Gateway) (*Service, *storage.Memory) {
	t.Helper()
	repo := storage.NewMemory()
	svc, err := New(context.Background(), Options{Config: cfg, Gateway: gw, Repository: repo})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, repo
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.ErrorContains(t, err, "config is required")

	cfg := testConfig()
	cfg.Refinement.MaxIterations = 0
	_, err = New(context.Background(), Options{Config: cfg})
	assert.Error(t, err)
}

func TestNewRouter_NeedsCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Provider = ai.ProviderAnthropic
	cfg.LLM.AnthropicAPIKey = ""
	cfg.LLM.GeminiAPIKey = ""

	_, err := NewRouter(context.Background(), cfg, nil, nil)
	assert.ErrorContains(t, err, "no API key configured")

	// A key for another provider is not enough
	cfg.LLM.GeminiAPIKey = "g-key"
	_, err = NewRouter(context.Background(), cfg, nil, nil)
	assert.ErrorContains(t, err, "no API key configured")
}

func TestNewRouter_Fake(t *testing.T) {
	router, err := NewRouter(context.Background(), testConfig(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ai.ProviderFake, router.DefaultProvider())
	assert.Equal(t, []string{ai.ProviderFake}, router.ProviderNames())
}

func TestRefine_EndToEnd(t *testing.T) {
	gw, fake := ai.NewFakeGateway(scriptedHandler)
	svc, repo := newTestService(t, testConfig(), gw)
	ctx := context.Background()

	result, err := svc.Refine(ctx, RefineRequest{
		PromptID:        "prompt-1",
		Content:         "Explain the topic.",
		TaskDescription: "teach beginners",
	})
	require.NoError(t, err)

	assert.Equal(t, types.RefinementCompleted, result.Status, result.ErrorMessage)
	assert.Equal(t, "prompt-1", result.PromptID)
	assert.Equal(t, "teach beginners", result.TaskDescription)
	assert.Equal(t, 3, result.Iterations)
	assert.Greater(t, result.FinalQuality, result.InitialQuality)
	assert.Contains(t, result.RefinedPrompt.Content, "numbered steps")
	assert.Len(t, result.History, 4)

	// Improvement cleared the threshold, so the refinement was A/B validated
	require.True(t, result.ABTestTriggered)
	require.NotNil(t, result.Validation)
	assert.True(t, result.Validation.IsSignificantImprovement)
	assert.Equal(t, testcases.LibrarySize, result.Validation.SampleSize)
	assert.Equal(t, 2*testcases.LibrarySize, fake.CallCount(ai.OpABExecution))

	// Everything was persisted
	stored, err := svc.Refinement(ctx, result.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, result.FinalQuality, stored.FinalQuality)

	history, err := svc.History(ctx, "prompt-1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	scores, err := svc.QualityHistory(ctx, "prompt-1", 0)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, result.InitialQuality, scores[0].Overall)

	suggestions, err := repo.GetSuggestions(ctx, "prompt-1")
	require.NoError(t, err)
	assert.NotEmpty(t, suggestions)

	ab, v, err := svc.ABTest(ctx, result.Validation.TestID)
	require.NoError(t, err)
	require.NotNil(t, ab)
	require.NotNil(t, v)
	assert.Equal(t, types.WinnerB, ab.Winner)
	assert.True(t, v.IsSignificantImprovement)

	metrics := svc.Metrics()
	assert.Equal(t, 1, metrics.TotalRuns)
}

func TestRefine_MaxIterationsOverride(t *testing.T) {
	gw, _ := ai.NewFakeGateway(scriptedHandler)
	cfg := testConfig()
	cfg.Refinement.Validate = false
	svc, _ := newTestService(t, cfg, gw)

	result, err := svc.Refine(context.Background(), RefineRequest{Content: "Explain the topic.", MaxIterations: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Iterations)
	assert.NotEmpty(t, result.PromptID)
	// Validation disabled: the gain is recorded but no test runs
	assert.True(t, result.ABTestTriggered)
	assert.Nil(t, result.Validation)
}

func TestRefine_RejectsEmptyPrompt(t *testing.T) {
	gw, fake := ai.NewFakeGateway(scriptedHandler)
	svc, _ := newTestService(t, testConfig(), gw)

	_, err := svc.Refine(context.Background(), RefineRequest{Content: "  "})
	assert.ErrorContains(t, err, "prompt content is required")
	assert.Zero(t, fake.CallCount(""))
}

func TestRunABTest_GeneratesCases(t *testing.T) {
	gw, fake := ai.NewFakeGateway(scriptedHandler)
	cfg := testConfig()
	cfg.ABTest.TestCaseCount = 4
	svc, _ := newTestService(t, cfg, gw)

	a := types.NewPromptCandidate("Explain the topic.")
	b := a.WithContent("Explain the topic.\n\nRespond in numbered steps.")

	result, err := svc.RunABTest(context.Background(), a, b, nil)
	require.NoError(t, err)
	assert.Len(t, result.TestCases, 4)
	assert.Equal(t, 8, fake.CallCount(ai.OpABExecution))
	assert.Equal(t, types.WinnerB, result.Winner)
	assert.InDelta(t, 0.95, result.ConfidenceLevel, 1e-9)
}

func TestValidateRefinement_UsesGivenCases(t *testing.T) {
	gw, _ := ai.NewFakeGateway(scriptedHandler)
	svc, repo := newTestService(t, testConfig(), gw)

	a := types.NewPromptCandidate("Explain the topic.")
	b := a.WithContent("Explain the topic.\n\nRespond in numbered steps.")
	cases := svc.GenerateTestCases(a, 6)
	require.Len(t, cases, 6)

	v, ab, err := svc.ValidateRefinement(context.Background(), a, b, cases)
	require.NoError(t, err)
	assert.Equal(t, 6, v.SampleSize)
	assert.Equal(t, ab.TestID, v.TestID)
	assert.True(t, v.IsSignificantImprovement)

	stored, err := repo.GetValidationResult(context.Background(), ab.TestID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestCostStats_TracksRouterUsage(t *testing.T) {
	// No injected gateway: the router is built from config with the fake provider
	svc, _ := newTestService(t, testConfig(), nil)

	_, err := svc.Refine(context.Background(), RefineRequest{Content: "Explain the topic.", MaxIterations: 1})
	require.NoError(t, err)

	stats := svc.CostStats()
	assert.Greater(t, stats.TotalTokensUsed, int64(0))
	assert.Greater(t, stats.TotalCostUsed, 0.0)

	require.NoError(t, svc.ResetCosts())
	assert.Zero(t, svc.CostStats().TotalTokensUsed)
}
