package cost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.PersistStatePath = ""
	cfg.MaxTokensPerHour = 1000
	cfg.MaxTokensPerRun = 400
	cfg.MaxCostPerHour = 0
	return cfg
}

func newTestTracker(t *testing.T, cfg *Config) *Tracker {
	t.Helper()
	tracker, err := NewTracker(cfg, nil)
	require.NoError(t, err)
	return tracker
}

func TestNewTracker_RejectsInvalidConfig(t *testing.T) {
	_, err := NewTracker(nil, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.AlertThreshold = 0
	_, err = NewTracker(cfg, nil)
	assert.ErrorContains(t, err, "alert_threshold")
}

func TestRecordUsage_CalculatesCost(t *testing.T) {
	tracker := newTestTracker(t, testConfig())

	cost, err := tracker.RecordUsage(context.Background(), "run-1", 100, 20)
	require.NoError(t, err)

	// 100 * $3/1M + 20 * $15/1M
	assert.InDelta(t, 0.0006, cost, 1e-12)
	stats := tracker.GetStats()
	assert.Equal(t, int64(120), stats.HourlyTokensUsed)
	assert.Equal(t, int64(120), stats.TotalTokensUsed)
	assert.Equal(t, 1, stats.RunsTracked)
	assert.Equal(t, int64(120), tracker.RunTokens("run-1"))
}

func TestBudgetStatusTransitions(t *testing.T) {
	tracker := newTestTracker(t, testConfig())
	ctx := context.Background()

	assert.Equal(t, BudgetHealthy, tracker.CheckBudget())

	_, err := tracker.RecordUsage(ctx, "", 800, 0)
	require.NoError(t, err)
	assert.Equal(t, BudgetWarning, tracker.CheckBudget())

	_, err = tracker.RecordUsage(ctx, "", 200, 0)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
	assert.Equal(t, BudgetExceeded, tracker.CheckBudget())

	ok, reason := tracker.CanProceed("any")
	assert.False(t, ok)
	assert.Contains(t, reason, "hourly token budget exceeded")

	// Already exceeded: no second error
	_, err = tracker.RecordUsage(ctx, "", 10, 0)
	assert.NoError(t, err)
}

func TestCanProceed_PerRunLimit(t *testing.T) {
	tracker := newTestTracker(t, testConfig())
	ctx := context.Background()

	_, err := tracker.RecordUsage(ctx, "run-a", 300, 0)
	require.NoError(t, err)
	ok, _ := tracker.CanProceed("run-a")
	assert.True(t, ok)

	_, err = tracker.RecordUsage(ctx, "run-a", 100, 0)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	ok, reason := tracker.CanProceed("run-a")
	assert.False(t, ok)
	assert.Contains(t, reason, "run-a")

	// Other runs are unaffected
	ok, _ = tracker.CanProceed("run-b")
	assert.True(t, ok)
}

func TestCostLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokensPerHour = 0
	cfg.MaxTokensPerRun = 0
	cfg.MaxCostPerHour = 0.01
	tracker := newTestTracker(t, cfg)

	// 1000 output tokens = $0.015
	_, err := tracker.RecordUsage(context.Background(), "r", 0, 1000)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	ok, reason := tracker.CanProceed("r")
	assert.False(t, ok)
	assert.Contains(t, reason, "hourly cost budget exceeded")
}

func TestWindowReset(t *testing.T) {
	tracker := newTestTracker(t, testConfig())
	now := time.Now()
	tracker.now = func() time.Time { return now }

	_, _ = tracker.RecordUsage(context.Background(), "run-1", 1000, 0)
	assert.Equal(t, BudgetExceeded, tracker.CheckBudget())

	now = now.Add(61 * time.Minute)
	assert.Equal(t, BudgetHealthy, tracker.CheckBudget())

	stats := tracker.GetStats()
	assert.Zero(t, stats.HourlyTokensUsed)
	assert.Equal(t, int64(1000), stats.TotalTokensUsed)
	// Per-run usage outlives the window
	assert.Equal(t, int64(1000), tracker.RunTokens("run-1"))
}

func TestDisabledTrackerAlwaysProceeds(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	tracker := newTestTracker(t, cfg)

	cost, err := tracker.RecordUsage(context.Background(), "r", 10_000, 10_000)
	require.NoError(t, err)
	assert.Greater(t, cost, 0.0)

	ok, _ := tracker.CanProceed("r")
	assert.True(t, ok)
	assert.Equal(t, BudgetHealthy, tracker.CheckBudget())
}

func TestStatePersistence(t *testing.T) {
	cfg := testConfig()
	cfg.PersistStatePath = filepath.Join(t.TempDir(), "nested", "cost_state.json")

	first := newTestTracker(t, cfg)
	_, err := first.RecordUsage(context.Background(), "run-1", 150, 50)
	require.NoError(t, err)

	_, err = os.Stat(cfg.PersistStatePath)
	require.NoError(t, err)

	second := newTestTracker(t, cfg)
	stats := second.GetStats()
	assert.Equal(t, int64(200), stats.TotalTokensUsed)
	assert.Equal(t, int64(200), stats.HourlyTokensUsed)
	// A new process cannot finish the old process's runs.
	assert.Zero(t, second.RunTokens("run-1"))
	assert.Zero(t, stats.RunsTracked)

	require.NoError(t, second.Reset())
	third := newTestTracker(t, cfg)
	assert.Zero(t, third.GetStats().TotalTokensUsed)
}

func TestCorruptStateStartsFresh(t *testing.T) {
	cfg := testConfig()
	cfg.PersistStatePath = filepath.Join(t.TempDir(), "cost_state.json")
	require.NoError(t, os.WriteFile(cfg.PersistStatePath, []byte("{not json"), 0o644))

	tracker := newTestTracker(t, cfg)
	assert.Zero(t, tracker.GetStats().TotalTokensUsed)
}

func TestBudgetStatusString(t *testing.T) {
	assert.Equal(t, "HEALTHY", BudgetHealthy.String())
	assert.Equal(t, "WARNING", BudgetWarning.String())
	assert.Equal(t, "EXCEEDED", BudgetExceeded.String())
	assert.Equal(t, "UNKNOWN(9)", BudgetStatus(9).String())
}

func TestEndRun_ReleasesRunAccounting(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokensPerHour = 0
	cfg.PersistStatePath = filepath.Join(t.TempDir(), "cost_state.json")
	tracker := newTestTracker(t, cfg)
	ctx := context.Background()

	_, err := tracker.RecordUsage(ctx, "warmup", 10, 10)
	require.NoError(t, err)
	tracker.EndRun("warmup")
	info, err := os.Stat(cfg.PersistStatePath)
	require.NoError(t, err)
	baseline := info.Size()

	for i := range 500 {
		runID := fmt.Sprintf("run-%d", i)
		_, err := tracker.RecordUsage(ctx, runID, 10, 10)
		require.NoError(t, err)
		tracker.EndRun(runID)
	}

	stats := tracker.GetStats()
	assert.Zero(t, stats.RunsTracked)
	assert.Equal(t, int64(20*501), stats.TotalTokensUsed)

	info, err = os.Stat(cfg.PersistStatePath)
	require.NoError(t, err)
	// Only counters and timestamps change width; 500 leaked run entries would add kilobytes.
	assert.Less(t, info.Size(), baseline+256)

	// Unknown and empty IDs are ignored.
	tracker.EndRun("")
	tracker.EndRun("never-started")
	assert.Zero(t, tracker.GetStats().RunsTracked)
}

func TestEndRun_ResetsRunLimit(t *testing.T) {
	tracker := newTestTracker(t, testConfig())
	ctx := context.Background()

	_, err := tracker.RecordUsage(ctx, "run-1", 400, 0)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	ok, _ := tracker.CanProceed("run-1")
	assert.False(t, ok)

	tracker.EndRun("run-1")
	assert.Zero(t, tracker.RunTokens("run-1"))
	assert.Equal(t, int64(400), tracker.GetStats().HourlyTokensUsed)
}
