package cost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/promptlab/refinery/internal/ai"
)

// Compile-time checks that Tracker can guard the model router and release runs
var (
	_ ai.CostTracker = (*Tracker)(nil)
	_ ai.RunCloser   = (*Tracker)(nil)
)

// ErrBudgetExceeded is returned once a call has pushed usage past a limit.
var ErrBudgetExceeded = ai.ErrBudgetExceeded

// BudgetStatus represents the current budget state
type BudgetStatus int

const (
	// BudgetHealthy indicates normal operation - under budget limits
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning indicates approaching budget limits (AlertThreshold)
	BudgetWarning
	// BudgetExceeded indicates budget limits have been exceeded
	BudgetExceeded
)

// String returns a human-readable string representation of the budget status
func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// BudgetState represents the persisted budget tracking state
type BudgetState struct {
	// Window tracking
	HourlyTokensUsed int64     `json:"hourly_tokens_used"`
	HourlyCostUsed   float64   `json:"hourly_cost_used"`
	WindowStartTime  time.Time `json:"window_start_time"`

	// Per-run tracking (run_id -> tokens used)
	RunTokensUsed map[string]int64 `json:"run_tokens_used"`

	// All-time totals
	TotalTokensUsed int64   `json:"total_tokens_used"`
	TotalCostUsed   float64 `json:"total_cost_used"`

	LastUpdated time.Time `json:"last_updated"`
}

// Tracker tracks model cost budgets and enforces limits
type Tracker struct {
	config *Config
	state  *BudgetState
	logger *slog.Logger
	mu     sync.Mutex // Protects state and alert bookkeeping

	// Alert tracking (to avoid spamming)
	lastWarningTime  time.Time
	lastExceededTime time.Time
	warningLogged    bool

	now func() time.Time
}

// NewTracker creates a new cost budget tracker. A nil logger uses slog.Default().
func NewTracker(cfg *Config, logger *slog.Logger) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	t.state = t.freshState()

	// Restart recovery
	if cfg.PersistStatePath != "" {
		if err := t.loadState(); err != nil {
			logger.Warn("failed to load cost state, starting fresh",
				"path", cfg.PersistStatePath, "error", err)
		} else {
			logger.Debug("loaded cost budget state",
				"path", cfg.PersistStatePath,
				"total_cost", t.state.TotalCostUsed,
				"hourly_tokens", t.state.HourlyTokensUsed)
		}
	}

	t.checkAndResetWindow()

	return t, nil
}

func (t *Tracker) freshState() *BudgetState {
	now := t.now()
	return &BudgetState{
		WindowStartTime: now,
		RunTokensUsed:   make(map[string]int64),
		LastUpdated:     now,
	}
}

// RecordUsage records token usage for a run and returns the call's cost in
// USD. The error is ErrBudgetExceeded when this call crossed a limit; the
// usage is recorded either way.
func (t *Tracker) RecordUsage(ctx context.Context, runID string, inputTokens, outputTokens int64) (float64, error) {
	cost := t.calculateCost(inputTokens, outputTokens)
	if !t.config.Enabled {
		return cost, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkAndResetWindow()

	before := t.getBudgetStatusLocked()
	runExceededBefore := runID != "" && t.isRunLimitExceeded(runID)

	totalTokens := inputTokens + outputTokens
	t.state.HourlyTokensUsed += totalTokens
	t.state.HourlyCostUsed += cost
	t.state.TotalTokensUsed += totalTokens
	t.state.TotalCostUsed += cost
	t.state.LastUpdated = t.now()
	if runID != "" {
		t.state.RunTokensUsed[runID] += totalTokens
	}

	if err := t.persistState(); err != nil {
		t.logger.Warn("failed to persist cost state", "error", err)
	}

	status := t.getBudgetStatusLocked()
	t.emitAlertsIfNeeded(status)

	if before != BudgetExceeded && status == BudgetExceeded {
		return cost, ErrBudgetExceeded
	}
	if runID != "" && !runExceededBefore && t.isRunLimitExceeded(runID) {
		return cost, fmt.Errorf("%w: run %s", ErrBudgetExceeded, runID)
	}
	return cost, nil
}

// CheckBudget returns the current budget status without recording usage
func (t *Tracker) CheckBudget() BudgetStatus {
	if !t.config.Enabled {
		return BudgetHealthy
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkAndResetWindow()
	return t.getBudgetStatusLocked()
}

// CanProceed reports whether another model call fits the budget. The reason
// names the exhausted limit when it does not.
func (t *Tracker) CanProceed(runID string) (bool, string) {
	if !t.config.Enabled {
		return true, ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkAndResetWindow()

	if t.isHourlyTokenLimitExceeded() {
		return false, fmt.Sprintf("hourly token budget exceeded (%d/%d tokens used)",
			t.state.HourlyTokensUsed, t.config.MaxTokensPerHour)
	}

	if t.isHourlyCostLimitExceeded() {
		return false, fmt.Sprintf("hourly cost budget exceeded ($%.2f/$%.2f used)",
			t.state.HourlyCostUsed, t.config.MaxCostPerHour)
	}

	if runID != "" && t.isRunLimitExceeded(runID) {
		return false, fmt.Sprintf("per-run token budget exceeded for %s (%d/%d tokens used)",
			runID, t.state.RunTokensUsed[runID], t.config.MaxTokensPerRun)
	}

	return true, ""
}

// RunTokens returns the tokens recorded against runID.
func (t *Tracker) RunTokens(runID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.RunTokensUsed[runID]
}

// EndRun drops the per-run accounting for a finished run. Window and
// all-time totals keep its usage.
func (t *Tracker) EndRun(runID string) {
	if runID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.state.RunTokensUsed[runID]; !ok {
		return
	}
	delete(t.state.RunTokensUsed, runID)
	if err := t.persistState(); err != nil {
		t.logger.Warn("failed to persist cost state", "error", err)
	}
}

// GetStats returns current budget statistics
func (t *Tracker) GetStats() BudgetStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkAndResetWindow()

	return BudgetStats{
		Status:           t.getBudgetStatusLocked(),
		HourlyTokensUsed: t.state.HourlyTokensUsed,
		HourlyCostUsed:   t.state.HourlyCostUsed,
		TotalTokensUsed:  t.state.TotalTokensUsed,
		TotalCostUsed:    t.state.TotalCostUsed,
		RunsTracked:      len(t.state.RunTokensUsed),
		WindowStartTime:  t.state.WindowStartTime,
		WindowResetsAt:   t.state.WindowStartTime.Add(t.config.BudgetResetInterval),
		LastUpdated:      t.state.LastUpdated,
		Config:           *t.config,
	}
}

// Reset clears all recorded usage, including the persisted state.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = t.freshState()
	t.warningLogged = false
	return t.persistState()
}

// BudgetStats contains budget statistics
type BudgetStats struct {
	Status           BudgetStatus `json:"status"`
	HourlyTokensUsed int64        `json:"hourly_tokens_used"`
	HourlyCostUsed   float64      `json:"hourly_cost_used"`
	TotalTokensUsed  int64        `json:"total_tokens_used"`
	TotalCostUsed    float64      `json:"total_cost_used"`
	RunsTracked      int          `json:"runs_tracked"`
	WindowStartTime  time.Time    `json:"window_start_time"`
	WindowResetsAt   time.Time    `json:"window_resets_at"`
	LastUpdated      time.Time    `json:"last_updated"`
	Config           Config       `json:"config"`
}

// Internal helper methods

// getBudgetStatusLocked returns the current budget status (must be called with lock held)
func (t *Tracker) getBudgetStatusLocked() BudgetStatus {
	if t.isHourlyTokenLimitExceeded() || t.isHourlyCostLimitExceeded() {
		return BudgetExceeded
	}

	if t.config.MaxTokensPerHour > 0 &&
		float64(t.state.HourlyTokensUsed)/float64(t.config.MaxTokensPerHour) >= t.config.AlertThreshold {
		return BudgetWarning
	}
	if t.config.MaxCostPerHour > 0 &&
		t.state.HourlyCostUsed/t.config.MaxCostPerHour >= t.config.AlertThreshold {
		return BudgetWarning
	}

	return BudgetHealthy
}

func (t *Tracker) isHourlyTokenLimitExceeded() bool {
	return t.config.MaxTokensPerHour > 0 && t.state.HourlyTokensUsed >= t.config.MaxTokensPerHour
}

func (t *Tracker) isHourlyCostLimitExceeded() bool {
	return t.config.MaxCostPerHour > 0 && t.state.HourlyCostUsed >= t.config.MaxCostPerHour
}

func (t *Tracker) isRunLimitExceeded(runID string) bool {
	if t.config.MaxTokensPerRun <= 0 {
		return false
	}
	return t.state.RunTokensUsed[runID] >= t.config.MaxTokensPerRun
}

// calculateCost calculates the cost in USD for given token usage
func (t *Tracker) calculateCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) * t.config.InputTokenCost / 1_000_000
	outputCost := float64(outputTokens) * t.config.OutputTokenCost / 1_000_000
	return inputCost + outputCost
}

// checkAndResetWindow resets the window counters once the interval has
// elapsed. Per-run usage survives the reset.
// MUST be called with mu lock held
func (t *Tracker) checkAndResetWindow() {
	now := t.now()
	if now.Sub(t.state.WindowStartTime) >= t.config.BudgetResetInterval {
		t.state.HourlyTokensUsed = 0
		t.state.HourlyCostUsed = 0
		t.state.WindowStartTime = now
		t.warningLogged = false
	}
}

// persistState saves the budget state to disk
func (t *Tracker) persistState() error {
	if t.config.PersistStatePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if dir := filepath.Dir(t.config.PersistStatePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	if err := os.WriteFile(t.config.PersistStatePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	return nil
}

// loadState loads the budget state from disk
func (t *Tracker) loadState() error {
	data, err := os.ReadFile(t.config.PersistStatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state BudgetState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}

	// Runs belong to the process that started them; a previous process
	// cannot finish them, so their per-run counters are dropped.
	if n := len(state.RunTokensUsed); n > 0 {
		t.logger.Debug("dropping per-run usage from previous process", "runs", n)
	}
	state.RunTokensUsed = make(map[string]int64)

	t.state = &state
	return nil
}

// emitAlertsIfNeeded logs when budget thresholds are crossed
func (t *Tracker) emitAlertsIfNeeded(status BudgetStatus) {
	now := t.now()

	switch status {
	case BudgetWarning:
		// Once per window, at most every 5 minutes
		if !t.warningLogged && now.Sub(t.lastWarningTime) > 5*time.Minute {
			t.logger.Warn("cost budget warning",
				"hourly_tokens", t.state.HourlyTokensUsed,
				"max_tokens_per_hour", t.config.MaxTokensPerHour,
				"hourly_cost", t.state.HourlyCostUsed,
				"max_cost_per_hour", t.config.MaxCostPerHour)
			t.lastWarningTime = now
			t.warningLogged = true
		}

	case BudgetExceeded:
		if now.Sub(t.lastExceededTime) > 5*time.Minute {
			resetTime := t.state.WindowStartTime.Add(t.config.BudgetResetInterval)
			t.logger.Error("cost budget exceeded, refusing new model calls until reset",
				"hourly_tokens", t.state.HourlyTokensUsed,
				"max_tokens_per_hour", t.config.MaxTokensPerHour,
				"hourly_cost", t.state.HourlyCostUsed,
				"max_cost_per_hour", t.config.MaxCostPerHour,
				"resets_in", resetTime.Sub(now).Round(time.Minute))
			t.lastExceededTime = now
		}
	}
}
