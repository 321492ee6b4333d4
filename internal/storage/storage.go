// Package storage persists quality scores, suggestions, refinement runs,
// A/B tests and validation results.
//
// Three backends implement Repository: an embedded SQLite database (the
// default), PostgreSQL for shared deployments, and an in-process memory
// store for tests and throwaway sessions. Getters return (nil, nil) when the
// record does not exist.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/promptlab/refinery/internal/config"
	"github.com/promptlab/refinery/internal/storage/postgres"
	"github.com/promptlab/refinery/internal/storage/sqlite"
	"github.com/promptlab/refinery/internal/types"
)

// Repository is the persistence contract shared by every backend.
type Repository interface {
	// Quality scores
	SaveQualityScore(ctx context.Context, score *types.QualityScore) error
	GetQualityHistory(ctx context.Context, promptID string, limit int) ([]*types.QualityScore, error)

	// Suggestions are stored in batches; the latest batch wins
	SaveSuggestions(ctx context.Context, promptID string, suggestions []types.Suggestion) error
	GetSuggestions(ctx context.Context, promptID string) ([]types.Suggestion, error)

	// Refinement runs
	SaveRefinementResult(ctx context.Context, result *types.RefinementResult) error
	GetRefinementResult(ctx context.Context, id string) (*types.RefinementResult, error)
	ListRefinementResults(ctx context.Context, promptID string, limit int) ([]*types.RefinementResult, error)

	// A/B tests and validations
	SaveABTestResult(ctx context.Context, result *types.ABTestResult) error
	GetABTestResult(ctx context.Context, testID string) (*types.ABTestResult, error)
	SaveValidationResult(ctx context.Context, result *types.ValidationResult) error
	GetValidationResult(ctx context.Context, testID string) (*types.ValidationResult, error)

	Close() error
}

var (
	_ Repository = (*sqlite.Store)(nil)
	_ Repository = (*postgres.Store)(nil)
	_ Repository = (*Memory)(nil)
)

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Repository, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.New(ctx, cfg.Path)
	case config.DriverPostgres:
		return postgres.New(ctx, &postgres.Config{DSN: cfg.DSN})
	case config.DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// Recorder adapts a Repository to the fire-and-forget sinks used by the
// analysis, refinement and A/B packages. Persistence failures are logged and
// never interrupt the caller.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder wraps repo. A nil logger uses slog.Default().
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger.With("component", "storage")}
}

// Repository returns the wrapped repository.
func (r *Recorder) Repository() Repository {
	return r.repo
}

func (r *Recorder) SaveQualityScore(ctx context.Context, promptID string, score types.QualityScore) {
	if score.PromptID == "" {
		score.PromptID = promptID
	}
	if err := r.repo.SaveQualityScore(ctx, &score); err != nil {
		r.logger.Warn("failed to save quality score", "prompt_id", promptID, "error", err)
	}
}

func (r *Recorder) SaveSuggestions(ctx context.Context, promptID string, suggestions []types.Suggestion) {
	if err := r.repo.SaveSuggestions(ctx, promptID, suggestions); err != nil {
		r.logger.Warn("failed to save suggestions", "prompt_id", promptID, "error", err)
	}
}

func (r *Recorder) SaveRefinementResult(ctx context.Context, result *types.RefinementResult) {
	if err := r.repo.SaveRefinementResult(ctx, result); err != nil {
		r.logger.Warn("failed to save refinement result", "refinement_id", result.ID, "error", err)
	}
}

func (r *Recorder) SaveABTestResult(ctx context.Context, result *types.ABTestResult) {
	if err := r.repo.SaveABTestResult(ctx, result); err != nil {
		r.logger.Warn("failed to save A/B test result", "test_id", result.TestID, "error", err)
	}
}

func (r *Recorder) SaveValidationResult(ctx context.Context, testID string, result *types.ValidationResult) {
	v := *result
	if v.TestID == "" {
		v.TestID = testID
	}
	if err := r.repo.SaveValidationResult(ctx, &v); err != nil {
		r.logger.Warn("failed to save validation result", "test_id", testID, "error", err)
	}
}
