// Package postgres is the PostgreSQL backend, for deployments where several
// refinery processes share one history.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/promptlab/refinery/internal/types"
)

// Store implements the repository on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Config holds PostgreSQL connection configuration
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	HealthCheck     time.Duration
}

// DefaultConfig returns pool settings sized for a CLI or small service.
func DefaultConfig() *Config {
	return &Config{
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 1 * time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		HealthCheck:     1 * time.Minute,
	}
}

// New connects, pings and ensures the schema exists. Zero pool settings in
// cfg fall back to DefaultConfig.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	def := DefaultConfig()

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = orDefault(cfg.MaxConns, def.MaxConns)
	poolConfig.MinConns = orDefault(cfg.MinConns, def.MinConns)
	poolConfig.MaxConnLifetime = orDefault(cfg.MaxConnLifetime, def.MaxConnLifetime)
	poolConfig.MaxConnIdleTime = orDefault(cfg.MaxConnIdleTime, def.MaxConnIdleTime)
	poolConfig.HealthCheckPeriod = orDefault(cfg.HealthCheck, def.HealthCheck)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initializeSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func initializeSchema(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) SaveQualityScore(ctx context.Context, score *types.QualityScore) error {
	if score.ID == "" {
		return fmt.Errorf("quality score ID is required")
	}
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("failed to marshal quality score: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO quality_scores (id, prompt_id, overall, fallback, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, score.ID, score.PromptID, score.Overall, score.Fallback, data, stamp(score.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert quality score: %w", err)
	}
	return nil
}

// GetQualityHistory returns scores for promptID, newest first. limit <= 0
// returns all of them.
func (s *Store) GetQualityHistory(ctx context.Context, promptID string, limit int) ([]*types.QualityScore, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM quality_scores
		WHERE prompt_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, promptID, pgLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query quality history: %w", err)
	}
	return collectDocuments[types.QualityScore](rows)
}

func (s *Store) SaveSuggestions(ctx context.Context, promptID string, suggestions []types.Suggestion) error {
	if suggestions == nil {
		suggestions = []types.Suggestion{}
	}
	data, err := json.Marshal(suggestions)
	if err != nil {
		return fmt.Errorf("failed to marshal suggestions: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO suggestion_batches (prompt_id, data) VALUES ($1, $2)`, promptID, data); err != nil {
		return fmt.Errorf("failed to insert suggestions: %w", err)
	}
	return nil
}

// GetSuggestions returns the most recent batch for promptID.
func (s *Store) GetSuggestions(ctx context.Context, promptID string) ([]types.Suggestion, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM suggestion_batches
		WHERE prompt_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, promptID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get suggestions: %w", err)
	}
	var out []types.Suggestion
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode suggestions: %w", err)
	}
	return out, nil
}

// SaveRefinementResult inserts a run or replaces an earlier snapshot of it.
func (s *Store) SaveRefinementResult(ctx context.Context, result *types.RefinementResult) error {
	if result.ID == "" {
		return fmt.Errorf("refinement result ID is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal refinement result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO refinement_results (id, prompt_id, status, initial_quality, final_quality, iterations, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			initial_quality = EXCLUDED.initial_quality,
			final_quality = EXCLUDED.final_quality,
			iterations = EXCLUDED.iterations,
			data = EXCLUDED.data
	`, result.ID, result.PromptID, string(result.Status), result.InitialQuality, result.FinalQuality,
		result.Iterations, data, stamp(result.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save refinement result: %w", err)
	}
	return nil
}

func (s *Store) GetRefinementResult(ctx context.Context, id string) (*types.RefinementResult, error) {
	return getDocument[types.RefinementResult](ctx, s.pool,
		`SELECT data FROM refinement_results WHERE id = $1`, id)
}

// ListRefinementResults returns runs newest first. An empty promptID lists
// every prompt.
func (s *Store) ListRefinementResults(ctx context.Context, promptID string, limit int) ([]*types.RefinementResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM refinement_results
		WHERE $1 = '' OR prompt_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, promptID, pgLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list refinement results: %w", err)
	}
	return collectDocuments[types.RefinementResult](rows)
}

func (s *Store) SaveABTestResult(ctx context.Context, result *types.ABTestResult) error {
	if result.TestID == "" {
		return fmt.Errorf("A/B test ID is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal A/B test result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ab_test_results (test_id, winner, p_value, transcript_uri, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (test_id) DO UPDATE SET
			winner = EXCLUDED.winner,
			p_value = EXCLUDED.p_value,
			transcript_uri = EXCLUDED.transcript_uri,
			data = EXCLUDED.data
	`, result.TestID, string(result.Winner), result.Analysis.PValue, result.TranscriptURI, data, stamp(result.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save A/B test result: %w", err)
	}
	return nil
}

func (s *Store) GetABTestResult(ctx context.Context, testID string) (*types.ABTestResult, error) {
	return getDocument[types.ABTestResult](ctx, s.pool,
		`SELECT data FROM ab_test_results WHERE test_id = $1`, testID)
}

func (s *Store) SaveValidationResult(ctx context.Context, result *types.ValidationResult) error {
	if result.TestID == "" {
		return fmt.Errorf("validation test ID is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal validation result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO validation_results (test_id, significant, improvement, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (test_id) DO UPDATE SET
			significant = EXCLUDED.significant,
			improvement = EXCLUDED.improvement,
			data = EXCLUDED.data
	`, result.TestID, result.IsSignificantImprovement, result.ImprovementPercentage, data, stamp(result.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save validation result: %w", err)
	}
	return nil
}

func (s *Store) GetValidationResult(ctx context.Context, testID string) (*types.ValidationResult, error) {
	return getDocument[types.ValidationResult](ctx, s.pool,
		`SELECT data FROM validation_results WHERE test_id = $1`, testID)
}

func getDocument[T any](ctx context.Context, pool *pgxpool.Pool, query string, args ...any) (*T, error) {
	var data []byte
	err := pool.QueryRow(ctx, query, args...).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &out, nil
}

func collectDocuments[T any](rows pgx.Rows) ([]*T, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*T, error) {
		var data []byte
		if err := row.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		return &v, nil
	})
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// pgLimit maps "no limit" onto LIMIT NULL.
func pgLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
