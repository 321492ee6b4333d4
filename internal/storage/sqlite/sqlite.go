// Package sqlite is the embedded SQLite backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/promptlab/refinery/internal/storage/migrations"
	"github.com/promptlab/refinery/internal/types"
)

// Store persists refinement data in a single SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (creating if needed) the database at path and migrates it to
// the latest schema.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL lets the CLI read history while a long run is writing
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := migrations.NewManager(schemaMigrations...).ApplySQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveQualityScore(ctx context.Context, score *types.QualityScore) error {
	if score.ID == "" {
		return fmt.Errorf("quality score ID is required")
	}
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("failed to marshal quality score: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quality_scores (id, prompt_id, overall, fallback, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, score.ID, score.PromptID, score.Overall, score.Fallback, string(data), formatTime(score.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert quality score: %w", err)
	}
	return nil
}

// GetQualityHistory returns scores for promptID, newest first. limit <= 0
// returns all of them.
func (s *Store) GetQualityHistory(ctx context.Context, promptID string, limit int) ([]*types.QualityScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM quality_scores
		WHERE prompt_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, promptID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query quality history: %w", err)
	}
	return scanDocuments[types.QualityScore](rows)
}

func (s *Store) SaveSuggestions(ctx context.Context, promptID string, suggestions []types.Suggestion) error {
	if suggestions == nil {
		suggestions = []types.Suggestion{}
	}
	data, err := json.Marshal(suggestions)
	if err != nil {
		return fmt.Errorf("failed to marshal suggestions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO suggestion_batches (prompt_id, data, created_at) VALUES (?, ?, ?)`,
		promptID, string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to insert suggestions: %w", err)
	}
	return nil
}

// GetSuggestions returns the most recent batch for promptID.
func (s *Store) GetSuggestions(ctx context.Context, promptID string) ([]types.Suggestion, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM suggestion_batches
		WHERE prompt_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, promptID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get suggestions: %w", err)
	}
	var out []types.Suggestion
	if err := json.Unmarshal([]byte(data), &out); err != nil {
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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO refinement_results (id, prompt_id, status, initial_quality, final_quality, iterations, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			initial_quality = excluded.initial_quality,
			final_quality = excluded.final_quality,
			iterations = excluded.iterations,
			data = excluded.data
	`, result.ID, result.PromptID, string(result.Status), result.InitialQuality, result.FinalQuality,
		result.Iterations, string(data), formatTime(result.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save refinement result: %w", err)
	}
	return nil
}

func (s *Store) GetRefinementResult(ctx context.Context, id string) (*types.RefinementResult, error) {
	return getDocument[types.RefinementResult](ctx, s.db,
		`SELECT data FROM refinement_results WHERE id = ?`, id)
}

// ListRefinementResults returns runs newest first. An empty promptID lists
// every prompt.
func (s *Store) ListRefinementResults(ctx context.Context, promptID string, limit int) ([]*types.RefinementResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM refinement_results
		WHERE ? = '' OR prompt_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, promptID, promptID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list refinement results: %w", err)
	}
	return scanDocuments[types.RefinementResult](rows)
}

func (s *Store) SaveABTestResult(ctx context.Context, result *types.ABTestResult) error {
	if result.TestID == "" {
		return fmt.Errorf("A/B test ID is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal A/B test result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO ab_test_results (test_id, winner, p_value, transcript_uri, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, result.TestID, string(result.Winner), result.Analysis.PValue, result.TranscriptURI,
		string(data), formatTime(result.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save A/B test result: %w", err)
	}
	return nil
}

func (s *Store) GetABTestResult(ctx context.Context, testID string) (*types.ABTestResult, error) {
	return getDocument[types.ABTestResult](ctx, s.db,
		`SELECT data FROM ab_test_results WHERE test_id = ?`, testID)
}

func (s *Store) SaveValidationResult(ctx context.Context, result *types.ValidationResult) error {
	if result.TestID == "" {
		return fmt.Errorf("validation test ID is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal validation result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO validation_results (test_id, significant, improvement, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, result.TestID, result.IsSignificantImprovement, result.ImprovementPercentage,
		string(data), formatTime(result.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save validation result: %w", err)
	}
	return nil
}

func (s *Store) GetValidationResult(ctx context.Context, testID string) (*types.ValidationResult, error) {
	return getDocument[types.ValidationResult](ctx, s.db,
		`SELECT data FROM validation_results WHERE test_id = ?`, testID)
}

func getDocument[T any](ctx context.Context, db *sql.DB, query string, args ...any) (*T, error) {
	var data string
	err := db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	var out T
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &out, nil
}

func scanDocuments[T any](rows *sql.Rows) ([]*T, error) {
	defer func() { _ = rows.Close() }()

	var out []*T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// formatTime renders t so that lexical order matches chronological order.
func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
