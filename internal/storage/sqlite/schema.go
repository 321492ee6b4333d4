package sqlite

import "github.com/promptlab/refinery/internal/storage/migrations"

// Each record is stored as a JSON document in data, with the columns we
// filter or sort on lifted out beside it. Timestamps are RFC 3339 text.
var schemaMigrations = []migrations.Migration{
	{
		Version:     1,
		Description: "Initial refinement schema",
		Up: `
CREATE TABLE quality_scores (
    id TEXT PRIMARY KEY,
    prompt_id TEXT NOT NULL,
    overall REAL NOT NULL CHECK(overall >= 0 AND overall <= 1),
    fallback INTEGER NOT NULL DEFAULT 0,
    data TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX idx_quality_scores_prompt ON quality_scores(prompt_id, created_at);

CREATE TABLE suggestion_batches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    prompt_id TEXT NOT NULL,
    data TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX idx_suggestion_batches_prompt ON suggestion_batches(prompt_id);

CREATE TABLE refinement_results (
    id TEXT PRIMARY KEY,
    prompt_id TEXT NOT NULL,
    status TEXT NOT NULL,
    initial_quality REAL NOT NULL,
    final_quality REAL NOT NULL,
    iterations INTEGER NOT NULL,
    data TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX idx_refinement_results_prompt ON refinement_results(prompt_id, created_at);
CREATE INDEX idx_refinement_results_status ON refinement_results(status);

CREATE TABLE ab_test_results (
    test_id TEXT PRIMARY KEY,
    winner TEXT NOT NULL DEFAULT '',
    p_value REAL NOT NULL,
    data TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE validation_results (
    test_id TEXT PRIMARY KEY,
    significant INTEGER NOT NULL DEFAULT 0,
    improvement REAL NOT NULL,
    data TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`,
		Down: `
DROP TABLE validation_results;
DROP TABLE ab_test_results;
DROP TABLE refinement_results;
DROP TABLE suggestion_batches;
DROP TABLE quality_scores;
`,
	},
	{
		Version:     2,
		Description: "Track transcript archives on A/B tests",
		Up:          `ALTER TABLE ab_test_results ADD COLUMN transcript_uri TEXT NOT NULL DEFAULT ''`,
		Down:        `ALTER TABLE ab_test_results DROP COLUMN transcript_uri`,
	},
}
