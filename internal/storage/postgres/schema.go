package postgres

const schema = `
CREATE TABLE IF NOT EXISTS quality_scores (
    id TEXT PRIMARY KEY,
    prompt_id TEXT NOT NULL,
    overall DOUBLE PRECISION NOT NULL CHECK(overall >= 0 AND overall <= 1),
    fallback BOOLEAN NOT NULL DEFAULT FALSE,
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_quality_scores_prompt ON quality_scores(prompt_id, created_at);

CREATE TABLE IF NOT EXISTS suggestion_batches (
    id BIGSERIAL PRIMARY KEY,
    prompt_id TEXT NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_suggestion_batches_prompt ON suggestion_batches(prompt_id);

CREATE TABLE IF NOT EXISTS refinement_results (
    id TEXT PRIMARY KEY,
    prompt_id TEXT NOT NULL,
    status TEXT NOT NULL,
    initial_quality DOUBLE PRECISION NOT NULL,
    final_quality DOUBLE PRECISION NOT NULL,
    iterations INTEGER NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_refinement_results_prompt ON refinement_results(prompt_id, created_at);
CREATE INDEX IF NOT EXISTS idx_refinement_results_status ON refinement_results(status);

CREATE TABLE IF NOT EXISTS ab_test_results (
    test_id TEXT PRIMARY KEY,
    winner TEXT NOT NULL DEFAULT '',
    p_value DOUBLE PRECISION NOT NULL,
    transcript_uri TEXT NOT NULL DEFAULT '',
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS validation_results (
    test_id TEXT PRIMARY KEY,
    significant BOOLEAN NOT NULL DEFAULT FALSE,
    improvement DOUBLE PRECISION NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
