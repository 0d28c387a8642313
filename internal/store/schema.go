package store

import (
	"context"
	"fmt"
	"log/slog"
)

// pgvector limits: a vector column holds at most MaxDimensions values and an
// HNSW index covers at most MaxIndexedDimensions.
const (
	MaxDimensions        = 16000
	MaxIndexedDimensions = 2000
)

const ddlEmbeddingIndex = `
CREATE INDEX IF NOT EXISTS idx_analyses_embedding
    ON analyses USING hnsw (embedding vector_cosine_ops);
`

// ddlAnalyses returns the DDL with the embedding dimension substituted. The
// dimension is baked into the column type when the table is first created.
// Columns wider than MaxIndexedDimensions get no similarity index.
func ddlAnalyses(embeddingDimensions int) string {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS analyses (
    id              UUID         PRIMARY KEY,
    user_id         TEXT         NOT NULL,
    session_id      TEXT         NOT NULL,
    question_index  INTEGER      NOT NULL,
    question_text   TEXT         NOT NULL,
    status          TEXT         NOT NULL DEFAULT 'uploaded',
    transcription   TEXT         NOT NULL DEFAULT '',
    video_analysis  JSONB,
    raw_results     JSONB,
    feedback        JSONB,
    error           TEXT         NOT NULL DEFAULT '',
    embedding       vector(%d),
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analyses_session
    ON analyses (session_id, question_index, created_at);

CREATE INDEX IF NOT EXISTS idx_analyses_user
    ON analyses (user_id);
`, embeddingDimensions)
	if embeddingDimensions <= MaxIndexedDimensions {
		ddl += ddlEmbeddingIndex
	}
	return ddl
}

// Migrate creates the analyses table and its indexes. It is idempotent and
// safe to call on every start.
//
// embeddingDimensions must match the embedding model (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing it after the first migration requires a
// manual schema update.
func Migrate(ctx context.Context, db DB, embeddingDimensions int) error {
	if embeddingDimensions <= 0 || embeddingDimensions > MaxDimensions {
		return fmt.Errorf("store migrate: embedding dimensions must be in 1..%d, got %d", MaxDimensions, embeddingDimensions)
	}
	if embeddingDimensions > MaxIndexedDimensions {
		slog.Warn("embedding column too wide for an HNSW index, similarity search scans the table",
			"dimensions", embeddingDimensions, "max_indexed", MaxIndexedDimensions)
	}
	if _, err := db.Exec(ctx, ddlAnalyses(embeddingDimensions)); err != nil {
		return fmt.Errorf("store migrate: %w", err)
	}
	return nil
}
