// Package postgres provides a PostgreSQL-backed implementation of the
// exchange archive.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS. Similarity queries use
// cosine distance over an HNSW index; full-text search uses a GIN index over
// the combined user and reply text.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, exchange)
//	similar, _ := store.Similar(ctx, vec, 3, memory.SimilarFilter{})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlExchanges returns the archive DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time; changing it later requires a manual schema update.
func ddlExchanges(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS exchanges (
    id          UUID         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    user_text   TEXT         NOT NULL,
    reply_text  TEXT         NOT NULL DEFAULT '',
    interrupted BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    embedding   vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_exchanges_session_id
    ON exchanges (session_id);

CREATE INDEX IF NOT EXISTS idx_exchanges_session_created
    ON exchanges (session_id, created_at);

CREATE INDEX IF NOT EXISTS idx_exchanges_embedding
    ON exchanges USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_exchanges_fts
    ON exchanges USING GIN (to_tsvector('english', user_text || ' ' || reply_text));
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables, indexes and extensions
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the embedder configured for the deployment
// (e.g. 1536 for text-embedding-3-small, 768 for nomic-embed-text).
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlExchanges(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
