// Package postgres provides a PostgreSQL-backed [memory.Store] for
// conversation turns.
//
// Turns live in a single conversation_turns table. When an embedder is
// configured every turn is also embedded and the vector stored alongside it in
// a pgvector column with an HNSW index, which backs [Store.Recall]. The
// pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536, postgres.WithEmbedder(emb))
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.RecordTurn(ctx, turn)
//	recent, _ := store.Recent(ctx, 10)
//	hits, _ := store.Recall(ctx, "what did we say about the weather?", 3)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlTurns returns the DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlTurns(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS conversation_turns (
    id             BIGSERIAL    PRIMARY KEY,
    session_id     TEXT         NOT NULL,
    user_text      TEXT         NOT NULL,
    assistant_text TEXT         NOT NULL DEFAULT '',
    interrupted    BOOLEAN      NOT NULL DEFAULT false,
    timestamp      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    embedding      vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_session_id
    ON conversation_turns (session_id);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_timestamp
    ON conversation_turns (timestamp);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_embedding
    ON conversation_turns USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates the turns table, its indexes and the vector extension. It
// is idempotent and safe to call on every start.
//
// embeddingDimensions must match the embedding model (e.g. 1536 for OpenAI
// text-embedding-3-small, 768 for nomic-embed-text). Changing it after the
// first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	if _, err := pool.Exec(ctx, ddlTurns(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
