package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voxloop/pkg/memory"
)

var (
	_ memory.Store    = (*Store)(nil)
	_ memory.Recaller = (*Store)(nil)
)

// Store is the PostgreSQL-backed turn store. All operations are safe for
// concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder memory.Embedder
}

// Option configures a Store.
type Option func(*Store)

// WithEmbedder enables embedding of recorded turns and [Store.Recall].
func WithEmbedder(e memory.Embedder) Option {
	return func(s *Store) { s.embedder = e }
}

// NewStore connects to the database at dsn, registers pgvector types on every
// connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	s := &Store{pool: pool}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// RecordTurn implements [memory.Recorder]. When an embedder is configured the
// turn's document is embedded first; an embedding failure is returned and the
// turn is not written.
func (s *Store) RecordTurn(ctx context.Context, turn memory.Turn) error {
	var vec *pgvector.Vector
	if s.embedder != nil {
		emb, err := s.embedder.Embed(ctx, turn.Document())
		if err != nil {
			return fmt.Errorf("postgres store: embed turn: %w", err)
		}
		v := pgvector.NewVector(emb)
		vec = &v
	}

	const q = `
		INSERT INTO conversation_turns
		    (session_id, user_text, assistant_text, interrupted, timestamp, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		turn.SessionID,
		turn.UserText,
		turn.AssistantText,
		turn.Interrupted,
		turn.Timestamp,
		vec,
	)
	if err != nil {
		return fmt.Errorf("postgres store: record turn: %w", err)
	}
	return nil
}

// Recent implements [memory.Store]. It returns the n newest turns across all
// sessions, oldest first.
func (s *Store) Recent(ctx context.Context, n int) ([]memory.Turn, error) {
	if n <= 0 {
		return []memory.Turn{}, nil
	}
	const q = `
		SELECT session_id, user_text, assistant_text, interrupted, timestamp
		FROM   conversation_turns
		ORDER  BY timestamp DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Turn, error) {
		var t memory.Turn
		err := row.Scan(&t.SessionID, &t.UserText, &t.AssistantText, &t.Interrupted, &t.Timestamp)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	slices.Reverse(turns)
	if turns == nil {
		turns = []memory.Turn{}
	}
	return turns, nil
}

// Recall implements [memory.Recaller]. Results are ordered by ascending
// cosine distance.
func (s *Store) Recall(ctx context.Context, query string, k int) ([]memory.Recollection, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("postgres store: recall requires an embedder")
	}
	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres store: embed query: %w", err)
	}

	const q = `
		SELECT session_id, user_text, assistant_text, interrupted, timestamp,
		       embedding <=> $1 AS distance
		FROM   conversation_turns
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(emb), k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recall: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Recollection, error) {
		var r memory.Recollection
		err := row.Scan(
			&r.Turn.SessionID,
			&r.Turn.UserText,
			&r.Turn.AssistantText,
			&r.Turn.Interrupted,
			&r.Turn.Timestamp,
			&r.Distance,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.Recollection{}
	}
	return results, nil
}

// Ping verifies the database connection. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
