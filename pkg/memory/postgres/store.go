package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/openparley/parley/pkg/memory"
)

var _ memory.ExchangeStore = (*Store)(nil)

// Store is the PostgreSQL-backed exchange archive. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure the schema exists.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
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

	return &Store{pool: pool}, nil
}

// Append implements [memory.ExchangeStore].
func (s *Store) Append(ctx context.Context, ex memory.Exchange) error {
	if ex.ID == uuid.Nil {
		ex.ID = uuid.New()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}

	// A missing embedding is stored as NULL so it never matches a
	// similarity query.
	var vec any
	if len(ex.Embedding) > 0 {
		vec = pgvector.NewVector(ex.Embedding)
	}

	const q = `
		INSERT INTO exchanges
		    (id, session_id, user_text, reply_text, interrupted, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		ex.ID,
		ex.SessionID,
		ex.UserText,
		ex.ReplyText,
		ex.Interrupted,
		ex.CreatedAt,
		vec,
	)
	if err != nil {
		return fmt.Errorf("exchange store: append: %w", err)
	}
	return nil
}

// Recent implements [memory.ExchangeStore]. The inner query selects the last
// limit exchanges; the outer one restores chronological order.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]memory.Exchange, error) {
	const q = `
		SELECT id, session_id, user_text, reply_text, interrupted, created_at, embedding
		FROM (
		    SELECT id, session_id, user_text, reply_text, interrupted, created_at, embedding
		    FROM   exchanges
		    WHERE  session_id = $1
		    ORDER  BY created_at DESC
		    LIMIT  $2
		) last_n
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("exchange store: recent: %w", err)
	}
	return collectExchanges(rows)
}

// Similar implements [memory.ExchangeStore] using pgvector cosine distance
// over the HNSW index.
func (s *Store) Similar(ctx context.Context, embedding []float32, topK int, filter memory.SimilarFilter) ([]memory.SimilarExchange, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"embedding IS NOT NULL"}
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(filter.SessionID))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(filter.Before))
	}
	if filter.ExcludeInterrupted {
		conditions = append(conditions, "NOT interrupted")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, session_id, user_text, reply_text, interrupted, created_at, embedding,
		       embedding <=> $1 AS distance
		FROM   exchanges
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("exchange store: similar: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SimilarExchange, error) {
		var (
			se  memory.SimilarExchange
			vec *pgvector.Vector
		)
		if err := row.Scan(
			&se.Exchange.ID,
			&se.Exchange.SessionID,
			&se.Exchange.UserText,
			&se.Exchange.ReplyText,
			&se.Exchange.Interrupted,
			&se.Exchange.CreatedAt,
			&vec,
			&se.Distance,
		); err != nil {
			return memory.SimilarExchange{}, err
		}
		if vec != nil {
			se.Exchange.Embedding = vec.Slice()
		}
		return se, nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange store: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.SimilarExchange{}
	}
	return results, nil
}

// Search implements [memory.ExchangeStore]. The query is passed through
// plainto_tsquery, so no special operator syntax is required.
func (s *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.Exchange, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', user_text || ' ' || reply_text) @@ plainto_tsquery('english', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(opts.Before))
	}

	q := "SELECT id, session_id, user_text, reply_text, interrupted, created_at, embedding\n" +
		"FROM   exchanges\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY created_at"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("exchange store: search: %w", err)
	}
	return collectExchanges(rows)
}

// Close implements [memory.ExchangeStore]. It releases all pool connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// collectExchanges scans pgx rows into a slice of Exchange values.
func collectExchanges(rows pgx.Rows) ([]memory.Exchange, error) {
	exchanges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Exchange, error) {
		var (
			e   memory.Exchange
			vec *pgvector.Vector
		)
		if err := row.Scan(
			&e.ID,
			&e.SessionID,
			&e.UserText,
			&e.ReplyText,
			&e.Interrupted,
			&e.CreatedAt,
			&vec,
		); err != nil {
			return memory.Exchange{}, err
		}
		if vec != nil {
			e.Embedding = vec.Slice()
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange store: scan rows: %w", err)
	}
	if exchanges == nil {
		exchanges = []memory.Exchange{}
	}
	return exchanges, nil
}
