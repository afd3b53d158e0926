// Package memory defines the exchange archive used for cross-turn recall.
//
// The archive is a time-ordered log of completed [Exchange] records, one per
// conversational turn, each optionally carrying an embedding vector. The
// recall layer draws on it two ways: recency (the last N exchanges of a
// session, e.g. when a session resumes) and similarity (exchanges whose
// embeddings are close to the current utterance, regardless of age).
//
// All interfaces are public so alternative backends (Postgres/pgvector,
// in-memory, …) can be supplied without depending on engine internals.
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// SearchOpts configures a full-text search over archived exchanges.
// All non-zero fields are applied as AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to a single session. Empty searches all.
	SessionID string

	// After filters exchanges created after this instant (exclusive).
	After time.Time

	// Before filters exchanges created before this instant (exclusive).
	Before time.Time

	// Limit caps the number of results. Zero lets the implementation choose.
	Limit int
}

// SimilarFilter narrows a similarity query. All non-zero fields are applied
// as AND conditions.
type SimilarFilter struct {
	// SessionID restricts results to a single session. Empty searches all
	// sessions, which is the normal recall configuration: past sessions are
	// exactly what the live history no longer has.
	SessionID string

	// Before filters exchanges created before this instant (exclusive).
	// Recall passes the turn start so an exchange never matches itself.
	Before time.Time

	// ExcludeInterrupted drops exchanges whose reply was cut off, since a
	// truncated reply is a poor context example.
	ExcludeInterrupted bool
}

// ExchangeStore is the archive of completed exchanges.
//
// Implementations must be safe for concurrent use.
type ExchangeStore interface {
	// Append stores a completed exchange. A zero ID is assigned; a zero
	// CreatedAt is set to the current time. Returns an error only on
	// persistent storage failure.
	Append(ctx context.Context, ex Exchange) error

	// Recent returns the last limit exchanges of the session in
	// chronological order (oldest first). Returns an empty (non-nil) slice
	// when the session has no exchanges.
	Recent(ctx context.Context, sessionID string, limit int) ([]Exchange, error)

	// Similar returns the topK archived exchanges whose embeddings are
	// closest to the query embedding, most similar first. Exchanges without
	// an embedding never match. Returns an empty (non-nil) slice when
	// nothing matches.
	Similar(ctx context.Context, embedding []float32, topK int, filter SimilarFilter) ([]SimilarExchange, error)

	// Search performs a full-text search over user and reply text. Results
	// are ordered chronologically. Returns an empty (non-nil) slice when no
	// exchanges match.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Exchange, error)

	// Close releases storage resources.
	Close() error
}
