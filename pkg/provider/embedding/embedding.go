// Package embedding defines the Embedder contract for text-to-vector backends.
//
// The engine embeds each completed exchange (what the speaker said and what
// the engine replied) so the recall layer can surface similar past exchanges
// when assembling context for the next reply. All vectors produced by one
// Embedder share a single dimensionality; the archive's vector column is
// sized from it at migration time.
//
// Implementations must be safe for concurrent use.
package embedding

import "context"

// Embedder is the abstraction over any text-embedding backend.
//
// Vectors from different Embedder instances must not be mixed in one
// similarity computation unless both use the same model and space.
type Embedder interface {
	// Embed computes the vector for a single text. The returned slice has
	// length Dimensions(). Text passes through verbatim; any model-specific
	// prefixing (e.g. "query: ") is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for several texts in one backend call.
	// The result has the same length and order as texts. On error the whole
	// result is nil; partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length this embedder produces,
	// constant for the lifetime of the instance.
	Dimensions() int

	// ModelID returns the backend-specific model identifier, for logging and
	// for detecting model drift against an existing archive.
	ModelID() string

	// Close releases backend resources. Further calls fail.
	Close() error
}
