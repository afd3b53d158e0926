// Package mock provides a mock embedder for testing.
package mock

import (
	"context"
	"sync"

	"github.com/openparley/parley/pkg/provider/embedding"
)

// EmbedCall records a single Embed or EmbedBatch invocation.
type EmbedCall struct {
	Texts []string
}

// Embedder is a mock implementation of embedding.Embedder that records calls
// and returns configurable vectors. The zero value derives deterministic
// vectors from the input text so similarity tests get stable, distinct
// embeddings without configuring anything.
type Embedder struct {
	mu      sync.Mutex
	calls   []EmbedCall
	closedN int

	// Vectors maps input text to the vector returned for it. Texts not in
	// the map fall back to a derived vector.
	Vectors map[string][]float32
	// Err, when set, causes Embed and EmbedBatch to fail.
	Err error
	// Dims is the dimensionality of derived vectors. Zero means 8.
	Dims int
	// Model is returned by ModelID. Empty means "mock-embed".
	Model string
}

var _ embedding.Embedder = (*Embedder)(nil)

// New creates a new mock Embedder.
func New() *Embedder {
	return &Embedder{}
}

// Embed records the call and returns the configured or derived vector.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch records the call and returns one vector per text.
func (m *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls = append(m.calls, EmbedCall{Texts: append([]string(nil), texts...)})
	err := m.Err
	vectors := m.Vectors
	dims := m.Dims
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if dims == 0 {
		dims = 8
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := vectors[text]; ok {
			out[i] = append([]float32(nil), v...)
			continue
		}
		out[i] = derive(text, dims)
	}
	return out, nil
}

// Dimensions returns the configured dimensionality.
func (m *Embedder) Dimensions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Dims == 0 {
		return 8
	}
	return m.Dims
}

// ModelID returns the configured model name.
func (m *Embedder) ModelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Model == "" {
		return "mock-embed"
	}
	return m.Model
}

// Close records the call.
func (m *Embedder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedN++
	return nil
}

// EmbedCalls returns a copy of all recorded calls.
func (m *Embedder) EmbedCalls() []EmbedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmbedCall(nil), m.calls...)
}

// CloseCalls returns how many times Close was called.
func (m *Embedder) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closedN
}

// Reset clears all recorded calls.
func (m *Embedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.closedN = 0
}

// derive builds a stable pseudo-vector from text bytes. Equal texts embed
// equally; different texts almost always differ.
func derive(text string, dims int) []float32 {
	vec := make([]float32, dims)
	var h uint32 = 2166136261
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
		vec[i%dims] += float32(h%251) / 251
	}
	return vec
}
