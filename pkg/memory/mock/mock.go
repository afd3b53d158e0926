// Package mock provides a mock exchange store for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/openparley/parley/pkg/memory"
)

// SimilarCall records a single Similar invocation.
type SimilarCall struct {
	Embedding []float32
	TopK      int
	Filter    memory.SimilarFilter
}

// Store is a mock implementation of memory.ExchangeStore that records calls
// and returns configurable results. Unlike memstore it performs no real
// similarity math, so tests control exactly what recall sees.
type Store struct {
	mu           sync.Mutex
	appended     []memory.Exchange
	similarCalls []SimilarCall
	closedN      int

	// RecentResult is returned by Recent.
	RecentResult []memory.Exchange
	// SimilarResult is returned by Similar.
	SimilarResult []memory.SimilarExchange
	// SearchResult is returned by Search.
	SearchResult []memory.Exchange
	// AppendErr, RecentErr, SimilarErr, SearchErr inject failures.
	AppendErr  error
	RecentErr  error
	SimilarErr error
	SearchErr  error
	// Delay pauses each operation, for timeout and degradation tests.
	Delay time.Duration
}

var _ memory.ExchangeStore = (*Store)(nil)

// New creates a new mock Store.
func New() *Store {
	return &Store{}
}

func (m *Store) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Append records the exchange.
func (m *Store) Append(ctx context.Context, ex memory.Exchange) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, ex)
	return m.AppendErr
}

// Recent returns the configured result.
func (m *Store) Recent(ctx context.Context, sessionID string, limit int) ([]memory.Exchange, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecentErr != nil {
		return nil, m.RecentErr
	}
	return append([]memory.Exchange{}, m.RecentResult...), nil
}

// Similar records the call and returns the configured result.
func (m *Store) Similar(ctx context.Context, embedding []float32, topK int, filter memory.SimilarFilter) ([]memory.SimilarExchange, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.similarCalls = append(m.similarCalls, SimilarCall{
		Embedding: append([]float32(nil), embedding...),
		TopK:      topK,
		Filter:    filter,
	})
	if m.SimilarErr != nil {
		return nil, m.SimilarErr
	}
	return append([]memory.SimilarExchange{}, m.SimilarResult...), nil
}

// Search returns the configured result.
func (m *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.Exchange, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	return append([]memory.Exchange{}, m.SearchResult...), nil
}

// Close records the call.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedN++
	return nil
}

// Appended returns a copy of all exchanges passed to Append.
func (m *Store) Appended() []memory.Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memory.Exchange(nil), m.appended...)
}

// SimilarCalls returns a copy of all recorded Similar calls.
func (m *Store) SimilarCalls() []SimilarCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SimilarCall(nil), m.similarCalls...)
}

// CloseCalls returns how many times Close was called.
func (m *Store) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closedN
}

// Reset clears all recorded calls.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = nil
	m.similarCalls = nil
	m.closedN = 0
}
