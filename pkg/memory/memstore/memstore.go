// Package memstore provides an in-memory exchange archive.
//
// It implements the same contract as the Postgres store without any external
// service, so it is the default backend: recall works within the process
// lifetime and is lost on restart. Similarity uses exact cosine distance
// computed in Go; Search is a case-insensitive substring match rather than
// full-text search.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openparley/parley/pkg/memory"
)

// DefaultMaxExchanges caps the archive so an always-on session cannot grow
// without bound.
const DefaultMaxExchanges = 10000

var _ memory.ExchangeStore = (*Store)(nil)

// Option is a functional option for Store.
type Option func(*Store)

// WithMaxExchanges overrides the archive cap. When the cap is exceeded the
// oldest exchanges are dropped.
func WithMaxExchanges(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// Store is an in-memory implementation of memory.ExchangeStore.
type Store struct {
	mu        sync.RWMutex
	exchanges []memory.Exchange
	maxSize   int
	closed    bool
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{maxSize: DefaultMaxExchanges}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append implements memory.ExchangeStore.
func (s *Store) Append(ctx context.Context, ex memory.Exchange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ex.ID == uuid.Nil {
		ex.ID = uuid.New()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	ex.Embedding = append([]float32(nil), ex.Embedding...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("memstore: closed")
	}
	s.exchanges = append(s.exchanges, ex)
	if over := len(s.exchanges) - s.maxSize; over > 0 {
		s.exchanges = append(s.exchanges[:0:0], s.exchanges[over:]...)
	}
	return nil
}

// Recent implements memory.ExchangeStore.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]memory.Exchange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New("memstore: closed")
	}

	matched := make([]memory.Exchange, 0, limit)
	for _, ex := range s.exchanges {
		if ex.SessionID == sessionID {
			matched = append(matched, ex)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// Similar implements memory.ExchangeStore with exact (non-approximate)
// cosine distance.
func (s *Store) Similar(ctx context.Context, embedding []float32, topK int, filter memory.SimilarFilter) ([]memory.SimilarExchange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New("memstore: closed")
	}

	results := make([]memory.SimilarExchange, 0, topK)
	for _, ex := range s.exchanges {
		if len(ex.Embedding) == 0 {
			continue
		}
		if filter.SessionID != "" && ex.SessionID != filter.SessionID {
			continue
		}
		if !filter.Before.IsZero() && !ex.CreatedAt.Before(filter.Before) {
			continue
		}
		if filter.ExcludeInterrupted && ex.Interrupted {
			continue
		}
		dist, err := cosineDistance(embedding, ex.Embedding)
		if err != nil {
			return nil, fmt.Errorf("memstore: similar: %w", err)
		}
		results = append(results, memory.SimilarExchange{Exchange: ex, Distance: dist})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Search implements memory.ExchangeStore with a case-insensitive substring
// match over user and reply text.
func (s *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.Exchange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New("memstore: closed")
	}

	needle := strings.ToLower(query)
	matched := []memory.Exchange{}
	for _, ex := range s.exchanges {
		if opts.SessionID != "" && ex.SessionID != opts.SessionID {
			continue
		}
		if !opts.After.IsZero() && !ex.CreatedAt.After(opts.After) {
			continue
		}
		if !opts.Before.IsZero() && !ex.CreatedAt.Before(opts.Before) {
			continue
		}
		haystack := strings.ToLower(ex.UserText + " " + ex.ReplyText)
		if !strings.Contains(haystack, needle) {
			continue
		}
		matched = append(matched, ex)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Len returns the number of archived exchanges.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exchanges)
}

// Close implements memory.ExchangeStore. Further calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.exchanges = nil
	return nil
}

// cosineDistance returns 1 - cos(a, b). Vectors of different lengths are an
// error; a zero-magnitude vector is treated as maximally distant.
func cosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), nil
}
