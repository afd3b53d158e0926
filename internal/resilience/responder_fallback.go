package resilience

import (
	"context"

	"github.com/openparley/parley/pkg/provider/llm"
)

// ResponderFallback implements [llm.Responder] with automatic failover across
// multiple generation backends. Each backend has its own circuit breaker;
// when the primary fails or its breaker is open, the next healthy fallback is
// tried.
type ResponderFallback struct {
	group *FallbackGroup[llm.Responder]
}

var _ llm.Responder = (*ResponderFallback)(nil)

// NewResponderFallback creates a [ResponderFallback] with primary as the
// preferred backend.
func NewResponderFallback(primary llm.Responder, primaryName string, cfg FallbackConfig) *ResponderFallback {
	return &ResponderFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional responder as a fallback.
func (f *ResponderFallback) AddFallback(name string, r llm.Responder) {
	f.group.AddFallback(name, r)
}

// StreamResponse opens a reply stream on the first healthy backend. Only the
// initial attempt is covered by failover; once a stream is established,
// mid-stream errors are the caller's responsibility.
func (f *ResponderFallback) StreamResponse(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(r llm.Responder) (<-chan llm.Chunk, error) {
		return r.StreamResponse(ctx, req)
	})
}

// Respond produces a complete reply on the first healthy backend.
func (f *ResponderFallback) Respond(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return ExecuteWithResult(f.group, func(r llm.Responder) (*llm.Response, error) {
		return r.Respond(ctx, req)
	})
}

// CountTokens estimates with the first healthy backend's tokenizer. When the
// primary's breaker is open, the fallback that will actually serve the next
// generation does the counting, which is the estimate history budgeting
// needs.
func (f *ResponderFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(f.group, func(r llm.Responder) (int, error) {
		return r.CountTokens(messages)
	})
}

// Capabilities reports the primary's limits. Capabilities are static
// metadata, so they do not participate in failover.
func (f *ResponderFallback) Capabilities() llm.Capabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return llm.Capabilities{}
}

// Close closes every registered backend and joins their errors.
func (f *ResponderFallback) Close() error {
	return closeAll(f.group)
}
