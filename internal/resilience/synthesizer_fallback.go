package resilience

import (
	"context"

	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/tts"
)

// SynthesizerFallback implements [tts.Synthesizer] with automatic failover
// across multiple synthesis backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type SynthesizerFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

var _ tts.Synthesizer = (*SynthesizerFallback)(nil)

// NewSynthesizerFallback creates a [SynthesizerFallback] with primary as the
// preferred backend.
func NewSynthesizerFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *SynthesizerFallback {
	return &SynthesizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *SynthesizerFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Synthesize renders text with the first healthy backend. Only the initial
// request is covered by failover; a segment that dies mid-stream reports the
// error on the segment itself.
func (f *SynthesizerFallback) Synthesize(ctx context.Context, text string) (*audio.Segment, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) (*audio.Segment, error) {
		return s.Synthesize(ctx, text)
	})
}

// Voices lists the voices offered by the first healthy backend.
func (f *SynthesizerFallback) Voices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) ([]tts.Voice, error) {
		return s.Voices(ctx)
	})
}

// Close closes every registered backend and joins their errors.
func (f *SynthesizerFallback) Close() error {
	return closeAll(f.group)
}
