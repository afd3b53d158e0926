package resilience

import (
	"context"

	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/stt"
)

// RecognizerFallback implements [stt.Recognizer] with automatic failover
// across multiple recognition backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type RecognizerFallback struct {
	group *FallbackGroup[stt.Recognizer]
}

var _ stt.Recognizer = (*RecognizerFallback)(nil)

// NewRecognizerFallback creates a [RecognizerFallback] with primary as the
// preferred backend.
func NewRecognizerFallback(primary stt.Recognizer, primaryName string, cfg FallbackConfig) *RecognizerFallback {
	return &RecognizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognizer as a fallback.
func (f *RecognizerFallback) AddFallback(name string, r stt.Recognizer) {
	f.group.AddFallback(name, r)
}

// Recognize transcribes the utterance with the first healthy backend. A
// barge-in that cancels ctx abandons the transcription without trying the
// remaining backends.
func (f *RecognizerFallback) Recognize(ctx context.Context, utt *audio.Utterance) (stt.Result, error) {
	return ExecuteWithResult(f.group, func(r stt.Recognizer) (stt.Result, error) {
		return r.Recognize(ctx, utt)
	})
}

// Close closes every registered backend and joins their errors.
func (f *RecognizerFallback) Close() error {
	return closeAll(f.group)
}
