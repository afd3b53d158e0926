// Package stt defines the speech-to-text contract used by the engine.
//
// Recognition in parley is one-shot: by the time audio reaches a recognizer
// the segmenter has already decided where the utterance starts and ends, so
// there is no streaming session to manage. An implementation receives one
// complete [audio.Utterance] and returns one transcript. Inference can take
// hundreds of milliseconds, so implementations must honour context
// cancellation — a barge-in abandons the in-flight transcription rather than
// waiting for it.
package stt

import (
	"context"
	"time"

	"github.com/openparley/parley/pkg/audio"
)

// Result is the transcript produced for a single utterance.
type Result struct {
	// Text is the recognised transcript with surrounding whitespace
	// trimmed. Empty when the recognizer heard nothing intelligible.
	Text string

	// Language is the language tag the recognizer settled on (e.g. "en").
	// Empty when the implementation does not report one.
	Language string

	// AudioDuration is the length of audio that was transcribed.
	AudioDuration time.Duration
}

// Recognizer transcribes one complete utterance per call.
//
// Recognize blocks until the transcript is ready, the context is cancelled,
// or the provider fails. The engine never issues concurrent Recognize calls
// on the same instance, but implementations must tolerate a Recognize racing
// with Close during shutdown.
type Recognizer interface {
	Recognize(ctx context.Context, utt *audio.Utterance) (Result, error)

	// Close releases provider resources (models, connections). Calling
	// Close more than once is safe.
	Close() error
}
