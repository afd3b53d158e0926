// Package tts defines the text-to-speech contract used by the engine.
//
// Synthesis is per-chunk: the orchestrator calls Synthesize once per sentence
// of the reply, and plays each returned [audio.Segment] to completion before
// the next chunk is synthesized. The segment's Audio channel starts
// delivering PCM before the provider has finished the whole chunk, so
// playback latency is bounded by the first audio packet, not the last.
package tts

import (
	"context"

	"github.com/openparley/parley/pkg/audio"
)

// Voice describes one voice offered by a synthesizer.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider names the synthesizer that owns this voice.
	Provider string

	// Metadata holds provider-specific labels (accent, gender, category).
	Metadata map[string]string
}

// Synthesizer converts text chunks into playable audio segments.
//
// The speaking voice is fixed at construction; the engine speaks with one
// voice per session.
type Synthesizer interface {
	// Synthesize starts synthesis of one text chunk and returns its segment.
	// Cancelling ctx stops delivery: the producer closes the segment's Audio
	// channel without draining the provider. Whitespace-only text yields an
	// empty, already-closed segment.
	Synthesize(ctx context.Context, text string) (*audio.Segment, error)

	// Voices lists the voices available to this synthesizer.
	Voices(ctx context.Context) ([]Voice, error)

	// Close releases provider resources. Safe to call more than once.
	Close() error
}
