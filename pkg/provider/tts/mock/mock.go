// Package mock provides a mock TTS synthesizer for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/tts"
)

// SynthesizeCall records a single Synthesize invocation.
type SynthesizeCall struct {
	Text string
}

// Synthesizer is a mock implementation of tts.Synthesizer that records calls
// and plays back scripted PCM. Useful for pipeline tests that must assert
// which chunks were (or were not) synthesized.
type Synthesizer struct {
	mu      sync.Mutex
	scripts [][][]byte
	calls   []SynthesizeCall
	closedN int

	// PCM is the default audio returned when no script is queued. When nil a
	// 640-byte silent chunk (20 ms at 16 kHz mono) is used.
	PCM []byte
	// Err, when set, causes Synthesize to fail immediately.
	Err error
	// StreamErr, when set, is attached to the segment after its chunks are
	// delivered, simulating a provider dying mid-stream.
	StreamErr error
	// ChunkDelay inserts a pause before each delivered chunk so tests can
	// exercise cancellation mid-playback.
	ChunkDelay time.Duration
	// SampleRate and Channels describe the scripted PCM. Zero values default
	// to 16000 and 1.
	SampleRate int
	Channels   int
	// VoiceList is returned by Voices.
	VoiceList []tts.Voice
	// VoicesErr, when set, causes Voices to fail.
	VoicesErr error
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// New creates a new mock Synthesizer.
func New() *Synthesizer {
	return &Synthesizer{}
}

// QueuePCM appends one scripted response: the chunks delivered, in order, by
// a single future Synthesize call. Scripts are consumed FIFO; once drained,
// Synthesize falls back to the PCM default.
func (m *Synthesizer) QueuePCM(chunks ...[]byte) {
	script := make([][]byte, len(chunks))
	for i, c := range chunks {
		script[i] = append([]byte(nil), c...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, script)
}

// Synthesize records the call and returns a segment streaming the next
// scripted chunks.
func (m *Synthesizer) Synthesize(ctx context.Context, text string) (*audio.Segment, error) {
	m.mu.Lock()
	m.calls = append(m.calls, SynthesizeCall{Text: text})
	if m.Err != nil {
		err := m.Err
		m.mu.Unlock()
		return nil, err
	}
	var script [][]byte
	if len(m.scripts) > 0 {
		script = m.scripts[0]
		m.scripts = m.scripts[1:]
	} else {
		pcm := m.PCM
		if pcm == nil {
			pcm = make([]byte, 640)
		}
		script = [][]byte{pcm}
	}
	delay := m.ChunkDelay
	streamErr := m.StreamErr
	rate, channels := m.SampleRate, m.Channels
	m.mu.Unlock()

	if rate == 0 {
		rate = 16000
	}
	if channels == 0 {
		channels = 1
	}

	audioCh := make(chan []byte, len(script))
	seg := &audio.Segment{Audio: audioCh, SampleRate: rate, Channels: channels}

	go func() {
		defer close(audioCh)
		for _, chunk := range script {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case audioCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if streamErr != nil {
			seg.SetStreamErr(streamErr)
		}
	}()

	return seg, nil
}

// Voices returns the configured voice list.
func (m *Synthesizer) Voices(ctx context.Context) ([]tts.Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.VoicesErr != nil {
		return nil, m.VoicesErr
	}
	return append([]tts.Voice(nil), m.VoiceList...), nil
}

// Close records the call.
func (m *Synthesizer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedN++
	return nil
}

// SynthesizeCalls returns a copy of all recorded Synthesize calls.
func (m *Synthesizer) SynthesizeCalls() []SynthesizeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SynthesizeCall(nil), m.calls...)
}

// CloseCalls returns how many times Close was called.
func (m *Synthesizer) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closedN
}

// Reset clears all recorded calls and queued scripts.
func (m *Synthesizer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = nil
	m.calls = nil
	m.closedN = 0
}
