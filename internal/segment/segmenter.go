// Package segment turns the live frame stream into bounded utterances.
//
// A Segmenter drives a four-state machine over per-frame speech decisions
// from a [vad.Classifier]:
//
//	SILENCE → SPEECH_CANDIDATE → SPEECH → TRAILING_SILENCE → SILENCE
//
// A short debounce filters noise bursts (SPEECH_CANDIDATE never emits), a
// trailing-silence timeout closes the utterance, and a pre-speech ring
// prepends the audio captured just before the detected onset so the first
// syllable is not clipped. While the engine is speaking, onset detection
// switches to a separate debounce and reports [Interruption] instead of
// [Start] so the orchestrator can cut playback; the frames keep accumulating
// and the utterance still arrives with the usual [End] event.
//
// All timing decisions are made in audio time (summed frame durations), not
// wall clock, so behaviour is independent of capture jitter and deterministic
// under test.
package segment

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/vad"
)

// Default segmentation parameters for 16 kHz capture with ~30 ms frames.
const (
	// DefaultMinSpeech is the debounce before an onset is trusted
	// (≈8 consecutive speech frames at 30 ms).
	DefaultMinSpeech = 250 * time.Millisecond

	// DefaultTrailingSilence is the continuous silence that closes an
	// utterance.
	DefaultTrailingSilence = 600 * time.Millisecond

	// DefaultInterruptDebounce is the onset debounce applied while the
	// engine is speaking. It is deliberately separate from MinSpeech so
	// stray playback bleed does not trigger barge-in.
	DefaultInterruptDebounce = 300 * time.Millisecond

	// DefaultPreSpeechRing is the window of pre-onset audio prepended to
	// each utterance.
	DefaultPreSpeechRing = time.Second

	// defaultEventBuffer is the capacity of the event channel. Emission
	// never blocks; events beyond this depth are dropped and counted.
	defaultEventBuffer = 16
)

// EventKind identifies what a segmentation [Event] reports.
type EventKind int

const (
	// Start marks a debounced utterance onset while the engine is not
	// speaking.
	Start EventKind = iota

	// End delivers the completed utterance after the trailing-silence
	// timeout.
	End

	// Interruption marks a debounced onset detected while the engine is
	// speaking. The utterance keeps accumulating and is delivered by a
	// later End event.
	Interruption
)

// String returns the kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case Start:
		return "start"
	case End:
		return "end"
	case Interruption:
		return "interruption"
	default:
		return "unknown"
	}
}

// Event is a single segmentation decision.
type Event struct {
	Kind EventKind

	// Utterance carries the accumulated frames, including the pre-speech
	// ring contents. Set on End only.
	Utterance *audio.Utterance

	// At is the speech onset for Start and Interruption, and the end of
	// the last speech frame for End. Both are audio-time instants derived
	// from frame capture stamps, not emission times.
	At time.Time
}

// Params are the tunable segmentation thresholds. Zero fields fall back to
// the package defaults; a negative PreSpeechRing disables pre-onset padding.
type Params struct {
	// MinSpeech is the accumulated speech needed to confirm an onset.
	MinSpeech time.Duration

	// TrailingSilence is the continuous silence that ends an utterance.
	TrailingSilence time.Duration

	// InterruptDebounce replaces MinSpeech while the engine is speaking.
	InterruptDebounce time.Duration

	// PreSpeechRing is how much pre-onset audio is retained and prepended
	// to each utterance.
	PreSpeechRing time.Duration
}

// DefaultParams returns the package default thresholds.
func DefaultParams() Params {
	return Params{
		MinSpeech:         DefaultMinSpeech,
		TrailingSilence:   DefaultTrailingSilence,
		InterruptDebounce: DefaultInterruptDebounce,
		PreSpeechRing:     DefaultPreSpeechRing,
	}
}

// withDefaults fills zero fields and normalises a disabled ring to zero.
func (p Params) withDefaults() Params {
	if p.MinSpeech <= 0 {
		p.MinSpeech = DefaultMinSpeech
	}
	if p.TrailingSilence <= 0 {
		p.TrailingSilence = DefaultTrailingSilence
	}
	if p.InterruptDebounce <= 0 {
		p.InterruptDebounce = DefaultInterruptDebounce
	}
	switch {
	case p.PreSpeechRing == 0:
		p.PreSpeechRing = DefaultPreSpeechRing
	case p.PreSpeechRing < 0:
		p.PreSpeechRing = 0
	}
	return p
}

type state int

const (
	stateSilence state = iota
	stateCandidate
	stateSpeech
	stateTrailing
)

// Segmenter accumulates frames into utterances and publishes segmentation
// events on a buffered channel.
//
// Process must be called from a single goroutine (the capture pump).
// SetSpeaking, SetParams and Reset are safe to call concurrently with it.
type Segmenter struct {
	classifier vad.Classifier
	eventBuf   int

	mu       sync.Mutex
	params   Params
	speaking bool
	closed   bool

	state      state
	ring       *frameRing
	pending    []audio.Frame // candidate run awaiting the debounce
	current    []audio.Frame // frames of the open utterance
	trailing   []audio.Frame // silence run since the last speech frame
	speechDur  time.Duration
	silenceDur time.Duration
	inErrRun   bool

	events  chan Event
	dropped atomic.Uint64
}

// Option is a functional option for configuring a Segmenter during
// construction.
type Option func(*Segmenter)

// WithParams sets the initial segmentation thresholds. Zero fields keep
// their defaults.
func WithParams(p Params) Option {
	return func(s *Segmenter) { s.params = p }
}

// WithEventBuffer sets the capacity of the channel returned by
// [Segmenter.Events]. Default is 16.
func WithEventBuffer(n int) Option {
	return func(s *Segmenter) {
		if n > 0 {
			s.eventBuf = n
		}
	}
}

// New constructs a Segmenter around the given classifier. Options are
// applied after defaults are initialised.
func New(classifier vad.Classifier, opts ...Option) *Segmenter {
	s := &Segmenter{
		classifier: classifier,
		params:     DefaultParams(),
		eventBuf:   defaultEventBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	s.params = s.params.withDefaults()
	s.ring = newFrameRing(s.params.PreSpeechRing)
	// Create the event channel after options so WithEventBuffer takes effect.
	s.events = make(chan Event, s.eventBuf)
	return s
}

// Events returns the channel segmentation events are published on. The
// channel is closed by [Segmenter.Close].
//
// The returned channel is assigned once in [New] and never mutated, so no
// lock is required.
func (s *Segmenter) Events() <-chan Event {
	return s.events
}

// Process classifies one frame and advances the state machine. It never
// blocks: events that cannot be buffered are dropped and counted. Frames
// processed after Close are discarded.
func (s *Segmenter) Process(frame audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	speech, err := s.classifier.Classify(frame)
	if err != nil {
		// An errored frame counts as silence. Log once per error run so a
		// broken classifier cannot flood the log at frame rate.
		speech = false
		if !s.inErrRun {
			s.inErrRun = true
			slog.Warn("segmenter: classifier error, treating frame as silence",
				"seq", frame.Seq, "err", err)
		}
	} else {
		s.inErrRun = false
	}

	switch s.state {
	case stateSilence:
		if !speech {
			s.ring.Push(frame)
			return
		}
		s.state = stateCandidate
		s.pending = append(s.pending, frame)
		s.speechDur = frame.Duration()
		if s.speechDur >= s.debounce() {
			s.promote()
		}

	case stateCandidate:
		if !speech {
			// Noise burst: the run never reached the debounce. The frames
			// return to the ring so they still pad a near-future onset.
			for _, f := range s.pending {
				s.ring.Push(f)
			}
			s.ring.Push(frame)
			s.pending = nil
			s.speechDur = 0
			s.state = stateSilence
			return
		}
		s.pending = append(s.pending, frame)
		s.speechDur += frame.Duration()
		if s.speechDur >= s.debounce() {
			s.promote()
		}

	case stateSpeech:
		if speech {
			s.current = append(s.current, frame)
			return
		}
		s.state = stateTrailing
		s.trailing = append(s.trailing, frame)
		s.silenceDur = frame.Duration()
		if s.silenceDur >= s.params.TrailingSilence {
			s.finish()
		}

	case stateTrailing:
		if speech {
			// Speech resumed before the timeout: the pause belongs to the
			// utterance, so the silence run rejoins it.
			s.current = append(s.current, s.trailing...)
			s.current = append(s.current, frame)
			s.trailing = nil
			s.silenceDur = 0
			s.state = stateSpeech
			return
		}
		s.trailing = append(s.trailing, frame)
		s.silenceDur += frame.Duration()
		if s.silenceDur >= s.params.TrailingSilence {
			s.finish()
		}
	}
}

// SetSpeaking switches onset detection between Start and Interruption mode.
// The orchestrator raises it when playback begins and clears it when
// playback ends or is cut.
func (s *Segmenter) SetSpeaking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = v
}

// SetParams applies new thresholds to the running segmenter. Zero fields
// fall back to defaults. The new values take effect from the next frame; an
// already-open utterance is not re-evaluated.
func (s *Segmenter) SetParams(p Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p.withDefaults()
	s.ring.Resize(s.params.PreSpeechRing)
}

// Params returns the current thresholds.
func (s *Segmenter) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Reset discards all accumulated state, empties the ring and resets the
// classifier. Buffered events are not withdrawn.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateSilence
	s.pending = nil
	s.current = nil
	s.trailing = nil
	s.speechDur = 0
	s.silenceDur = 0
	s.ring.Clear()
	s.classifier.Reset()
}

// Dropped returns how many events were discarded because the event channel
// was full.
func (s *Segmenter) Dropped() uint64 {
	return s.dropped.Load()
}

// Close closes the event channel. Frames processed afterwards are discarded.
// Close is safe to call multiple times.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// ─── State transitions ─────────────────────────────────────────────────────

// debounce returns the onset threshold for the current mode. Callers hold
// s.mu.
func (s *Segmenter) debounce() time.Duration {
	if s.speaking {
		return s.params.InterruptDebounce
	}
	return s.params.MinSpeech
}

// promote confirms the candidate run as an utterance onset. The utterance
// opens with the ring contents followed by the candidate frames, and the
// onset event kind depends on whether the engine is speaking. Callers hold
// s.mu.
func (s *Segmenter) promote() {
	onset := s.pending[0].Captured
	s.current = append(s.ring.Drain(), s.pending...)
	s.pending = nil
	s.speechDur = 0
	s.state = stateSpeech

	kind := Start
	if s.speaking {
		kind = Interruption
	}
	s.emit(Event{Kind: kind, At: onset})
}

// finish closes the open utterance and returns to SILENCE. The trailing
// silence run is excluded from the utterance and seeds the ring so it pads
// the next onset. Callers hold s.mu.
func (s *Segmenter) finish() {
	utt := &audio.Utterance{Frames: s.current}
	if n := len(s.current); n > 0 {
		utt.Start = s.current[0].Captured
		last := s.current[n-1]
		utt.End = last.Captured.Add(last.Duration())
	}
	for _, f := range s.trailing {
		s.ring.Push(f)
	}
	s.current = nil
	s.trailing = nil
	s.silenceDur = 0
	s.state = stateSilence

	s.emit(Event{Kind: End, Utterance: utt, At: utt.End})
}

// emit publishes ev without blocking. Callers hold s.mu.
func (s *Segmenter) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		slog.Warn("segmenter: event channel full, dropping event",
			"kind", ev.Kind.String(), "buffer", cap(s.events))
	}
}
