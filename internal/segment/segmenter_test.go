package segment_test

import (
	"errors"
	"testing"
	"time"

	"github.com/openparley/parley/internal/segment"
	"github.com/openparley/parley/pkg/audio"
	vadmock "github.com/openparley/parley/pkg/provider/vad/mock"
)

const (
	testRate  = 16000
	testFrame = 20 * time.Millisecond // 320 samples, 640 bytes
)

var base = time.Unix(1000, 0)

// frameGen produces a deterministic frame sequence with contiguous capture
// stamps. Speech frames are marked by a nonzero first byte, which the mock
// classifier's DecideFunc keys on.
type frameGen struct {
	seq uint64
	now time.Time
}

func newGen() *frameGen {
	return &frameGen{now: base}
}

func (g *frameGen) run(n int, speech bool) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		data := make([]byte, int(testFrame*testRate/time.Second)*2)
		if speech {
			data[0] = 1
		}
		out[i] = audio.Frame{
			Data:       data,
			SampleRate: testRate,
			Channels:   1,
			Seq:        g.seq,
			Captured:   g.now,
		}
		g.seq++
		g.now = g.now.Add(testFrame)
	}
	return out
}

func (g *frameGen) speech(n int) []audio.Frame { return g.run(n, true) }

func (g *frameGen) silence(n int) []audio.Frame { return g.run(n, false) }

// byAmplitude classifies any frame with a nonzero first byte as speech.
func byAmplitude(f audio.Frame) bool {
	return len(f.Data) > 0 && f.Data[0] != 0
}

func feed(s *segment.Segmenter, runs ...[]audio.Frame) {
	for _, frames := range runs {
		for _, f := range frames {
			s.Process(f)
		}
	}
}

// drain collects everything currently buffered on the event channel. Process
// is synchronous, so after feed returns all events are already buffered.
func drain(s *segment.Segmenter) []segment.Event {
	var evs []segment.Event
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return evs
			}
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestNoiseBurstEmitsNothing(t *testing.T) {
	t.Parallel()

	s := segment.New(&vadmock.Classifier{DecideFunc: byAmplitude})
	g := newGen()

	// 200 ms of speech is below the 250 ms debounce.
	feed(s, g.silence(50), g.speech(10), g.silence(50))

	if evs := drain(s); len(evs) != 0 {
		t.Fatalf("got %d events for a sub-debounce burst, want 0: %+v", len(evs), evs)
	}
}

func TestSingleUtteranceTiming(t *testing.T) {
	t.Parallel()

	s := segment.New(&vadmock.Classifier{DecideFunc: byAmplitude})
	g := newGen()

	// 2.0 s silence, 1.5 s speech, 1.0 s silence.
	feed(s, g.silence(100), g.speech(75), g.silence(50))

	evs := drain(s)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2 (start, end): %+v", len(evs), evs)
	}
	start, end := evs[0], evs[1]

	if start.Kind != segment.Start {
		t.Errorf("first event kind = %v, want start", start.Kind)
	}
	if wantAt := base.Add(2 * time.Second); !start.At.Equal(wantAt) {
		t.Errorf("start At = %v, want %v (speech onset)", start.At, wantAt)
	}
	if start.Utterance != nil {
		t.Error("start event should not carry an utterance")
	}

	if end.Kind != segment.End {
		t.Fatalf("second event kind = %v, want end", end.Kind)
	}
	if wantAt := base.Add(3500 * time.Millisecond); !end.At.Equal(wantAt) {
		t.Errorf("end At = %v, want %v (end of last speech frame)", end.At, wantAt)
	}

	utt := end.Utterance
	if utt == nil {
		t.Fatal("end event carries no utterance")
	}
	// 1 s of ring padding plus 1.5 s of speech.
	if got, want := len(utt.Frames), 50+75; got != want {
		t.Errorf("utterance frame count = %d, want %d", got, want)
	}
	if wantStart := base.Add(1 * time.Second); !utt.Start.Equal(wantStart) {
		t.Errorf("utterance Start = %v, want %v (ring padding included)", utt.Start, wantStart)
	}
	if wantEnd := base.Add(3500 * time.Millisecond); !utt.End.Equal(wantEnd) {
		t.Errorf("utterance End = %v, want %v", utt.End, wantEnd)
	}
	if got, want := utt.Frames[0].Seq, uint64(50); got != want {
		t.Errorf("first utterance frame Seq = %d, want %d", got, want)
	}
	for i := 1; i < len(utt.Frames); i++ {
		if utt.Frames[i].Seq != utt.Frames[i-1].Seq+1 {
			t.Fatalf("utterance frames not contiguous at %d", i)
		}
	}
	if got, want := len(utt.PCM()), (50+75)*640; got != want {
		t.Errorf("utterance PCM = %d bytes, want %d", got, want)
	}
}

func TestPreSpeechPaddingDisabled(t *testing.T) {
	t.Parallel()

	s := segment.New(&vadmock.Classifier{DecideFunc: byAmplitude},
		segment.WithParams(segment.Params{PreSpeechRing: -1}))
	g := newGen()

	feed(s, g.silence(100), g.speech(75), g.silence(50))

	evs := drain(s)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(evs), evs)
	}
	utt := evs[1].Utterance
	if got, want := len(utt.Frames), 75; got != want {
		t.Errorf("utterance frame count = %d, want %d (no padding)", got, want)
	}
	if wantStart := base.Add(2 * time.Second); !utt.Start.Equal(wantStart) {
		t.Errorf("utterance Start = %v, want %v (speech onset)", utt.Start, wantStart)
	}
}

func TestMidUtterancePauseBridged(t *testing.T) {
	t.Parallel()

	s := segment.New(&vadmock.Classifier{DecideFunc: byAmplitude})
	g := newGen()

	// A 400 ms pause is below the 600 ms timeout, so both speech runs and
	// the pause between them form one utterance.
	feed(s, g.silence(50), g.speech(25), g.silence(20), g.speech(25), g.silence(35))

	evs := drain(s)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2 (one utterance): %+v", len(evs), evs)
	}
	if evs[0].Kind != segment.Start || evs[1].Kind != segment.End {
		t.Fatalf("event kinds = %v, %v, want start, end", evs[0].Kind, evs[1].Kind)
	}
	utt := evs[1].Utterance
	if got, want := len(utt.Frames), 50+25+20+25; got != want {
		t.Errorf("utterance frame count = %d, want %d (pause bridged)", got, want)
	}
	if wantEnd := base.Add(2400 * time.Millisecond); !utt.End.Equal(wantEnd) {
		t.Errorf("utterance End = %v, want %v", utt.End, wantEnd)
	}
}

func TestInterruptionWhileSpeaking(t *testing.T) {
	t.Parallel()

	s := segment.New(&vadmock.Classifier{DecideFunc: byAmplitude})
	g := newGen()

	feed(s, g.silence(50))
	s.SetSpeaking(true)
	feed(s, g.speech(25))
	s.SetSpeaking(false) // orchestrator cut playback on the interruption
	feed(s, g.silence(35))

	evs := drain(s)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(evs), evs)
	}
	if evs[0].Kind != segment.Interruption {
		t.Errorf("first event kind = %v, want interruption", evs[0].Kind)
	}
	if wantAt := base.Add(1 * time.Second); !evs[0].At.Equal(wantAt) {
		t.Errorf("interruption At = %v, want %v (onset)", evs[0].At, wantAt)
	}
	if evs[1].Kind != segment.End {
		t.Fatalf("second event kind = %v, want end", evs[1].Kind)
	}
	// The interrupting frames open the delivered utterance.
	utt := evs[1].Utterance
	if got, want := len(utt.Frames), 50+25; got != want {
		t.Errorf("utterance frame count = %d, want %d", got, want)
	}
	if wantEnd := base.Add(1500 * time.Millisecond); !utt.End.Equal(wantEnd) {
		t.Errorf("utterance End = %v, want %v", utt.End, wantEnd)
	}
}

func TestInterruptDebounceIsSeparate(t *testing.T) {
	t.Parallel()

	s := segment.New(&vadmock.Classifier{DecideFunc: byAmplitude})
	g := newGen()

	// 260 ms clears the 250 ms start debounce but not the 300 ms
	// interruption debounce.
	s.SetSpeaking(true)
	feed(s, g.silence(50), g.speech(13), g.silence(50))
	if evs := drain(s); len(evs) != 0 {
		t.Fatalf("got %d events while speaking, want 0: %+v", len(evs), evs)
	}

	s.SetSpeaking(false)
	feed(s, g.speech(13), g.silence(30))
	evs := drain(s)
	if len(evs) != 2 {
		t.Fatalf("got %d events after speaking cleared, want 2: %+v", len(evs), evs)
	}
	if evs[0].Kind != segment.Start || evs[1].Kind != segment.End {
		t.Errorf("event kinds = %v, %v, want start, end", evs[0].Kind, evs[1].Kind)
	}
}

func TestSetParamsAppliesLive(t *testing.T) {
	t.Parallel()

	s := segment.New(&vadmock.Classifier{DecideFunc: byAmplitude})
	g := newGen()

	// 100 ms of speech: still below the default debounce.
	feed(s, g.silence(50), g.speech(5))
	if evs := drain(s); len(evs) != 0 {
		t.Fatalf("premature events: %+v", evs)
	}

	// Lowering the debounce mid-candidate confirms the onset on the next
	// frame.
	s.SetParams(segment.Params{MinSpeech: 120 * time.Millisecond})
	feed(s, g.speech(1))
	evs := drain(s)
	if len(evs) != 1 || evs[0].Kind != segment.Start {
		t.Fatalf("got %+v after lowering debounce, want one start", evs)
	}

	// Lowering the timeout mid-utterance closes it sooner.
	s.SetParams(segment.Params{TrailingSilence: 200 * time.Millisecond})
	feed(s, g.silence(10))
	evs = drain(s)
	if len(evs) != 1 || evs[0].Kind != segment.End {
		t.Fatalf("got %+v after lowering timeout, want one end", evs)
	}
	if wantAt := base.Add(1120 * time.Millisecond); !evs[0].At.Equal(wantAt) {
		t.Errorf("end At = %v, want %v", evs[0].At, wantAt)
	}

	if got := s.Params().MinSpeech; got != segment.DefaultMinSpeech {
		t.Errorf("MinSpeech after zero-field update = %v, want default %v", got, segment.DefaultMinSpeech)
	}
}

func TestEventOverflowDropsAndCounts(t *testing.T) {
	t.Parallel()

	s := segment.New(&vadmock.Classifier{DecideFunc: byAmplitude},
		segment.WithEventBuffer(1))
	g := newGen()

	// Three utterances produce six events; nobody is draining.
	for i := 0; i < 3; i++ {
		feed(s, g.silence(10), g.speech(20), g.silence(35))
	}

	if got := s.Dropped(); got != 5 {
		t.Errorf("Dropped() = %d, want 5", got)
	}
	evs := drain(s)
	if len(evs) != 1 {
		t.Fatalf("got %d buffered events, want 1", len(evs))
	}
	if evs[0].Kind != segment.Start {
		t.Errorf("buffered event kind = %v, want start (oldest wins)", evs[0].Kind)
	}
}

func TestResetDiscardsOpenUtterance(t *testing.T) {
	t.Parallel()

	c := &vadmock.Classifier{DecideFunc: byAmplitude}
	s := segment.New(c)
	g := newGen()

	feed(s, g.silence(50), g.speech(20))
	s.Reset()
	feed(s, g.silence(50))

	evs := drain(s)
	if len(evs) != 1 || evs[0].Kind != segment.Start {
		t.Fatalf("got %+v, want only the start emitted before Reset", evs)
	}
	if c.CallCountReset != 1 {
		t.Errorf("classifier Reset calls = %d, want 1", c.CallCountReset)
	}
}

func TestCloseStopsProcessing(t *testing.T) {
	t.Parallel()

	c := &vadmock.Classifier{DecideFunc: byAmplitude}
	s := segment.New(c)
	g := newGen()

	s.Close()
	s.Close() // idempotent

	feed(s, g.speech(30))
	if len(c.ClassifyCalls) != 0 {
		t.Errorf("classifier saw %d frames after Close, want 0", len(c.ClassifyCalls))
	}
	if _, ok := <-s.Events(); ok {
		t.Error("event channel should be closed")
	}
}

func TestClassifierErrorTreatedAsSilence(t *testing.T) {
	t.Parallel()

	c := &vadmock.Classifier{
		DecideFunc: byAmplitude,
		Err:        errors.New("rms overflow"),
	}
	s := segment.New(c)
	g := newGen()

	// Every frame would classify as speech, but the error wins.
	feed(s, g.speech(50))

	if evs := drain(s); len(evs) != 0 {
		t.Fatalf("got %d events from errored frames, want 0: %+v", len(evs), evs)
	}
}
