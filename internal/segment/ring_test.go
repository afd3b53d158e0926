package segment

import (
	"testing"
	"time"

	"github.com/openparley/parley/pkg/audio"
)

// ringFrame builds a mono 16 kHz frame of the given duration.
func ringFrame(seq uint64, dur time.Duration) audio.Frame {
	samples := int(dur * 16000 / time.Second)
	return audio.Frame{
		Data:       make([]byte, samples*2),
		SampleRate: 16000,
		Channels:   1,
		Seq:        seq,
	}
}

func TestFrameRingKeepsMinimalSuffix(t *testing.T) {
	t.Parallel()

	r := newFrameRing(time.Second)
	for i := 0; i < 51; i++ {
		r.Push(ringFrame(uint64(i), 20*time.Millisecond))
	}

	// 51 × 20 ms = 1020 ms; dropping the oldest frame still covers the
	// window, so exactly 50 frames remain.
	if got := r.Len(); got != 50 {
		t.Fatalf("Len() = %d, want 50", got)
	}

	frames := r.Drain()
	if len(frames) != 50 {
		t.Fatalf("Drain() returned %d frames, want 50", len(frames))
	}
	if frames[0].Seq != 1 {
		t.Errorf("oldest retained frame Seq = %d, want 1", frames[0].Seq)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Seq != frames[i-1].Seq+1 {
			t.Fatalf("frames out of order at %d: Seq %d after %d", i, frames[i].Seq, frames[i-1].Seq)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", r.Len())
	}
	if r.Drain() != nil {
		t.Error("Drain() on empty ring should return nil")
	}
}

func TestFrameRingZeroDurationFramesBounded(t *testing.T) {
	t.Parallel()

	r := newFrameRing(time.Second)
	for i := 0; i < 500; i++ {
		r.Push(audio.Frame{Seq: uint64(i)}) // zero duration: no data, no rate
	}

	if got, max := r.Len(), int(time.Second/minFrameBudget); got > max {
		t.Fatalf("Len() = %d, want at most %d", got, max)
	}
}

func TestFrameRingDisabled(t *testing.T) {
	t.Parallel()

	r := newFrameRing(0)
	r.Push(ringFrame(0, 20*time.Millisecond))
	if r.Len() != 0 {
		t.Fatalf("disabled ring buffered %d frames, want 0", r.Len())
	}
	if r.Drain() != nil {
		t.Error("Drain() on disabled ring should return nil")
	}
}

func TestFrameRingResizeShrinks(t *testing.T) {
	t.Parallel()

	r := newFrameRing(time.Second)
	for i := 0; i < 50; i++ {
		r.Push(ringFrame(uint64(i), 20*time.Millisecond))
	}
	r.Resize(200 * time.Millisecond)

	// Excess is evicted on the next push.
	r.Push(ringFrame(50, 20*time.Millisecond))
	if got := r.Len(); got != 10 {
		t.Fatalf("Len() after shrink = %d, want 10", got)
	}

	r.Resize(0)
	if r.Len() != 0 {
		t.Errorf("Len() after Resize(0) = %d, want 0", r.Len())
	}
}
