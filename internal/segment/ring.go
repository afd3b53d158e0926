package segment

import (
	"time"

	"github.com/openparley/parley/pkg/audio"
)

// minFrameBudget bounds the ring's frame count when frames report a zero
// duration (empty data or missing sample rate) and therefore cannot advance
// the time budget. Sized for the smallest plausible capture frame (10 ms).
const minFrameBudget = 10 * time.Millisecond

// frameRing retains the most recent frames whose summed play time covers at
// least the retention window. It provides the pre-speech padding prepended to
// each utterance so word onsets clipped by the debounce are not lost.
//
// The ring keeps the minimal suffix of pushed frames whose total duration
// still meets the window, so it may hold up to one frame more than the
// window strictly needs. It is not safe for concurrent use; the segmenter
// serialises access.
type frameRing struct {
	retain    time.Duration
	maxFrames int

	frames []audio.Frame
	total  time.Duration
}

func newFrameRing(retain time.Duration) *frameRing {
	if retain < 0 {
		retain = 0
	}
	maxFrames := int(retain / minFrameBudget)
	if maxFrames < 1 {
		maxFrames = 1
	}
	return &frameRing{retain: retain, maxFrames: maxFrames}
}

// Push appends f and evicts the oldest frames that are no longer needed to
// cover the retention window.
func (r *frameRing) Push(f audio.Frame) {
	if r.retain == 0 {
		return
	}
	r.frames = append(r.frames, f)
	r.total += f.Duration()
	for len(r.frames) > 1 {
		oldest := r.frames[0].Duration()
		if r.total-oldest < r.retain && len(r.frames) <= r.maxFrames {
			break
		}
		r.frames[0] = audio.Frame{}
		r.frames = r.frames[1:]
		r.total -= oldest
	}
}

// Drain returns the buffered frames oldest-first and empties the ring. The
// returned slice is owned by the caller.
func (r *frameRing) Drain() []audio.Frame {
	if len(r.frames) == 0 {
		return nil
	}
	out := make([]audio.Frame, len(r.frames))
	copy(out, r.frames)
	r.frames = r.frames[:0]
	r.total = 0
	return out
}

// Resize changes the retention window. Excess frames are evicted on the next
// Push rather than immediately.
func (r *frameRing) Resize(retain time.Duration) {
	if retain < 0 {
		retain = 0
	}
	r.retain = retain
	maxFrames := int(retain / minFrameBudget)
	if maxFrames < 1 {
		maxFrames = 1
	}
	r.maxFrames = maxFrames
	if retain == 0 {
		r.frames = nil
		r.total = 0
	}
}

// Clear empties the ring without returning the frames.
func (r *frameRing) Clear() {
	r.frames = r.frames[:0]
	r.total = 0
}

// Len returns the number of buffered frames.
func (r *frameRing) Len() int { return len(r.frames) }
