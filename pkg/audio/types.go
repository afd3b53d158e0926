// Package audio defines the audio data model and device contracts shared by
// every stage of the parley pipeline.
//
// A [Frame] is the atomic unit of capture: a fixed-duration block of PCM
// samples stamped with a monotonic sequence number. Frames are grouped into
// an [Utterance] by the segmenter, and synthesis hands playback a [Segment] —
// an ordered stream of PCM chunks that can begin playing before the tail has
// been produced.
//
// All PCM in this package is little-endian signed 16-bit.
package audio

import "time"

// Frame is a single fixed-duration block of captured audio. Frames are
// immutable once produced; stages that need a different format must copy
// (see [FormatConverter]).
type Frame struct {
	// Data is raw little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (16000 for the capture pipeline).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo playback.
	Channels int

	// Seq is the monotonic sequence number assigned by the capture device.
	// Gaps indicate frames dropped under backpressure.
	Seq uint64

	// Captured is the wall-clock instant the frame was read from the device.
	Captured time.Time
}

// Samples returns the number of per-channel samples in the frame.
func (f Frame) Samples() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the play time of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Utterance is an ordered run of frames bounded by start and end instants.
// The segmenter mutates it while the segment is open; once emitted it must be
// treated as immutable.
type Utterance struct {
	// Frames holds the captured frames in sequence order, including the
	// pre-speech ring contents prepended at utterance start.
	Frames []Frame

	// Start is the capture time of the first frame.
	Start time.Time

	// End is the capture time of the last frame.
	End time.Time
}

// PCM concatenates the PCM data of all frames into one contiguous buffer.
func (u *Utterance) PCM() []byte {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// Duration returns End − Start, or zero when the utterance is empty.
func (u *Utterance) Duration() time.Duration {
	if u.Start.IsZero() || u.End.IsZero() {
		return 0
	}
	return u.End.Sub(u.Start)
}

// SampleRate returns the sample rate of the first frame, or zero when empty.
func (u *Utterance) SampleRate() int {
	if len(u.Frames) == 0 {
		return 0
	}
	return u.Frames[0].SampleRate
}

// Channels returns the channel count of the first frame, or zero when empty.
func (u *Utterance) Channels() int {
	if len(u.Frames) == 0 {
		return 0
	}
	return u.Frames[0].Channels
}
