package audio

import "sync/atomic"

// Segment is a playable audio handle produced by a synthesis stage.
// Audio is streamed — chunks arrive incrementally on the Audio channel — so a
// [Player] can begin playback before synthesis of the tail is complete.
type Segment struct {
	// Audio is a read-only channel of raw PCM chunks. The channel is closed
	// by the producer when the segment ends or when a mid-stream error
	// occurs. After the channel closes, call [Segment.Err] to check whether
	// synthesis completed cleanly.
	Audio <-chan []byte

	// SampleRate is the sample rate in Hz of the PCM data on the Audio
	// channel (e.g., 16000, 22050, 44100). Must be > 0.
	SampleRate int

	// Channels is the number of audio channels (1 = mono, 2 = stereo).
	// Must be > 0.
	Channels int

	// streamErr stores the error that caused the Audio channel to close
	// early. Access via Err and SetStreamErr.
	streamErr atomic.Pointer[error]
}

// Err returns the error that caused the Audio channel to close prematurely,
// or nil if the stream completed successfully. Callers should check Err after
// the Audio channel is closed.
func (s *Segment) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream error. The producer should call this
// before closing the Audio channel so that the consumer can distinguish a
// clean completion from a failure.
func (s *Segment) SetStreamErr(err error) {
	s.streamErr.Store(&err)
}
