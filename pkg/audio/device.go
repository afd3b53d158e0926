package audio

import (
	"context"
	"fmt"
)

// FrameSource is the capture side of the pipeline: a live, ordered sequence
// of fixed-duration frames from an input device.
//
// Implementations are provided by device adapter packages (e.g. audio/device
// for portaudio hardware, audio/mock for tests). The interface is
// intentionally narrow so the segmenter stays decoupled from device details.
type FrameSource interface {
	// NextFrame blocks until the next frame is available, ctx is cancelled,
	// or the source has failed permanently. Frames carry strictly increasing
	// Seq values; a gap means the device outpaced the consumer and frames
	// were dropped.
	//
	// After the source's reopen retries are exhausted, NextFrame returns a
	// *DeviceError and every subsequent call fails the same way.
	NextFrame(ctx context.Context) (Frame, error)

	// Close stops capture and releases the device. Safe to call more than
	// once; subsequent calls return nil.
	Close() error
}

// Player is the playback side of the pipeline.
//
// Implementations must silence output within a bounded latency once ctx is
// cancelled — the orchestrator's barge-in budget depends on it.
type Player interface {
	// Play writes the segment's audio to the output device, blocking until
	// the segment's channel closes and the final chunk has been written, or
	// until ctx is cancelled. On cancellation Play flushes the device and
	// returns ctx.Err() promptly; it never drains the remaining segment.
	Play(ctx context.Context, seg *Segment) error

	// Close stops playback and releases the device. Safe to call more than
	// once; subsequent calls return nil.
	Close() error
}

// DeviceError reports a permanent audio device failure — the device
// disappeared or failed to reopen within the configured retry budget.
// It is fatal for the session; the orchestrator does not treat it as
// turn-local.
type DeviceError struct {
	// Device names the failing side: "capture" or "playback".
	Device string

	// Op is the device operation that failed (e.g. "open", "read", "write").
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio: %s device %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
