// Package vad defines the Classifier interface for per-frame speech
// detection.
//
// A classifier answers one question — does this frame contain speech? — and
// nothing more. Turning per-frame answers into utterance boundaries (debounce,
// trailing-silence timeout, pre-speech buffering) is the segmenter's job, so
// classifiers stay interchangeable: an energy detector, a neural model, or a
// scripted mock all plug into the same state machine.
//
// Classify is synchronous by design: it is called once per captured frame on
// the hot path and must not block.
package vad

import "github.com/openparley/parley/pkg/audio"

// Classifier is the per-frame speech/silence decision contract.
//
// Implementations may keep internal smoothing state (level hysteresis,
// probability history) between calls; Reset clears it. A Classifier is used
// from a single goroutine, but implementations that support live threshold
// updates must make those safe to call concurrently with Classify.
type Classifier interface {
	// Classify reports whether the frame contains speech. The frame must be
	// little-endian int16 PCM; implementations return an error on malformed
	// data or internal failure, and the segmenter treats an errored frame as
	// silence.
	//
	// Called once per frame on the capture path; must not block.
	Classify(frame audio.Frame) (bool, error)

	// Reset clears accumulated detection state without discarding
	// configuration. The segmenter calls it when a stream is interrupted or
	// restarted so stale hysteresis does not leak into the next utterance.
	Reset()
}
