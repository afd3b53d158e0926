// Package mock provides a scripted in-memory [stt.Recognizer] for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/stt"
)

// RecognizeCall records one Recognize invocation.
type RecognizeCall struct {
	// PCMBytes is the byte length of the utterance's concatenated PCM.
	PCMBytes int

	// Frames is the number of frames in the utterance.
	Frames int

	// Duration is the utterance duration as reported by the caller.
	Duration time.Duration
}

// Recognizer is a scripted stt.Recognizer. Queued results are returned one
// per call in order; once the queue is empty every call returns Result.
// Set Err to make calls fail, or Delay to simulate inference latency that
// respects cancellation.
type Recognizer struct {
	mu      sync.Mutex
	queue   []stt.Result
	calls   []RecognizeCall
	closedN int

	// Result is returned when the queue is empty.
	Result stt.Result

	// Err, when non-nil, is returned by every Recognize call.
	Err error

	// Delay simulates inference time before the result is returned.
	// Cancelling the context during the delay returns ctx.Err().
	Delay time.Duration
}

var _ stt.Recognizer = (*Recognizer)(nil)

// New returns an empty scripted recognizer.
func New() *Recognizer {
	return &Recognizer{}
}

// Queue appends results to be returned by subsequent Recognize calls.
func (m *Recognizer) Queue(results ...stt.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, results...)
}

// Recognize records the call and returns the next scripted result.
func (m *Recognizer) Recognize(ctx context.Context, utt *audio.Utterance) (stt.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, RecognizeCall{
		PCMBytes: len(utt.PCM()),
		Frames:   len(utt.Frames),
		Duration: utt.Duration(),
	})
	delay := m.Delay
	err := m.Err
	res := m.Result
	if len(m.queue) > 0 {
		res = m.queue[0]
		m.queue = m.queue[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// Close records the call and always succeeds.
func (m *Recognizer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedN++
	return nil
}

// RecognizeCalls returns a copy of all recorded Recognize calls.
func (m *Recognizer) RecognizeCalls() []RecognizeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecognizeCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CloseCalls returns how many times Close was called.
func (m *Recognizer) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closedN
}

// Reset clears recorded calls and the scripted queue.
func (m *Recognizer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
	m.calls = nil
	m.closedN = 0
}
