// Package mock provides in-memory mock implementations of the
// [audio.FrameSource] and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control behaviour.
//
// Typical usage:
//
//	src := mock.NewSource(16)
//	src.Feed(speechFrame, silenceFrame)
//	player := &mock.Player{HoldUntilCancel: true}
//	// ... run the pipeline, then:
//	calls := player.Calls()
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openparley/parley/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a scripted [audio.FrameSource]. Tests push frames with Feed and
// terminate the stream with End or FailWith.
type Source struct {
	mu sync.Mutex

	frames chan audio.Frame
	ended  bool

	// failErr is returned by NextFrame once the frame channel is drained
	// after FailWith.
	failErr error

	// CallCountNextFrame records how many times NextFrame was called.
	CallCountNextFrame int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.FrameSource = (*Source)(nil)

// NewSource creates a Source buffering up to capacity frames.
func NewSource(capacity int) *Source {
	return &Source{frames: make(chan audio.Frame, capacity)}
}

// Feed queues frames for delivery via NextFrame. Feed panics if called after
// End or FailWith, mirroring a send on a closed channel.
func (s *Source) Feed(frames ...audio.Frame) {
	for _, f := range frames {
		s.frames <- f
	}
}

// End closes the stream: once queued frames are drained, NextFrame reports a
// closed-device error. Safe to call more than once.
func (s *Source) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.frames)
	}
}

// FailWith closes the stream like End, but NextFrame returns err once the
// queued frames are drained. Use it to simulate a permanent device failure.
func (s *Source) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		s.failErr = err
		close(s.frames)
	}
}

// NextFrame implements [audio.FrameSource].
func (s *Source) NextFrame(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	s.CallCountNextFrame++
	s.mu.Unlock()

	select {
	case frame, ok := <-s.frames:
		if !ok {
			s.mu.Lock()
			failErr := s.failErr
			s.mu.Unlock()
			if failErr != nil {
				return audio.Frame{}, failErr
			}
			return audio.Frame{}, &audio.DeviceError{
				Device: "capture", Op: "read", Err: errors.New("source ended"),
			}
		}
		return frame, nil
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// Close implements [audio.FrameSource].
func (s *Source) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.mu.Unlock()
	s.End()
	return nil
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records a single [Player.Play] invocation.
type PlayCall struct {
	// SampleRate and Channels are copied from the segment.
	SampleRate int
	Channels   int

	// PCM is the concatenated audio received before completion or
	// cancellation.
	PCM []byte

	// Started is when Play was invoked.
	Started time.Time

	// CancelledAt is the instant Play observed ctx cancellation.
	// Zero when the segment completed normally.
	CancelledAt time.Time

	// Err is the value Play returned.
	Err error
}

// Player is a recording [audio.Player].
//
// Behaviour is controlled by the exported fields: ChunkDelay simulates real
// playback time per received chunk, and HoldUntilCancel keeps the call
// "playing" after the segment closes until ctx is cancelled — useful for
// interruption tests that need playback in flight.
type Player struct {
	mu sync.Mutex

	// PlayErr, when non-nil, is returned by Play after the segment is
	// consumed (normal completion path only).
	PlayErr error

	// ChunkDelay is how long Play sleeps per received chunk.
	ChunkDelay time.Duration

	// HoldUntilCancel makes Play block after the segment channel closes
	// until ctx is cancelled.
	HoldUntilCancel bool

	// CallCountClose records how many times Close was called.
	CallCountClose int

	started int
	calls   []PlayCall
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player]. It consumes the segment, recording all
// received PCM, and stamps the moment it observes cancellation.
func (p *Player) Play(ctx context.Context, seg *audio.Segment) error {
	call := PlayCall{
		SampleRate: seg.SampleRate,
		Channels:   seg.Channels,
		Started:    time.Now(),
	}

	p.mu.Lock()
	p.started++
	chunkDelay := p.ChunkDelay
	hold := p.HoldUntilCancel
	playErr := p.PlayErr
	p.mu.Unlock()

	finish := func(err error) error {
		call.Err = err
		p.mu.Lock()
		p.calls = append(p.calls, call)
		p.mu.Unlock()
		return err
	}

	for {
		select {
		case <-ctx.Done():
			call.CancelledAt = time.Now()
			return finish(ctx.Err())
		case chunk, ok := <-seg.Audio:
			if !ok {
				if err := seg.Err(); err != nil {
					return finish(err)
				}
				if hold {
					<-ctx.Done()
					call.CancelledAt = time.Now()
					return finish(ctx.Err())
				}
				return finish(playErr)
			}
			call.PCM = append(call.PCM, chunk...)
			if chunkDelay > 0 {
				select {
				case <-ctx.Done():
					call.CancelledAt = time.Now()
					return finish(ctx.Err())
				case <-time.After(chunkDelay):
				}
			}
		}
	}
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return nil
}

// Calls returns a snapshot of all recorded Play invocations.
func (p *Player) Calls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Started returns how many Play calls have begun, including calls still in
// flight. Calls shows only finished ones, so tests that must interrupt a
// playback in progress wait on Started.
func (p *Player) Started() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Reset clears all recorded calls.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
	p.started = 0
}
