// Package mock provides a scripted test double for the vad package.
//
// Decisions are served in order from the Decisions queue; when the queue is
// exhausted, Default applies. Tests that want level-based behaviour can set
// DecideFunc instead.
//
// Example:
//
//	c := &mock.Classifier{Decisions: []bool{true, true, false}}
//	speech, _ := c.Classify(frame) // true, true, false, then Default
package mock

import (
	"sync"

	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/vad"
)

// ClassifyCall records a single invocation of [Classifier.Classify].
type ClassifyCall struct {
	// Seq is the sequence number of the classified frame.
	Seq uint64

	// Bytes is the PCM length of the classified frame.
	Bytes int
}

// Classifier is a scripted mock implementation of [vad.Classifier].
type Classifier struct {
	mu sync.Mutex

	// DecideFunc, when non-nil, decides every frame and bypasses Decisions.
	DecideFunc func(frame audio.Frame) bool

	// Decisions is consumed one entry per Classify call.
	Decisions []bool

	// Default is returned once Decisions is exhausted.
	Default bool

	// Err, when non-nil, is returned by every Classify call.
	Err error

	// ClassifyCalls records every Classify invocation in order.
	ClassifyCalls []ClassifyCall

	// CallCountReset records how many times Reset was called.
	CallCountReset int
}

var _ vad.Classifier = (*Classifier)(nil)

// Classify implements [vad.Classifier]. It records the call and serves the
// next scripted decision.
func (c *Classifier) Classify(frame audio.Frame) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClassifyCalls = append(c.ClassifyCalls, ClassifyCall{Seq: frame.Seq, Bytes: len(frame.Data)})

	if c.Err != nil {
		return false, c.Err
	}
	if c.DecideFunc != nil {
		return c.DecideFunc(frame), nil
	}
	if len(c.Decisions) > 0 {
		d := c.Decisions[0]
		c.Decisions = c.Decisions[1:]
		return d, nil
	}
	return c.Default, nil
}

// Reset implements [vad.Classifier]. It only counts the call; scripted
// decisions are not rewound.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountReset++
}

// ResetCalls clears all recorded calls and counters.
func (c *Classifier) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClassifyCalls = nil
	c.CallCountReset = 0
}
