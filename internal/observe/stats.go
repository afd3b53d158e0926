package observe

import (
	"math"
	"sort"
	"sync"
	"time"
)

// PipelineStats collects per-stage latency samples and turn counters for the
// session summary logged when a conversation ends. It keeps a bounded ring of
// recent observations per stage and computes percentiles on demand, so the
// summary needs no metrics backend.
//
// Safe for concurrent use.
type PipelineStats struct {
	mu sync.Mutex

	recognition latencyBuffer
	generation  latencyBuffer
	synthesis   latencyBuffer
	turn        latencyBuffer

	turns         int64
	interruptions int64
	errors        int64
}

// NewPipelineStats creates a PipelineStats with the given window size
// (maximum number of latency samples retained per stage).
func NewPipelineStats(windowSize int) *PipelineStats {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &PipelineStats{
		recognition: newLatencyBuffer(windowSize),
		generation:  newLatencyBuffer(windowSize),
		synthesis:   newLatencyBuffer(windowSize),
		turn:        newLatencyBuffer(windowSize),
	}
}

// RecordRecognition records an utterance-to-transcript latency sample.
func (ps *PipelineStats) RecordRecognition(d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.recognition.add(d)
}

// RecordGeneration records a generation-start-to-first-chunk latency sample.
func (ps *PipelineStats) RecordGeneration(d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.generation.add(d)
}

// RecordSynthesis records a per-chunk synthesis latency sample.
func (ps *PipelineStats) RecordSynthesis(d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.synthesis.add(d)
}

// RecordTurn records an end-to-end turn latency sample.
func (ps *PipelineStats) RecordTurn(d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.turn.add(d)
}

// IncrTurns increments the completed turn counter.
func (ps *PipelineStats) IncrTurns() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.turns++
}

// IncrInterruptions increments the barge-in counter.
func (ps *PipelineStats) IncrInterruptions() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.interruptions++
}

// IncrErrors increments the failed-turn counter.
func (ps *PipelineStats) IncrErrors() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.errors++
}

// LatencyPercentiles holds p50 and p95 values for a latency stage.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// StatsSnapshot captures a point-in-time view of all pipeline statistics.
type StatsSnapshot struct {
	Recognition   LatencyPercentiles
	Generation    LatencyPercentiles
	Synthesis     LatencyPercentiles
	Turn          LatencyPercentiles
	Turns         int64
	Interruptions int64
	Errors        int64
}

// Snapshot returns a point-in-time view of all pipeline statistics.
func (ps *PipelineStats) Snapshot() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	return StatsSnapshot{
		Recognition:   ps.recognition.percentiles(),
		Generation:    ps.generation.percentiles(),
		Synthesis:     ps.synthesis.percentiles(),
		Turn:          ps.turn.percentiles(),
		Turns:         ps.turns,
		Interruptions: ps.interruptions,
		Errors:        ps.errors,
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	size int
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{
		data: make([]time.Duration, size),
		size: size,
	}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= lb.size {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = lb.size
	}
	if n == 0 {
		return LatencyPercentiles{}
	}

	// Copy and sort the valid samples.
	sorted := make([]time.Duration, n)
	copy(sorted, lb.data[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
