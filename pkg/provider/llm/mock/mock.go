// Package mock provides a scripted in-memory [llm.Responder] for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/openparley/parley/pkg/provider/llm"
)

// Call records one StreamResponse or Respond invocation.
type Call struct {
	System   string
	Messages []llm.Message

	// Stream is true for StreamResponse calls, false for Respond.
	Stream bool
}

// Responder is a scripted llm.Responder. Chunk scripts queued with
// [Responder.QueueChunks] are consumed one per StreamResponse call; once the
// queue is empty, streams emit Text as a single chunk followed by a "stop".
type Responder struct {
	mu      sync.Mutex
	scripts [][]llm.Chunk
	calls   []Call
	closedN int

	// Text is the reply used when no script is queued.
	Text string

	// StreamErr, when non-nil, is returned by StreamResponse itself
	// (stream never starts).
	StreamErr error

	// RespondErr, when non-nil, is returned by Respond.
	RespondErr error

	// ChunkDelay pauses before each streamed chunk, so tests can land an
	// interruption between chunks. Cancelling the context during the pause
	// ends the stream.
	ChunkDelay time.Duration

	// Caps is returned by Capabilities. The zero value is replaced with a
	// streaming-capable 128k window.
	Caps llm.Capabilities
}

var _ llm.Responder = (*Responder)(nil)

// New returns an empty scripted responder.
func New() *Responder {
	return &Responder{}
}

// QueueChunks appends one chunk script, consumed by the next StreamResponse
// call.
func (m *Responder) QueueChunks(chunks ...llm.Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	script := make([]llm.Chunk, len(chunks))
	copy(script, chunks)
	m.scripts = append(m.scripts, script)
}

// StreamResponse implements llm.Responder.
func (m *Responder) StreamResponse(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	m.mu.Lock()
	m.calls = append(m.calls, recordCall(req, true))
	if err := m.StreamErr; err != nil {
		m.mu.Unlock()
		return nil, err
	}
	var script []llm.Chunk
	if len(m.scripts) > 0 {
		script = m.scripts[0]
		m.scripts = m.scripts[1:]
	} else {
		script = []llm.Chunk{{Text: m.Text}, {FinishReason: "stop"}}
	}
	delay := m.ChunkDelay
	m.mu.Unlock()

	ch := make(chan llm.Chunk, len(script))
	go func() {
		defer close(ch)
		for _, chunk := range script {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Respond implements llm.Responder.
func (m *Responder) Respond(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, recordCall(req, false))
	err := m.RespondErr
	text := m.Text
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &llm.Response{
		Content: text,
		Usage:   llm.Usage{CompletionTokens: (len(text) + 3) / 4},
	}, nil
}

// CountTokens implements llm.Responder with the same chars/4 estimate the
// real providers use, so budget tests are predictable.
func (m *Responder) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, msg := range messages {
		total += (len(msg.Content) + 3) / 4
		total += 4
	}
	return total, nil
}

// Capabilities implements llm.Responder.
func (m *Responder) Capabilities() llm.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Caps == (llm.Capabilities{}) {
		return llm.Capabilities{
			ContextWindow:     128_000,
			MaxOutputTokens:   4_096,
			SupportsStreaming: true,
		}
	}
	return m.Caps
}

// Close records the call and always succeeds.
func (m *Responder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedN++
	return nil
}

// Calls returns a copy of all recorded generation calls.
func (m *Responder) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CloseCalls returns how many times Close was called.
func (m *Responder) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closedN
}

// Reset clears recorded calls and queued scripts.
func (m *Responder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = nil
	m.calls = nil
	m.closedN = 0
}

func recordCall(req llm.Request, stream bool) Call {
	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	return Call{System: req.System, Messages: msgs, Stream: stream}
}
