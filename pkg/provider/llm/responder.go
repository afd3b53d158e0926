// Package llm defines the response-generation contract used by the engine.
//
// A [Responder] turns a conversation transcript into a reply. The engine
// always prefers [Responder.StreamResponse] — tokens reach synthesis as
// sentences complete instead of after the whole reply is ready — and falls
// back to [Responder.Respond] for providers that cannot stream. The
// [Chunker] in this package converts a token stream into the sentence-sized
// chunks the synthesis stage consumes.
package llm

import "context"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation transcript sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Request describes a single generation call.
type Request struct {
	// System is the system prompt, sent ahead of Messages when non-empty.
	System string

	// Messages is the conversation in order, oldest first, ending with the
	// user's current utterance.
	Messages []Message

	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int

	// Temperature controls sampling randomness. Zero uses the provider
	// default.
	Temperature float64
}

// Chunk is one streamed fragment of a reply.
type Chunk struct {
	// Text is the incremental reply text. May be empty on the final chunk.
	Text string

	// FinishReason is non-empty exactly once, on the final chunk: "stop",
	// "length", or "error" (with Text carrying the error message). The
	// channel closes after it.
	FinishReason string
}

// Response is a complete, non-streamed reply.
type Response struct {
	Content string
	Usage   Usage
}

// Usage reports token consumption for one call. Zero values mean the
// provider did not report usage.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Capabilities describes model limits the engine uses for history budgeting.
type Capabilities struct {
	// ContextWindow is the total token window the model accepts.
	ContextWindow int

	// MaxOutputTokens is the largest reply the model can produce.
	MaxOutputTokens int

	// SupportsStreaming is false for providers that only complete
	// synchronously; StreamResponse then emits the reply as one chunk.
	SupportsStreaming bool
}

// Responder generates conversational replies.
//
// StreamResponse returns immediately with a channel of chunks; the channel
// is closed when the reply is complete, errors out, or ctx is cancelled.
// Cancelling ctx is the only way to stop a stream early — implementations
// stop producing and release the upstream connection when they observe it.
type Responder interface {
	StreamResponse(ctx context.Context, req Request) (<-chan Chunk, error)

	// Respond blocks until the full reply is ready.
	Respond(ctx context.Context, req Request) (*Response, error)

	// CountTokens estimates the token footprint of messages. Estimates only
	// need to be good enough for history budgeting.
	CountTokens(messages []Message) (int, error)

	// Capabilities reports the limits of the configured model.
	Capabilities() Capabilities

	// Close releases provider resources. Safe to call more than once.
	Close() error
}
