package memory

import (
	"time"

	"github.com/google/uuid"
)

// Exchange is one completed conversational turn: what the speaker said and
// what the engine replied. It is the atomic unit of the archive.
type Exchange struct {
	// ID uniquely identifies the exchange. A zero UUID is assigned on Append.
	ID uuid.UUID

	// SessionID names the session this exchange belongs to.
	SessionID string

	// UserText is the recognized (and possibly corrected) speaker utterance.
	UserText string

	// ReplyText is the engine's reply. When the reply was cut off by an
	// interruption this holds only the portion actually spoken.
	ReplyText string

	// Interrupted reports whether the speaker barged in before the reply
	// finished playing.
	Interrupted bool

	// CreatedAt is when the exchange completed.
	CreatedAt time.Time

	// Embedding is the vector representation of the exchange text, used for
	// similarity recall. May be nil when no embedder is configured; such
	// exchanges are excluded from Similar results.
	Embedding []float32
}

// SimilarExchange pairs a retrieved exchange with its vector-space distance
// from the query embedding. Lower Distance means more similar.
type SimilarExchange struct {
	Exchange Exchange
	Distance float64
}
