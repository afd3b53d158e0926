package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// ErrStream indicates the provider's token stream failed mid-reply. The
// sentences emitted before the failure are still valid.
var ErrStream = errors.New("llm: response stream failed")

// SentenceStream carries the chunker's output. Sentences is closed when the
// reply is complete, the stream fails, or the context driving [Chunker.Split]
// is cancelled. After Sentences closes, Err reports whether the stream ended
// cleanly.
type SentenceStream struct {
	Sentences <-chan string

	err atomic.Pointer[error]
}

// Err returns the stream error, or nil if the reply completed (or was
// cancelled — cancellation is the caller's own doing, not a stream failure).
func (s *SentenceStream) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *SentenceStream) setErr(err error) {
	s.err.Store(&err)
}

// Chunker accumulates a token stream into sentence-sized chunks for
// synthesis. Flushing sentences as they complete lets playback begin after
// the first sentence instead of after the full reply.
//
// The emitted chunks concatenate to exactly the text received: boundaries
// include their trailing whitespace, and nothing is trimmed or reordered.
type Chunker struct {
	// MinChunkLen holds back sentences whose accumulated text is shorter
	// than this many bytes, merging them into the next chunk. Avoids
	// synthesis calls for fragments like "Hi.". Zero flushes every sentence.
	MinChunkLen int
}

// Split consumes in and returns a stream of complete sentences. Any text
// left when in closes is flushed as a final partial chunk. A FinishReason of
// "error" ends the stream and is exposed via [SentenceStream.Err].
func (c Chunker) Split(ctx context.Context, in <-chan Chunk) *SentenceStream {
	out := make(chan string, 8)
	s := &SentenceStream{Sentences: out}

	go func() {
		defer close(out)
		var buf strings.Builder

		flushRemainder := func() {
			if buf.Len() == 0 {
				return
			}
			select {
			case out <- buf.String():
			case <-ctx.Done():
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-in:
				if !ok {
					flushRemainder()
					return
				}
				if chunk.FinishReason == "error" {
					s.setErr(fmt.Errorf("%w: %s", ErrStream, chunk.Text))
					return
				}
				buf.WriteString(chunk.Text)

				// Flush every complete sentence currently buffered.
				for {
					cut := sentenceCut(buf.String(), c.MinChunkLen)
					if cut < 0 {
						break
					}
					text := buf.String()
					sentence, rest := text[:cut], text[cut:]
					buf.Reset()
					buf.WriteString(rest)
					select {
					case out <- sentence:
					case <-ctx.Done():
						return
					}
				}

				if chunk.FinishReason != "" {
					flushRemainder()
					return
				}
			}
		}
	}()

	return s
}

// sentenceCut returns the index just past the first sentence boundary — a
// '.', '!' or '?' followed by whitespace, including the contiguous
// whitespace run after it — that yields a chunk of at least min bytes.
// Boundaries that would produce a shorter chunk are skipped so the sentence
// merges into the next one. Returns -1 when no qualifying boundary exists.
func sentenceCut(s string, min int) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			if !isSpace(s[i+1]) {
				continue
			}
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j >= min {
				return j
			}
			i = j - 1
		}
	}
	return -1
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\n', '\r', '\t':
		return true
	}
	return false
}
