package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openparley/parley/pkg/provider/llm"
)

// feed returns a closed-when-drained channel carrying the given chunks.
func feed(chunks ...llm.Chunk) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

// tokenize splits text into chunks of n bytes, finishing with reason "stop".
func tokenize(text string, n int) []llm.Chunk {
	var chunks []llm.Chunk
	for len(text) > 0 {
		k := n
		if k > len(text) {
			k = len(text)
		}
		chunks = append(chunks, llm.Chunk{Text: text[:k]})
		text = text[k:]
	}
	return append(chunks, llm.Chunk{FinishReason: "stop"})
}

// collect drains the sentence stream with a timeout guard.
func collect(t *testing.T, s *llm.SentenceStream) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case sentence, ok := <-s.Sentences:
			if !ok {
				return out
			}
			out = append(out, sentence)
		case <-timeout:
			t.Fatal("timed out draining sentence stream")
		}
	}
}

func TestChunker_SplitsAtSentenceBoundaries(t *testing.T) {
	t.Parallel()
	in := feed(
		llm.Chunk{Text: "Hello there. How"},
		llm.Chunk{Text: " are you? I'm fine."},
		llm.Chunk{FinishReason: "stop"},
	)
	got := collect(t, llm.Chunker{}.Split(context.Background(), in))
	want := []string{"Hello there. ", "How are you? ", "I'm fine."}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks %q; want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestChunker_ConcatenationEqualsFullText(t *testing.T) {
	t.Parallel()
	const text = "The dragon stirs.\nIts scales shimmer like wet slate! " +
		"Do you draw your blade? The value of pi is 3.14159, roughly. " +
		"Mr. Smith disagrees"

	for _, n := range []int{1, 3, 7, len(text)} {
		in := feed(tokenize(text, n)...)
		got := collect(t, llm.Chunker{}.Split(context.Background(), in))
		if joined := strings.Join(got, ""); joined != text {
			t.Errorf("token size %d: concatenated chunks = %q; want %q", n, joined, text)
		}
	}
}

func TestChunker_DecimalPointIsNotABoundary(t *testing.T) {
	t.Parallel()
	in := feed(
		llm.Chunk{Text: "Pi is 3.14 exactly enough. Next."},
		llm.Chunk{FinishReason: "stop"},
	)
	got := collect(t, llm.Chunker{}.Split(context.Background(), in))
	want := []string{"Pi is 3.14 exactly enough. ", "Next."}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %q; want %q", got, want)
	}
}

func TestChunker_FlushesRemainderWhenStreamCloses(t *testing.T) {
	t.Parallel()
	// No finish reason: the provider channel just closes mid-sentence.
	in := feed(llm.Chunk{Text: "An unfinished thou"})
	got := collect(t, llm.Chunker{}.Split(context.Background(), in))
	if len(got) != 1 || got[0] != "An unfinished thou" {
		t.Errorf("got %q; want the unfinished fragment flushed", got)
	}
}

func TestChunker_MinChunkLenMergesShortSentences(t *testing.T) {
	t.Parallel()
	in := feed(
		llm.Chunk{Text: "Hi. Well met, traveller. Onward!"},
		llm.Chunk{FinishReason: "stop"},
	)
	got := collect(t, llm.Chunker{MinChunkLen: 10}.Split(context.Background(), in))
	want := []string{"Hi. Well met, traveller. ", "Onward!"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %q; want %q", got, want)
	}
}

func TestChunker_ErrorFinishReason(t *testing.T) {
	t.Parallel()
	in := feed(
		llm.Chunk{Text: "First sentence. Then doom"},
		llm.Chunk{Text: " strikes", FinishReason: "error"},
	)
	s := llm.Chunker{}.Split(context.Background(), in)
	got := collect(t, s)

	// The complete sentence before the failure is still delivered; the
	// partial tail is not.
	if len(got) != 1 || got[0] != "First sentence. " {
		t.Errorf("got %q; want just the first sentence", got)
	}
	err := s.Err()
	if err == nil {
		t.Fatal("Err() = nil; want stream error")
	}
	if !errors.Is(err, llm.ErrStream) {
		t.Errorf("Err() = %v; want ErrStream", err)
	}
	if !strings.Contains(err.Error(), "strikes") {
		t.Errorf("Err() = %v; want provider message included", err)
	}
}

func TestChunker_CancelledContextClosesStream(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan llm.Chunk) // never written: the chunker must not block forever
	s := llm.Chunker{}.Split(ctx, in)
	cancel()

	select {
	case _, ok := <-s.Sentences:
		if ok {
			t.Fatal("expected closed channel, got a sentence")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream to close after cancel")
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err() after cancel = %v; want nil", err)
	}
}

func TestChunker_EmptyStream(t *testing.T) {
	t.Parallel()
	got := collect(t, llm.Chunker{}.Split(context.Background(), feed()))
	if len(got) != 0 {
		t.Errorf("got %q from empty stream; want none", got)
	}
}
