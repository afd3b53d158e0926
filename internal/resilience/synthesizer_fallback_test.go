package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openparley/parley/pkg/provider/tts"
	ttsmock "github.com/openparley/parley/pkg/provider/tts/mock"
)

func TestSynthesizerFallback_PrimarySuccess(t *testing.T) {
	primary := ttsmock.New()
	primary.QueuePCM([]byte("chunk-a"), []byte("chunk-b"))
	secondary := ttsmock.New()

	fb := NewSynthesizerFallback(primary, "piper", FallbackConfig{})
	fb.AddFallback("openai-tts", secondary)

	seg, err := fb.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var chunks [][]byte
	for chunk := range seg.Audio {
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if string(chunks[0]) != "chunk-a" {
		t.Fatalf("chunk[0] = %q, want chunk-a", string(chunks[0]))
	}
	if n := len(secondary.SynthesizeCalls()); n != 0 {
		t.Fatalf("secondary called %d times, want 0", n)
	}
}

func TestSynthesizerFallback_Failover(t *testing.T) {
	primary := ttsmock.New()
	primary.Err = errors.New("synth backend gone")
	secondary := ttsmock.New()
	secondary.QueuePCM([]byte("fallback-pcm"))

	fb := NewSynthesizerFallback(primary, "piper", FallbackConfig{})
	fb.AddFallback("openai-tts", secondary)

	seg, err := fb.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var chunks [][]byte
	for chunk := range seg.Audio {
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 1 || string(chunks[0]) != "fallback-pcm" {
		t.Fatalf("chunks = %q, want [fallback-pcm]", chunks)
	}
}

func TestSynthesizerFallback_AllFail(t *testing.T) {
	primary := ttsmock.New()
	primary.Err = errors.New("primary down")
	secondary := ttsmock.New()
	secondary.Err = errors.New("secondary down")

	fb := NewSynthesizerFallback(primary, "piper", FallbackConfig{})
	fb.AddFallback("openai-tts", secondary)

	_, err := fb.Synthesize(context.Background(), "hello")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSynthesizerFallback_SkipsTrippedPrimary(t *testing.T) {
	primary := ttsmock.New()
	primary.Err = errors.New("synth down")
	secondary := ttsmock.New()

	fb := NewSynthesizerFallback(primary, "piper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fb.AddFallback("openai-tts", secondary)

	for i := 0; i < 3; i++ {
		seg, err := fb.Synthesize(context.Background(), "hello")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		for range seg.Audio {
		}
	}

	// Two failures tripped the primary's breaker; the third call skipped it.
	if n := len(primary.SynthesizeCalls()); n != 2 {
		t.Fatalf("primary called %d times, want 2", n)
	}
	if n := len(secondary.SynthesizeCalls()); n != 3 {
		t.Fatalf("secondary called %d times, want 3", n)
	}
}

func TestSynthesizerFallback_VoicesFailover(t *testing.T) {
	primary := ttsmock.New()
	primary.VoicesErr = errors.New("primary down")
	secondary := ttsmock.New()
	secondary.VoiceList = []tts.Voice{
		{ID: "v1", Name: "amy", Provider: "openai-tts"},
		{ID: "v2", Name: "ryan", Provider: "openai-tts"},
	}

	fb := NewSynthesizerFallback(primary, "piper", FallbackConfig{})
	fb.AddFallback("openai-tts", secondary)

	voices, err := fb.Voices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].Name != "amy" {
		t.Fatalf("voices[0].Name = %q, want amy", voices[0].Name)
	}
}

func TestSynthesizerFallback_Close(t *testing.T) {
	primary := ttsmock.New()
	secondary := ttsmock.New()

	fb := NewSynthesizerFallback(primary, "piper", FallbackConfig{})
	fb.AddFallback("openai-tts", secondary)

	if err := fb.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if primary.CloseCalls() != 1 {
		t.Fatalf("primary close calls = %d, want 1", primary.CloseCalls())
	}
	if secondary.CloseCalls() != 1 {
		t.Fatalf("secondary close calls = %d, want 1", secondary.CloseCalls())
	}
}
