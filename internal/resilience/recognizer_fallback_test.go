package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/stt"
	sttmock "github.com/openparley/parley/pkg/provider/stt/mock"
)

func testUtterance() *audio.Utterance {
	start := time.Now()
	return &audio.Utterance{
		Frames: []audio.Frame{{
			Data:       make([]byte, 640),
			SampleRate: 16000,
			Channels:   1,
			Captured:   start,
		}},
		Start: start,
		End:   start.Add(20 * time.Millisecond),
	}
}

func TestRecognizerFallback_PrimarySuccess(t *testing.T) {
	primary := sttmock.New()
	primary.Queue(stt.Result{Text: "turn on the lights"})
	secondary := sttmock.New()

	fb := NewRecognizerFallback(primary, "whisper-local", FallbackConfig{})
	fb.AddFallback("whisper-api", secondary)

	res, err := fb.Recognize(context.Background(), testUtterance())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "turn on the lights" {
		t.Fatalf("text = %q, want turn on the lights", res.Text)
	}
	if n := len(secondary.RecognizeCalls()); n != 0 {
		t.Fatalf("secondary called %d times, want 0", n)
	}
}

func TestRecognizerFallback_Failover(t *testing.T) {
	primary := sttmock.New()
	primary.Err = errors.New("model not loaded")
	secondary := sttmock.New()
	secondary.Queue(stt.Result{Text: "hello there"})

	fb := NewRecognizerFallback(primary, "whisper-local", FallbackConfig{})
	fb.AddFallback("whisper-api", secondary)

	res, err := fb.Recognize(context.Background(), testUtterance())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hello there" {
		t.Fatalf("text = %q, want hello there", res.Text)
	}
	if n := len(primary.RecognizeCalls()); n != 1 {
		t.Fatalf("primary called %d times, want 1", n)
	}
}

func TestRecognizerFallback_AllFail(t *testing.T) {
	primary := sttmock.New()
	primary.Err = errors.New("primary down")
	secondary := sttmock.New()
	secondary.Err = errors.New("secondary down")

	fb := NewRecognizerFallback(primary, "whisper-local", FallbackConfig{})
	fb.AddFallback("whisper-api", secondary)

	_, err := fb.Recognize(context.Background(), testUtterance())
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestRecognizerFallback_BargeInAbandonsCall(t *testing.T) {
	primary := sttmock.New()
	primary.Delay = 50 * time.Millisecond
	secondary := sttmock.New()

	fb := NewRecognizerFallback(primary, "whisper-local", FallbackConfig{})
	fb.AddFallback("whisper-api", secondary)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := fb.Recognize(ctx, testUtterance())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := len(secondary.RecognizeCalls()); n != 0 {
		t.Fatalf("secondary called %d times after barge-in, want 0", n)
	}
}

func TestRecognizerFallback_Close(t *testing.T) {
	primary := sttmock.New()
	secondary := sttmock.New()

	fb := NewRecognizerFallback(primary, "whisper-local", FallbackConfig{})
	fb.AddFallback("whisper-api", secondary)

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
