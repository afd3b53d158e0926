package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openparley/parley/internal/app"
	"github.com/openparley/parley/internal/config"
	"github.com/openparley/parley/pkg/audio/mock"
	"github.com/openparley/parley/pkg/memory/memstore"
	llmmock "github.com/openparley/parley/pkg/provider/llm/mock"
	sttmock "github.com/openparley/parley/pkg/provider/stt/mock"
	ttsmock "github.com/openparley/parley/pkg/provider/tts/mock"
	vadmock "github.com/openparley/parley/pkg/provider/vad/mock"
)

// testConfig loads a minimal config through the real loader so defaults are
// applied the same way production configs get them.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(`
session:
  name: test
recognition:
  providers:
    - name: whisper
generation:
  providers:
    - name: openai
synthesis:
  providers:
    - name: espeak
`))
	if err != nil {
		t.Fatalf("load test config: %v", err)
	}
	return cfg
}

func testProviders() *app.Providers {
	return &app.Providers{
		Classifier:   &vadmock.Classifier{},
		Recognizers:  []app.NamedRecognizer{{Name: "whisper", Recognizer: sttmock.New()}},
		Responders:   []app.NamedResponder{{Name: "openai", Responder: llmmock.New()}},
		Synthesizers: []app.NamedSynthesizer{{Name: "espeak", Synthesizer: ttsmock.New()}},
	}
}

// testOptions injects mock devices and an in-memory archive so New never
// touches real hardware.
func testOptions() []app.Option {
	return []app.Option{
		app.WithFrameSource(mock.NewSource(8)),
		app.WithPlayer(&mock.Player{}),
		app.WithArchive(memstore.New()),
	}
}

func TestNew_WiresSubsystems(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(t), testProviders(), testOptions()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.Sessions() == nil {
		t.Error("Sessions() should not be nil")
	}
	if a.Sessions().IsActive() {
		t.Error("no session should be active after New")
	}
}

func TestNew_MissingProviders(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*app.Providers)
	}{
		{"no recognizer", func(p *app.Providers) { p.Recognizers = nil }},
		{"no responder", func(p *app.Providers) { p.Responders = nil }},
		{"no synthesizer", func(p *app.Providers) { p.Synthesizers = nil }},
		{"no classifier", func(p *app.Providers) { p.Classifier = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			providers := testProviders()
			tc.mutate(providers)
			_, err := app.New(context.Background(), testConfig(t), providers, testOptions()...)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestApp_FallbackChainOrder(t *testing.T) {
	t.Parallel()
	providers := testProviders()
	providers.Responders = append(providers.Responders,
		app.NamedResponder{Name: "ollama", Responder: llmmock.New()})

	a, err := app.New(context.Background(), testConfig(t), providers, testOptions()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Shutdown(context.Background())
}

func TestApp_Checkers(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(t), testProviders(), testOptions()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Shutdown(context.Background())

	checkers := a.Checkers()
	want := map[string]bool{"capture": true, "playback": true, "archive": true, "responder": true}
	for _, c := range checkers {
		if !want[c.Name] {
			t.Errorf("unexpected checker %q", c.Name)
			continue
		}
		delete(want, c.Name)
		if err := c.Check(context.Background()); err != nil {
			t.Errorf("checker %q failed: %v", c.Name, err)
		}
	}
	for name := range want {
		t.Errorf("missing checker %q", name)
	}
}

func TestApp_ApplyVADTuningWithoutSession(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	a, err := app.New(context.Background(), cfg, testProviders(), testOptions()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Shutdown(context.Background())

	tuned := cfg.VAD
	tuned.SpeechThreshold = 0.08
	tuned.TrailingSilenceMS = 900
	a.ApplyVADTuning(tuned) // must not panic with no session active
}

func TestApp_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(t), testProviders(), testOptions()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	// Let the session spin up, then pull the plug.
	waitFor(t, time.Second, a.Sessions().IsActive)
	cancel()

	select {
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want nil or context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(t), testProviders(), testOptions()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("first shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second shutdown should be a no-op, got: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
