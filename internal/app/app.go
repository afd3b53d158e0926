// Package app wires the parley subsystems into a running engine.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives a voice session, and Shutdown tears everything down
// in reverse order.
//
// For testing, inject fakes via functional options (WithFrameSource,
// WithPlayer, WithArchive). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openparley/parley/internal/config"
	"github.com/openparley/parley/internal/health"
	"github.com/openparley/parley/internal/observe"
	"github.com/openparley/parley/internal/resilience"
	"github.com/openparley/parley/internal/transcript"
	"github.com/openparley/parley/internal/transcript/phonetic"
	"github.com/openparley/parley/internal/voicecmd"
	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/audio/device"
	"github.com/openparley/parley/pkg/memory"
	"github.com/openparley/parley/pkg/memory/memstore"
	"github.com/openparley/parley/pkg/memory/postgres"
	"github.com/openparley/parley/pkg/provider/embedding"
	"github.com/openparley/parley/pkg/provider/llm"
	"github.com/openparley/parley/pkg/provider/stt"
	"github.com/openparley/parley/pkg/provider/tts"
	"github.com/openparley/parley/pkg/provider/vad"
)

// NamedRecognizer pairs a recognizer with its configured provider name, in
// chain order: index 0 is the primary, the rest are fallbacks.
type NamedRecognizer struct {
	Name       string
	Recognizer stt.Recognizer
}

// NamedResponder pairs a responder with its configured provider name.
type NamedResponder struct {
	Name      string
	Responder llm.Responder
}

// NamedSynthesizer pairs a synthesizer with its configured provider name.
type NamedSynthesizer struct {
	Name        string
	Synthesizer tts.Synthesizer
}

// Providers holds the provider instances built from the config registry.
// The chain slices keep config order; nil or empty means not configured.
// Populated by main.go via the config registry.
type Providers struct {
	Classifier   vad.Classifier
	Recognizers  []NamedRecognizer
	Responders   []NamedResponder
	Synthesizers []NamedSynthesizer
	Embedder     embedding.Embedder
}

// App owns all subsystem lifetimes and drives the parley voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger

	// Subsystems — initialised in New, torn down in Shutdown.
	source      audio.FrameSource
	player      audio.Player
	archive     memory.ExchangeStore
	recognizer  *resilience.RecognizerFallback
	responder   *resilience.ResponderFallback
	synthesizer *resilience.SynthesizerFallback
	corrector   *transcript.Corrector
	commands    *voicecmd.Filter
	sessions    *SessionManager

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFrameSource injects a capture source instead of opening the default
// input device.
func WithFrameSource(s audio.FrameSource) Option {
	return func(a *App) { a.source = s }
}

// WithPlayer injects a playback sink instead of opening the default output
// device.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithArchive injects an exchange store instead of creating one from config.
func WithArchive(s memory.ExchangeStore) Option {
	return func(a *App) { a.archive = s }
}

// WithLogger sets the application logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With("component", "app")

	// ── 1. Audio devices ─────────────────────────────────────────────────
	if err := a.initDevices(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init devices: %w", err)
	}

	// ── 2. Exchange archive ──────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 3. Stage chains ──────────────────────────────────────────────────
	if err := a.initChains(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 4. Transcript correction + voice commands ────────────────────────
	a.initText()

	// ── 5. Session manager ───────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionDeps{
		Config:      cfg,
		Source:      a.source,
		Player:      a.player,
		Classifier:  providers.Classifier,
		Recognizer:  a.recognizer,
		Responder:   a.responder,
		Synthesizer: a.synthesizer,
		Archive:     a.archive,
		Embedder:    providers.Embedder,
		Corrector:   a.corrector,
		Commands:    a.commands,
		Logger:      a.logger,
	})

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDevices opens the capture and playback devices unless test doubles
// were injected.
func (a *App) initDevices() error {
	if a.source == nil {
		metrics := observe.DefaultMetrics()
		capture, err := device.NewCapture(device.CaptureConfig{
			SampleRate:    a.cfg.Audio.SampleRate,
			FrameDuration: a.cfg.Audio.FrameDuration(),
			HardwareRate:  a.cfg.Audio.HardwareRate,
			RingFrames:    a.cfg.Audio.RingFrames,
			MaxReopens:    a.cfg.Audio.MaxReopens,
			OnFrameDrop: func() {
				metrics.FramesDropped.Add(context.Background(), 1)
			},
			OnReopen: func() {
				metrics.RecordDeviceReopen(context.Background(), "capture")
			},
		}, a.logger)
		if err != nil {
			return fmt.Errorf("open capture device: %w", err)
		}
		a.source = capture
		a.closers = append(a.closers, capture.Close)
	}

	if a.player == nil {
		pb, err := device.NewPlayback(device.PlaybackConfig{
			SampleRate: a.cfg.Audio.PlaybackRate,
			Channels:   a.cfg.Audio.PlaybackChannels,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("open playback device: %w", err)
		}
		a.player = pb
		a.closers = append(a.closers, pb.Close)
	}

	return nil
}

// initArchive connects the Postgres exchange store when a DSN is configured,
// and falls back to the in-memory store otherwise.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil // injected
	}

	if dsn := a.cfg.Archive.PostgresDSN; dsn != "" {
		store, err := postgres.NewStore(ctx, dsn, a.cfg.Archive.EmbeddingDimensions)
		if err != nil {
			return fmt.Errorf("connect archive store: %w", err)
		}
		a.archive = store
		a.closers = append(a.closers, store.Close)
		a.logger.Info("archive connected", "backend", "postgres",
			"embedding_dimensions", a.cfg.Archive.EmbeddingDimensions)
		return nil
	}

	ms := memstore.New()
	a.archive = ms
	a.closers = append(a.closers, ms.Close)
	a.logger.Info("archive connected", "backend", "memory")
	return nil
}

// initChains wraps each configured provider chain in a breaker-guarded
// fallback group. Each stage needs at least one provider.
func (a *App) initChains() error {
	if len(a.providers.Recognizers) == 0 {
		return errors.New("no recognizer configured")
	}
	if len(a.providers.Responders) == 0 {
		return errors.New("no responder configured")
	}
	if len(a.providers.Synthesizers) == 0 {
		return errors.New("no synthesizer configured")
	}
	if a.providers.Classifier == nil {
		return errors.New("no speech classifier configured")
	}

	fbCfg := resilience.FallbackConfig{}

	rec := a.providers.Recognizers
	a.recognizer = resilience.NewRecognizerFallback(rec[0].Recognizer, rec[0].Name, fbCfg)
	for _, r := range rec[1:] {
		a.recognizer.AddFallback(r.Name, r.Recognizer)
	}
	a.closers = append(a.closers, a.recognizer.Close)

	res := a.providers.Responders
	a.responder = resilience.NewResponderFallback(res[0].Responder, res[0].Name, fbCfg)
	for _, r := range res[1:] {
		a.responder.AddFallback(r.Name, r.Responder)
	}
	a.closers = append(a.closers, a.responder.Close)

	syn := a.providers.Synthesizers
	a.synthesizer = resilience.NewSynthesizerFallback(syn[0].Synthesizer, syn[0].Name, fbCfg)
	for _, s := range syn[1:] {
		a.synthesizer.AddFallback(s.Name, s.Synthesizer)
	}
	a.closers = append(a.closers, a.synthesizer.Close)

	return nil
}

// initText sets up hotword correction and the spoken command filter.
func (a *App) initText() {
	if hotwords := a.cfg.Recognition.Hotwords; len(hotwords) > 0 {
		a.corrector = transcript.NewCorrector(phonetic.New(hotwords))
		a.logger.Info("hotword correction enabled", "terms", len(hotwords))
	}

	if a.cfg.Commands.Disabled {
		return
	}
	var opts []voicecmd.Option
	for _, cmd := range a.cfg.Commands.Extra {
		opts = append(opts, voicecmd.WithPhrases(commandAction(cmd.Action), cmd.Phrase))
	}
	a.commands = voicecmd.New(opts...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts a voice session and blocks until it ends: ctx cancelled, an
// exit voice command, or a fatal device failure. A session ended by voice
// command returns nil.
func (a *App) Run(ctx context.Context) error {
	if err := a.sessions.Start(ctx); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}

	a.logger.Info("running", "session_id", a.sessions.Info().SessionID)

	select {
	case err := <-a.sessions.Done():
		a.sessions.Finish()
		return err
	case <-ctx.Done():
		// Give the session a moment to drain its in-flight turn.
		stopCtx, cancel := context.WithTimeout(context.Background(), sessionStopTimeout)
		defer cancel()
		if err := a.sessions.Stop(stopCtx); err != nil {
			a.logger.Warn("session stop", "error", err)
		}
		return ctx.Err()
	}
}

// Sessions exposes the session manager (state inspection, VAD hot-reload).
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// ApplyVADTuning applies hot-reloadable VAD settings to the running session
// and the classifier. Safe to call with no session active.
func (a *App) ApplyVADTuning(v config.VADConfig) {
	type thresholdSetter interface {
		SetThresholds(speech, silence float64)
	}
	if ts, ok := a.providers.Classifier.(thresholdSetter); ok {
		ts.SetThresholds(v.SpeechThreshold, v.SilenceThreshold)
	}
	a.sessions.ApplyParams(v.SegmentParams())
	a.logger.Info("vad tuning applied",
		"speech_threshold", v.SpeechThreshold,
		"silence_threshold", v.SilenceThreshold,
		"min_speech_ms", v.MinSpeechMS,
		"trailing_silence_ms", v.TrailingSilenceMS,
	)
}

// ─── Health ──────────────────────────────────────────────────────────────────

// Checkers returns the readiness checks for the health endpoint: capture and
// playback device state, archive reachability, and responder usability.
func (a *App) Checkers() []health.Checker {
	type errReporter interface {
		Err() error
	}
	deviceCheck := func(dev any) func(context.Context) error {
		return func(context.Context) error {
			if r, ok := dev.(errReporter); ok {
				return r.Err()
			}
			return nil
		}
	}

	return []health.Checker{
		{Name: "capture", Check: deviceCheck(a.source)},
		{Name: "playback", Check: deviceCheck(a.player)},
		{Name: "archive", Check: func(ctx context.Context) error {
			_, err := a.archive.Recent(ctx, "healthz", 1)
			return err
		}},
		{Name: "responder", Check: func(context.Context) error {
			_, err := a.responder.CountTokens(nil)
			return err
		}},
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active session and tears down all subsystems in
// reverse-init order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		if a.sessions != nil && a.sessions.IsActive() {
			if err := a.sessions.Stop(ctx); err != nil {
				a.logger.Warn("session stop during shutdown", "error", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers accumulated so far, newest first. Used on init
// failure where the deferred Shutdown never happens.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// commandAction converts a config command action to a voicecmd.Action.
func commandAction(action string) voicecmd.Action {
	switch action {
	case config.ActionExit:
		return voicecmd.ActionExit
	case config.ActionClearHistory:
		return voicecmd.ActionClearHistory
	default:
		return voicecmd.ActionStopTurn
	}
}
