// Command parley is the voice conversation engine: it listens on the default
// input device, transcribes what it hears, generates a reply, and speaks it
// back — interruptible at any point by simply talking over it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openparley/parley/internal/app"
	"github.com/openparley/parley/internal/config"
	"github.com/openparley/parley/internal/health"
	"github.com/openparley/parley/internal/observe"
	"github.com/openparley/parley/pkg/provider/embedding"
	embedollama "github.com/openparley/parley/pkg/provider/embedding/ollama"
	embedopenai "github.com/openparley/parley/pkg/provider/embedding/openai"
	"github.com/openparley/parley/pkg/provider/llm"
	"github.com/openparley/parley/pkg/provider/llm/anyllm"
	llmopenai "github.com/openparley/parley/pkg/provider/llm/openai"
	"github.com/openparley/parley/pkg/provider/stt"
	"github.com/openparley/parley/pkg/provider/stt/whisper"
	"github.com/openparley/parley/pkg/provider/tts"
	"github.com/openparley/parley/pkg/provider/tts/elevenlabs"
	"github.com/openparley/parley/pkg/provider/tts/espeak"
	"github.com/openparley/parley/pkg/provider/vad"
	"github.com/openparley/parley/pkg/provider/vad/energy"
)

const version = "0.1.0"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "parley.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level (debug|info|warn|error)")
	logFormat := flag.String("log-format", "", "override the configured log format (text|json)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(*logLevel)
	}
	if *logFormat != "" {
		cfg.Server.LogFormat = config.LogFormat(*logFormat)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can change it without
	// rebuilding the handler.
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	logger := newLogger(cfg.Server.LogFormat, levelVar)
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			levelVar.Set(d.NewLogLevel.Level())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.VADTuningChanged {
			application.ApplyVADTuning(new.VAD)
		}
		if len(d.RestartNeeded) > 0 {
			slog.Warn("config changes need a restart to take effect", "sections", d.RestartNeeded)
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}

	// ── Ops endpoint (health + metrics) ───────────────────────────────────────
	var opsServer *http.Server
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		health.New(application.Checkers()...).Register(mux)
		mux.Handle("/metrics", promhttp.Handler())

		opsServer = &http.Server{
			Addr:    cfg.Server.ListenAddr,
			Handler: observe.Middleware(observe.DefaultMetrics())(mux),
		}
		go func() {
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops server error", "err", err)
			}
		}()
		slog.Info("ops endpoint listening", "addr", cfg.Server.ListenAddr)
	}

	slog.Info("ready — press Ctrl+C to shut down")

	exitCode := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("stopping…")
	watcher.Stop()

	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("ops server shutdown", "err", err)
		}
	}

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exitCode = 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown", "err", err)
	}

	slog.Info("goodbye")
	return exitCode
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the matching
// implementation.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── Speech classifiers ────────────────────────────────────────────────────

	reg.RegisterClassifier("energy", func(entry config.ProviderEntry) (vad.Classifier, error) {
		return energy.New(energy.Config{
			SpeechThreshold:  cfg.VAD.SpeechThreshold,
			SilenceThreshold: cfg.VAD.SilenceThreshold,
		})
	})

	// ── Recognizers ───────────────────────────────────────────────────────────

	// whisper runs the model in-process via the whisper.cpp bindings; Model is
	// a ggml file path, resolved against recognition.model_dir.
	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		modelPath := entry.Model
		if modelPath != "" && !filepath.IsAbs(modelPath) && cfg.Recognition.ModelDir != "" {
			modelPath = filepath.Join(cfg.Recognition.ModelDir, modelPath)
		}
		var opts []whisper.Option
		if lang, ok := entry.OptionString("language"); ok {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if translate, ok := entry.OptionBool("translate"); ok {
			opts = append(opts, whisper.WithTranslate(translate))
		}
		if threads, ok := entry.OptionInt("threads"); ok {
			opts = append(opts, whisper.WithThreads(threads))
		}
		return whisper.New(modelPath, opts...)
	})

	// whisper-server talks to a running whisper.cpp server over HTTP.
	reg.RegisterRecognizer("whisper-server", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.ServerOption
		if entry.Model != "" {
			opts = append(opts, whisper.WithServerModel(entry.Model))
		}
		if lang, ok := entry.OptionString("language"); ok {
			opts = append(opts, whisper.WithServerLanguage(lang))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	// ── Responders ────────────────────────────────────────────────────────────

	// openai uses the native SDK for streaming and token accounting.
	reg.RegisterResponder("openai", func(entry config.ProviderEntry) (llm.Responder, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining cloud backends share the any-llm pattern: optional APIKey
	// plus optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterResponder(providerName, func(entry config.ProviderEntry) (llm.Responder, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterResponder("ollama", func(entry config.ProviderEntry) (llm.Responder, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// ── Synthesizers ──────────────────────────────────────────────────────────

	reg.RegisterSynthesizer("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if format, ok := entry.OptionString("output_format"); ok {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		stability, sOK := entry.OptionFloat("stability")
		boost, bOK := entry.OptionFloat("similarity_boost")
		if sOK && bOK {
			opts = append(opts, elevenlabs.WithStability(stability, boost))
		}
		return elevenlabs.New(entry.APIKey, entry.Voice, opts...)
	})

	reg.RegisterSynthesizer("espeak", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []espeak.Option
		if entry.Voice != "" {
			opts = append(opts, espeak.WithVoice(entry.Voice))
		}
		if binary, ok := entry.OptionString("binary"); ok {
			opts = append(opts, espeak.WithBinary(binary))
		}
		if speed, ok := entry.OptionInt("speed"); ok {
			opts = append(opts, espeak.WithSpeed(speed))
		}
		if pitch, ok := entry.OptionInt("pitch"); ok {
			opts = append(opts, espeak.WithPitch(pitch))
		}
		return espeak.New(opts...)
	})

	// ── Embedders ─────────────────────────────────────────────────────────────

	reg.RegisterEmbedder("openai", func(entry config.ProviderEntry) (embedding.Embedder, error) {
		var opts []embedopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, embedopenai.WithBaseURL(entry.BaseURL))
		}
		return embedopenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbedder("ollama", func(entry config.ProviderEntry) (embedding.Embedder, error) {
		var opts []embedollama.Option
		if cfg.Archive.EmbeddingDimensions > 0 {
			opts = append(opts, embedollama.WithDimensions(cfg.Archive.EmbeddingDimensions))
		}
		return embedollama.New(entry.BaseURL, entry.Model, opts...)
	})
}

// buildProviders instantiates every provider named in cfg using the registry.
// Chain order is preserved: the first entry of each list is the primary, the
// rest become breaker-guarded fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	classifier, err := reg.CreateClassifier(cfg.VAD.Classifier)
	if err != nil {
		return nil, fmt.Errorf("create classifier %q: %w", cfg.VAD.Classifier.Name, err)
	}
	ps.Classifier = classifier
	slog.Info("provider created", "kind", "classifier", "name", cfg.VAD.Classifier.Name)

	for _, entry := range cfg.Recognition.Providers {
		r, err := reg.CreateRecognizer(entry)
		if err != nil {
			return nil, fmt.Errorf("create recognizer %q: %w", entry.Name, err)
		}
		ps.Recognizers = append(ps.Recognizers, app.NamedRecognizer{Name: entry.Name, Recognizer: r})
		slog.Info("provider created", "kind", "recognizer", "name", entry.Name)
	}

	for _, entry := range cfg.Generation.Providers {
		r, err := reg.CreateResponder(entry)
		if err != nil {
			return nil, fmt.Errorf("create responder %q: %w", entry.Name, err)
		}
		ps.Responders = append(ps.Responders, app.NamedResponder{Name: entry.Name, Responder: r})
		slog.Info("provider created", "kind", "responder", "name", entry.Name, "model", entry.Model)
	}

	for _, entry := range cfg.Synthesis.Providers {
		s, err := reg.CreateSynthesizer(entry)
		if err != nil {
			return nil, fmt.Errorf("create synthesizer %q: %w", entry.Name, err)
		}
		ps.Synthesizers = append(ps.Synthesizers, app.NamedSynthesizer{Name: entry.Name, Synthesizer: s})
		slog.Info("provider created", "kind", "synthesizer", "name", entry.Name)
	}

	if name := cfg.Archive.Embedder.Name; name != "" {
		e, err := reg.CreateEmbedder(cfg.Archive.Embedder)
		if err != nil {
			return nil, fmt.Errorf("create embedder %q: %w", name, err)
		}
		ps.Embedder = e
		slog.Info("provider created", "kind", "embedder", "name", name, "model", cfg.Archive.Embedder.Model)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║          parley — startup summary         ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printChain("Recognition", cfg.Recognition.Providers)
	printChain("Generation", cfg.Generation.Providers)
	printChain("Synthesis", cfg.Synthesis.Providers)
	printRow("Classifier", cfg.VAD.Classifier.Name)
	if cfg.Archive.Embedder.Name != "" {
		printRow("Embedder", cfg.Archive.Embedder.Name+" / "+cfg.Archive.Embedder.Model)
	} else {
		printRow("Embedder", "(disabled)")
	}
	if cfg.Archive.PostgresDSN != "" {
		printRow("Archive", "postgres")
	} else {
		printRow("Archive", "memory")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printChain(kind string, entries []config.ProviderEntry) {
	if len(entries) == 0 {
		printRow(kind, "(not configured)")
		return
	}
	value := entries[0].Name
	if model := entries[0].Model; model != "" {
		value += " / " + model
	}
	if len(entries) > 1 {
		value += fmt.Sprintf(" +%d", len(entries)-1)
	}
	printRow(kind, value)
}

func printRow(kind, value string) {
	if len(value) > 25 {
		value = value[:22] + "…"
	}
	fmt.Printf("║  %-12s : %-25s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.FormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
