package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per capability. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"classifier":  {"energy"},
	"recognizer":  {"whisper", "whisper-server"},
	"responder":   {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"synthesizer": {"elevenlabs", "espeak"},
	"embedder":    {"openai", "ollama"},
}

// envPattern matches ${NAME} references. Plain $NAME is left untouched so
// prompts and regex phrases keep their dollar signs.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := loadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return loadBytes(data)
}

// loadBytes expands environment references, decodes with unknown fields
// rejected, applies defaults, and validates.
func loadBytes(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes ${NAME} references with the named environment
// variable. Unset variables expand to empty and are warned about once per
// load; secrets silently turning into empty strings fail too far from the
// cause otherwise.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(m[2 : len(m)-1])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		slog.Warn("config: environment variable is not set", "name", name)
		return nil
	})
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all hard failures; soft issues are logged at warn
// level.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameMS < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", cfg.Audio.FrameMS))
	} else if cfg.Audio.FrameMS != 0 && (cfg.Audio.FrameMS < 10 || cfg.Audio.FrameMS > 60) {
		slog.Warn("audio.frame_ms is outside the usual 20-30ms capture cadence", "frame_ms", cfg.Audio.FrameMS)
	}

	// VAD
	validateProviderName("classifier", cfg.VAD.Classifier.Name)
	if t := cfg.VAD.SpeechThreshold; t != 0 && (t <= 0 || t >= 1) {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %v is out of range (0, 1)", t))
	}
	if t := cfg.VAD.SilenceThreshold; t != 0 && (t <= 0 || t >= 1) {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %v is out of range (0, 1)", t))
	}
	if cfg.VAD.SpeechThreshold > 0 && cfg.VAD.SilenceThreshold > cfg.VAD.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %v exceeds vad.speech_threshold %v",
			cfg.VAD.SilenceThreshold, cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.MinSpeechMS < 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_ms %d must be positive", cfg.VAD.MinSpeechMS))
	}
	if cfg.VAD.TrailingSilenceMS < 0 {
		errs = append(errs, fmt.Errorf("vad.trailing_silence_ms %d must be positive", cfg.VAD.TrailingSilenceMS))
	}
	if cfg.VAD.InterruptDebounceMS < 0 {
		errs = append(errs, fmt.Errorf("vad.interrupt_debounce_ms %d must be positive", cfg.VAD.InterruptDebounceMS))
	}

	// Provider chains
	errs = append(errs, validateChain("recognition.providers", "recognizer", cfg.Recognition.Providers)...)
	errs = append(errs, validateChain("generation.providers", "responder", cfg.Generation.Providers)...)
	errs = append(errs, validateChain("synthesis.providers", "synthesizer", cfg.Synthesis.Providers)...)
	if cfg.Archive.Embedder.Name != "" {
		validateProviderName("embedder", cfg.Archive.Embedder.Name)
	}

	// Provider availability warnings
	if len(cfg.Recognition.Providers) == 0 {
		slog.Warn("no recognizer configured; the engine cannot transcribe speech")
	}
	if len(cfg.Generation.Providers) == 0 {
		slog.Warn("no responder configured; the engine cannot generate replies")
	}
	if len(cfg.Synthesis.Providers) == 0 {
		slog.Warn("no synthesizer configured; the engine cannot speak")
	}

	// History
	if cfg.History.MaxExchanges < 0 {
		errs = append(errs, fmt.Errorf("history.max_exchanges %d must be positive", cfg.History.MaxExchanges))
	}
	if v := cfg.History.OnInterrupt; v != "" && v != InterruptDrop && v != InterruptKeepPartial {
		errs = append(errs, fmt.Errorf("history.on_interrupt %q is invalid; valid values: drop, keep_partial", v))
	}

	// Recall
	if cfg.Recall.TopK < 0 {
		errs = append(errs, fmt.Errorf("recall.top_k %d must be positive", cfg.Recall.TopK))
	}
	if cfg.Recall.TimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("recall.timeout_ms %d must be positive", cfg.Recall.TimeoutMS))
	}

	// Archive
	if cfg.Archive.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("archive.embedding_dimensions %d must be positive", cfg.Archive.EmbeddingDimensions))
	}
	if cfg.Archive.PostgresDSN != "" && cfg.Archive.Embedder.Name == "" {
		slog.Warn("archive.embedder is not configured; archived exchanges carry no embeddings and similarity recall is disabled")
	}

	// Session
	if v := cfg.Session.OnError; v != "" && v != ErrorSilent && v != ErrorApologize {
		errs = append(errs, fmt.Errorf("session.on_error %q is invalid; valid values: silent, apologize", v))
	}

	// Commands
	for i, cmd := range cfg.Commands.Extra {
		prefix := fmt.Sprintf("commands.extra[%d]", i)
		if cmd.Phrase == "" {
			errs = append(errs, fmt.Errorf("%s.phrase is required", prefix))
		}
		switch cmd.Action {
		case ActionStop, ActionExit, ActionClearHistory:
		default:
			errs = append(errs, fmt.Errorf("%s.action %q is invalid; valid values: stop, exit, clear_history", prefix, cmd.Action))
		}
	}

	return errors.Join(errs...)
}

// validateChain checks one provider chain: every entry needs a name, names
// must not repeat within the chain, and unknown names are warned about.
func validateChain(path, kind string, chain []ProviderEntry) []error {
	var errs []error
	seen := make(map[string]int, len(chain))
	for i, entry := range chain {
		prefix := fmt.Sprintf("%s[%d]", path, i)
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[entry.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s[%d]", prefix, entry.Name, path, prev))
		}
		seen[entry.Name] = i
		validateProviderName(kind, entry.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
