// Package config provides the configuration schema, loader, and provider
// registry for the parley engine.
package config

import (
	"log/slog"
	"time"

	"github.com/openparley/parley/internal/segment"
	"github.com/openparley/parley/pkg/provider/vad/energy"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level returns the slog level l names. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler encoding.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == FormatText || f == FormatJSON
}

// Interrupt policies for History.OnInterrupt.
const (
	InterruptDrop        = "drop"
	InterruptKeepPartial = "keep_partial"
)

// Error policies for Session.OnError.
const (
	ErrorSilent    = "silent"
	ErrorApologize = "apologize"
)

// Command actions for CommandConfig.Action.
const (
	ActionStop         = "stop"
	ActionExit         = "exit"
	ActionClearHistory = "clear_history"
)

// Defaults not owned by a deeper package.
const (
	defaultSampleRate       = 16000
	defaultFrameMS          = 30
	defaultRingFrames       = 64
	defaultMaxReopens       = 3
	defaultPlaybackRate     = 48000
	defaultPlaybackChannels = 2
	defaultMaxExchanges     = 10
	defaultRecallTopK       = 3
	defaultRecallTimeoutMS  = 300
	defaultEmbeddingDims    = 1536
)

// Config is the root configuration structure for parley, typically loaded
// from a YAML file with [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Generation  GenerationConfig  `yaml:"generation"`
	Synthesis   SynthesisConfig   `yaml:"synthesis"`
	History     HistoryConfig     `yaml:"history"`
	Recall      RecallConfig      `yaml:"recall"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Session     SessionConfig     `yaml:"session"`
	Commands    CommandsConfig    `yaml:"commands"`
}

// ServerConfig holds the ops endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the health and metrics mux listens on
	// (e.g. ":8090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log output.
	LogFormat LogFormat `yaml:"log_format"`
}

// AudioConfig holds the capture and playback device parameters.
type AudioConfig struct {
	// SampleRate is the pipeline capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameMS is the capture frame duration in milliseconds.
	FrameMS int `yaml:"frame_ms"`

	// HardwareRate opens the capture device at a different rate than the
	// pipeline rate; frames are resampled on the way out. Zero opens the
	// device at SampleRate directly.
	HardwareRate int `yaml:"hardware_rate"`

	// RingFrames bounds the capture buffer; when full the oldest frame is
	// dropped so capture never blocks.
	RingFrames int `yaml:"ring_frames"`

	// MaxReopens bounds device reopen attempts before a stream failure
	// becomes fatal for the session.
	MaxReopens int `yaml:"max_reopens"`

	// PlaybackRate is the output device rate in Hz.
	PlaybackRate int `yaml:"playback_rate"`

	// PlaybackChannels is the output channel count.
	PlaybackChannels int `yaml:"playback_channels"`
}

// FrameDuration returns the capture frame duration.
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMS) * time.Millisecond
}

// VADConfig selects the speech classifier and holds the segmentation tuning.
// Every field except Classifier is hot-reloadable between utterances.
type VADConfig struct {
	// Classifier selects the per-frame speech detector.
	Classifier ProviderEntry `yaml:"classifier"`

	// SpeechThreshold and SilenceThreshold are the energy classifier's
	// hysteresis levels, normalised RMS in (0, 1).
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// MinSpeechMS is the onset debounce: accumulated speech needed before
	// an utterance opens.
	MinSpeechMS int `yaml:"min_speech_ms"`

	// TrailingSilenceMS is the continuous silence that closes an utterance.
	TrailingSilenceMS int `yaml:"trailing_silence_ms"`

	// InterruptDebounceMS replaces the onset debounce while the engine is
	// speaking.
	InterruptDebounceMS int `yaml:"interrupt_debounce_ms"`

	// PreSpeechMS is how much pre-onset audio is prepended to each
	// utterance. Negative disables the ring.
	PreSpeechMS int `yaml:"pre_speech_ms"`
}

// SegmentParams converts the timing fields into segmenter thresholds.
func (v VADConfig) SegmentParams() segment.Params {
	return segment.Params{
		MinSpeech:         time.Duration(v.MinSpeechMS) * time.Millisecond,
		TrailingSilence:   time.Duration(v.TrailingSilenceMS) * time.Millisecond,
		InterruptDebounce: time.Duration(v.InterruptDebounceMS) * time.Millisecond,
		PreSpeechRing:     time.Duration(v.PreSpeechMS) * time.Millisecond,
	}
}

// RecognitionConfig holds the recognizer chain and transcript correction.
type RecognitionConfig struct {
	// Providers is the recognizer chain: the first entry is primary, later
	// entries are breaker-guarded fallbacks.
	Providers []ProviderEntry `yaml:"providers"`

	// Hotwords is the vocabulary for phonetic transcript correction:
	// domain terms the recognizer tends to mishear.
	Hotwords []string `yaml:"hotwords"`

	// ModelDir resolves relative model paths for local recognizers.
	ModelDir string `yaml:"model_dir"`
}

// GenerationConfig holds the responder chain and prompt settings.
type GenerationConfig struct {
	// Providers is the responder chain, primary first.
	Providers []ProviderEntry `yaml:"providers"`

	// SystemPrompt is seeded into conversation history once per session.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTokens caps each reply. Zero uses the provider default.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature passes through to every request. Zero uses the provider
	// default.
	Temperature float64 `yaml:"temperature"`

	// MinChunkLen holds back reply sentences shorter than this many bytes
	// so one-word chunks are not synthesized alone. Zero flushes every
	// sentence.
	MinChunkLen int `yaml:"min_chunk_len"`
}

// SynthesisConfig holds the synthesizer chain, primary first.
type SynthesisConfig struct {
	Providers []ProviderEntry `yaml:"providers"`
}

// HistoryConfig bounds the in-memory conversation history.
type HistoryConfig struct {
	// MaxExchanges caps the user/assistant pairs kept; oldest pairs are
	// evicted first. The system prompt is never evicted.
	MaxExchanges int `yaml:"max_exchanges"`

	// OnInterrupt decides what happens to a partially spoken reply when
	// the speaker barges in: "drop" (default) or "keep_partial".
	OnInterrupt string `yaml:"on_interrupt"`
}

// RecallConfig tunes similarity recall of archived exchanges. Recall is
// active only when the archive and its embedder are configured.
type RecallConfig struct {
	// TopK is how many similar past exchanges are folded into the prompt.
	TopK int `yaml:"top_k"`

	// TimeoutMS bounds the archive lookup; on expiry the prompt degrades
	// to history only.
	TimeoutMS int `yaml:"timeout_ms"`
}

// Timeout returns the recall lookup deadline.
func (r RecallConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// ArchiveConfig holds the durable exchange store and its embedder.
type ArchiveConfig struct {
	// PostgresDSN is the connection string for the pgvector-backed store.
	// Empty keeps the archive in memory only.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions must match the embedder model's output width.
	// Defaults to 1536 when an embedder is configured.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// Embedder selects the embedding provider. Empty disables embeddings
	// (and with them similarity recall).
	Embedder ProviderEntry `yaml:"embedder"`
}

// SessionConfig holds per-session conversational behaviour.
type SessionConfig struct {
	// Name labels the session in logs and archives; a timestamp is
	// appended to build the session ID.
	Name string `yaml:"name"`

	// Welcome is synthesized and played once on session start. Not a turn;
	// never enters history. Empty disables the greeting.
	Welcome string `yaml:"welcome"`

	// OnError decides whether a failed turn is voiced: "silent" (default)
	// or "apologize".
	OnError string `yaml:"on_error"`

	// Apology is the utterance spoken under the apologize policy. Empty
	// uses the built-in default.
	Apology string `yaml:"apology"`
}

// CommandsConfig controls spoken command detection.
type CommandsConfig struct {
	// Disabled turns command detection off entirely.
	Disabled bool `yaml:"disabled"`

	// Extra adds command phrases on top of the built-in set.
	Extra []CommandConfig `yaml:"extra"`
}

// CommandConfig is one additional spoken command phrase.
type CommandConfig struct {
	// Phrase matches literally (case-insensitive) and participates in the
	// phonetic pass.
	Phrase string `yaml:"phrase"`

	// Action is what the phrase asks the session to do: "stop", "exit" or
	// "clear_history".
	Action string `yaml:"action"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. Name selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "whisper",
	// "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider, if it needs one.
	// Supports ${ENV_VAR} expansion.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (for local recognizers,
	// the model file path, resolved against recognition.model_dir).
	Model string `yaml:"model"`

	// Voice is the provider-specific voice identifier. Synthesizers only.
	Voice string `yaml:"voice"`

	// Options holds provider-specific values not covered by the standard
	// fields. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns the named option as a string.
func (e ProviderEntry) OptionString(key string) (string, bool) {
	s, ok := e.Options[key].(string)
	return s, ok
}

// OptionFloat returns the named option as a float64. YAML integers are
// accepted and widened.
func (e ProviderEntry) OptionFloat(key string) (float64, bool) {
	switch v := e.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// OptionInt returns the named option as an int.
func (e ProviderEntry) OptionInt(key string) (int, bool) {
	v, ok := e.Options[key].(int)
	return v, ok
}

// OptionBool returns the named option as a bool.
func (e ProviderEntry) OptionBool(key string) (bool, bool) {
	v, ok := e.Options[key].(bool)
	return v, ok
}

// applyDefaults fills zero fields so the rest of the engine sees concrete
// values. VAD defaults come from the segment and energy packages so the
// numbers have a single home.
func (c *Config) applyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = FormatText
	}

	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = defaultSampleRate
	}
	if c.Audio.FrameMS == 0 {
		c.Audio.FrameMS = defaultFrameMS
	}
	if c.Audio.RingFrames == 0 {
		c.Audio.RingFrames = defaultRingFrames
	}
	if c.Audio.MaxReopens == 0 {
		c.Audio.MaxReopens = defaultMaxReopens
	}
	if c.Audio.PlaybackRate == 0 {
		c.Audio.PlaybackRate = defaultPlaybackRate
	}
	if c.Audio.PlaybackChannels == 0 {
		c.Audio.PlaybackChannels = defaultPlaybackChannels
	}

	if c.VAD.Classifier.Name == "" {
		c.VAD.Classifier.Name = "energy"
	}
	if c.VAD.SpeechThreshold == 0 {
		c.VAD.SpeechThreshold = energy.DefaultSpeechThreshold
	}
	if c.VAD.SilenceThreshold == 0 {
		c.VAD.SilenceThreshold = energy.DefaultSilenceThreshold
	}
	if c.VAD.MinSpeechMS == 0 {
		c.VAD.MinSpeechMS = int(segment.DefaultMinSpeech / time.Millisecond)
	}
	if c.VAD.TrailingSilenceMS == 0 {
		c.VAD.TrailingSilenceMS = int(segment.DefaultTrailingSilence / time.Millisecond)
	}
	if c.VAD.InterruptDebounceMS == 0 {
		c.VAD.InterruptDebounceMS = int(segment.DefaultInterruptDebounce / time.Millisecond)
	}
	if c.VAD.PreSpeechMS == 0 {
		c.VAD.PreSpeechMS = int(segment.DefaultPreSpeechRing / time.Millisecond)
	}

	if c.History.MaxExchanges == 0 {
		c.History.MaxExchanges = defaultMaxExchanges
	}
	if c.History.OnInterrupt == "" {
		c.History.OnInterrupt = InterruptDrop
	}

	if c.Recall.TopK == 0 {
		c.Recall.TopK = defaultRecallTopK
	}
	if c.Recall.TimeoutMS == 0 {
		c.Recall.TimeoutMS = defaultRecallTimeoutMS
	}

	if c.Archive.Embedder.Name != "" && c.Archive.EmbeddingDimensions == 0 {
		c.Archive.EmbeddingDimensions = defaultEmbeddingDims
	}

	if c.Session.OnError == "" {
		c.Session.OnError = ErrorSilent
	}
}
