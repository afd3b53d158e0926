package config_test

import (
	"slices"
	"testing"

	"github.com/openparley/parley/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		VAD:    config.VADConfig{SpeechThreshold: 0.02, MinSpeechMS: 250},
	}
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("log level is hot-reloadable, got RestartNeeded=%v", d.RestartNeeded)
	}
}

func TestDiff_VADTuningIsHotReloadable(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		VAD: config.VADConfig{
			Classifier:        config.ProviderEntry{Name: "energy"},
			SpeechThreshold:   0.02,
			TrailingSilenceMS: 600,
		},
	}
	new := &config.Config{
		VAD: config.VADConfig{
			Classifier:        config.ProviderEntry{Name: "energy"},
			SpeechThreshold:   0.05,
			TrailingSilenceMS: 800,
		},
	}

	d := config.Diff(old, new)
	if !d.VADTuningChanged {
		t.Error("expected VADTuningChanged=true")
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("threshold tuning should not need a restart, got %v", d.RestartNeeded)
	}
}

func TestDiff_ClassifierSwapNeedsRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{VAD: config.VADConfig{Classifier: config.ProviderEntry{Name: "energy"}}}
	new := &config.Config{VAD: config.VADConfig{Classifier: config.ProviderEntry{Name: "silero"}}}

	d := config.Diff(old, new)
	if d.VADTuningChanged {
		t.Error("classifier swap is not tuning")
	}
	if !slices.Contains(d.RestartNeeded, "vad.classifier") {
		t.Errorf("expected vad.classifier in RestartNeeded, got %v", d.RestartNeeded)
	}
}

func TestDiff_RestartSections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		section string
	}{
		{"audio", func(c *config.Config) { c.Audio.SampleRate = 48000 }, "audio"},
		{"recognition", func(c *config.Config) {
			c.Recognition.Providers = []config.ProviderEntry{{Name: "whisper"}}
		}, "recognition"},
		{"generation", func(c *config.Config) { c.Generation.SystemPrompt = "new" }, "generation"},
		{"synthesis", func(c *config.Config) {
			c.Synthesis.Providers = []config.ProviderEntry{{Name: "espeak"}}
		}, "synthesis"},
		{"history", func(c *config.Config) { c.History.MaxExchanges = 20 }, "history"},
		{"recall", func(c *config.Config) { c.Recall.TopK = 7 }, "recall"},
		{"archive", func(c *config.Config) { c.Archive.PostgresDSN = "postgres://x" }, "archive"},
		{"session", func(c *config.Config) { c.Session.Welcome = "hi" }, "session"},
		{"commands", func(c *config.Config) {
			c.Commands.Extra = []config.CommandConfig{{Phrase: "enough", Action: config.ActionStop}}
		}, "commands"},
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9999" }, "server.listen_addr"},
		{"log format", func(c *config.Config) { c.Server.LogFormat = config.FormatJSON }, "server.log_format"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old := &config.Config{}
			new := &config.Config{}
			tc.mutate(new)

			d := config.Diff(old, new)
			if !slices.Contains(d.RestartNeeded, tc.section) {
				t.Errorf("expected %q in RestartNeeded, got %v", tc.section, d.RestartNeeded)
			}
			if d.Empty() {
				t.Error("diff should not be empty")
			}
		})
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		VAD:    config.VADConfig{MinSpeechMS: 250},
	}
	new := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogWarn},
		VAD:     config.VADConfig{MinSpeechMS: 150},
		History: config.HistoryConfig{MaxExchanges: 20},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.VADTuningChanged {
		t.Error("expected VADTuningChanged=true")
	}
	if !slices.Contains(d.RestartNeeded, "history") {
		t.Errorf("expected history in RestartNeeded, got %v", d.RestartNeeded)
	}
}
