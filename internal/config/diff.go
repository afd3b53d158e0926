package config

import "reflect"

// ConfigDiff describes what changed between two configs, split into changes
// that apply to a running engine and changes that only take effect after a
// restart.
type ConfigDiff struct {
	// LogLevelChanged reports a log level edit; the app applies NewLogLevel
	// through its handler's LevelVar immediately.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADTuningChanged covers the vad thresholds and timing fields. The app
	// applies them between utterances via the segmenter's SetParams and the
	// classifier's SetThresholds. Swapping the classifier itself is not
	// tuning and lands in RestartNeeded.
	VADTuningChanged bool

	// RestartNeeded lists the config sections that changed but cannot be
	// applied to a running engine.
	RestartNeeded []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VADTuningChanged && len(d.RestartNeeded) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if vadTuningChanged(old.VAD, new.VAD) {
		d.VADTuningChanged = true
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartNeeded = append(d.RestartNeeded, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.log_format", old.Server.LogFormat != new.Server.LogFormat)
	restart("audio", old.Audio != new.Audio)
	restart("vad.classifier", !reflect.DeepEqual(old.VAD.Classifier, new.VAD.Classifier))
	restart("recognition", !reflect.DeepEqual(old.Recognition, new.Recognition))
	restart("generation", !reflect.DeepEqual(old.Generation, new.Generation))
	restart("synthesis", !reflect.DeepEqual(old.Synthesis, new.Synthesis))
	restart("history", old.History != new.History)
	restart("recall", old.Recall != new.Recall)
	restart("archive", !reflect.DeepEqual(old.Archive, new.Archive))
	restart("session", old.Session != new.Session)
	restart("commands", !reflect.DeepEqual(old.Commands, new.Commands))

	return d
}

// vadTuningChanged compares only the hot-reloadable fields of the vad
// section.
func vadTuningChanged(old, new VADConfig) bool {
	return old.SpeechThreshold != new.SpeechThreshold ||
		old.SilenceThreshold != new.SilenceThreshold ||
		old.MinSpeechMS != new.MinSpeechMS ||
		old.TrailingSilenceMS != new.TrailingSilenceMS ||
		old.InterruptDebounceMS != new.InterruptDebounceMS ||
		old.PreSpeechMS != new.PreSpeechMS
}
