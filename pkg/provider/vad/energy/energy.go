// Package energy implements a pure-Go RMS energy [vad.Classifier].
//
// The classifier computes the root-mean-square level of each frame,
// normalised to [0, 1] of int16 full scale, and applies two-threshold
// hysteresis: a frame flips the state to speech only above SpeechThreshold
// and back to silence only below SilenceThreshold. The dead band between the
// two keeps the decision from flickering on breathy tails and keyboard
// noise. No model files, no cgo — this is the zero-dependency default
// classifier.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/vad"
)

// Defaults suit a 16kHz mono stream from a typical laptop microphone.
const (
	DefaultSpeechThreshold  = 0.015
	DefaultSilenceThreshold = 0.008
)

// Config holds the classifier thresholds. Both are normalised RMS levels in
// (0, 1); SilenceThreshold must not exceed SpeechThreshold.
type Config struct {
	// SpeechThreshold is the level at which a silent stream flips to speech.
	SpeechThreshold float64

	// SilenceThreshold is the level below which a speech stream flips back
	// to silence.
	SilenceThreshold float64
}

// Classifier is an RMS energy detector with hysteresis.
// Classify is called from the capture goroutine; SetThresholds may be called
// concurrently from the config reload path.
type Classifier struct {
	mu       sync.Mutex
	speech   float64
	silence  float64
	inSpeech bool
}

var _ vad.Classifier = (*Classifier)(nil)

// New creates a Classifier. Zero thresholds fall back to the defaults.
func New(cfg Config) (*Classifier, error) {
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = DefaultSpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if err := validateThresholds(cfg.SpeechThreshold, cfg.SilenceThreshold); err != nil {
		return nil, err
	}
	return &Classifier{speech: cfg.SpeechThreshold, silence: cfg.SilenceThreshold}, nil
}

// Classify implements [vad.Classifier].
func (c *Classifier) Classify(frame audio.Frame) (bool, error) {
	if len(frame.Data)%2 != 0 {
		return false, fmt.Errorf("energy: odd PCM byte count %d", len(frame.Data))
	}
	if len(frame.Data) == 0 {
		return false, errors.New("energy: empty frame")
	}

	level := RMS(frame.Data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inSpeech {
		if level < c.silence {
			c.inSpeech = false
		}
	} else {
		if level >= c.speech {
			c.inSpeech = true
		}
	}
	return c.inSpeech, nil
}

// Reset implements [vad.Classifier].
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inSpeech = false
}

// SetThresholds replaces both thresholds. It is the hot-reload entry point;
// the new values take effect on the next Classify call.
func (c *Classifier) SetThresholds(speech, silence float64) error {
	if err := validateThresholds(speech, silence); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speech = speech
	c.silence = silence
	return nil
}

// Thresholds returns the current speech and silence thresholds.
func (c *Classifier) Thresholds() (speech, silence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speech, c.silence
}

func validateThresholds(speech, silence float64) error {
	var errs []error
	if speech <= 0 || speech >= 1 {
		errs = append(errs, fmt.Errorf("energy: speech threshold %v out of range (0, 1)", speech))
	}
	if silence <= 0 || silence >= 1 {
		errs = append(errs, fmt.Errorf("energy: silence threshold %v out of range (0, 1)", silence))
	}
	if silence > speech {
		errs = append(errs, fmt.Errorf("energy: silence threshold %v exceeds speech threshold %v", silence, speech))
	}
	return errors.Join(errs...)
}

// RMS computes the root-mean-square level of little-endian int16 PCM,
// normalised to [0, 1] of full scale.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum/float64(samples)) / 32768
}

// Calibrate derives thresholds from a sample of ambient-noise frames: the
// speech threshold lands at 3× the measured noise floor and the silence
// threshold at 1.5×, clamped so they never drop below the defaults' ratio.
// Use it at session start with a second or two of silence.
func Calibrate(frames []audio.Frame) (speech, silence float64) {
	if len(frames) == 0 {
		return DefaultSpeechThreshold, DefaultSilenceThreshold
	}
	var floor float64
	for _, f := range frames {
		floor += RMS(f.Data)
	}
	floor /= float64(len(frames))

	speech = floor * 3
	silence = floor * 1.5
	if speech < DefaultSpeechThreshold {
		speech = DefaultSpeechThreshold
	}
	if silence < DefaultSilenceThreshold {
		silence = DefaultSilenceThreshold
	}
	if silence > speech {
		silence = speech / 2
	}
	return speech, silence
}
