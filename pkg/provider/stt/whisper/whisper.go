// Native whisper.cpp inference via the official Go bindings. Building this
// file links against libwhisper; point LIBRARY_PATH and C_INCLUDE_PATH at a
// whisper.cpp checkout built with `make libwhisper.a` (see the bindings
// README). No separate server process is required.

// Package whisper provides speech-to-text recognizers backed by whisper.cpp,
// either embedded through cgo ([Recognizer]) or over HTTP against a running
// whisper.cpp server ([ServerRecognizer]).
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/stt"
)

const (
	// defaultLanguage is used when no language option is given. Pass "auto"
	// to let the model detect the spoken language per utterance.
	defaultLanguage = "en"

	// modelSampleRate is the only input rate whisper.cpp accepts. Utterances
	// captured at other rates are resampled before inference.
	modelSampleRate = 16000

	// minSamples pads shorter inputs with trailing silence. Whisper produces
	// garbage (or crashes outright in some builds) on inputs under ~200 ms.
	minSamples = modelSampleRate / 5
)

// Option configures a [Recognizer].
type Option func(*Recognizer)

// WithLanguage sets the transcription language (e.g. "en", "de"). The
// special value "auto" enables per-utterance language detection.
func WithLanguage(lang string) Option {
	return func(r *Recognizer) {
		if lang != "" {
			r.language = lang
		}
	}
}

// WithTranslate requests translation of the transcript into English
// regardless of the spoken language.
func WithTranslate(translate bool) Option {
	return func(r *Recognizer) { r.translate = translate }
}

// WithThreads caps the number of CPU threads whisper may use per inference.
// Zero or negative leaves the bindings' default in place.
func WithThreads(n int) Option {
	return func(r *Recognizer) { r.threads = n }
}

// Recognizer transcribes utterances with an in-process whisper.cpp model.
// The model weights are loaded once at construction; each Recognize call
// runs on a fresh lightweight context so state never leaks between
// utterances.
type Recognizer struct {
	model     whisperlib.Model
	language  string
	translate bool
	threads   int

	// mu serialises inference against Close. Whisper contexts tolerate
	// concurrent use, but closing the model mid-Process does not.
	mu     sync.Mutex
	closed bool
}

var _ stt.Recognizer = (*Recognizer)(nil)

// New loads the whisper model at modelPath and returns a ready Recognizer.
// Model loading is the expensive step (hundreds of MB of weights); callers
// should construct once and reuse.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %s: %w", modelPath, err)
	}
	r := &Recognizer{
		model:    model,
		language: defaultLanguage,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Recognize transcribes one complete utterance. Cancellation is checked
// before each encoder pass, so a barge-in abandons the inference within one
// whisper window rather than running to completion.
func (r *Recognizer) Recognize(ctx context.Context, utt *audio.Utterance) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return stt.Result{}, errors.New("whisper: recognizer is closed")
	}

	pcm := utt.PCM()
	if ch := utt.Channels(); ch > 1 {
		pcm = downmixMono(pcm, ch)
	}
	if sr := utt.SampleRate(); sr > 0 && sr != modelSampleRate {
		pcm = audio.ResampleMono16(pcm, sr, modelSampleRate)
	}
	audioDur := time.Duration(len(pcm)/2) * time.Second / modelSampleRate
	samples := padSilence(pcmToFloat32(pcm), minSamples)

	wctx, err := r.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(r.language); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: set language %q: %w", r.language, err)
	}
	wctx.SetTranslate(r.translate)
	if r.threads > 0 {
		wctx.SetThreads(uint(r.threads))
	}

	// The encoder-begin hook is whisper's only abort point: returning false
	// stops the run before the next encoder pass.
	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, keepGoing, nil, nil); err != nil {
		if ctx.Err() != nil {
			return stt.Result{}, ctx.Err()
		}
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}

	var sb strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}

	lang := r.language
	if lang == "auto" {
		if det := wctx.DetectedLanguage(); det != "" {
			lang = det
		}
	}
	return stt.Result{
		Text:          sb.String(),
		Language:      lang,
		AudioDuration: audioDur,
	}, nil
}

// Close releases the model weights. Any in-flight Recognize completes first.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.model.Close(); err != nil {
		return fmt.Errorf("whisper: close model: %w", err)
	}
	return nil
}
