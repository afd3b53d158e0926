// Package elevenlabs provides an ElevenLabs-backed synthesizer using the
// ElevenLabs streaming WebSocket API. Each chunk is synthesized over a short
// stream-input session so audio starts flowing before the chunk is finished.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/tts"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	voicesEndpoint   = "https://api.elevenlabs.io/v1/voices"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		if model != "" {
			s.model = model
		}
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000",
// "pcm_24000"). Only raw PCM formats are supported.
func WithOutputFormat(format string) Option {
	return func(s *Synthesizer) {
		if format != "" {
			s.outputFormat = format
		}
	}
}

// WithStability tunes the voice stability/similarity settings sent on each
// stream. Zero values keep the defaults (0.5 / 0.75).
func WithStability(stability, similarityBoost float64) Option {
	return func(s *Synthesizer) {
		if stability > 0 {
			s.stability = stability
		}
		if similarityBoost > 0 {
			s.similarityBoost = similarityBoost
		}
	}
}

// Synthesizer implements tts.Synthesizer backed by the ElevenLabs streaming
// API.
type Synthesizer struct {
	apiKey          string
	voiceID         string
	model           string
	outputFormat    string
	sampleRate      int
	stability       float64
	similarityBoost float64
	httpClient      *http.Client
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// New creates an ElevenLabs Synthesizer speaking with the given voice.
func New(apiKey, voiceID string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	s := &Synthesizer{
		apiKey:          apiKey,
		voiceID:         voiceID,
		model:           defaultModel,
		outputFormat:    defaultOutputFmt,
		stability:       0.5,
		similarityBoost: 0.75,
		httpClient:      &http.Client{},
	}
	for _, o := range opts {
		o(s)
	}
	rate, err := parseOutputRate(s.outputFormat)
	if err != nil {
		return nil, err
	}
	s.sampleRate = rate
	return s, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
// An empty Text signals end of input.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// Synthesize opens a WebSocket to ElevenLabs, sends the chunk, and returns a
// segment whose Audio channel delivers raw PCM as it arrives.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*audio.Segment, error) {
	if strings.TrimSpace(text) == "" {
		return emptySegment(s.sampleRate), nil
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, s.voiceID, s.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	vs := &voiceSettings{Stability: s.stability, SimilarityBoost: s.similarityBoost}

	// ElevenLabs requires a non-empty first text value.
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: vs,
		XiAPIKey:      s.apiKey,
		OutputFormat:  s.outputFormat,
	}
	// The chunk and the end-of-input marker are both known up front, so the
	// whole write side happens before we hand the segment out.
	for _, payload := range []any{boi, textMessage{Text: text, VoiceSettings: vs}, textMessage{Text: ""}} {
		data, _ := json.Marshal(payload)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	audioCh := make(chan []byte, 256)
	seg := &audio.Segment{Audio: audioCh, SampleRate: s.sampleRate, Channels: 1}

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				// Normal closure after the final message is a clean end.
				if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					seg.SetStreamErr(fmt.Errorf("elevenlabs: stream read: %w", err))
				}
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err == nil && len(pcm) > 0 {
					select {
					case audioCh <- pcm:
					case <-ctx.Done():
						return
					}
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	return seg, nil
}

// Voices returns all voices available from ElevenLabs for the configured API key.
func (s *Synthesizer) Voices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices read: %w", err)
	}
	voices, err := parseVoicesResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return voices, nil
}

// Close releases idle HTTP connections. WebSocket sessions are per-chunk and
// close themselves.
func (s *Synthesizer) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// ---- helpers ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of Voice values.
func parseVoicesResponse(data []byte) ([]tts.Voice, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		voices = append(voices, tts.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return voices, nil
}

// parseOutputRate extracts the sample rate from a raw PCM format name such as
// "pcm_16000".
func parseOutputRate(format string) (int, error) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q (want pcm_<rate>)", format)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: invalid sample rate in output format %q", format)
	}
	return rate, nil
}

// buildWSMessage constructs the JSON text payload for a single text fragment.
// Used by tests to verify the payload shape without opening a real connection.
func buildWSMessage(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textMessage{Text: text, VoiceSettings: vs})
}

// buildURLForVoice constructs the WebSocket URL for a given voice and model.
func buildURLForVoice(voiceID, model string) string {
	return fmt.Sprintf(wsEndpointFmt, voiceID, model)
}

// emptySegment returns a closed, zero-length segment.
func emptySegment(rate int) *audio.Segment {
	ch := make(chan []byte)
	close(ch)
	return &audio.Segment{Audio: ch, SampleRate: rate, Channels: 1}
}
