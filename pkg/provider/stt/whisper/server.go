package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/stt"
)

const bitsPerSample = 16

// ServerOption configures a [ServerRecognizer].
type ServerOption func(*ServerRecognizer)

// WithServerLanguage sets the language hint forwarded to the server.
func WithServerLanguage(lang string) ServerOption {
	return func(r *ServerRecognizer) {
		if lang != "" {
			r.language = lang
		}
	}
}

// WithServerModel sets the model name forwarded to the server, for
// deployments that host more than one.
func WithServerModel(model string) ServerOption {
	return func(r *ServerRecognizer) { r.model = model }
}

// WithHTTPClient replaces the default HTTP client (60 s timeout).
func WithHTTPClient(c *http.Client) ServerOption {
	return func(r *ServerRecognizer) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// ServerRecognizer transcribes utterances against a running whisper.cpp
// server (`whisper-server`), posting each utterance as a WAV upload to its
// /inference endpoint. Useful when the model should live in a separate
// process or on another machine, and as a cgo-free alternative to
// [Recognizer].
type ServerRecognizer struct {
	serverURL  string
	language   string
	model      string
	httpClient *http.Client
}

var _ stt.Recognizer = (*ServerRecognizer)(nil)

// NewServer returns a ServerRecognizer posting to the whisper.cpp server at
// serverURL (e.g. "http://localhost:8080").
func NewServer(serverURL string, opts ...ServerOption) (*ServerRecognizer, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server URL must not be empty")
	}
	r := &ServerRecognizer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Recognize encodes the utterance as a WAV file and POSTs it to the server's
// /inference endpoint as multipart/form-data. Cancelling ctx aborts the HTTP
// request.
func (r *ServerRecognizer) Recognize(ctx context.Context, utt *audio.Utterance) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}

	wav := encodeWAV(utt.PCM(), utt.SampleRate(), utt.Channels())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if r.language != "" {
		if err := mw.WriteField("language", r.language); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if r.model != "" {
		if err := mw.WriteField("model", r.model); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := r.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return stt.Result{}, ctx.Err()
		}
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return stt.Result{
		Text:          strings.TrimSpace(parsed.Text),
		Language:      r.language,
		AudioDuration: utt.Duration(),
	}, nil
}

// Close releases idle HTTP connections.
func (r *ServerRecognizer) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}

// ---- helpers ----------------------------------------------------------------

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The returned byte slice is suitable for direct
// inclusion in a multipart form upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
