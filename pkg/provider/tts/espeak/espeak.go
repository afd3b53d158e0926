// Package espeak provides a synthesizer backed by a local espeak-ng process.
// It needs no network or API key, which makes it the fallback of last resort:
// the voice is robotic, but the engine keeps answering when every hosted
// provider is down.
package espeak

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/tts"
)

const (
	defaultBinary = "espeak-ng"
	defaultVoice  = "en-US"
	defaultSpeed  = 175 // words per minute

	// fallbackRate is assumed when the WAV header precedes its fmt chunk,
	// which espeak-ng never does in practice.
	fallbackRate = 22050

	// maxHeaderBytes bounds the synchronous header read. A RIFF header is
	// 44 bytes; anything past 4 KiB is not a WAV stream.
	maxHeaderBytes = 4096
)

// Option is a functional option for configuring the espeak Synthesizer.
type Option func(*Synthesizer)

// WithBinary overrides the espeak-ng binary name or path.
func WithBinary(path string) Option {
	return func(s *Synthesizer) {
		if path != "" {
			s.binary = path
		}
	}
}

// WithVoice sets the espeak voice (e.g., "en-US", "de").
func WithVoice(voice string) Option {
	return func(s *Synthesizer) {
		if voice != "" {
			s.voice = voice
		}
	}
}

// WithSpeed sets the speaking rate in words per minute.
func WithSpeed(wpm int) Option {
	return func(s *Synthesizer) {
		if wpm > 0 {
			s.speed = wpm
		}
	}
}

// WithPitch sets the voice pitch (0–99, espeak default 50).
func WithPitch(pitch int) Option {
	return func(s *Synthesizer) {
		if pitch > 0 {
			s.pitch = pitch
		}
	}
}

// Synthesizer implements tts.Synthesizer by spawning one espeak-ng process
// per chunk and streaming the WAV it writes to stdout.
type Synthesizer struct {
	binary string
	voice  string
	speed  int
	pitch  int
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// New creates an espeak Synthesizer. It fails if the binary is not on PATH,
// so a misconfigured fallback surfaces at startup rather than mid-turn.
func New(opts ...Option) (*Synthesizer, error) {
	s := &Synthesizer{
		binary: defaultBinary,
		voice:  defaultVoice,
		speed:  defaultSpeed,
	}
	for _, o := range opts {
		o(s)
	}
	if _, err := exec.LookPath(s.binary); err != nil {
		return nil, fmt.Errorf("espeak: binary %q not found: %w", s.binary, err)
	}
	return s, nil
}

// Synthesize spawns espeak-ng and returns a segment streaming its PCM
// output. The WAV header is consumed before returning so the segment carries
// the true sample rate; cancelling ctx kills the process.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*audio.Segment, error) {
	if strings.TrimSpace(text) == "" {
		ch := make(chan []byte)
		close(ch)
		return &audio.Segment{Audio: ch, SampleRate: fallbackRate, Channels: 1}, nil
	}

	cmd := exec.CommandContext(ctx, s.binary, s.args()...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("espeak: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("espeak: start %s: %w", s.binary, err)
	}

	info, rest, err := readWAVHeader(stdout)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	audioCh := make(chan []byte, 64)
	seg := &audio.Segment{Audio: audioCh, SampleRate: info.SampleRate, Channels: info.Channels}

	go func() {
		defer close(audioCh)

		emit := func(chunk []byte) bool {
			select {
			case audioCh <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if len(rest) > 0 && !emit(rest) {
			_ = cmd.Wait()
			return
		}
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if !emit(chunk) {
					_ = cmd.Wait()
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					seg.SetStreamErr(fmt.Errorf("espeak: read output: %w", err))
				}
				break
			}
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				seg.SetStreamErr(fmt.Errorf("espeak: %w: %s", err, msg))
			} else {
				seg.SetStreamErr(fmt.Errorf("espeak: %w", err))
			}
		}
	}()

	return seg, nil
}

// Voices lists the voices espeak-ng reports via --voices.
func (s *Synthesizer) Voices(ctx context.Context) ([]tts.Voice, error) {
	out, err := exec.CommandContext(ctx, s.binary, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("espeak: list voices: %w", err)
	}
	return parseVoicesOutput(out), nil
}

// Close implements tts.Synthesizer. Processes are per-chunk; nothing persists.
func (s *Synthesizer) Close() error {
	return nil
}

// args builds the espeak-ng argument list. Text arrives on stdin to avoid
// shell-quoting surprises.
func (s *Synthesizer) args() []string {
	args := []string{"--stdout", "--stdin", "-v", s.voice, "-s", strconv.Itoa(s.speed)}
	if s.pitch > 0 {
		args = append(args, "-p", strconv.Itoa(s.pitch))
	}
	return args
}

// ---- WAV parsing ----

// errWAVIncomplete reports that more bytes are needed before the header can
// be parsed.
var errWAVIncomplete = errors.New("espeak: incomplete WAV header")

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int // byte offset of the first PCM sample
	SampleRate int // samples per second
	Channels   int // 1 = mono, 2 = stereo
}

// parseWAV scans the RIFF/WAVE container in wav and returns the data offset
// and audio format from the "fmt " sub-chunk. Walking the chunks is more
// robust than hardcoding a 44-byte offset because the fmt chunk size may
// vary. Returns errWAVIncomplete when wav ends before the data chunk.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errWAVIncomplete
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("espeak: output missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("espeak: output missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return wavInfo{}, fmt.Errorf("espeak: malformed fmt chunk (size %d)", chunkSize)
			}
			if offset+8+16 > len(wav) {
				return wavInfo{}, errWAVIncomplete
			}
			fmtData := wav[offset+8:]
			info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			foundFmt = true
		case "data":
			info.DataOffset = offset + 8
			if !foundFmt {
				info.SampleRate = fallbackRate
				info.Channels = 1
			}
			return info, nil
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd size).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errWAVIncomplete
}

// readWAVHeader consumes r until the WAV data chunk begins and returns the
// parsed format plus any PCM bytes read past the header.
func readWAVHeader(r io.Reader) (wavInfo, []byte, error) {
	buf := make([]byte, 0, 512)
	tmp := make([]byte, 512)
	for len(buf) < maxHeaderBytes {
		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			info, perr := parseWAV(buf)
			if perr == nil {
				return info, buf[info.DataOffset:], nil
			}
			if !errors.Is(perr, errWAVIncomplete) {
				return wavInfo{}, nil, perr
			}
		}
		if err != nil {
			return wavInfo{}, nil, fmt.Errorf("espeak: read wav header: %w", err)
		}
	}
	return wavInfo{}, nil, errors.New("espeak: no data chunk in first 4 KiB of output")
}

// parseVoicesOutput parses the table emitted by `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-US           --/M      English (America)  gmw/en-US
//
// Voice names contain spaces and the trailing column is free-form, so rows
// are sliced by the header's column offsets rather than split on whitespace.
func parseVoicesOutput(out []byte) []tts.Voice {
	lines := strings.Split(string(out), "\n")
	if len(lines) == 0 {
		return nil
	}
	header := lines[0]
	langCol := strings.Index(header, "Language")
	genderCol := strings.Index(header, "Age/Gender")
	nameCol := strings.Index(header, "VoiceName")
	fileCol := strings.Index(header, "File")
	otherCol := strings.Index(header, "Other Languages")
	if langCol < 0 || genderCol < 0 || nameCol < 0 || fileCol < 0 {
		return nil
	}

	column := func(line string, start, end int) string {
		if start >= len(line) {
			return ""
		}
		if end < 0 || end > len(line) {
			end = len(line)
		}
		return strings.TrimSpace(line[start:end])
	}

	var voices []tts.Voice
	for _, line := range lines[1:] {
		lang := column(line, langCol, genderCol)
		if lang == "" {
			continue
		}
		gender := column(line, genderCol, nameCol)
		if i := strings.IndexByte(gender, '/'); i >= 0 {
			gender = gender[i+1:] // "--/M" -> "M"
		}
		name := column(line, nameCol, fileCol)
		if name == "" {
			name = lang
		}
		voices = append(voices, tts.Voice{
			ID:       lang,
			Name:     name,
			Provider: "espeak",
			Metadata: map[string]string{
				"gender": gender,
				"file":   column(line, fileCol, otherCol),
			},
		})
	}
	return voices
}
