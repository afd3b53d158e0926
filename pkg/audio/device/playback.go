package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/openparley/parley/pkg/audio"
)

// Playback defaults. 48kHz stereo is supported by effectively every output
// device; synthesis output is converted up on the way through.
const (
	DefaultPlaybackRate  = 48000
	DefaultWriteDuration = 20 * time.Millisecond
)

// PlaybackConfig holds the parameters for a playback device.
type PlaybackConfig struct {
	// SampleRate is the output device rate in Hz. Defaults to 48000.
	SampleRate int

	// Channels is the output channel count. Defaults to 2 (stereo).
	Channels int

	// WriteDuration is the duration of each device write. Each write blocks
	// for at most this long, which bounds how quickly a cancelled Play can
	// silence output. Defaults to 20ms.
	WriteDuration time.Duration
}

func (c *PlaybackConfig) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultPlaybackRate
	}
	if c.Channels == 0 {
		c.Channels = 2
	}
	if c.WriteDuration == 0 {
		c.WriteDuration = DefaultWriteDuration
	}
}

// PlaybackDevice is a portaudio-backed [audio.Player]. Play calls are
// serialized; the orchestrator plays one segment at a time.
type PlaybackDevice struct {
	cfg    PlaybackConfig
	logger *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool

	lastErr   atomic.Pointer[audio.DeviceError]
	closeOnce sync.Once
}

var _ audio.Player = (*PlaybackDevice)(nil)

// NewPlayback opens the default output device. The stream is started lazily
// on each Play and stopped when the segment ends.
func NewPlayback(cfg PlaybackConfig, logger *slog.Logger) (*PlaybackDevice, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, &audio.DeviceError{Device: "playback", Op: "initialize", Err: err}
	}

	framesPerBuffer := cfg.SampleRate * int(cfg.WriteDuration/time.Millisecond) / 1000
	buf := make([]int16, framesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate), framesPerBuffer, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, &audio.DeviceError{Device: "playback", Op: "open", Err: err}
	}

	return &PlaybackDevice{
		cfg:    cfg,
		logger: logger.With("component", "playback"),
		stream: stream,
		buf:    buf,
	}, nil
}

// Play implements [audio.Player]. It converts each chunk to the device
// format, writes it in WriteDuration-sized buffers, and returns when the
// segment channel closes and the final write has drained. On ctx
// cancellation the device buffer is discarded rather than drained, so output
// falls silent within roughly two write durations.
func (d *PlaybackDevice) Play(ctx context.Context, seg *audio.Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return &audio.DeviceError{Device: "playback", Op: "write", Err: errors.New("device closed")}
	}
	if err := d.stream.Start(); err != nil {
		devErr := &audio.DeviceError{Device: "playback", Op: "start", Err: err}
		d.lastErr.Store(devErr)
		return devErr
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: d.cfg.SampleRate, Channels: d.cfg.Channels}}
	writeBytes := len(d.buf) * 2
	var pending []byte

	for {
		select {
		case <-ctx.Done():
			d.stream.Abort()
			return ctx.Err()
		case chunk, ok := <-seg.Audio:
			if !ok {
				// Flush the partial tail padded with silence, then let the
				// device drain.
				if len(pending) > 0 {
					padded := make([]byte, writeBytes)
					copy(padded, pending)
					if err := d.write(padded); err != nil {
						d.stream.Abort()
						return err
					}
				}
				d.stream.Stop()
				if err := seg.Err(); err != nil {
					return fmt.Errorf("device: segment stream: %w", err)
				}
				return nil
			}

			frame := conv.Convert(audio.Frame{Data: chunk, SampleRate: seg.SampleRate, Channels: seg.Channels})
			pending = append(pending, frame.Data...)
			for len(pending) >= writeBytes {
				if err := d.write(pending[:writeBytes]); err != nil {
					d.stream.Abort()
					return err
				}
				pending = pending[writeBytes:]
				select {
				case <-ctx.Done():
					d.stream.Abort()
					return ctx.Err()
				default:
				}
			}
		}
	}
}

// write fills the stream buffer from pcm and performs one blocking device
// write. Underflow is tolerated; other failures are permanent.
func (d *PlaybackDevice) write(pcm []byte) error {
	bytesToInt16(d.buf, pcm)
	if err := d.stream.Write(); err != nil {
		if errors.Is(err, portaudio.OutputUnderflowed) {
			return nil
		}
		devErr := &audio.DeviceError{Device: "playback", Op: "write", Err: err}
		d.lastErr.Store(devErr)
		return devErr
	}
	return nil
}

// Err returns the last permanent device failure, or nil.
func (d *PlaybackDevice) Err() error {
	if devErr := d.lastErr.Load(); devErr != nil {
		return devErr
	}
	return nil
}

// Close implements [audio.Player].
func (d *PlaybackDevice) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		stream := d.stream
		d.stream = nil
		d.mu.Unlock()
		if stream != nil {
			stream.Abort()
			stream.Close()
		}
		portaudio.Terminate()
	})
	return nil
}
