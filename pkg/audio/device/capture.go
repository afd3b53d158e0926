// Package device implements [audio.FrameSource] and [audio.Player] on real
// hardware through portaudio.
//
// CaptureDevice reads fixed-duration PCM frames from the default input device
// into a bounded ring; when the consumer falls behind, the oldest frame is
// dropped so capture never blocks. PlaybackDevice writes segment audio to the
// default output device in small buffers so cancellation silences output
// within a bounded latency.
//
// Both devices retry reopening the underlying stream a bounded number of
// times before failing with [audio.DeviceError].
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/openparley/parley/pkg/audio"
)

// Capture defaults. 30ms mono frames at 16kHz match what the recognition
// stage consumes, so the common path needs no conversion.
const (
	DefaultCaptureRate    = 16000
	DefaultFrameDuration  = 30 * time.Millisecond
	DefaultRingFrames     = 64 // ~2s of audio before drop-oldest kicks in
	DefaultMaxReopens     = 3
	DefaultReopenBackoff  = 500 * time.Millisecond
	availablePollInterval = 5 * time.Millisecond
)

// CaptureConfig holds the parameters for a capture device.
type CaptureConfig struct {
	// SampleRate is the pipeline sample rate in Hz. Defaults to 16000.
	SampleRate int

	// Channels is the pipeline channel count. Defaults to 1 (mono).
	Channels int

	// FrameDuration is the duration of each emitted frame. Defaults to 30ms.
	FrameDuration time.Duration

	// HardwareRate opens the device at a different rate than the pipeline
	// rate; frames are resampled on the way out. Zero means open at
	// SampleRate directly.
	HardwareRate int

	// RingFrames bounds the frame buffer between the device and NextFrame.
	// When full, the oldest frame is evicted. Defaults to 64.
	RingFrames int

	// MaxReopens bounds how many times a failed stream is reopened before
	// the device fails permanently. Defaults to 3.
	MaxReopens int

	// ReopenBackoff is the pause between reopen attempts. Defaults to 500ms.
	ReopenBackoff time.Duration

	// OnFrameDrop is invoked once per frame evicted under backpressure, from
	// the capture goroutine. Optional; used to feed a telemetry counter.
	OnFrameDrop func()

	// OnReopen is invoked once per stream reopen attempt, from the capture
	// goroutine. Optional.
	OnReopen func()
}

func (c *CaptureConfig) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultCaptureRate
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.FrameDuration == 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	if c.RingFrames == 0 {
		c.RingFrames = DefaultRingFrames
	}
	if c.MaxReopens == 0 {
		c.MaxReopens = DefaultMaxReopens
	}
	if c.ReopenBackoff == 0 {
		c.ReopenBackoff = DefaultReopenBackoff
	}
}

// CaptureDevice is a portaudio-backed [audio.FrameSource].
type CaptureDevice struct {
	cfg    CaptureConfig
	logger *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16

	frames  chan audio.Frame
	dropped atomic.Uint64
	fatal   atomic.Pointer[audio.DeviceError]

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var _ audio.FrameSource = (*CaptureDevice)(nil)

// NewCapture opens the default input device and starts the capture loop.
// The returned device delivers frames from NextFrame until Close is called
// or the device fails permanently.
func NewCapture(cfg CaptureConfig, logger *slog.Logger) (*CaptureDevice, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, &audio.DeviceError{Device: "capture", Op: "initialize", Err: err}
	}

	d := &CaptureDevice{
		cfg:    cfg,
		logger: logger.With("component", "capture"),
		frames: make(chan audio.Frame, cfg.RingFrames),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := d.open(); err != nil {
		portaudio.Terminate()
		return nil, err
	}

	go d.captureLoop()
	return d, nil
}

// open creates and starts the portaudio input stream. Caller must hold no
// locks; open takes d.mu itself.
func (d *CaptureDevice) open() error {
	rate := d.cfg.SampleRate
	if d.cfg.HardwareRate != 0 {
		rate = d.cfg.HardwareRate
	}
	framesPerBuffer := rate * int(d.cfg.FrameDuration/time.Millisecond) / 1000

	buf := make([]int16, framesPerBuffer*d.cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(d.cfg.Channels, 0, float64(rate), framesPerBuffer, buf)
	if err != nil {
		return &audio.DeviceError{Device: "capture", Op: "open", Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return &audio.DeviceError{Device: "capture", Op: "start", Err: err}
	}

	d.mu.Lock()
	d.stream = stream
	d.buf = buf
	d.mu.Unlock()
	return nil
}

// captureLoop reads from the device until stop is closed or reopen retries
// are exhausted. It polls AvailableToRead so the loop can observe stop
// between blocking reads.
func (d *CaptureDevice) captureLoop() {
	defer close(d.done)

	hwRate := d.cfg.SampleRate
	if d.cfg.HardwareRate != 0 {
		hwRate = d.cfg.HardwareRate
	}
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: d.cfg.SampleRate, Channels: d.cfg.Channels}}

	var seq uint64
	reopens := 0

	for {
		select {
		case <-d.stop:
			return
		default:
		}

		d.mu.Lock()
		stream := d.stream
		buf := d.buf
		d.mu.Unlock()
		if stream == nil {
			return
		}

		available, err := stream.AvailableToRead()
		if err == nil && available < len(buf)/d.cfg.Channels {
			select {
			case <-d.stop:
				return
			case <-time.After(availablePollInterval):
			}
			continue
		}
		if err == nil {
			err = stream.Read()
		}
		if err != nil {
			reopens++
			if reopens > d.cfg.MaxReopens {
				devErr := &audio.DeviceError{Device: "capture", Op: "read", Err: err}
				d.fatal.Store(devErr)
				d.logger.Error("capture device failed permanently",
					"error", err, "reopens", reopens-1)
				d.closeStream()
				close(d.frames)
				return
			}
			d.logger.Warn("capture read failed, reopening",
				"error", err, "attempt", reopens, "max", d.cfg.MaxReopens)
			if d.cfg.OnReopen != nil {
				d.cfg.OnReopen()
			}
			d.closeStream()
			select {
			case <-d.stop:
				return
			case <-time.After(d.cfg.ReopenBackoff):
			}
			if openErr := d.open(); openErr != nil {
				d.logger.Warn("capture reopen failed", "error", openErr, "attempt", reopens)
			}
			continue
		}
		reopens = 0

		frame := audio.Frame{
			Data:       int16ToBytes(buf),
			SampleRate: hwRate,
			Channels:   d.cfg.Channels,
			Seq:        seq,
			Captured:   time.Now(),
		}
		if hwRate != d.cfg.SampleRate {
			frame = conv.Convert(frame)
			if len(frame.Data) == 0 {
				continue
			}
		}
		seq++

		d.enqueue(frame)
	}
}

// enqueue delivers frame into the bounded ring. When the ring is full the
// oldest frame is evicted so capture never blocks; if a concurrent reader
// refills the ring between evict and send, the new frame is dropped instead.
func (d *CaptureDevice) enqueue(frame audio.Frame) {
	select {
	case d.frames <- frame:
		return
	default:
	}
	select {
	case <-d.frames:
		d.noteDrop()
	default:
	}
	select {
	case d.frames <- frame:
	default:
		d.noteDrop()
	}
}

func (d *CaptureDevice) noteDrop() {
	d.dropped.Add(1)
	if d.cfg.OnFrameDrop != nil {
		d.cfg.OnFrameDrop()
	}
}

// NextFrame implements [audio.FrameSource].
func (d *CaptureDevice) NextFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case frame, ok := <-d.frames:
		if !ok {
			if devErr := d.fatal.Load(); devErr != nil {
				return audio.Frame{}, devErr
			}
			return audio.Frame{}, &audio.DeviceError{
				Device: "capture", Op: "read", Err: fmt.Errorf("device closed"),
			}
		}
		return frame, nil
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// Dropped returns the number of frames evicted because the consumer fell
// behind the device.
func (d *CaptureDevice) Dropped() uint64 {
	return d.dropped.Load()
}

// Err returns the permanent device failure that stopped capture, or nil
// while the device is healthy.
func (d *CaptureDevice) Err() error {
	if devErr := d.fatal.Load(); devErr != nil {
		return devErr
	}
	return nil
}

// Close implements [audio.FrameSource].
func (d *CaptureDevice) Close() error {
	d.stopOnce.Do(func() {
		close(d.stop)
		select {
		case <-d.done:
		case <-time.After(time.Second):
			d.logger.Warn("capture loop did not stop in time")
		}
		d.closeStream()
		portaudio.Terminate()
	})
	return nil
}

func (d *CaptureDevice) closeStream() {
	d.mu.Lock()
	stream := d.stream
	d.stream = nil
	d.mu.Unlock()
	if stream != nil {
		stream.Stop()
		stream.Close()
	}
}
