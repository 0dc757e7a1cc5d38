package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Frame geometry expected by the speech classifier.
const (
	FrameSampleRate = 16000
	FrameSamples    = 512
	FrameBytes      = FrameSamples * BytesPerSample
)

// FrameDuration is the length of one captured frame (32 ms).
const FrameDuration = time.Duration(FrameSamples) * time.Second / FrameSampleRate

// ErrCaptureRunning is returned by [Capture.Start] on a running capture.
var ErrCaptureRunning = errors.New("audio: capture already running")

// Capture turns a [CaptureDevice] callback into a stream of fixed-size
// 16 kHz mono frames published on a [Broadcaster]. Device audio in any other
// format is converted first. Input gain and optional automatic gain control
// are applied before framing.
type Capture struct {
	dev CaptureDevice
	out *Broadcaster

	inputGain float64
	agc       *AutoGain
	suspend   func() bool
	onFrame   func(AudioFrame)

	mu      sync.Mutex
	running bool
	conv    FormatConverter
	pending []byte
	samples int64
}

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithInputGain applies a fixed multiplier to every captured sample.
func WithInputGain(gain float64) CaptureOption {
	return func(c *Capture) {
		if gain > 0 {
			c.inputGain = gain
		}
	}
}

// WithAutoGain enables automatic gain control aiming for targetRMS.
func WithAutoGain(targetRMS float64) CaptureOption {
	return func(c *Capture) { c.agc = NewAutoGain(targetRMS) }
}

// WithGainSuspend pauses automatic gain control whenever suspended returns
// true, typically while the assistant is speaking so echo is not amplified.
func WithGainSuspend(suspended func() bool) CaptureOption {
	return func(c *Capture) { c.suspend = suspended }
}

// WithFrameHook calls fn for every published frame.
func WithFrameHook(fn func(AudioFrame)) CaptureOption {
	return func(c *Capture) { c.onFrame = fn }
}

// NewCapture creates a [Capture] reading dev and publishing to out.
func NewCapture(dev CaptureDevice, out *Broadcaster, opts ...CaptureOption) *Capture {
	c := &Capture{
		dev:       dev,
		out:       out,
		inputGain: 1,
		conv:      FormatConverter{Target: Format{SampleRate: FrameSampleRate, Channels: 1}},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins capturing.
func (c *Capture) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrCaptureRunning
	}
	c.running = true
	c.pending = c.pending[:0]
	c.samples = 0
	c.mu.Unlock()

	if err := c.dev.Start(c.push); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("audio: start capture device: %w", err)
	}
	slog.Debug("audio: capture started", "device_format", formatString(c.dev.Format().SampleRate, c.dev.Format().Channels))
	return nil
}

// Stop halts the device and discards any partial frame. Stop is idempotent.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	if err := c.dev.Stop(); err != nil {
		return fmt.Errorf("audio: stop capture device: %w", err)
	}
	return nil
}

// Running reports whether the capture is active.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// push is the device callback.
func (c *Capture) push(pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}

	devFmt := c.dev.Format()
	converted := c.conv.Convert(AudioFrame{
		Data:       append([]byte(nil), pcm...),
		SampleRate: devFmt.SampleRate,
		Channels:   devFmt.Channels,
	})
	data := ApplyGain(converted.Data, c.inputGain)
	if c.agc != nil && (c.suspend == nil || !c.suspend()) {
		data = c.agc.Process(data)
	}
	c.pending = append(c.pending, data...)

	for len(c.pending) >= FrameBytes {
		frame := AudioFrame{
			Data:       make([]byte, FrameBytes),
			SampleRate: FrameSampleRate,
			Channels:   1,
			Timestamp:  time.Duration(c.samples) * time.Second / FrameSampleRate,
		}
		copy(frame.Data, c.pending[:FrameBytes])
		c.pending = c.pending[FrameBytes:]
		c.samples += FrameSamples

		c.out.Publish(frame)
		if c.onFrame != nil {
			c.onFrame(frame)
		}
	}
	// Compact so the backing array does not grow without bound.
	if len(c.pending) > 0 && cap(c.pending) > 4*FrameBytes {
		c.pending = append([]byte(nil), c.pending...)
	}
}
