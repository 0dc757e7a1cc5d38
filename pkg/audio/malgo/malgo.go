// Package malgo implements [audio.Backend] on top of miniaudio through the
// github.com/gen2brain/malgo bindings. Capture runs at 16 kHz mono so frames
// need no conversion; playback runs at a configurable rate and the
// [audio.Player] resamples each segment to it.
package malgo

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxloop/pkg/audio"
)

const (
	defaultCaptureRate  = audio.FrameSampleRate
	defaultPlaybackRate = 24000
)

// Option configures a [Backend].
type Option func(*Backend)

// WithPlaybackRate sets the speaker sample rate.
func WithPlaybackRate(rate int) Option {
	return func(b *Backend) {
		if rate > 0 {
			b.playbackRate = rate
		}
	}
}

// WithCaptureRate sets the microphone sample rate.
func WithCaptureRate(rate int) Option {
	return func(b *Backend) {
		if rate > 0 {
			b.captureRate = rate
		}
	}
}

// Backend owns a miniaudio context with one capture and one playback device.
type Backend struct {
	ctx          *malgo.AllocatedContext
	captureRate  int
	playbackRate int

	capture  *captureDevice
	playback *playbackDevice
}

var _ audio.Backend = (*Backend)(nil)

// New initialises miniaudio and both default devices.
func New(opts ...Option) (*Backend, error) {
	b := &Backend{captureRate: defaultCaptureRate, playbackRate: defaultPlaybackRate}
	for _, o := range opts {
		o(b)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	b.ctx = ctx

	b.capture = &captureDevice{format: audio.Format{SampleRate: b.captureRate, Channels: 1}}
	if err := b.capture.init(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	b.playback = &playbackDevice{format: audio.Format{SampleRate: b.playbackRate, Channels: 1}}
	if err := b.playback.init(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// Capture implements [audio.Backend].
func (b *Backend) Capture() audio.CaptureDevice { return b.capture }

// Playback implements [audio.Backend].
func (b *Backend) Playback() audio.PlaybackDevice { return b.playback }

// Close uninitialises both devices and the context.
func (b *Backend) Close() error {
	if b.capture != nil {
		b.capture.uninit()
	}
	if b.playback != nil {
		b.playback.uninit()
	}
	if b.ctx != nil {
		_ = b.ctx.Uninit()
		b.ctx.Free()
		b.ctx = nil
	}
	return nil
}

// ─── capture ─────────────────────────────────────────────────────────────────

type captureDevice struct {
	format audio.Format

	mu     sync.Mutex
	device *malgo.Device
	onData func([]byte)
}

func (c *captureDevice) init(ctx *malgo.AllocatedContext) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(c.format.SampleRate)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(c.format.Channels)
	cfg.Alsa.NoMMap = 1
	cfg.PerformanceProfile = malgo.LowLatency
	cfg.PeriodSizeInFrames = 480
	cfg.Periods = 3

	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatS16) * c.format.Channels
	dev, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(input) < n {
				return
			}
			c.mu.Lock()
			fn := c.onData
			c.mu.Unlock()
			if fn != nil {
				fn(input[:n])
			}
		},
	})
	if err != nil {
		return fmt.Errorf("malgo: init capture device: %w", err)
	}
	c.device = dev
	return nil
}

func (c *captureDevice) Format() audio.Format { return c.format }

func (c *captureDevice) Start(onData func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("malgo: capture device not initialised")
	}
	c.onData = onData
	if c.device.IsStarted() {
		return nil
	}
	if err := c.device.Start(); err != nil {
		c.onData = nil
		return fmt.Errorf("malgo: start capture: %w", err)
	}
	return nil
}

func (c *captureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = nil
	if c.device == nil || !c.device.IsStarted() {
		return nil
	}
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("malgo: stop capture: %w", err)
	}
	return nil
}

func (c *captureDevice) uninit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.onData = nil
}

// ─── playback ────────────────────────────────────────────────────────────────

type playbackDevice struct {
	format audio.Format

	mu     sync.Mutex
	device *malgo.Device

	bufMu sync.Mutex
	buf   []byte
}

func (p *playbackDevice) init(ctx *malgo.AllocatedContext) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(p.format.SampleRate)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(p.format.Channels)
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = uint32(p.format.SampleRate / 50) // 20 ms
	cfg.Periods = 3

	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatS16) * p.format.Channels
	dev, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			n := min(int(frameCount)*bytesPerFrame, len(output))
			p.bufMu.Lock()
			copied := copy(output[:n], p.buf)
			p.buf = p.buf[copied:]
			p.bufMu.Unlock()
			clear(output[copied:n])
		},
	})
	if err != nil {
		return fmt.Errorf("malgo: init playback device: %w", err)
	}
	p.device = dev
	return nil
}

func (p *playbackDevice) Format() audio.Format { return p.format }

func (p *playbackDevice) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return fmt.Errorf("malgo: playback device not initialised")
	}
	if p.device.IsStarted() {
		return nil
	}
	if err := p.device.Start(); err != nil {
		return fmt.Errorf("malgo: start playback: %w", err)
	}
	return nil
}

func (p *playbackDevice) Write(pcm []byte) error {
	p.mu.Lock()
	started := p.device != nil && p.device.IsStarted()
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("malgo: playback device not started")
	}
	p.bufMu.Lock()
	p.buf = append(p.buf, pcm...)
	p.bufMu.Unlock()
	return nil
}

func (p *playbackDevice) Buffered() int {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	return len(p.buf)
}

func (p *playbackDevice) Clear() {
	p.bufMu.Lock()
	p.buf = nil
	p.bufMu.Unlock()
}

func (p *playbackDevice) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Clear()
	if p.device == nil || !p.device.IsStarted() {
		return nil
	}
	if err := p.device.Stop(); err != nil {
		return fmt.Errorf("malgo: stop playback: %w", err)
	}
	return nil
}

func (p *playbackDevice) uninit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
}
