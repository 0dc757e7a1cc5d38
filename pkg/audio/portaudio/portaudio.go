// Package portaudio implements [audio.Backend] with PortAudio blocking
// streams via github.com/gordonklaus/portaudio. Each direction runs its own
// goroutine that reads or writes one buffer at a time.
package portaudio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxloop/pkg/audio"
)

const (
	defaultPlaybackRate = 24000
	bufferMillis        = 20
)

// Backend is a PortAudio host with default input and output devices.
type Backend struct {
	capture  *captureDevice
	playback *playbackDevice
}

var _ audio.Backend = (*Backend)(nil)

// New initialises PortAudio. playbackRate ≤ 0 selects 24 kHz.
func New(playbackRate int) (*Backend, error) {
	if playbackRate <= 0 {
		playbackRate = defaultPlaybackRate
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Backend{
		capture:  &captureDevice{format: audio.Format{SampleRate: audio.FrameSampleRate, Channels: 1}},
		playback: &playbackDevice{format: audio.Format{SampleRate: playbackRate, Channels: 1}},
	}, nil
}

// Capture implements [audio.Backend].
func (b *Backend) Capture() audio.CaptureDevice { return b.capture }

// Playback implements [audio.Backend].
func (b *Backend) Playback() audio.PlaybackDevice { return b.playback }

// Close stops both streams and terminates PortAudio.
func (b *Backend) Close() error {
	_ = b.capture.Stop()
	_ = b.playback.Stop()
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

func framesPerBuffer(rate int) int {
	return rate * bufferMillis / 1000
}

// ─── capture ─────────────────────────────────────────────────────────────────

type captureDevice struct {
	format audio.Format

	mu     sync.Mutex
	stream *portaudio.Stream
	done   chan struct{}
	quit   chan struct{}
}

func (c *captureDevice) Format() audio.Format { return c.format }

func (c *captureDevice) Start(onData func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return nil
	}
	in := make([]int16, framesPerBuffer(c.format.SampleRate))
	stream, err := portaudio.OpenDefaultStream(c.format.Channels, 0, float64(c.format.SampleRate), len(in), in)
	if err != nil {
		return fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("portaudio: start input stream: %w", err)
	}
	c.stream = stream
	c.quit = make(chan struct{})
	c.done = make(chan struct{})

	go func(quit, done chan struct{}) {
		defer close(done)
		pcm := make([]byte, len(in)*audio.BytesPerSample)
		for {
			select {
			case <-quit:
				return
			default:
			}
			if err := stream.Read(); err != nil {
				slog.Debug("portaudio: read error", "err", err)
				return
			}
			for i, s := range in {
				binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
			}
			onData(pcm)
		}
	}(c.quit, c.done)
	return nil
}

func (c *captureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	close(c.quit)
	err := c.stream.Stop()
	<-c.done
	_ = c.stream.Close()
	c.stream = nil
	if err != nil {
		return fmt.Errorf("portaudio: stop input stream: %w", err)
	}
	return nil
}

// ─── playback ────────────────────────────────────────────────────────────────

type playbackDevice struct {
	format audio.Format

	mu     sync.Mutex
	stream *portaudio.Stream
	done   chan struct{}
	quit   chan struct{}

	bufMu sync.Mutex
	buf   []byte
}

func (p *playbackDevice) Format() audio.Format { return p.format }

func (p *playbackDevice) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return nil
	}
	out := make([]int16, framesPerBuffer(p.format.SampleRate))
	stream, err := portaudio.OpenDefaultStream(0, p.format.Channels, float64(p.format.SampleRate), len(out), out)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	p.stream = stream
	p.quit = make(chan struct{})
	p.done = make(chan struct{})

	go func(quit, done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-quit:
				return
			default:
			}
			p.bufMu.Lock()
			n := min(len(p.buf)/audio.BytesPerSample, len(out))
			for i := range n {
				out[i] = int16(binary.LittleEndian.Uint16(p.buf[i*2:]))
			}
			p.buf = p.buf[n*audio.BytesPerSample:]
			p.bufMu.Unlock()
			clear(out[n:])
			if err := stream.Write(); err != nil {
				slog.Debug("portaudio: write error", "err", err)
				return
			}
		}
	}(p.quit, p.done)
	return nil
}

func (p *playbackDevice) Write(pcm []byte) error {
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
	if p.stream == nil {
		return nil
	}
	close(p.quit)
	<-p.done
	err := p.stream.Stop()
	_ = p.stream.Close()
	p.stream = nil
	if err != nil {
		return fmt.Errorf("portaudio: stop output stream: %w", err)
	}
	return nil
}
