// Package mock provides in-memory implementations of [audio.CaptureDevice],
// [audio.PlaybackDevice] and [audio.Backend] for unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert on them, and expose exported fields that control return values.
//
// Typical usage:
//
//	mic := &mock.CaptureDevice{}
//	c := audio.NewCapture(mic, hub)
//	_ = c.Start()
//	mic.Emit(pcm) // delivered as if from the driver
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// ─── CaptureDevice ───────────────────────────────────────────────────────────

// CaptureDevice is a mock [audio.CaptureDevice]. Tests push audio with
// [CaptureDevice.Emit].
type CaptureDevice struct {
	mu sync.Mutex

	// DeviceFormat is returned by Format. Defaults to 16 kHz mono.
	DeviceFormat audio.Format

	// StartErr is returned by Start.
	StartErr error

	// StopErr is returned by Stop.
	StopErr error

	// StartCalls and StopCalls count invocations.
	StartCalls int
	StopCalls  int

	onData func([]byte)
}

var _ audio.CaptureDevice = (*CaptureDevice)(nil)

// Format implements [audio.CaptureDevice].
func (d *CaptureDevice) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DeviceFormat.SampleRate == 0 {
		return audio.Format{SampleRate: audio.FrameSampleRate, Channels: 1}
	}
	return d.DeviceFormat
}

// Start implements [audio.CaptureDevice].
func (d *CaptureDevice) Start(onData func(pcm []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StartCalls++
	if d.StartErr != nil {
		return d.StartErr
	}
	d.onData = onData
	return nil
}

// Stop implements [audio.CaptureDevice].
func (d *CaptureDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StopCalls++
	d.onData = nil
	return d.StopErr
}

// Emit delivers pcm to the registered callback. It reports false when the
// device is not started.
func (d *CaptureDevice) Emit(pcm []byte) bool {
	d.mu.Lock()
	fn := d.onData
	d.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(pcm)
	return true
}

// ─── PlaybackDevice ──────────────────────────────────────────────────────────

// PlaybackDevice is a mock [audio.PlaybackDevice]. Written audio is kept in
// Written. When Realtime is set, queued audio drains at the device's byte
// rate; otherwise it is considered played as soon as it is written.
type PlaybackDevice struct {
	mu sync.Mutex

	// DeviceFormat is returned by Format. Defaults to 16 kHz mono.
	DeviceFormat audio.Format

	// Realtime makes Buffered report wall-clock paced playback.
	Realtime bool

	// WriteErr is returned by Write.
	WriteErr error

	// OnStart, when set, runs at the end of every Start call.
	OnStart func()

	// Written accumulates every byte passed to Write.
	Written []byte

	// StartCalls, StopCalls and ClearCalls count invocations.
	StartCalls int
	StopCalls  int
	ClearCalls int

	queued    int
	drainFrom time.Time
}

var _ audio.PlaybackDevice = (*PlaybackDevice)(nil)

func (d *PlaybackDevice) format() audio.Format {
	if d.DeviceFormat.SampleRate == 0 {
		return audio.Format{SampleRate: audio.FrameSampleRate, Channels: 1}
	}
	return d.DeviceFormat
}

// Format implements [audio.PlaybackDevice].
func (d *PlaybackDevice) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format()
}

// Start implements [audio.PlaybackDevice].
func (d *PlaybackDevice) Start() error {
	d.mu.Lock()
	d.StartCalls++
	hook := d.OnStart
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

// Write implements [audio.PlaybackDevice].
func (d *PlaybackDevice) Write(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.WriteErr != nil {
		return d.WriteErr
	}
	d.Written = append(d.Written, pcm...)
	if d.Realtime {
		d.settle()
		if d.queued == 0 {
			d.drainFrom = time.Now()
		}
		d.queued += len(pcm)
	}
	return nil
}

// settle removes the bytes that would have been played since drainFrom.
// Must be called with d.mu held.
func (d *PlaybackDevice) settle() {
	if d.queued == 0 {
		return
	}
	now := time.Now()
	played := int(now.Sub(d.drainFrom).Seconds() * float64(d.format().BytesPerSecond()))
	if played <= 0 {
		return
	}
	d.queued = max(0, d.queued-played)
	d.drainFrom = now
}

// Buffered implements [audio.PlaybackDevice].
func (d *PlaybackDevice) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settle()
	return d.queued
}

// Clear implements [audio.PlaybackDevice].
func (d *PlaybackDevice) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ClearCalls++
	d.queued = 0
}

// Stop implements [audio.PlaybackDevice].
func (d *PlaybackDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StopCalls++
	d.queued = 0
	return nil
}

// ClearCount returns ClearCalls under the lock.
func (d *PlaybackDevice) ClearCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ClearCalls
}

// BytesWritten returns len(Written) under the lock.
func (d *PlaybackDevice) BytesWritten() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Written)
}

// ─── Backend ─────────────────────────────────────────────────────────────────

// Backend is a mock [audio.Backend] returning the configured devices.
type Backend struct {
	Mic     *CaptureDevice
	Speaker *PlaybackDevice

	CloseCalls int
	mu         sync.Mutex
}

var _ audio.Backend = (*Backend)(nil)

// NewBackend returns a [Backend] with fresh devices.
func NewBackend() *Backend {
	return &Backend{Mic: &CaptureDevice{}, Speaker: &PlaybackDevice{}}
}

// Capture implements [audio.Backend].
func (b *Backend) Capture() audio.CaptureDevice { return b.Mic }

// Playback implements [audio.Backend].
func (b *Backend) Playback() audio.PlaybackDevice { return b.Speaker }

// Close implements [audio.Backend].
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCalls++
	return nil
}
