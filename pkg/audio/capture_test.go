package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/audio/mock"
)

func TestCapture_ReframesDeviceChunks(t *testing.T) {
	t.Parallel()
	mic := &mock.CaptureDevice{}
	hub := audio.NewBroadcaster(16)
	sub := hub.Subscribe()
	c := audio.NewCapture(mic, hub)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 3 chunks of 700 bytes = 2100 bytes → 2 full frames, 52 bytes pending.
	for range 3 {
		mic.Emit(make([]byte, 700))
	}

	ctx := context.Background()
	for i := range 2 {
		f, err := sub.Next(ctx, time.Second)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if len(f.Data) != audio.FrameBytes || f.SampleRate != 16000 || f.Channels != 1 {
			t.Errorf("frame %d: %d bytes %dHz %dch", i, len(f.Data), f.SampleRate, f.Channels)
		}
		if want := time.Duration(i) * audio.FrameDuration; f.Timestamp != want {
			t.Errorf("frame %d ts = %v, want %v", i, f.Timestamp, want)
		}
	}
	if sub.Pending() != 0 {
		t.Errorf("unexpected extra frame")
	}
}

func TestCapture_ConvertsDeviceFormat(t *testing.T) {
	t.Parallel()
	mic := &mock.CaptureDevice{DeviceFormat: audio.Format{SampleRate: 48000, Channels: 2}}
	hub := audio.NewBroadcaster(4)
	sub := hub.Subscribe()
	c := audio.NewCapture(mic, hub)
	_ = c.Start()

	// 1536 stereo samples at 48 kHz = 512 mono samples at 16 kHz.
	mic.Emit(make([]byte, 1536*4))

	f, err := sub.Next(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Samples() != audio.FrameSamples {
		t.Errorf("samples = %d, want %d", f.Samples(), audio.FrameSamples)
	}
}

func TestCapture_InputGain(t *testing.T) {
	t.Parallel()
	mic := &mock.CaptureDevice{}
	hub := audio.NewBroadcaster(4)
	sub := hub.Subscribe()
	c := audio.NewCapture(mic, hub, audio.WithInputGain(2))
	_ = c.Start()

	samples := make([]int16, audio.FrameSamples)
	for i := range samples {
		samples[i] = 1000
	}
	mic.Emit(samplesToBytes(samples))

	f, err := sub.Next(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got := bytesToSamples(f.Data)[0]; got != 2000 {
		t.Errorf("sample = %d, want 2000", got)
	}
}

func TestCapture_StartStop(t *testing.T) {
	t.Parallel()
	mic := &mock.CaptureDevice{}
	c := audio.NewCapture(mic, audio.NewBroadcaster(4))

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(); !errors.Is(err, audio.ErrCaptureRunning) {
		t.Errorf("second Start err = %v, want ErrCaptureRunning", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if mic.StopCalls != 1 {
		t.Errorf("device Stop calls = %d, want 1", mic.StopCalls)
	}
	if mic.Emit(make([]byte, 10)) {
		t.Error("stopped device still has a callback")
	}
}

func TestCapture_StartError(t *testing.T) {
	t.Parallel()
	mic := &mock.CaptureDevice{StartErr: errors.New("no device")}
	c := audio.NewCapture(mic, audio.NewBroadcaster(4))
	if err := c.Start(); err == nil {
		t.Fatal("expected error")
	}
	if c.Running() {
		t.Error("capture reports running after failed start")
	}
}
