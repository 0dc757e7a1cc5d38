package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxloop/pkg/audio"
)

func TestRMSAndLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		sample    int16
		wantRMS   float64
		wantLevel float64
	}{
		{"silence", 0, 0, 0},
		{"quiet", 1638, 0.05, 0.5},
		{"loud", 16384, 0.5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]int16, 64)
			for i := range samples {
				samples[i] = tt.sample
			}
			pcm := samplesToBytes(samples)
			if got := audio.RMS(pcm); math.Abs(got-tt.wantRMS) > 0.001 {
				t.Errorf("RMS = %f, want %f", got, tt.wantRMS)
			}
			if got := audio.Level(pcm); math.Abs(got-tt.wantLevel) > 0.01 {
				t.Errorf("Level = %f, want %f", got, tt.wantLevel)
			}
		})
	}
}

func TestApplyGain_Saturates(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.ApplyGain(samplesToBytes([]int16{20000, -20000, 100}), 2))
	want := []int16{32767, -32768, 200}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestAutoGain_RaisesQuietInput(t *testing.T) {
	t.Parallel()
	g := audio.NewAutoGain(0.05)
	samples := make([]int16, 512)
	for i := range samples {
		samples[i] = 164 // rms ≈ 0.005
	}
	pcm := samplesToBytes(samples)
	for range 100 {
		g.Process(pcm)
	}
	// desired 10x, smoothed: 1*0.7 + 10*0.3 = 3.7
	if math.Abs(g.Gain()-3.7) > 0.1 {
		t.Errorf("gain = %f, want ≈3.7", g.Gain())
	}
}

func TestAutoGain_IgnoresSilence(t *testing.T) {
	t.Parallel()
	g := audio.NewAutoGain(0.05)
	silence := make([]byte, 1024)
	for range 500 {
		g.Process(silence)
	}
	if g.Gain() != 1 {
		t.Errorf("gain = %f, want 1", g.Gain())
	}
}

func TestTone(t *testing.T) {
	t.Parallel()
	seg := audio.Tone(800, 150*time.Millisecond, 16000, 0.3)
	var n int
	for chunk := range seg.Audio {
		n += len(chunk)
	}
	if n != 2400*2 {
		t.Errorf("tone bytes = %d, want %d", n, 4800)
	}
	if seg.SampleRate != 16000 || seg.Channels != 1 {
		t.Errorf("format = %d/%d", seg.SampleRate, seg.Channels)
	}
}
