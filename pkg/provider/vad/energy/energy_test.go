package energy_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/voxloop/pkg/provider/vad"
	"github.com/MrWong99/voxloop/pkg/provider/vad/energy"
)

var cfg = vad.Config{SampleRate: 16000, FrameSizeMs: 32, SpeechThreshold: 0.5, SilenceThreshold: 0.35}

func frame(amplitude int16) []byte {
	b := make([]byte, 1024)
	for i := 0; i < len(b); i += 2 {
		binary.LittleEndian.PutUint16(b[i:], uint16(amplitude))
	}
	return b
}

func TestSession_Hysteresis(t *testing.T) {
	t.Parallel()
	sess, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	// reference 0.04 → amplitude 1311 ≈ p 1.0, 524 ≈ p 0.4, 0 = p 0
	steps := []struct {
		amp  int16
		want vad.VADEventType
	}{
		{0, vad.VADSilence},
		{524, vad.VADSilence}, // below speech threshold while silent
		{1311, vad.VADSpeechStart},
		{524, vad.VADSpeechContinue}, // above silence threshold while speaking
		{0, vad.VADSpeechEnd},
		{0, vad.VADSilence},
	}
	for i, st := range steps {
		ev, err := sess.ProcessFrame(frame(st.amp))
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ev.Type != st.want {
			t.Errorf("step %d (amp %d): got %v, want %v", i, st.amp, ev.Type, st.want)
		}
	}
}

func TestSession_RejectsWrongFrameLength(t *testing.T) {
	t.Parallel()
	sess, _ := energy.New().NewSession(cfg)
	for _, n := range []int{0, 960, 1022, 1026, 2048} {
		if _, err := sess.ProcessFrame(make([]byte, n)); err == nil {
			t.Errorf("%d bytes: expected error", n)
		}
	}
}

func TestSession_Reset(t *testing.T) {
	t.Parallel()
	sess, _ := energy.New().NewSession(cfg)
	_, _ = sess.ProcessFrame(frame(4000))
	sess.Reset()
	ev, _ := sess.ProcessFrame(frame(524))
	if ev.Type != vad.VADSilence {
		t.Errorf("after reset got %v, want silence", ev.Type)
	}
}

func TestSession_Closed(t *testing.T) {
	t.Parallel()
	sess, _ := energy.New().NewSession(cfg)
	_ = sess.Close()
	_ = sess.Close()
	if _, err := sess.ProcessFrame(frame(0)); !errors.Is(err, energy.ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()
	tests := map[string]vad.Config{
		"no rate":           {FrameSizeMs: 32, SpeechThreshold: 0.5},
		"speech zero":       {SampleRate: 16000, FrameSizeMs: 32},
		"silence too high":  {SampleRate: 16000, FrameSizeMs: 32, SpeechThreshold: 0.3, SilenceThreshold: 0.5},
		"speech above one":  {SampleRate: 16000, FrameSizeMs: 32, SpeechThreshold: 1.5},
	}
	for name, c := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := energy.New().NewSession(c); err == nil {
				t.Error("expected error")
			}
		})
	}
}
