package pipeline

import (
	"fmt"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/vad"
)

// ValidateFrame reports [ErrInvalidFrame] unless f is exactly 512 mono
// samples at 16 kHz. Frames are never padded or truncated.
func ValidateFrame(f audio.AudioFrame) error {
	if f.SampleRate != audio.FrameSampleRate || f.Channels != 1 || len(f.Data) != audio.FrameBytes {
		return fmt.Errorf("%w: %d bytes, %d Hz, %d channel(s)", ErrInvalidFrame, len(f.Data), f.SampleRate, f.Channels)
	}
	return nil
}

// SpeechGate classifies single frames as speech or silence through a VAD
// session. It is owned by one goroutine.
type SpeechGate struct {
	session vad.SessionHandle
}

// NewSpeechGate wraps session.
func NewSpeechGate(session vad.SessionHandle) *SpeechGate {
	return &SpeechGate{session: session}
}

// Classify reports whether f contains speech. Invalid frames fail fast with
// [ErrInvalidFrame] before reaching the classifier; classifier failures are
// returned wrapped.
func (g *SpeechGate) Classify(f audio.AudioFrame) (bool, error) {
	if err := ValidateFrame(f); err != nil {
		return false, err
	}
	ev, err := g.session.ProcessFrame(f.Data)
	if err != nil {
		return false, fmt.Errorf("pipeline: classify frame: %w", err)
	}
	return ev.IsSpeech(), nil
}

// Reset clears the classifier's smoothing state.
func (g *SpeechGate) Reset() {
	g.session.Reset()
}

// Close releases the VAD session.
func (g *SpeechGate) Close() error {
	return g.session.Close()
}
