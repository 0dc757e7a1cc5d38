// Package energy is a pure-Go [vad.Engine] that classifies frames by RMS
// energy with hysteresis. It needs no model file or cgo. Loud non-speech
// noise counts as speech; use the silero engine where that matters.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/vad"
)

// DefaultReferenceRMS is the RMS mapped to probability 1.0.
const DefaultReferenceRMS = 0.04

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("energy: session closed")

// Engine creates energy-based VAD sessions.
type Engine struct {
	referenceRMS float64
}

var _ vad.Engine = (*Engine)(nil)

// Option configures an [Engine].
type Option func(*Engine)

// WithReferenceRMS sets the RMS level treated as certain speech. Lower
// values make the detector more sensitive.
func WithReferenceRMS(rms float64) Option {
	return func(e *Engine) {
		if rms > 0 {
			e.referenceRMS = rms
		}
	}
}

// New returns an energy [Engine].
func New(opts ...Option) *Engine {
	e := &Engine{referenceRMS: DefaultReferenceRMS}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame geometry %d Hz / %d ms", cfg.SampleRate, cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %.2f out of range (0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %.2f must be within [0, %.2f]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	return &session{cfg: cfg, frameBytes: cfg.FrameBytes(), ref: e.referenceRMS}, nil
}

type session struct {
	cfg        vad.Config
	frameBytes int
	ref        float64

	mu       sync.Mutex
	inSpeech bool
	closed   bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, ErrSessionClosed
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	p := math.Min(audio.RMS(frame)/s.ref, 1)
	ev := vad.VADEvent{Probability: p}
	switch {
	case !s.inSpeech && p >= s.cfg.SpeechThreshold:
		s.inSpeech = true
		ev.Type = vad.VADSpeechStart
	case s.inSpeech && p >= s.cfg.SilenceThreshold:
		ev.Type = vad.VADSpeechContinue
	case s.inSpeech:
		s.inSpeech = false
		ev.Type = vad.VADSpeechEnd
	default:
		ev.Type = vad.VADSilence
	}
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	s.inSpeech = false
	s.mu.Unlock()
}

func (s *session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
