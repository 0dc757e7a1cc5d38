// Package silero implements [vad.Engine] with the Silero VAD ONNX model via
// github.com/streamer45/silero-vad-go. Every session owns its own detector,
// so the recurrent model state of one stream never leaks into another.
//
// Building this package needs cgo and the ONNX Runtime C library on
// LIBRARY_PATH and C_INCLUDE_PATH. The model file (silero_vad.onnx) is loaded
// from disk once per session.
package silero

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/voxloop/pkg/provider/vad"
)

// DefaultModelPath is used when no model path is configured.
const DefaultModelPath = "models/silero_vad.onnx"

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("silero: session closed")

var _ vad.Engine = (*Engine)(nil)

// detector is the part of [speech.Detector] a session drives.
type detector interface {
	Detect(pcm []float32) ([]speech.Segment, error)
	Reset() error
	Destroy() error
}

// Engine creates Silero sessions. It is safe for concurrent use.
type Engine struct {
	modelPath    string
	minSilenceMs int
	speechPadMs  int

	newDetector func(speech.DetectorConfig) (detector, error)
}

// Option configures an [Engine].
type Option func(*Engine)

// WithMinSilence sets how long the model must hear silence before it ends a
// segment. The default of 0 ends it on the first quiet frame and leaves
// silence timing to the caller.
func WithMinSilence(ms int) Option {
	return func(e *Engine) {
		if ms > 0 {
			e.minSilenceMs = ms
		}
	}
}

// WithSpeechPad widens the segments the model reports by ms on each side.
func WithSpeechPad(ms int) Option {
	return func(e *Engine) {
		if ms > 0 {
			e.speechPadMs = ms
		}
	}
}

// New returns an Engine loading the model at modelPath, or
// [DefaultModelPath] when it is empty.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		modelPath = DefaultModelPath
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("silero: model: %w", err)
	}
	e := &Engine{
		modelPath: modelPath,
		newDetector: func(cfg speech.DetectorConfig) (detector, error) {
			return speech.NewDetector(cfg)
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// windowSamples is the only frame length the model accepts per rate.
var windowSamples = map[int]int{8000: 256, 16000: 512}

// NewSession implements [vad.Engine]. Frames must be exactly one model
// window (32 ms). The model ends speech 0.15 below SpeechThreshold, so
// SilenceThreshold is not used.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	window, ok := windowSamples[cfg.SampleRate]
	if !ok {
		return nil, fmt.Errorf("silero: unsupported sample rate %d Hz", cfg.SampleRate)
	}
	if n := cfg.SampleRate * cfg.FrameSizeMs / 1000; n != window {
		return nil, fmt.Errorf("silero: frame of %d ms is %d samples, model window is %d", cfg.FrameSizeMs, n, window)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold >= 1 {
		return nil, fmt.Errorf("silero: speech threshold %.2f out of range (0, 1)", cfg.SpeechThreshold)
	}

	det, err := e.newDetector(speech.DetectorConfig{
		ModelPath:            e.modelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            float32(cfg.SpeechThreshold),
		MinSilenceDurationMs: e.minSilenceMs,
		SpeechPadMs:          e.speechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return &session{
		det:        det,
		frameBytes: window * 2,
		// Detect only infers on a window that is followed by at least one
		// more sample, so the buffer carries a trailing zero.
		samples: make([]float32, window+1),
	}, nil
}

type session struct {
	det        detector
	frameBytes int
	samples    []float32

	mu       sync.Mutex
	speaking bool
	closed   bool

	closeOnce sync.Once
	closeErr  error
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, ErrSessionClosed
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("silero: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	pcmToFloat32(frame, s.samples)
	segs, err := s.det.Detect(s.samples)
	if err != nil {
		return vad.VADEvent{}, fmt.Errorf("silero: detect: %w", err)
	}
	return s.advance(segs), nil
}

// advance folds the segment boundaries the detector reported for one frame
// into a per-frame event. An open segment means speech; a segment with an
// end means it stopped.
func (s *session) advance(segs []speech.Segment) vad.VADEvent {
	speaking := s.speaking
	for _, seg := range segs {
		speaking = seg.SpeechEndAt == 0
	}

	var ev vad.VADEvent
	switch {
	case speaking && !s.speaking:
		ev = vad.VADEvent{Type: vad.VADSpeechStart, Probability: 1}
	case speaking:
		ev = vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 1}
	case s.speaking:
		ev = vad.VADEvent{Type: vad.VADSpeechEnd}
	default:
		ev = vad.VADEvent{Type: vad.VADSilence}
	}
	s.speaking = speaking
	return ev
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	if s.closed {
		return
	}
	if err := s.det.Reset(); err != nil {
		slog.Warn("silero: reset detector", "err", err)
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.closeErr = s.det.Destroy()
	})
	return s.closeErr
}

// pcmToFloat32 decodes little-endian PCM16 into dst scaled to [-1, 1).
// Entries of dst past the decoded samples are left untouched.
func pcmToFloat32(pcm []byte, dst []float32) {
	for i := 0; i+1 < len(pcm) && i/2 < len(dst); i += 2 {
		dst[i/2] = float32(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768
	}
}
