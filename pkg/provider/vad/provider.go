// Package vad defines the Engine interface for voice activity detection
// backends.
//
// An engine hands out stateful per-stream sessions. A session classifies one
// PCM frame at a time and keeps whatever smoothing or hysteresis state the
// backend needs between calls. ProcessFrame is synchronous and must return
// within a few milliseconds; the pipeline calls it inline for every captured
// frame.
//
// Engines must be safe for concurrent use. A SessionHandle belongs to a single
// goroutine.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate of the PCM frames passed to ProcessFrame, in Hz.
	SampleRate int

	// FrameSizeMs is the duration of each frame. Sessions reject frames of any
	// other length.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame starts
	// speech. Range [0, 1].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which ongoing speech ends.
	// Must be ≤ SpeechThreshold.
	SilenceThreshold float64
}

// FrameBytes returns the PCM16 mono byte length of one frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// SessionHandle is an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame classifies one little-endian PCM16 mono frame. It returns
	// an error when the frame length does not match the session config or the
	// backend fails.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears detection state without closing the session.
	Reset()

	// Close releases the session. Closing twice is safe.
	Close() error
}

// Engine creates VAD sessions.
type Engine interface {
	// NewSession returns a session configured by cfg, or an error when the
	// engine does not support cfg.
	NewSession(cfg Config) (SessionHandle, error)
}
