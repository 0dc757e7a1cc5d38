// Package stt defines the Provider interface for speech-to-text backends.
//
// The voice pipeline segments speech itself, so providers here are batch
// transcribers: they receive one complete utterance of PCM16 audio and return
// its text. A provider may return an empty string when it hears nothing
// intelligible; callers decide what counts as too short.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyAudio is returned by providers when asked to transcribe no audio.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Config describes the audio format of an utterance and optional recognition
// hints.
type Config struct {
	// SampleRate of the PCM in Hz.
	SampleRate int

	// Channels of the PCM. The pipeline always sends mono.
	Channels int

	// Language is a BCP-47 tag ("en", "de-DE"). Empty lets the provider
	// auto-detect or use its configured default.
	Language string

	// Prompt is an optional vocabulary or context hint for providers that
	// support one.
	Prompt string
}

// Duration returns the length of pcm described by cfg.
func (c Config) Duration(pcm []byte) time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return time.Duration(len(pcm)/(2*c.Channels)) * time.Second / time.Duration(c.SampleRate)
}

// Provider transcribes complete utterances.
type Provider interface {
	// Transcribe returns the text spoken in pcm (16-bit signed little-endian).
	// Cancelling ctx aborts the request.
	Transcribe(ctx context.Context, pcm []byte, cfg Config) (string, error)
}

// ReadinessChecker is implemented by providers that can verify their backend
// is reachable before the first utterance arrives.
type ReadinessChecker interface {
	CheckReady(ctx context.Context) error
}
