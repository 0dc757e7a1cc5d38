// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one sentence into a stream of PCM audio. The pipeline
// calls Synthesize once per sentence unit produced by the response streamer
// and hands the resulting [audio.Segment] to the player. The segment carries
// the sample rate of its own PCM: every backend speaks at its own fixed rate
// and the player converts per segment.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// VoiceProfile describes the voice a sentence is spoken with.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 or 0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize starts speaking text with voice and returns a segment whose
	// Audio channel yields PCM as it becomes available. The channel is closed
	// when synthesis completes, fails (see Segment.Err) or ctx is cancelled.
	//
	// A non-nil error is returned only when synthesis cannot start.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (*audio.Segment, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// ReadinessChecker is implemented by providers that can verify their backend
// before the pipeline leaves the Loading state.
type ReadinessChecker interface {
	CheckReady(ctx context.Context) error
}
