package resilience

import (
	"context"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several TTS
// backends. Each backend speaks with its own voice, so the voice profile of
// a sentence is only honoured by the backend it belongs to; the others fall
// back to their default voice.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
	names map[tts.Provider]string
}

var (
	_ tts.Provider         = (*TTSFallback)(nil)
	_ tts.ReadinessChecker = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
		names: map[tts.Provider]string{primary: primaryName},
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
	f.names[provider] = name
}

// Status reports the breaker state of every backend.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }

// Synthesize starts synthesis on the first healthy provider. Only starting
// the stream is covered by failover; a mid-stream failure is reported
// through the segment's Err.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*audio.Segment, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (*audio.Segment, error) {
		v := voice
		if voice.Provider != "" && voice.Provider != f.names[p] {
			v = tts.VoiceProfile{SpeedFactor: voice.SpeedFactor}
		}
		return p.Synthesize(ctx, text, v)
	})
}

// ListVoices returns the voices of the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// CheckReady succeeds when at least one backend is ready. Backends without
// a readiness check count as ready.
func (f *TTSFallback) CheckReady(ctx context.Context) error {
	return f.group.ReadyAny(ctx, func(ctx context.Context, p tts.Provider) error {
		if rc, ok := p.(tts.ReadinessChecker); ok {
			return rc.CheckReady(ctx)
		}
		return nil
	})
}
