package resilience

import (
	"context"

	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several STT
// backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var (
	_ stt.Provider         = (*STTFallback)(nil)
	_ stt.ReadinessChecker = (*STTFallback)(nil)
)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *STTFallback) Status() []EntryStatus { return f.group.Status() }

// Transcribe sends the utterance to the first healthy provider. The whole
// utterance is buffered, so a failed backend is simply retried on the next.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, pcm, cfg)
	})
}

// CheckReady succeeds when at least one backend is ready. Backends without
// a readiness check count as ready.
func (f *STTFallback) CheckReady(ctx context.Context) error {
	return f.group.ReadyAny(ctx, func(ctx context.Context, p stt.Provider) error {
		if rc, ok := p.(stt.ReadinessChecker); ok {
			return rc.CheckReady(ctx)
		}
		return nil
	})
}
