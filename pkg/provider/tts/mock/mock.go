// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{PCM: make([]byte, 3200), SampleRate: 16000}
//	seg, _ := p.Synthesize(ctx, "Hello.", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// PCM is the audio returned for every sentence.
	PCM []byte

	// SampleRate of PCM. Defaults to 16000 when zero.
	SampleRate int

	// ChunkSize splits PCM into chunks of this many bytes. Zero sends it whole.
	ChunkSize int

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// StreamErr, if non-nil, is attached to every returned segment.
	StreamErr error

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// ReadyErr is returned by CheckReady.
	ReadyErr error

	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns a buffered segment of PCM.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*audio.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	rate := p.SampleRate
	if rate == 0 {
		rate = 16000
	}
	seg := audio.NewSegment(append([]byte(nil), p.PCM...), rate, 1, p.ChunkSize)
	seg.Text = text
	if p.StreamErr != nil {
		seg.SetStreamErr(p.StreamErr)
	}
	return seg, nil
}

// ListVoices returns Voices.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, nil
}

// CheckReady returns ReadyErr.
func (p *Provider) CheckReady(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ReadyErr
}

// Texts returns the sentences synthesized so far, in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

var (
	_ tts.Provider         = (*Provider)(nil)
	_ tts.ReadinessChecker = (*Provider)(nil)
)
