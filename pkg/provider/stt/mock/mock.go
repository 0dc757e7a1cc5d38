// Package mock provides a test double for [stt.Provider].
//
// Example:
//
//	p := &mock.Provider{Results: []string{"what time is it"}}
//	text, _ := p.Transcribe(ctx, pcm, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// PCM is a copy of the audio passed to Transcribe.
	PCM []byte
	// Cfg is the Config passed to Transcribe.
	Cfg stt.Config
}

// Provider is a mock implementation of [stt.Provider].
type Provider struct {
	mu sync.Mutex

	// Results supplies the text of successive calls. Once exhausted, Text is
	// returned.
	Results []string

	// Text is returned when Results is empty.
	Text string

	// Err, if non-nil, is returned by every call.
	Err error

	// ReadyErr is returned by CheckReady.
	ReadyErr error

	// Block, when set, makes Transcribe wait until ctx is done.
	Block bool

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall
}

var (
	_ stt.Provider         = (*Provider)(nil)
	_ stt.ReadinessChecker = (*Provider)(nil)
)

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (string, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, PCM: append([]byte(nil), pcm...), Cfg: cfg})
	block := p.Block
	err := p.Err
	text := p.Text
	if len(p.Results) > 0 {
		text = p.Results[0]
		p.Results = p.Results[1:]
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CheckReady returns ReadyErr.
func (p *Provider) CheckReady(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ReadyErr
}

// Calls returns a snapshot of the recorded calls.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.TranscribeCalls...)
}
