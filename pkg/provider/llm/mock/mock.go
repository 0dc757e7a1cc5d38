// Package mock is a scripted [llm.Provider] for tests.
//
//	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "It's three "}, {Text: "PM."}}}
//
// Set the fields before the first call.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voxloop/pkg/provider/llm"
)

var (
	_ llm.Provider         = (*Provider)(nil)
	_ llm.ReadinessChecker = (*Provider)(nil)
)

// Call is one recorded request. Ctx lets a test see whether the caller
// abandoned it.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers every request from its fields.
type Provider struct {
	// StreamChunks are emitted in order by StreamCompletion.
	StreamChunks []llm.Chunk
	// HoldOpen leaves the stream open after the last chunk until the request
	// context ends, like a stalled upstream.
	HoldOpen  bool
	StreamErr error

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokenCount overrides llm.EstimateTokens when positive.
	TokenCount        int
	ModelCapabilities llm.ModelCapabilities
	ReadyErr          error

	mu        sync.Mutex
	streams   []Call
	completes []Call
}

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.streams = append(p.streams, Call{Ctx: ctx, Req: req})
	p.mu.Unlock()
	if p.StreamErr != nil {
		return nil, p.StreamErr
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range p.StreamChunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if p.HoldOpen {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.completes = append(p.completes, Call{Ctx: ctx, Req: req})
	p.mu.Unlock()
	return p.CompleteResponse, p.CompleteErr
}

func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	if p.TokenCount > 0 {
		return p.TokenCount, nil
	}
	return llm.EstimateTokens(messages), nil
}

func (p *Provider) Capabilities() llm.ModelCapabilities { return p.ModelCapabilities }

func (p *Provider) CheckReady(context.Context) error { return p.ReadyErr }

// Calls returns the StreamCompletion requests seen so far.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.streams)
}

// Completions returns the Complete requests seen so far.
func (p *Provider) Completions() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.completes)
}
