// Package mock provides a test double for [embeddings.Provider].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxloop/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider returns a fixed vector, or asks EmbedFunc when set.
type Provider struct {
	mu sync.Mutex

	EmbedResult []float32
	EmbedErr    error
	// EmbedFunc overrides EmbedResult and EmbedErr.
	EmbedFunc func(text string) ([]float32, error)

	DimensionsValue int
	ModelIDValue    string

	// EmbedTexts lists the input of every Embed call.
	EmbedTexts []string
}

func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedTexts = append(p.EmbedTexts, text)
	fn, vec, err := p.EmbedFunc, p.EmbedResult, p.EmbedErr
	p.mu.Unlock()
	if fn != nil {
		return fn(text)
	}
	return vec, err
}

func (p *Provider) Dimensions() int { return p.DimensionsValue }

func (p *Provider) ModelID() string { return p.ModelIDValue }

// Texts returns a copy of EmbedTexts.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.EmbedTexts...)
}
