// Package openai implements [embeddings.Provider] on the OpenAI embeddings
// endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxloop/pkg/provider/embeddings"
)

// DefaultModel is used when New gets an empty model name.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Provider is safe for concurrent use.
type Provider struct {
	client oai.Client
	model  string
	dims   int
}

type settings struct {
	req  []option.RequestOption
	dims int
}

// Option configures a Provider.
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.req = append(s.req, option.WithBaseURL(url)) }
}

// WithTimeout bounds every HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.req = append(s.req, option.WithHTTPClient(&http.Client{Timeout: d})) }
}

// WithDimensions asks a text-embedding-3 model for shortened vectors of n
// components.
func WithDimensions(n int) Option {
	return func(s *settings) { s.dims = n }
}

// New creates a Provider. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	s := settings{req: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(&s)
	}
	if s.dims < 0 {
		return nil, fmt.Errorf("openai embeddings: dimensions must be positive, got %d", s.dims)
	}
	return &Provider{client: oai.NewClient(s.req...), model: model, dims: s.dims}, nil
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	params := oai.EmbeddingNewParams{
		Model:          p.model,
		Input:          oai.EmbeddingNewParamsInputUnion{OfString: oai.String(text)},
		EncodingFormat: oai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.dims > 0 {
		params.Dimensions = oai.Int(int64(p.dims))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: response has no data")
	}
	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions implements [embeddings.Provider].
func (p *Provider) Dimensions() int {
	if p.dims > 0 {
		return p.dims
	}
	if strings.Contains(strings.ToLower(p.model), "3-large") {
		return 3072
	}
	return 1536
}

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return p.model }
