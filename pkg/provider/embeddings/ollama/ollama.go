// Package ollama implements [embeddings.Provider] on the /api/embed endpoint
// of an Ollama server.
//
//	p, err := ollama.New("", "nomic-embed-text") // http://localhost:11434
//	vec, err := p.Embed(ctx, "what time is it")
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxloop/pkg/provider/embeddings"
)

// DefaultBaseURL is where a local Ollama listens by default.
const DefaultBaseURL = "http://localhost:11434"

// probeTimeout bounds the request Dimensions sends for unknown models.
const probeTimeout = 10 * time.Second

var _ embeddings.Provider = (*Provider)(nil)

// knownModels lists vector sizes of common embedding models by name prefix.
var knownModels = []struct {
	prefix string
	dims   int
}{
	{"nomic-embed-text", 768},
	{"mxbai-embed-large", 1024},
	{"all-minilm", 384},
	{"snowflake-arctic-embed", 1024},
	{"bge-m3", 1024},
}

// Provider is safe for concurrent use.
//
// The vector size is taken from [WithDimensions], else from knownModels,
// else learned from the first successful Embed.
type Provider struct {
	endpoint  string
	model     string
	keepAlive string
	client    *http.Client

	mu   sync.Mutex
	dims int
}

type settings struct {
	client    *http.Client
	dims      int
	keepAlive string
}

// Option configures a Provider.
type Option func(*settings)

// WithTimeout bounds every HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.client = &http.Client{Timeout: d} }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.client = c }
}

// WithDimensions fixes the reported vector size.
func WithDimensions(n int) Option {
	return func(s *settings) { s.dims = n }
}

// WithKeepAlive sets how long Ollama keeps the model loaded after a request,
// in its duration syntax ("5m", "-1").
func WithKeepAlive(d string) Option {
	return func(s *settings) { s.keepAlive = d }
}

// New creates a Provider. An empty baseURL selects [DefaultBaseURL].
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	s := settings{client: &http.Client{}}
	for _, o := range opts {
		o(&s)
	}
	p := &Provider{
		endpoint:  strings.TrimRight(baseURL, "/") + "/api/embed",
		model:     model,
		keepAlive: s.keepAlive,
		client:    s.client,
		dims:      s.dims,
	}
	if p.dims == 0 {
		lower := strings.ToLower(model)
		for _, m := range knownModels {
			if strings.HasPrefix(lower, m.prefix) {
				p.dims = m.dims
				break
			}
		}
	}
	return p, nil
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.post(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	p.mu.Lock()
	if p.dims == 0 {
		p.dims = len(vec)
	}
	p.mu.Unlock()
	return vec, nil
}

// Dimensions implements [embeddings.Provider]. When the size is still unknown
// it embeds a probe text; 0 means the probe failed.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	d := p.dims
	p.mu.Unlock()
	if d > 0 {
		return d
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	vec, err := p.Embed(ctx, "dimension probe")
	if err != nil {
		return 0
	}
	return len(vec)
}

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return p.model }

func (p *Provider) post(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: []string{text}, KeepAlive: p.keepAlive})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out embedResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	switch {
	case resp.StatusCode != http.StatusOK && out.Error != "":
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, out.Error)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	case decodeErr != nil:
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	case len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0:
		return nil, errors.New("response has no embeddings")
	}
	return out.Embeddings[0], nil
}
