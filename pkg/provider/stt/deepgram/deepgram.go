// Package deepgram implements [stt.Provider] on Deepgram's live
// transcription WebSocket.
//
// One utterance uses one connection. The PCM is written in 100 ms chunks
// while results are read concurrently; CloseStream makes the server flush and
// hang up, and the final results seen until then form the transcript.
package deepgram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// chunkBytes is 100 ms of 16 kHz mono PCM16.
	chunkBytes = 3200
)

var closeStream = []byte(`{"type":"CloseStream"}`)

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the model, "nova-3" unless set.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when a request names none.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint replaces the listen URL. Readiness checks go to the same host.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithKeywords boosts vocabulary, each entry in "word:intensifier" form.
func WithKeywords(keywords ...string) Option {
	return func(p *Provider) { p.keywords = append(p.keywords, keywords...) }
}

// Provider is safe for concurrent use.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
	keywords []string
	http     *http.Client
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: defaultEndpoint,
		http:     &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Provider) authHeader() http.Header {
	return http.Header{"Authorization": {"Token " + p.apiKey}}
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (string, error) {
	if len(pcm) == 0 {
		return "", stt.ErrEmptyAudio
	}
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return "", fmt.Errorf("deepgram: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: p.authHeader()})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	var finals []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return upload(gctx, conn, pcm) })
	g.Go(func() error {
		var err error
		finals, err = collect(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if len(finals) == 0 {
			return "", err
		}
	}
	return strings.Join(finals, " "), nil
}

// upload writes pcm in chunks and then asks the server to flush.
func upload(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for chunk := range chunks(pcm, chunkBytes) {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, closeStream); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

func chunks(b []byte, n int) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for len(b) > 0 {
			k := min(n, len(b))
			if !yield(b[:k]) {
				return
			}
			b = b[k:]
		}
	}
}

// collect reads until the server closes the socket and returns the non-empty
// final transcripts in order. The results read before a failure are returned
// with it.
func collect(ctx context.Context, conn *websocket.Conn) ([]string, error) {
	var finals []string
	for {
		_, msg, err := conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return finals, nil
		}
		if err != nil {
			return finals, fmt.Errorf("deepgram: read results: %w", err)
		}
		if text, final, ok := parseDeepgramResponse(msg); ok && final && text != "" {
			finals = append(finals, text)
		}
	}
}

// buildURL returns the listen URL for one utterance in cfg's format.
func (p *Provider) buildURL(cfg stt.Config) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", cmp.Or(cfg.Language, p.language))
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cmp.Or(max(cfg.SampleRate, 0), defaultSampleRate)))
	q.Set("channels", strconv.Itoa(max(cfg.Channels, 1)))
	for _, kw := range p.keywords {
		q.Add("keywords", kw)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CheckReady verifies the key against the projects endpoint of the listen
// host.
func (p *Provider) CheckReady(ctx context.Context) error {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return fmt.Errorf("deepgram: %w", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	u.Path, u.RawQuery = "/v1/projects", ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("deepgram: %w", err)
	}
	req.Header = p.authHeader()
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("deepgram: check ready: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deepgram: check ready: HTTP %d", resp.StatusCode)
	}
	return nil
}

// deepgramResponse is the part of a Results message that is read.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse returns the top alternative of a Results message. ok
// is false for any other message.
func parseDeepgramResponse(data []byte) (text string, final, ok bool) {
	var resp deepgramResponse
	if json.Unmarshal(data, &resp) != nil || resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return strings.TrimSpace(resp.Channel.Alternatives[0].Transcript), resp.IsFinal, true
}
