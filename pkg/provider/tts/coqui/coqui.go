// Package coqui implements [tts.Provider] on a self-hosted Coqui TTS server.
//
// Two server APIs are spoken:
//
//   - [APIModeStandard]: the stock "tts-server" (GET /api/tts, voices from
//     GET /details).
//   - [APIModeXTTS]: the XTTS v2 API server (POST /tts_to_audio/, voices from
//     GET /studio_speakers).
//
// Either answers with a WAV file. Its header decides the segment format, and
// the samples are forwarded while the body is still arriving.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	seg, err := p.Synthesize(ctx, "Hello there.", voice)
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// chunkBytes is the PCM size of each chunk put on a segment.
	chunkBytes = 4096
)

// APIMode selects the server API.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// endpoints of one API mode.
type endpoints struct {
	synth  string
	voices string
}

var apis = map[APIMode]endpoints{
	APIModeStandard: {synth: "/api/tts", voices: "/details"},
	APIModeXTTS:     {synth: "/tts_to_audio/", voices: "/studio_speakers"},
}

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the language sent with each request ("en" unless set).
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each HTTP request, body included.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server API, [APIModeStandard] by default.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// Provider is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if _, ok := apis[p.apiMode]; !ok {
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// xttsRequest is the body of POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements [tts.Provider]. It returns once the WAV header has
// arrived; the samples follow on the segment.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*audio.Segment, error) {
	req, err := p.synthesisRequest(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: synthesize: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("coqui: synthesize: HTTP %d", resp.StatusCode)
	}
	format, pcm, err := audio.ReadWAVHeader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("coqui: %w", err)
	}

	ch := make(chan []byte, 8)
	seg := &audio.Segment{Audio: ch, SampleRate: format.SampleRate, Channels: format.Channels, Text: text}
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		if err := stream(ctx, pcm, ch, format.Channels*audio.BytesPerSample); err != nil && ctx.Err() == nil {
			seg.SetStreamErr(fmt.Errorf("coqui: read audio: %w", err))
		}
	}()
	return seg, nil
}

// stream copies r to ch in frame-aligned chunks until EOF or ctx is done.
func stream(ctx context.Context, r io.Reader, ch chan<- []byte, block int) error {
	size := chunkBytes - chunkBytes%block
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n -= n % block; n > 0 {
			select {
			case ch <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return err
		}
	}
}

func (p *Provider) synthesisRequest(ctx context.Context, text string, voice tts.VoiceProfile) (*http.Request, error) {
	endpoint := p.serverURL + apis[p.apiMode].synth
	var (
		req *http.Request
		err error
	)
	switch p.apiMode {
	case APIModeXTTS:
		if voice.ID == "" {
			return nil, errors.New("coqui: xtts needs a voice ID")
		}
		body, merr := json.Marshal(xttsRequest{Text: text, SpeakerWav: voice.ID, Language: p.language})
		if merr != nil {
			return nil, fmt.Errorf("coqui: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		q := url.Values{"text": {text}}
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")
	return req, nil
}

// ListVoices implements [tts.Provider]. A single-speaker model is listed as
// one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	endpoint := apis[p.apiMode].voices
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s: HTTP %d", endpoint, resp.StatusCode)
	}

	if p.apiMode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
			return nil, fmt.Errorf("coqui: decode speakers: %w", err)
		}
		return voices(slices.Collect(maps.Keys(speakers)), map[string]string{"type": "studio"}), nil
	}

	var details struct {
		ModelName string   `json:"model_name"`
		Speakers  []string `json:"speakers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("coqui: decode details: %w", err)
	}
	if len(details.Speakers) == 0 {
		name := cmp.Or(details.ModelName, "default")
		return voices([]string{name}, map[string]string{"type": "single-speaker", "model_name": name}), nil
	}
	return voices(details.Speakers, map[string]string{"type": "speaker", "model_name": details.ModelName}), nil
}

// CheckReady succeeds when the voice catalogue can be fetched.
func (p *Provider) CheckReady(ctx context.Context) error {
	_, err := p.ListVoices(ctx)
	return err
}

// voices builds sorted profiles that each get their own copy of meta.
func voices(ids []string, meta map[string]string) []tts.VoiceProfile {
	ids = slices.Sorted(slices.Values(ids))
	out := make([]tts.VoiceProfile, len(ids))
	for i, id := range ids {
		out[i] = tts.VoiceProfile{ID: id, Name: id, Provider: "coqui", Metadata: maps.Clone(meta)}
	}
	return out
}
