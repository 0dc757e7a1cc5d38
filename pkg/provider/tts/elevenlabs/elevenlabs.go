// Package elevenlabs implements [tts.Provider] on the ElevenLabs stream-input
// WebSocket API.
//
// Every sentence gets its own connection: the text is sent, the input is
// closed, and the base64 PCM frames the service answers with are decoded onto
// the returned segment as they arrive.
package elevenlabs

import (
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

const (
	defaultWSBase   = "wss://api.elevenlabs.io"
	defaultHTTPBase = "https://api.elevenlabs.io"
	defaultModel    = "eleven_flash_v2_5"
	defaultFormat   = "pcm_16000"

	// readLimit bounds one server frame. A second of 44.1 kHz PCM in base64
	// stays well below it.
	readLimit = 4 << 20
)

var _ tts.Provider = (*Provider)(nil)

// VoiceSettings tune the generated speech. Zero values are sent as-is.
type VoiceSettings struct {
	Stability       float64
	SimilarityBoost float64
}

// DefaultVoiceSettings are used unless [WithVoiceSettings] is given.
var DefaultVoiceSettings = VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model ID, "eleven_flash_v2_5" unless set.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat selects one of the raw "pcm_<rate>" formats. Segments
// carry the matching sample rate.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.format = format }
}

// WithVoiceSettings replaces [DefaultVoiceSettings].
func WithVoiceSettings(vs VoiceSettings) Option {
	return func(p *Provider) { p.settings = vs }
}

// WithBaseURLs points the provider at other WebSocket and REST hosts.
func WithBaseURLs(wsBase, httpBase string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimRight(wsBase, "/")
		p.httpBase = strings.TrimRight(httpBase, "/")
	}
}

// Provider is safe for concurrent use.
type Provider struct {
	apiKey   string
	model    string
	format   string
	rate     int
	settings VoiceSettings
	wsBase   string
	httpBase string
	http     *http.Client
}

// New returns a Provider for apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		format:   defaultFormat,
		settings: DefaultVoiceSettings,
		wsBase:   defaultWSBase,
		httpBase: defaultHTTPBase,
		http:     &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := sampleRateOf(p.format)
	if err != nil {
		return nil, err
	}
	p.rate = rate
	return p, nil
}

// inbound is a client message of the stream-input protocol. An empty Text
// closes the input.
type inbound struct {
	Text          string     `json:"text"`
	VoiceSettings *wireVoice `json:"voice_settings,omitempty"`
	XiAPIKey      string     `json:"xi_api_key,omitempty"`
	Flush         bool       `json:"flush,omitempty"`
}

type wireVoice struct {
	Stability       float64  `json:"stability"`
	SimilarityBoost float64  `json:"similarity_boost"`
	Speed           *float64 `json:"speed,omitempty"`
}

// outbound is a server message.
type outbound struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize implements [tts.Provider]. It returns once the text has been
// sent; audio follows on the segment.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*audio.Segment, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}
	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	if err := p.send(ctx, conn, text, voice.SpeedFactor); err != nil {
		conn.Close(websocket.StatusInternalError, "send failed")
		return nil, err
	}

	ch := make(chan []byte, 64)
	seg := &audio.Segment{Audio: ch, SampleRate: p.rate, Channels: 1, Text: text}
	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "")
		if err := receive(ctx, conn, ch); err != nil && ctx.Err() == nil {
			seg.SetStreamErr(err)
		}
	}()
	return seg, nil
}

// send writes the opening message, the flushed text and the end of input.
func (p *Provider) send(ctx context.Context, conn *websocket.Conn, text string, speed float64) error {
	vs := &wireVoice{Stability: p.settings.Stability, SimilarityBoost: p.settings.SimilarityBoost}
	if speed > 0 {
		vs.Speed = &speed
	}
	msgs := []inbound{
		{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey},
		{Text: text + " ", Flush: true},
		{},
	}
	for _, m := range msgs {
		if err := writeMessage(ctx, conn, m); err != nil {
			return fmt.Errorf("elevenlabs: send: %w", err)
		}
	}
	return nil
}

func writeMessage(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// receive decodes server messages onto ch until the final one. A normal close
// before it ends the stream without error.
func receive(ctx context.Context, conn *websocket.Conn, ch chan<- []byte) error {
	for {
		_, data, err := conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil
		}
		if err != nil {
			return fmt.Errorf("elevenlabs: read: %w", err)
		}

		var msg outbound
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("elevenlabs: ignoring unparsable message", "err", err)
			continue
		}
		if msg.Error != "" {
			return fmt.Errorf("elevenlabs: %s", cmp.Or(msg.Message, msg.Error))
		}
		if msg.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			select {
			case ch <- pcm:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if msg.IsFinal {
			return nil
		}
	}
}

// ListVoices implements [tts.Provider].
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs: list voices: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var body struct {
		Voices []struct {
			VoiceID  string            `json:"voice_id"`
			Name     string            `json:"name"`
			Category string            `json:"category"`
			Labels   map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}

	out := make([]tts.VoiceProfile, 0, len(body.Voices))
	for _, v := range body.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = map[string]string{}
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, tts.VoiceProfile{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	return out, nil
}

// CheckReady succeeds when the key can list voices.
func (p *Provider) CheckReady(ctx context.Context) error {
	_, err := p.ListVoices(ctx)
	return err
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{"model_id": {p.model}, "output_format": {p.format}}
	return p.wsBase + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

// sampleRateOf parses the rate out of "pcm_<rate>".
func sampleRateOf(format string) (int, error) {
	digits, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw PCM", format)
	}
	rate, err := strconv.Atoi(digits)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: bad sample rate in output format %q", format)
	}
	return rate, nil
}
