package app_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxloop/internal/app"
	"github.com/MrWong99/voxloop/internal/config"
	"github.com/MrWong99/voxloop/internal/resilience"
	"github.com/MrWong99/voxloop/pkg/audio"
	audiomock "github.com/MrWong99/voxloop/pkg/audio/mock"
	"github.com/MrWong99/voxloop/pkg/provider/embeddings"
	embmock "github.com/MrWong99/voxloop/pkg/provider/embeddings/mock"
	"github.com/MrWong99/voxloop/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxloop/pkg/provider/llm/mock"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxloop/pkg/provider/stt/mock"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxloop/pkg/provider/tts/mock"
	"github.com/MrWong99/voxloop/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxloop/pkg/provider/vad/mock"
)

func mockRegistry() *config.Registry {
	reg := config.NewRegistry()
	for _, name := range []string{"openai", "ollama"} {
		reg.RegisterLLM(name, func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	}
	reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterTTS("coqui", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterTTS("elevenlabs", func(config.ProviderEntry) (tts.Provider, error) {
		return nil, errors.New("missing api key")
	})
	reg.RegisterVAD("silero", func(config.ProviderEntry) (vad.Engine, error) { return &vadmock.Engine{}, nil })
	reg.RegisterAudio("malgo", func(config.ProviderEntry) (audio.Backend, error) { return audiomock.NewBackend(), nil })
	reg.RegisterEmbeddings("ollama", func(config.ProviderEntry) (embeddings.Provider, error) {
		return &embmock.Provider{DimensionsValue: 768}, nil
	})
	return reg
}

func providerConfig() *config.Config {
	return &config.Config{Providers: config.ProvidersConfig{
		LLM:   config.ProviderEntry{Name: "ollama", Model: "llama3.2"},
		STT:   config.ProviderEntry{Name: "whisper"},
		TTS:   config.ProviderEntry{Name: "coqui"},
		Audio: config.ProviderEntry{Name: "malgo"},
	}}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	fb := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{ResetTimeout: time.Second}}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
		check   func(t *testing.T, ps *app.Providers)
	}{
		{
			name: "plain providers",
			check: func(t *testing.T, ps *app.Providers) {
				if _, ok := ps.LLM.(*llmmock.Provider); !ok {
					t.Errorf("LLM = %T, want unwrapped mock", ps.LLM)
				}
				if ps.VAD == nil {
					t.Error("VAD not defaulted to silero")
				}
				if ps.Embeddings != nil {
					t.Errorf("Embeddings = %T, want nil", ps.Embeddings)
				}
			},
		},
		{
			name: "fallbacks wrap providers",
			mutate: func(c *config.Config) {
				c.Providers.LLM.Fallbacks = []config.ProviderEntry{{Name: "openai", Model: "gpt-4o-mini"}}
				c.Providers.STT.Fallbacks = []config.ProviderEntry{{Name: "deepgram"}}
			},
			check: func(t *testing.T, ps *app.Providers) {
				lf, ok := ps.LLM.(*resilience.LLMFallback)
				if !ok {
					t.Fatalf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
				}
				st := lf.Status()
				if len(st) != 2 || st[0].Name != "ollama" || st[1].Name != "openai" {
					t.Errorf("LLM fallback status = %+v", st)
				}
				if _, ok := ps.STT.(*resilience.STTFallback); !ok {
					t.Errorf("STT = %T, want *resilience.STTFallback", ps.STT)
				}
				if _, ok := ps.TTS.(*ttsmock.Provider); !ok {
					t.Errorf("TTS = %T, want unwrapped mock", ps.TTS)
				}
			},
		},
		{
			name:   "embeddings",
			mutate: func(c *config.Config) { c.Providers.Embeddings = config.ProviderEntry{Name: "ollama"} },
			check: func(t *testing.T, ps *app.Providers) {
				if ps.Embeddings == nil || ps.Embeddings.Dimensions() != 768 {
					t.Errorf("Embeddings = %v", ps.Embeddings)
				}
			},
		},
		{
			name:    "unregistered provider",
			mutate:  func(c *config.Config) { c.Providers.STT.Name = "vosk" },
			wantErr: config.ErrProviderNotRegistered,
		},
		{
			name: "failing fallback",
			mutate: func(c *config.Config) {
				c.Providers.TTS.Fallbacks = []config.ProviderEntry{{Name: "elevenlabs"}}
			},
			wantErr: errAny,
		},
		{
			name:    "missing audio",
			mutate:  func(c *config.Config) { c.Providers.Audio.Name = "" },
			wantErr: errAny,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := providerConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			ps, err := app.BuildProviders(cfg, mockRegistry(), fb)
			switch {
			case tt.wantErr == nil && err != nil:
				t.Fatalf("BuildProviders() = %v", err)
			case tt.wantErr == errAny && err == nil:
				t.Fatal("BuildProviders() = nil error")
			case tt.wantErr != nil && tt.wantErr != errAny && !errors.Is(err, tt.wantErr):
				t.Fatalf("BuildProviders() = %v, want %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, ps)
			}
		})
	}
}

// errAny marks a case that only needs some error.
var errAny = errors.New("any error")

func TestPipelineConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			SilenceTimeout: 900 * time.Millisecond,
			Language:       "de",
			BargeIn:        config.BargeInConfig{Frames: 5, RequirePlayback: true},
			Wake:           config.WakeConfig{ActivationTone: true},
		},
		Memory: config.MemoryConfig{RecentTurns: 4, RecallLimit: 3},
	}
	got := app.PipelineConfig(cfg)
	if got.SilenceTimeout != 900*time.Millisecond || got.Language != "de" {
		t.Errorf("timing/language = %v / %q", got.SilenceTimeout, got.Language)
	}
	if got.BargeInThreshold != 5 || !got.BargeInRequirePlayback || !got.ActivationTone {
		t.Errorf("barge-in/tone = %+v", got)
	}
	if got.RecentTurns != 4 || got.RecallLimit != 3 {
		t.Errorf("memory = %d / %d", got.RecentTurns, got.RecallLimit)
	}

	p := app.Persona(config.PersonaConfig{
		SystemPrompt: "be brief",
		Voice:        config.VoiceConfig{Provider: "coqui", VoiceID: "p225", SpeedFactor: 1.2},
		Temperature:  0.4,
	})
	if p.Voice.ID != "p225" || p.Voice.Provider != "coqui" || p.Voice.SpeedFactor != 1.2 || p.Temperature != 0.4 {
		t.Errorf("Persona() = %+v", p)
	}
}
