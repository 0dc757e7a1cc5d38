package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxloop/internal/config"
	"github.com/MrWong99/voxloop/internal/pipeline"
	"github.com/MrWong99/voxloop/internal/resilience"
	"github.com/MrWong99/voxloop/pkg/provider/llm"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// BuildProviders instantiates every provider named in cfg through reg. LLM,
// STT and TTS entries that list fallbacks are wrapped in the matching
// resilience fallback so a failing backend hands over to the next one.
//
// The LLM, STT, TTS and audio slots are required; a missing or unregistered
// name there is an error. Embeddings are optional. An empty VAD name selects
// the built-in "silero" engine.
func BuildProviders(cfg *config.Config, reg *config.Registry, fb resilience.FallbackConfig) (*Providers, error) {
	pc := cfg.Providers
	ps := &Providers{}
	var errs []error

	if p, err := withFallbacks(pc.LLM, reg.CreateLLM, func(primary llm.Provider) fallbackAdder[llm.Provider] {
		return resilience.NewLLMFallback(primary, pc.LLM.Name, fb)
	}); err != nil {
		errs = append(errs, fmt.Errorf("llm: %w", err))
	} else {
		ps.LLM = p
	}

	if p, err := withFallbacks(pc.STT, reg.CreateSTT, func(primary stt.Provider) fallbackAdder[stt.Provider] {
		return resilience.NewSTTFallback(primary, pc.STT.Name, fb)
	}); err != nil {
		errs = append(errs, fmt.Errorf("stt: %w", err))
	} else {
		ps.STT = p
	}

	if p, err := withFallbacks(pc.TTS, reg.CreateTTS, func(primary tts.Provider) fallbackAdder[tts.Provider] {
		return resilience.NewTTSFallback(primary, pc.TTS.Name, fb)
	}); err != nil {
		errs = append(errs, fmt.Errorf("tts: %w", err))
	} else {
		ps.TTS = p
	}

	vadEntry := pc.VAD
	if vadEntry.Name == "" {
		vadEntry.Name = "silero"
	}
	if p, err := reg.CreateVAD(vadEntry); err != nil {
		errs = append(errs, fmt.Errorf("vad: %w", err))
	} else {
		ps.VAD = p
		slog.Info("provider created", "kind", "vad", "name", vadEntry.Name)
	}

	if pc.Audio.Name == "" {
		errs = append(errs, errors.New("audio: no backend configured"))
	} else if p, err := reg.CreateAudio(pc.Audio); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	} else {
		ps.Audio = p
		slog.Info("provider created", "kind", "audio", "name", pc.Audio.Name)
	}

	if name := pc.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(pc.Embeddings)
		if err != nil {
			errs = append(errs, fmt.Errorf("embeddings: %w", err))
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name, "dimensions", p.Dimensions())
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	return ps, nil
}

// fallbackAdder is the part of the resilience wrappers BuildProviders needs.
type fallbackAdder[T any] interface {
	AddFallback(name string, provider T)
}

// withFallbacks creates the provider for entry and, when the entry lists
// fallbacks, wraps it with wrap and registers each fallback in order.
func withFallbacks[T any](entry config.ProviderEntry, create func(config.ProviderEntry) (T, error), wrap func(T) fallbackAdder[T]) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, errors.New("no provider configured")
	}
	primary, err := create(entry)
	if err != nil {
		return zero, err
	}
	slog.Info("provider created", "name", entry.Name, "model", entry.Model)
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}

	group := wrap(primary)
	for _, fe := range entry.Fallbacks {
		p, err := create(fe)
		if err != nil {
			return zero, fmt.Errorf("fallback %q: %w", fe.Name, err)
		}
		group.AddFallback(fe.Name, p)
		slog.Info("fallback provider added", "primary", entry.Name, "name", fe.Name, "model", fe.Model)
	}
	wrapped, ok := group.(T)
	if !ok {
		return zero, fmt.Errorf("fallback wrapper %T does not implement %T", group, zero)
	}
	return wrapped, nil
}

// PipelineConfig converts the pipeline section of cfg to the orchestrator's
// config.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	p := cfg.Pipeline
	return pipeline.Config{
		SilenceTimeout:         p.SilenceTimeout,
		MinSpeech:              p.MinSpeech,
		ListenTimeout:          p.ListenTimeout,
		MaxUtterance:           p.MaxUtterance,
		PollInterval:           p.PollInterval,
		EchoTail:               p.EchoTail,
		SpeechThreshold:        p.SpeechThreshold,
		SilenceThreshold:       p.SilenceThreshold,
		BargeInThreshold:       p.BargeIn.Frames,
		BargeInSpeechThreshold: p.BargeIn.SpeechThreshold,
		BargeInRequirePlayback: p.BargeIn.RequirePlayback,
		BargeInMinLevel:        p.BargeIn.MinLevel,
		MinTranscriptChars:     p.MinTranscriptChars,
		Language:               p.Language,
		ActivationTone:         p.Wake.ActivationTone,
		InputGain:              p.InputGain,
		AutoGainTarget:         p.AutoGainTarget,
		RecentTurns:            cfg.Memory.RecentTurns,
		RecallLimit:            cfg.Memory.RecallLimit,
	}
}

// Persona converts a persona section to the orchestrator's persona.
func Persona(pc config.PersonaConfig) pipeline.Persona {
	return pipeline.Persona{
		SystemPrompt: pc.SystemPrompt,
		Apology:      pc.Apology,
		Voice: tts.VoiceProfile{
			ID:          pc.Voice.VoiceID,
			Provider:    pc.Voice.Provider,
			SpeedFactor: pc.Voice.SpeedFactor,
		},
		HistoryTurns: pc.HistoryTurns,
		Temperature:  pc.Temperature,
		MaxTokens:    pc.MaxTokens,
	}
}
