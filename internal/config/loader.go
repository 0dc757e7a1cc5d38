package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "whisper", "whisper-native"},
	"tts":        {"elevenlabs", "coqui"},
	"vad":        {"silero", "energy"},
	"embeddings": {"openai", "ollama"},
	"audio":      {"malgo", "portaudio"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown keys are rejected. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills the provider names that have an obvious local choice.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "silero"
	}
	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "malgo"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// The three conversational stages are mandatory.
	for kind, entry := range map[string]ProviderEntry{
		"llm": cfg.Providers.LLM,
		"stt": cfg.Providers.STT,
		"tts": cfg.Providers.TTS,
	} {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", kind))
		}
	}
	errs = append(errs, validateEntry("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateEntry("stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("tts", cfg.Providers.TTS)...)
	errs = append(errs, validateEntry("vad", cfg.Providers.VAD)...)
	errs = append(errs, validateEntry("embeddings", cfg.Providers.Embeddings)...)
	errs = append(errs, validateEntry("audio", cfg.Providers.Audio)...)

	errs = append(errs, validatePipeline(&cfg.Pipeline)...)

	p := cfg.Persona
	if p.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("persona.history_turns %d must not be negative", p.HistoryTurns))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("persona.temperature %.2f is out of range [0, 2]", p.Temperature))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("persona.max_tokens %d must not be negative", p.MaxTokens))
	}
	if p.Voice.SpeedFactor != 0 && (p.Voice.SpeedFactor < 0.5 || p.Voice.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("persona.voice.speed_factor %.2f is out of range [0.5, 2.0]", p.Voice.SpeedFactor))
	}
	if p.Voice.Provider != "" && cfg.Providers.TTS.Name != "" && !usesTTS(cfg.Providers.TTS, p.Voice.Provider) {
		slog.Warn("persona voice provider is not among the configured TTS providers",
			"voice_provider", p.Voice.Provider,
			"tts_provider", cfg.Providers.TTS.Name,
		)
	}

	m := cfg.Memory
	if m.RecentTurns < 0 {
		errs = append(errs, fmt.Errorf("memory.recent_turns %d must not be negative", m.RecentTurns))
	}
	if m.RecallLimit < 0 {
		errs = append(errs, fmt.Errorf("memory.recall_limit %d must not be negative", m.RecallLimit))
	}
	if m.Capacity < 0 {
		errs = append(errs, fmt.Errorf("memory.capacity %d must not be negative", m.Capacity))
	}
	if m.RecallLimit > 0 && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("memory.recall_limit is set but providers.embeddings is not configured; recall is disabled")
	}
	if cfg.Providers.Embeddings.Name != "" && m.PostgresDSN != "" && m.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("memory.embedding_dimensions is required when providers.embeddings and memory.postgres_dsn are set"))
	}

	return errors.Join(errs...)
}

func validateEntry(kind string, entry ProviderEntry) []error {
	validateProviderName(kind, entry.Name)
	if len(entry.Fallbacks) == 0 {
		return nil
	}
	var errs []error
	switch kind {
	case "llm", "stt", "tts":
	default:
		return []error{fmt.Errorf("providers.%s.fallbacks is not supported", kind)}
	}
	for i, fb := range entry.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] must not declare fallbacks of its own", kind, i))
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

func validatePipeline(p *PipelineConfig) []error {
	var errs []error
	for name, d := range map[string]int64{
		"silence_timeout": int64(p.SilenceTimeout),
		"min_speech":      int64(p.MinSpeech),
		"listen_timeout":  int64(p.ListenTimeout),
		"max_utterance":   int64(p.MaxUtterance),
		"poll_interval":   int64(p.PollInterval),
		"echo_tail":       int64(p.EchoTail),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("pipeline.%s must not be negative", name))
		}
	}
	for name, v := range map[string]float64{
		"speech_threshold":          p.SpeechThreshold,
		"silence_threshold":         p.SilenceThreshold,
		"barge_in.speech_threshold": p.BargeIn.SpeechThreshold,
		"barge_in.min_level":        p.BargeIn.MinLevel,
		"auto_gain_target":          p.AutoGainTarget,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("pipeline.%s %.2f is out of range [0, 1]", name, v))
		}
	}
	if p.SpeechThreshold > 0 && p.SilenceThreshold > p.SpeechThreshold {
		errs = append(errs, fmt.Errorf("pipeline.silence_threshold %.2f must not exceed speech_threshold %.2f", p.SilenceThreshold, p.SpeechThreshold))
	}
	if p.InputGain < 0 {
		errs = append(errs, fmt.Errorf("pipeline.input_gain %.2f must not be negative", p.InputGain))
	}
	if p.BargeIn.Frames < 0 {
		errs = append(errs, fmt.Errorf("pipeline.barge_in.frames %d must not be negative", p.BargeIn.Frames))
	}
	if p.MinTranscriptChars < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_transcript_chars %d must not be negative", p.MinTranscriptChars))
	}
	if p.Wake.Enabled {
		if !slices.ContainsFunc(p.Wake.Phrases, func(s string) bool { return strings.TrimSpace(s) != "" }) {
			errs = append(errs, errors.New("pipeline.wake.phrases must name at least one phrase when wake is enabled"))
		}
	}
	return errs
}

func usesTTS(entry ProviderEntry, name string) bool {
	if entry.Name == name {
		return true
	}
	return slices.ContainsFunc(entry.Fallbacks, func(fb ProviderEntry) bool { return fb.Name == name })
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
