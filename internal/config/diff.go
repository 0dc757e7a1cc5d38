package config

import "slices"

// ConfigDiff describes what changed between two configs. Persona and log
// level changes are applied live; everything else needs a restart.
type ConfigDiff struct {
	SystemPromptChanged bool
	ApologyChanged      bool
	VoiceChanged        bool

	// GenerationChanged covers history_turns, temperature and max_tokens.
	GenerationChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the sections whose changes are ignored until
	// the process restarts.
	RestartRequired []string
}

// PersonaChanged reports whether any hot-reloadable persona field changed.
func (d ConfigDiff) PersonaChanged() bool {
	return d.SystemPromptChanged || d.ApologyChanged || d.VoiceChanged || d.GenerationChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	op, np := old.Persona, new.Persona
	d.SystemPromptChanged = op.SystemPrompt != np.SystemPrompt
	d.ApologyChanged = op.Apology != np.Apology
	d.VoiceChanged = op.Voice != np.Voice
	d.GenerationChanged = op.HistoryTurns != np.HistoryTurns ||
		op.Temperature != np.Temperature ||
		op.MaxTokens != np.MaxTokens

	if old.Server.ListenAddr != new.Server.ListenAddr || !equalTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !equalProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !equalPipeline(old.Pipeline, new.Pipeline) {
		d.RestartRequired = append(d.RestartRequired, "pipeline")
	}
	if old.Memory != new.Memory {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}
	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalPipeline(a, b PipelineConfig) bool {
	return slices.Equal(a.Wake.Phrases, b.Wake.Phrases) &&
		a.Wake.Enabled == b.Wake.Enabled &&
		a.Wake.ActivationTone == b.Wake.ActivationTone &&
		a.BargeIn == b.BargeIn &&
		a.SilenceTimeout == b.SilenceTimeout &&
		a.MinSpeech == b.MinSpeech &&
		a.ListenTimeout == b.ListenTimeout &&
		a.MaxUtterance == b.MaxUtterance &&
		a.PollInterval == b.PollInterval &&
		a.EchoTail == b.EchoTail &&
		a.SpeechThreshold == b.SpeechThreshold &&
		a.SilenceThreshold == b.SilenceThreshold &&
		a.MinTranscriptChars == b.MinTranscriptChars &&
		a.Language == b.Language &&
		a.InputGain == b.InputGain &&
		a.AutoGainTarget == b.AutoGainTarget
}

func equalProviders(a, b ProvidersConfig) bool {
	return equalEntry(a.LLM, b.LLM) &&
		equalEntry(a.STT, b.STT) &&
		equalEntry(a.TTS, b.TTS) &&
		equalEntry(a.VAD, b.VAD) &&
		equalEntry(a.Embeddings, b.Embeddings) &&
		equalEntry(a.Audio, b.Audio)
}

func equalEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || !equalOption(v, w) {
			return false
		}
	}
	return slices.EqualFunc(a.Fallbacks, b.Fallbacks, equalEntry)
}

// equalOption compares the scalar values YAML decodes into; nested values
// are treated as changed.
func equalOption(a, b any) bool {
	switch a.(type) {
	case string, int, float64, bool, nil:
		return a == b
	}
	return false
}
