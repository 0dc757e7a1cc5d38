package pipeline

import "time"

// Default timing and threshold values applied by [Config.withDefaults].
const (
	DefaultSilenceTimeout   = 700 * time.Millisecond
	DefaultMinSpeech        = 300 * time.Millisecond
	DefaultListenTimeout    = 5 * time.Second
	DefaultMaxUtterance     = 30 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultBargeInThreshold = 3
	DefaultEchoTail         = 150 * time.Millisecond
	DefaultMinTranscript    = 2
	DefaultSpeechThreshold  = 0.5
	DefaultSilenceThreshold = 0.35
	DefaultToneFrequency    = 800.0
	DefaultToneDuration     = 150 * time.Millisecond
)

// Config tunes the orchestrator. Zero fields take the defaults above.
type Config struct {
	// SilenceTimeout is the trailing silence that ends an utterance.
	SilenceTimeout time.Duration

	// MinSpeech is the least speech an utterance needs to reach STT.
	MinSpeech time.Duration

	// ListenTimeout bounds the wait for speech onset after the wake phrase.
	ListenTimeout time.Duration

	// MaxUtterance bounds the total length of one utterance.
	MaxUtterance time.Duration

	// PollInterval bounds every frame read.
	PollInterval time.Duration

	// SpeechThreshold and SilenceThreshold configure the VAD sessions.
	SpeechThreshold  float64
	SilenceThreshold float64

	// BargeInThreshold is the number of consecutive speech frames that
	// interrupt a response.
	BargeInThreshold int

	// BargeInSpeechThreshold overrides SpeechThreshold for the barge-in
	// monitor's own VAD session. Raising it filters speaker echo.
	BargeInSpeechThreshold float64

	// BargeInRequirePlayback counts speech only while audio is actually
	// being played.
	BargeInRequirePlayback bool

	// BargeInMinLevel ignores frames whose meter level is below this floor.
	BargeInMinLevel float64

	// EchoTail is waited after an uninterrupted response before listening
	// resumes on a fresh subscription.
	EchoTail time.Duration

	// MinTranscriptChars is the shortest transcript that starts a response.
	MinTranscriptChars int

	// Language is the BCP-47 hint passed to STT.
	Language string

	// ActivationTone plays a short beep when the wake phrase is detected.
	ActivationTone bool

	// InputGain multiplies captured samples. Zero means unity gain.
	InputGain float64

	// AutoGainTarget enables capture AGC aiming for this RMS. Zero disables
	// it.
	AutoGainTarget float64

	// RecentTurns is the number of stored turns loaded into the history on
	// Load when the memory collaborator is a memory.Store.
	RecentTurns int

	// RecallLimit is the number of recollections added to the system prompt
	// when the memory collaborator is a memory.Recaller. Zero disables
	// recall.
	RecallLimit int
}

func (c Config) withDefaults() Config {
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = DefaultMinSpeech
	}
	if c.ListenTimeout <= 0 {
		c.ListenTimeout = DefaultListenTimeout
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = DefaultSpeechThreshold
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.BargeInThreshold <= 0 {
		c.BargeInThreshold = DefaultBargeInThreshold
	}
	if c.BargeInSpeechThreshold <= 0 {
		c.BargeInSpeechThreshold = c.SpeechThreshold
	}
	if c.EchoTail <= 0 {
		c.EchoTail = DefaultEchoTail
	}
	if c.MinTranscriptChars <= 0 {
		c.MinTranscriptChars = DefaultMinTranscript
	}
	return c
}

func (c Config) collectorConfig() CollectorConfig {
	return CollectorConfig{
		SilenceTimeout: c.SilenceTimeout,
		MinSpeech:      c.MinSpeech,
		ListenTimeout:  c.ListenTimeout,
		MaxUtterance:   c.MaxUtterance,
		PollInterval:   c.PollInterval,
	}
}

func (c Config) bargeInConfig() BargeInConfig {
	return BargeInConfig{
		Threshold:       c.BargeInThreshold,
		PollInterval:    c.PollInterval,
		RequirePlayback: c.BargeInRequirePlayback,
		MinLevel:        c.BargeInMinLevel,
	}
}
