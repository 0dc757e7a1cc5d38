package pipeline

import "errors"

var (
	// ErrInvalidFrame is returned when a frame handed to the speech
	// classifier is not exactly 512 mono samples at 16 kHz.
	ErrInvalidFrame = errors.New("pipeline: invalid frame")

	// ErrNoSpeech is returned by [Collector.Collect] when the utterance holds
	// less speech than the configured minimum.
	ErrNoSpeech = errors.New("pipeline: not enough speech")

	// ErrNotLoaded is returned by [Orchestrator.Run] before a successful
	// [Orchestrator.Load].
	ErrNotLoaded = errors.New("pipeline: not loaded")

	// ErrAlreadyRunning is returned by [Orchestrator.Load] and
	// [Orchestrator.Run] while a run is in progress.
	ErrAlreadyRunning = errors.New("pipeline: already running")

	// ErrTextQueueFull is returned by [Orchestrator.SubmitText] when too many
	// injected messages are pending.
	ErrTextQueueFull = errors.New("pipeline: text queue full")
)
