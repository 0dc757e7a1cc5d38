package pipeline

// State is the lifecycle state of the [Orchestrator]. Exactly one state is
// active at a time and only the orchestrator changes it.
type State int

const (
	// StateStopped is the initial and terminal state.
	StateStopped State = iota

	// StateLoading covers backend readiness checks. A failed Load leaves the
	// orchestrator here.
	StateLoading

	// StateIdle waits for the wake phrase or, with wake disabled, for speech.
	StateIdle

	// StateListening collects one user utterance.
	StateListening

	// StateThinking transcribes the utterance.
	StateThinking

	// StateSpeaking streams, synthesizes and plays the response while the
	// barge-in monitor watches the microphone.
	StateSpeaking
)

// String returns the lowercase identifier of s used on the wire and in
// metrics.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateLoading:
		return "loading"
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Label returns a short human-readable description of s for status displays.
func (s State) Label() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateLoading:
		return "Loading models"
	case StateIdle:
		return "Waiting for wake phrase"
	case StateListening:
		return "Listening"
	case StateThinking:
		return "Thinking"
	case StateSpeaking:
		return "Speaking"
	default:
		return "Unknown"
	}
}
