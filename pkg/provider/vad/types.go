package vad

// VADEventType classifies one frame relative to the frames before it.
type VADEventType int

const (
	VADSpeechStart VADEventType = iota
	VADSpeechContinue
	VADSpeechEnd
	VADSilence
)

var eventNames = [...]string{
	VADSpeechStart:    "speech_start",
	VADSpeechContinue: "speech_continue",
	VADSpeechEnd:      "speech_end",
	VADSilence:        "silence",
}

func (t VADEventType) String() string {
	if t < 0 || int(t) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[t]
}

// VADEvent is the verdict for a single frame. Probability is the backend's
// speech score in [0, 1]; engines without a score report 0 or 1.
type VADEvent struct {
	Type        VADEventType
	Probability float64
}

// IsSpeech reports whether the frame is part of a speech segment. The frame
// that ends a segment is not.
func (e VADEvent) IsSpeech() bool {
	return e.Type == VADSpeechStart || e.Type == VADSpeechContinue
}
