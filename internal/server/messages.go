package server

import (
	"fmt"
	"time"

	"github.com/MrWong99/voxloop/internal/pipeline"
)

// Message carries the type discriminator shared by every WebSocket message.
type Message struct {
	Type string `json:"type"`
}

// Incoming message types.
const (
	TypeCommand   = "command"
	TypeTextInput = "text_input"
)

// Outgoing message types.
const (
	TypeState      = "state"
	TypeTranscript = "transcript"
	TypeResponse   = "response"
	TypeAudioLevel = "audio_level"
	TypeError      = "error"
	TypeToast      = "toast"
)

// CommandMessage asks the server to start or stop the pipeline.
type CommandMessage struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

// TextInputMessage injects typed text as a user turn.
type TextInputMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type StateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Label string `json:"label"`
}

// TranscriptMessage and ResponseMessage carry a Unix timestamp in seconds.
type TranscriptMessage struct {
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

type ResponseMessage struct {
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

type AudioLevelMessage struct {
	Type  string  `json:"type"`
	Level float64 `json:"level"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ToastMessage is a transient notification. Level is one of "info",
// "success" or "warning".
type ToastMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Level   string `json:"level"`
}

func stateMessage(s pipeline.State) StateMessage {
	return StateMessage{Type: TypeState, State: s.String(), Label: s.Label()}
}

func toast(level, format string, args ...any) ToastMessage {
	return ToastMessage{Type: TypeToast, Message: fmt.Sprintf(format, args...), Level: level}
}

func errorMessage(format string, args ...any) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: fmt.Sprintf(format, args...)}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// eventMessage translates a pipeline event into its wire message.
func eventMessage(ev pipeline.Event) (any, bool) {
	switch e := ev.(type) {
	case pipeline.StateChanged:
		return stateMessage(e.To), true
	case pipeline.Transcript:
		return TranscriptMessage{Type: TypeTranscript, Text: e.Text, Timestamp: unixSeconds(e.At)}, true
	case pipeline.Response:
		return ResponseMessage{Type: TypeResponse, Text: e.Text, Timestamp: unixSeconds(e.At)}, true
	case pipeline.AudioLevel:
		return AudioLevelMessage{Type: TypeAudioLevel, Level: e.Level}, true
	case pipeline.Error:
		return errorMessage("%s: %v", e.Stage, e.Err), true
	}
	return nil, false
}
