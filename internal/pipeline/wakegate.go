package pipeline

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/wake"
)

// WakeGate decides when the idle pipeline starts listening. With a detector
// it waits for the wake phrase; without one the first speech frame opens
// the turn and becomes the utterance seed.
type WakeGate struct {
	detector wake.Detector
	gate     *SpeechGate
}

// NewWakeGate returns a gate using detector, or the speech gate alone when
// detector is nil.
func NewWakeGate(detector wake.Detector, gate *SpeechGate) *WakeGate {
	return &WakeGate{detector: detector, gate: gate}
}

// Enabled reports whether a wake phrase is required.
func (w *WakeGate) Enabled() bool {
	return w.detector != nil
}

// Offer feeds one idle frame to the gate. It reports whether the pipeline
// should start listening and, with wake disabled, the frame to seed the
// utterance with. Invalid frames fail with [ErrInvalidFrame]; other errors
// are per-frame and leave the gate usable.
func (w *WakeGate) Offer(ctx context.Context, f audio.AudioFrame) (activated bool, seed []audio.AudioFrame, err error) {
	if err := ValidateFrame(f); err != nil {
		return false, nil, err
	}
	if w.detector == nil {
		speech, err := w.gate.Classify(f)
		if err != nil || !speech {
			return false, nil, err
		}
		return true, []audio.AudioFrame{f}, nil
	}
	ok, err := w.detector.Detect(ctx, f)
	if err != nil {
		return false, nil, fmt.Errorf("pipeline: wake detection: %w", err)
	}
	if ok {
		w.detector.Reset()
	}
	return ok, nil, nil
}

// Reset clears partial detection state.
func (w *WakeGate) Reset() {
	if w.detector != nil {
		w.detector.Reset()
	}
}
