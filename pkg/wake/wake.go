// Package wake defines the Detector interface used to gate the voice pipeline
// behind an activation phrase.
//
// A detector consumes the captured frame stream one frame at a time while the
// pipeline is idle. It may buffer frames internally (for example to run a
// short transcription) and reports true on the frame that completes a
// detection. Implementations belong to a single goroutine.
package wake

import (
	"context"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// Detector recognises an activation phrase in a stream of audio frames.
type Detector interface {
	// Detect feeds one frame to the detector. It returns true when the frame
	// completes a detection. Errors are per-frame; the caller may keep
	// feeding frames after an error.
	Detect(ctx context.Context, frame audio.AudioFrame) (bool, error)

	// Reset discards any partially collected audio and detection state.
	Reset()
}
