// Package mock provides a test double for wake.Detector.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/wake"
)

// Detector is a mock implementation of wake.Detector.
//
// The detector fires on the FireAt-th call to Detect (1-based). A zero FireAt
// never fires.
type Detector struct {
	mu sync.Mutex

	// FireAt is the 1-based Detect call that returns true.
	FireAt int

	// DetectErr, if non-nil, is returned by every Detect call.
	DetectErr error

	// DetectCalls is the number of Detect calls so far.
	DetectCalls int

	// ResetCalls is the number of Reset calls so far.
	ResetCalls int
}

// Detect records the call and reports whether it is the FireAt-th call.
func (d *Detector) Detect(_ context.Context, _ audio.AudioFrame) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls++
	if d.DetectErr != nil {
		return false, d.DetectErr
	}
	return d.FireAt > 0 && d.DetectCalls == d.FireAt, nil
}

// Reset records the call.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCalls++
}

// Calls returns the number of Detect and Reset calls.
func (d *Detector) Calls() (detect, reset int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DetectCalls, d.ResetCalls
}

var _ wake.Detector = (*Detector)(nil)
