// Package mock provides test doubles for the memory interfaces.
//
// Each mock records every call for assertion in tests and exposes exported
// fields that control what the mock returns. All mocks are safe for
// concurrent use.
//
// Typical usage:
//
//	rec := &mock.Recorder{}
//	// inject rec into the system under test …
//	turns := rec.Turns()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxloop/pkg/memory"
)

// Recorder is a configurable test double for [memory.Recorder] and
// [memory.Store].
type Recorder struct {
	mu sync.Mutex

	// RecordErr is returned by RecordTurn when non-nil. The turn is still
	// recorded.
	RecordErr error

	// RecentResult is returned by Recent, truncated to n.
	RecentResult []memory.Turn

	// RecentErr is returned by Recent when non-nil.
	RecentErr error

	// RecallResult is returned by Recall.
	RecallResult []memory.Recollection

	// Recorded receives every turn passed to RecordTurn, when non-nil. Sends
	// do not block; the channel should be buffered.
	Recorded chan memory.Turn

	turns       []memory.Turn
	recallQuery []string
	closed      bool
}

// RecordTurn records turn and returns RecordErr.
func (r *Recorder) RecordTurn(_ context.Context, turn memory.Turn) error {
	r.mu.Lock()
	r.turns = append(r.turns, turn)
	err := r.RecordErr
	ch := r.Recorded
	r.mu.Unlock()

	if ch != nil {
		select {
		case ch <- turn:
		default:
		}
	}
	return err
}

// Recent returns the last n entries of RecentResult.
func (r *Recorder) Recent(_ context.Context, n int) ([]memory.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RecentErr != nil {
		return nil, r.RecentErr
	}
	res := r.RecentResult
	if n < len(res) {
		res = res[len(res)-n:]
	}
	return append([]memory.Turn(nil), res...), nil
}

// Recall records the query and returns RecallResult.
func (r *Recorder) Recall(_ context.Context, query string, _ int) ([]memory.Recollection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recallQuery = append(r.recallQuery, query)
	return r.RecallResult, nil
}

// Close marks the recorder closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Turns returns a copy of all recorded turns.
func (r *Recorder) Turns() []memory.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]memory.Turn(nil), r.turns...)
}

// RecallQueries returns the queries passed to Recall.
func (r *Recorder) RecallQueries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.recallQuery...)
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

var (
	_ memory.Store    = (*Recorder)(nil)
	_ memory.Recaller = (*Recorder)(nil)
)
