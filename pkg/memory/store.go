// Package memory persists conversation turns and reads them back.
//
// The pipeline writes one [Turn] per finished or interrupted exchange through
// a [Recorder]. Writes are fire-and-forget from the pipeline's point of view:
// the orchestrator hands turns to an [AsyncRecorder] which performs the
// blocking write on its own goroutine.
//
// A [Store] additionally returns the most recent turns, which seed the
// conversation history when the pipeline loads. Stores that index turn
// embeddings implement [Recaller] so relevant older turns can be pulled into
// the system prompt.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClosed is returned by recorders and stores after Close.
var ErrClosed = errors.New("memory: closed")

// Turn is one user/assistant exchange.
type Turn struct {
	// SessionID groups the turns of one pipeline run.
	SessionID string

	// UserText is the transcribed (or injected) user message.
	UserText string

	// AssistantText is the text actually spoken. For an interrupted turn it is
	// the partial response generated before the barge-in.
	AssistantText string

	// Timestamp is when the turn finished.
	Timestamp time.Time

	// Interrupted reports whether the response was cut short by barge-in.
	Interrupted bool
}

// Document renders the turn as the text that is embedded for recall.
func (t Turn) Document() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User: %s", t.UserText)
	if t.AssistantText != "" {
		fmt.Fprintf(&sb, "\nAssistant: %s", t.AssistantText)
	}
	return sb.String()
}

// Recorder accepts finished turns.
type Recorder interface {
	RecordTurn(ctx context.Context, turn Turn) error
}

// Store is a Recorder that can also list its most recent turns.
type Store interface {
	Recorder

	// Recent returns at most n turns across all sessions, oldest first.
	Recent(ctx context.Context, n int) ([]Turn, error)

	// Close releases the store's resources.
	Close() error
}

// Recollection is a turn returned by semantic recall.
type Recollection struct {
	Turn Turn

	// Distance is the cosine distance between the query and the turn
	// (0 = identical). Lower is more relevant.
	Distance float64
}

// Recaller is implemented by stores that can search turns by meaning.
type Recaller interface {
	Recall(ctx context.Context, query string, k int) ([]Recollection, error)
}
