package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxloop/internal/pipeline"
)

// ErrNotRunning is returned by [SessionManager.Stop] and
// [SessionManager.SubmitText] while no session is active.
var ErrNotRunning = errors.New("session: no active session")

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// SessionID is the pipeline's conversation session identifier.
	SessionID string

	// StartedAt is when the session was started.
	StartedAt time.Time

	// StartedBy names who started the session, e.g. "auto_start" or a
	// client address.
	StartedBy string
}

// SessionManager starts and stops the voice pipeline on behalf of the
// application and its remote clients. Only one session can be active at a
// time. All exported methods are safe for concurrent use.
type SessionManager struct {
	orch *pipeline.Orchestrator

	mu      sync.Mutex
	base    context.Context
	info    SessionInfo
	runDone chan struct{}
	runErr  error
}

// NewSessionManager returns a manager for orch. Sessions run under
// context.Background until [SessionManager.SetBaseContext] is called.
func NewSessionManager(orch *pipeline.Orchestrator) *SessionManager {
	return &SessionManager{orch: orch, base: context.Background()}
}

// SetBaseContext sets the context that bounds the run loop of sessions
// started afterwards.
func (sm *SessionManager) SetBaseContext(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.base = ctx
}

// Start loads the pipeline and runs it in the background. Loading honours
// ctx; the run loop lives until [SessionManager.Stop] or the base context
// ends. A load failure leaves the pipeline stopped and is returned.
//
// Returns [pipeline.ErrAlreadyRunning] if a session is already active.
func (sm *SessionManager) Start(ctx context.Context, startedBy string) error {
	sm.mu.Lock()
	if sm.runDone != nil {
		sm.mu.Unlock()
		return pipeline.ErrAlreadyRunning
	}
	done := make(chan struct{})
	sm.runDone = done
	sm.runErr = nil
	base := sm.base
	sm.mu.Unlock()

	fail := func(err error) error {
		sm.orch.Stop()
		sm.mu.Lock()
		sm.runDone = nil
		sm.mu.Unlock()
		close(done)
		return err
	}

	if err := sm.orch.Load(ctx); err != nil {
		return fail(fmt.Errorf("session: load pipeline: %w", err))
	}
	if err := base.Err(); err != nil {
		return fail(err)
	}

	info := SessionInfo{
		SessionID: sm.orch.SessionID(),
		StartedAt: time.Now().UTC(),
		StartedBy: startedBy,
	}
	sm.mu.Lock()
	sm.info = info
	sm.mu.Unlock()

	go func() {
		err := sm.orch.Run(base)
		if err != nil {
			slog.Error("session: pipeline stopped with error", "session_id", info.SessionID, "err", err)
		}
		sm.mu.Lock()
		sm.runErr = err
		sm.runDone = nil
		sm.info = SessionInfo{}
		sm.mu.Unlock()
		close(done)
		slog.Info("session stopped", "session_id", info.SessionID)
	}()

	slog.Info("session started", "session_id", info.SessionID, "started_by", startedBy)
	return nil
}

// Stop ends the active session and waits for the run loop to exit. It
// returns the run loop's error, if any.
//
// Returns [ErrNotRunning] if no session is active.
func (sm *SessionManager) Stop() error {
	sm.mu.Lock()
	done := sm.runDone
	sm.mu.Unlock()
	if done == nil {
		return ErrNotRunning
	}
	sm.orch.Stop()
	<-done

	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.runErr
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.runDone != nil
}

// Info returns metadata about the active session, or the zero value if no
// session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// SubmitText injects a typed user message into the active session.
func (sm *SessionManager) SubmitText(text string) error {
	if !sm.IsActive() {
		return ErrNotRunning
	}
	return sm.orch.SubmitText(text)
}
