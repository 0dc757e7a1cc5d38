// Package mock provides scripted doubles for [vad.Engine] and
// [vad.SessionHandle].
//
//	sess := &mock.Session{Classify: func(f []byte) (vad.VADEvent, error) { ... }}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/voxloop/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// NewSessionCall is one recorded [Engine.NewSession] invocation.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine hands out Session, or a fresh silent [Session] when it is nil.
type Engine struct {
	mu sync.Mutex

	Session       vad.SessionHandle
	NewSessionErr error

	NewSessionCalls []NewSessionCall
}

// NewSession records cfg.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session == nil:
		return &Session{EventResult: vad.VADEvent{Type: vad.VADSilence}}, nil
	}
	return e.Session, nil
}

// Session answers ProcessFrame from, in order of precedence,
// ProcessFrameErr, Classify, the head of Script and finally EventResult.
type Session struct {
	mu sync.Mutex

	Script          []vad.VADEvent
	EventResult     vad.VADEvent
	Classify        func(frame []byte) (vad.VADEvent, error)
	ProcessFrameErr error
	CloseErr        error

	// Frames holds a copy of every processed frame.
	Frames         [][]byte
	ResetCallCount int
	CloseCallCount int
}

func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, append([]byte(nil), frame...))

	switch {
	case s.ProcessFrameErr != nil:
		return vad.VADEvent{}, s.ProcessFrameErr
	case s.Classify != nil:
		return s.Classify(frame)
	case len(s.Script) > 0:
		ev := s.Script[0]
		s.Script = s.Script[1:]
		return ev, nil
	}
	return s.EventResult, nil
}

// Calls reports how many frames were processed.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.ResetCallCount++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}
