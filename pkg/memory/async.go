package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 10 * time.Second
)

// AsyncRecorder decouples turn persistence from the caller. RecordTurn only
// enqueues; a single worker goroutine performs the blocking writes in order.
// Failed writes are logged and counted, never returned.
type AsyncRecorder struct {
	next    Recorder
	queue   chan Turn
	timeout time.Duration
	onErr   func(error)

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
}

// AsyncOption configures an AsyncRecorder.
type AsyncOption func(*AsyncRecorder)

// WithQueueSize sets how many turns may wait for the worker. Turns recorded
// while the queue is full are dropped.
func WithQueueSize(n int) AsyncOption {
	return func(a *AsyncRecorder) {
		if n > 0 {
			a.queue = make(chan Turn, n)
		}
	}
}

// WithWriteTimeout bounds each write to the underlying recorder.
func WithWriteTimeout(d time.Duration) AsyncOption {
	return func(a *AsyncRecorder) { a.timeout = d }
}

// WithErrorHook is called on the worker goroutine for every failed write.
func WithErrorHook(fn func(error)) AsyncOption {
	return func(a *AsyncRecorder) { a.onErr = fn }
}

// NewAsyncRecorder starts the worker goroutine writing to next.
func NewAsyncRecorder(next Recorder, opts ...AsyncOption) *AsyncRecorder {
	a := &AsyncRecorder{
		next:    next,
		queue:   make(chan Turn, defaultQueueSize),
		timeout: defaultWriteTimeout,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.run()
	return a
}

// RecordTurn enqueues turn and returns immediately. The context is not used
// for the write itself, which must outlive the caller's turn.
func (a *AsyncRecorder) RecordTurn(_ context.Context, turn Turn) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- turn:
	default:
		a.dropped.Add(1)
		slog.Warn("memory: record queue full, dropping turn", "session_id", turn.SessionID)
	}
	return nil
}

func (a *AsyncRecorder) run() {
	defer close(a.done)
	for turn := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.RecordTurn(ctx, turn)
		cancel()
		if err != nil {
			a.failed.Add(1)
			slog.Error("memory: record turn failed", "session_id", turn.SessionID, "err", err)
			if a.onErr != nil {
				a.onErr(err)
			}
		}
	}
}

// Dropped returns the number of turns discarded because the queue was full.
func (a *AsyncRecorder) Dropped() int64 { return a.dropped.Load() }

// Failed returns the number of writes the underlying recorder rejected.
func (a *AsyncRecorder) Failed() int64 { return a.failed.Load() }

// Close stops accepting turns and waits for queued writes to finish or ctx
// to expire. It is safe to call more than once.
func (a *AsyncRecorder) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Recorder = (*AsyncRecorder)(nil)
