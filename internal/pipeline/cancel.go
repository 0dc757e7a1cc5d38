package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// CancelToken is a one-shot cancellation flag bound to a context. Cancelling
// the token cancels its context, which aborts whatever upstream request was
// started with it. Cancel is idempotent and safe from any goroutine.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	fired  atomic.Bool
}

// NewCancelToken returns a token whose context is derived from parent.
// Cancelling parent cancels the token's context but does not mark the token
// itself as cancelled.
func NewCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Cancel fires the token. Calls after the first have no effect.
func (t *CancelToken) Cancel() {
	t.once.Do(func() {
		t.fired.Store(true)
		t.cancel()
	})
}

// Cancelled reports whether Cancel was called.
func (t *CancelToken) Cancelled() bool {
	return t.fired.Load()
}

// Context returns the context cancelled by the token.
func (t *CancelToken) Context() context.Context {
	return t.ctx
}

// Done is shorthand for Context().Done().
func (t *CancelToken) Done() <-chan struct{} {
	return t.ctx.Done()
}

// release frees the context resources without firing the token.
func (t *CancelToken) release() {
	t.cancel()
}
