package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrClosed is returned by [Subscription.Next] once the subscription or
	// its broadcaster has been closed and every buffered frame was read.
	ErrClosed = errors.New("audio: frame stream closed")

	// ErrReadTimeout is returned by [Subscription.Next] when no frame arrived
	// within the requested timeout.
	ErrReadTimeout = errors.New("audio: frame read timed out")
)

// DefaultSubscriberDepth is the per-subscriber buffer used when
// [NewBroadcaster] is given a non-positive depth. At 32 ms per frame this
// holds a little over eight seconds of audio.
const DefaultSubscriberDepth = 256

// Broadcaster fans every published [AudioFrame] out to all current
// subscribers. Each [Subscription] owns an independent bounded cursor, so a
// slow reader never blocks the producer or other readers; when a
// subscriber's buffer is full its oldest frame is discarded.
//
// Broadcaster is safe for concurrent use.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	depth  int
	closed bool

	dropped atomic.Int64
	onDrop  func()
}

// BroadcasterOption configures a [Broadcaster].
type BroadcasterOption func(*Broadcaster)

// WithDropHook registers fn to be called every time a frame is discarded for
// a full subscriber buffer. fn runs with the broadcaster lock held and must
// not block.
func WithDropHook(fn func()) BroadcasterOption {
	return func(b *Broadcaster) { b.onDrop = fn }
}

// NewBroadcaster creates a [Broadcaster] whose subscribers buffer up to depth
// frames each.
func NewBroadcaster(depth int, opts ...BroadcasterOption) *Broadcaster {
	if depth <= 0 {
		depth = DefaultSubscriberDepth
	}
	b := &Broadcaster{
		subs:  make(map[*Subscription]struct{}),
		depth: depth,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish delivers f to every subscriber without blocking. Publishing after
// [Broadcaster.Close] is a no-op.
func (b *Broadcaster) Publish(f AudioFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.ch <- f:
			continue
		default:
		}
		// Full: evict the oldest frame and retry once.
		select {
		case <-s.ch:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		default:
		}
		select {
		case s.ch <- f:
		default:
		}
	}
}

// Subscribe returns a new cursor that receives every frame published from
// now on.
func (b *Broadcaster) Subscribe() *Subscription {
	s := &Subscription{b: b, ch: make(chan AudioFrame, b.depth)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		s.closed = true
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Subscribers reports the number of open subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped reports how many frames have been evicted from full subscriber
// buffers since creation.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Close ends the stream for every subscriber. Frames already buffered can
// still be read. Close is idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.closed = true
		close(s.ch)
	}
	clear(b.subs)
}

// Subscription is one reader's cursor into a [Broadcaster]. A subscription
// must be read by a single goroutine at a time.
type Subscription struct {
	b      *Broadcaster
	ch     chan AudioFrame
	closed bool // guarded by b.mu
}

// Next blocks until a frame arrives, timeout elapses, or ctx is done. It
// returns [ErrReadTimeout] on timeout and [ErrClosed] once the stream has
// ended. A non-positive timeout waits for ctx alone.
func (s *Subscription) Next(ctx context.Context, timeout time.Duration) (AudioFrame, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case f, ok := <-s.ch:
		if !ok {
			return AudioFrame{}, ErrClosed
		}
		return f, nil
	case <-expired:
		return AudioFrame{}, ErrReadTimeout
	case <-ctx.Done():
		return AudioFrame{}, ctx.Err()
	}
}

// Skip discards every frame currently buffered and reports how many were
// dropped.
func (s *Subscription) Skip() int {
	n := 0
	for {
		select {
		case _, ok := <-s.ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Pending reports the number of buffered, unread frames.
func (s *Subscription) Pending() int {
	return len(s.ch)
}

// Close detaches the subscription from its broadcaster. Frames already
// buffered remain readable, after which [Subscription.Next] returns
// [ErrClosed]. Close is idempotent.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.b.subs, s)
	close(s.ch)
}
