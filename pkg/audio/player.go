package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrPlaybackStopped is returned by [Player.Play] when [Player.Stop]
	// interrupted the segment.
	ErrPlaybackStopped = errors.New("audio: playback stopped")

	// ErrPlayerBusy is returned by [Player.Play] when another segment is
	// already playing.
	ErrPlayerBusy = errors.New("audio: player busy")
)

const drainPoll = 10 * time.Millisecond

// playback tracks one in-flight [Player.Play] call.
type playback struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Player streams [Segment] audio to a [PlaybackDevice]. Every segment is
// converted from its own sample rate to the device format, so segments from
// backends with different rates can be played back to back. A segment can be
// cut off at any point with [Player.Stop], which returns only after the
// device buffer has been cleared.
//
// Player is safe for concurrent use, but plays one segment at a time.
type Player struct {
	dev     PlaybackDevice
	onLevel func(float64)

	mu     sync.Mutex
	active *playback

	playing atomic.Bool
}

// PlayerOption configures a [Player].
type PlayerOption func(*Player)

// WithLevelHook calls fn with the meter level of every chunk handed to the
// device.
func WithLevelHook(fn func(level float64)) PlayerOption {
	return func(p *Player) { p.onLevel = fn }
}

// NewPlayer creates a [Player] writing to dev. The device must already be
// started.
func NewPlayer(dev PlaybackDevice, opts ...PlayerOption) *Player {
	p := &Player{dev: dev}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Playing reports whether a segment is currently being played.
func (p *Player) Playing() bool {
	return p.playing.Load()
}

// Play writes seg to the device and blocks until the device has played all of
// it, ctx is cancelled, or [Player.Stop] is called. On interruption the device
// buffer is cleared and the rest of seg is drained in the background. The
// segment's own stream error is returned after a complete playback.
func (p *Player) Play(ctx context.Context, seg *Segment) error {
	if err := ctx.Err(); err != nil {
		go Drain(seg.Audio)
		return err
	}
	pb := &playback{stop: make(chan struct{}), done: make(chan struct{})}
	p.mu.Lock()
	if p.active != nil {
		p.mu.Unlock()
		go Drain(seg.Audio)
		return ErrPlayerBusy
	}
	p.active = pb
	p.playing.Store(true)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active = nil
		p.playing.Store(false)
		p.mu.Unlock()
		close(pb.done)
	}()

	interrupted := func(cause error) error {
		p.dev.Clear()
		go Drain(seg.Audio)
		return cause
	}

	conv := FormatConverter{Target: p.dev.Format()}
	for {
		select {
		case <-pb.stop:
			return interrupted(ErrPlaybackStopped)
		case <-ctx.Done():
			return interrupted(ctx.Err())
		case chunk, ok := <-seg.Audio:
			if !ok {
				return p.awaitDrain(ctx, pb, seg)
			}
			out := conv.Convert(AudioFrame{Data: chunk, SampleRate: seg.SampleRate, Channels: seg.Channels})
			if len(out.Data) == 0 {
				continue
			}
			if p.onLevel != nil {
				p.onLevel(Level(chunk))
			}
			if err := p.dev.Write(out.Data); err != nil {
				return interrupted(fmt.Errorf("audio: write playback device: %w", err))
			}
		}
	}
}

// awaitDrain waits until the device has played everything queued.
func (p *Player) awaitDrain(ctx context.Context, pb *playback, seg *Segment) error {
	t := time.NewTicker(drainPoll)
	defer t.Stop()
	for p.dev.Buffered() > 0 {
		select {
		case <-pb.stop:
			p.dev.Clear()
			return ErrPlaybackStopped
		case <-ctx.Done():
			p.dev.Clear()
			return ctx.Err()
		case <-t.C:
		}
	}
	return seg.Err()
}

// Stop interrupts the segment being played, if any, and returns once the
// device buffer has been cleared and [Player.Play] has returned. Stop is a
// no-op when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	pb := p.active
	p.mu.Unlock()
	if pb == nil {
		return
	}
	pb.stopOnce.Do(func() { close(pb.stop) })
	<-pb.done
}
