package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is the sealed union of notifications emitted by the [Orchestrator].
// The concrete types are [StateChanged], [Transcript], [Response],
// [AudioLevel] and [Error].
type Event interface {
	// Time reports when the event was emitted.
	Time() time.Time

	isEvent()
}

// StateChanged reports a state transition.
type StateChanged struct {
	From State
	To   State
	At   time.Time
}

// Transcript carries the recognized (or injected) user text of a turn.
type Transcript struct {
	Text string
	At   time.Time
}

// Response carries one sentence unit of the assistant's reply as it is
// handed to synthesis.
type Response struct {
	Text string
	At   time.Time
}

// AudioLevel carries a normalized input or output meter level in [0, 1].
type AudioLevel struct {
	Level float64
	At    time.Time
}

// Error reports a failure. Stage names the component that failed ("load",
// "stt", "llm", "tts", "playback", "capture").
type Error struct {
	Stage string
	Err   error
	At    time.Time
}

func (e StateChanged) Time() time.Time { return e.At }
func (e Transcript) Time() time.Time   { return e.At }
func (e Response) Time() time.Time     { return e.At }
func (e AudioLevel) Time() time.Time   { return e.At }
func (e Error) Time() time.Time        { return e.At }

func (StateChanged) isEvent() {}
func (Transcript) isEvent()   {}
func (Response) isEvent()     {}
func (AudioLevel) isEvent()   {}
func (Error) isEvent()        {}

const (
	defaultEventBuffer = 64

	// defaultLevelInterval caps AudioLevel events at 20 per second.
	defaultLevelInterval = 50 * time.Millisecond
)

// EventBus fans events out to any number of subscribers. Publishing never
// blocks: an event is dropped for a subscriber whose buffer is full.
//
// EventBus is safe for concurrent use.
type EventBus struct {
	mu            sync.Mutex
	subs          map[chan Event]struct{}
	buffer        int
	levelInterval time.Duration
	lastLevel     time.Time
	closed        bool

	dropped atomic.Int64
	now     func() time.Time
}

// NewEventBus returns an [EventBus] whose subscribers buffer up to buffer
// events and which forwards at most one [AudioLevel] per levelInterval.
// Non-positive arguments select the defaults (64 events, 50 ms).
func NewEventBus(buffer int, levelInterval time.Duration) *EventBus {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	if levelInterval <= 0 {
		levelInterval = defaultLevelInterval
	}
	return &EventBus{
		subs:          make(map[chan Event]struct{}),
		buffer:        buffer,
		levelInterval: levelInterval,
		now:           time.Now,
	}
}

// Subscribe returns a channel receiving every event published from now on
// and a function that unsubscribes and closes the channel. The channel is
// also closed by [EventBus.Close].
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked(ev)
}

// PublishLevel publishes an [AudioLevel] unless one was published less than
// the level interval ago.
func (b *EventBus) PublishLevel(level float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if !b.lastLevel.IsZero() && now.Sub(b.lastLevel) < b.levelInterval {
		return
	}
	b.lastLevel = now
	b.publishLocked(AudioLevel{Level: level, At: now})
}

func (b *EventBus) publishLocked(ev Event) {
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped for full subscribers.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	clear(b.subs)
}
