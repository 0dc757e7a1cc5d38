package pipeline

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxloop/pkg/provider/vad/mock"
)

// pcm returns one frame of PCM16 whose samples all equal amp.
func pcm(amp int16) []byte {
	b := make([]byte, audio.FrameBytes)
	for i := 0; i < audio.FrameSamples; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(amp))
	}
	return b
}

func speechFrame() audio.AudioFrame  { return audio.AudioFrame{Data: pcm(8000), SampleRate: 16000, Channels: 1} }
func silenceFrame() audio.AudioFrame { return audio.AudioFrame{Data: pcm(0), SampleRate: 16000, Channels: 1} }

// classifyLoud treats any frame with a non-zero first sample as speech.
func classifyLoud(frame []byte) (vad.VADEvent, error) {
	if len(frame) >= 2 && (frame[0] != 0 || frame[1] != 0) {
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 0.9}, nil
	}
	return vad.VADEvent{Type: vad.VADSilence, Probability: 0.05}, nil
}

func loudSession() *vadmock.Session {
	return &vadmock.Session{Classify: classifyLoud}
}

func loudGate() *SpeechGate {
	return NewSpeechGate(loudSession())
}

// feed publishes frames on a fresh broadcaster and returns a subscription
// holding them. When closeAfter is set the stream ends after the frames.
func feed(t *testing.T, closeAfter bool, frames ...audio.AudioFrame) (*audio.Broadcaster, *audio.Subscription) {
	t.Helper()
	b := audio.NewBroadcaster(len(frames) + 16)
	sub := b.Subscribe()
	for _, f := range frames {
		b.Publish(f)
	}
	if closeAfter {
		b.Close()
	}
	t.Cleanup(b.Close)
	return b, sub
}

func repeat(f func() audio.AudioFrame, n int) []audio.AudioFrame {
	out := make([]audio.AudioFrame, n)
	for i := range out {
		out[i] = f()
	}
	return out
}

func concat(parts ...[]audio.AudioFrame) []audio.AudioFrame {
	var out []audio.AudioFrame
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// fakePlayback is a Playback recording Stop calls.
type fakePlayback struct {
	mu      sync.Mutex
	playing bool
	stops   int
	onStop  func()
}

func (p *fakePlayback) Stop() {
	p.mu.Lock()
	p.stops++
	fn := p.onStop
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *fakePlayback) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayback) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// eventLog collects every non-level event of a bus subscription.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func watchEvents(t *testing.T, subscribe func() (<-chan Event, func())) *eventLog {
	t.Helper()
	ch, unsub := subscribe()
	t.Cleanup(unsub)
	l := &eventLog{notify: make(chan struct{}, 1)}
	go func() {
		for ev := range ch {
			if _, ok := ev.(AudioLevel); ok {
				continue
			}
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
			select {
			case l.notify <- struct{}{}:
			default:
			}
		}
	}()
	return l
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// waitFor blocks until an event satisfying match was logged.
func (l *eventLog) waitFor(t *testing.T, what string, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		for _, ev := range l.snapshot() {
			if match(ev) {
				return ev
			}
		}
		select {
		case <-l.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %s; events: %v", what, l.snapshot())
			return nil
		}
	}
}

// count returns how many logged events satisfy match.
func (l *eventLog) count(match func(Event) bool) int {
	n := 0
	for _, ev := range l.snapshot() {
		if match(ev) {
			n++
		}
	}
	return n
}

// states returns the target states of all logged transitions.
func (l *eventLog) states() []State {
	var out []State
	for _, ev := range l.snapshot() {
		if sc, ok := ev.(StateChanged); ok {
			out = append(out, sc.To)
		}
	}
	return out
}

func isState(s State) func(Event) bool {
	return func(ev Event) bool {
		sc, ok := ev.(StateChanged)
		return ok && sc.To == s
	}
}

func isTransition(from, to State) func(Event) bool {
	return func(ev Event) bool {
		sc, ok := ev.(StateChanged)
		return ok && sc.From == from && sc.To == to
	}
}

func isTranscript(text string) func(Event) bool {
	return func(ev Event) bool {
		tr, ok := ev.(Transcript)
		return ok && tr.Text == text
	}
}

func isResponse(text string) func(Event) bool {
	return func(ev Event) bool {
		r, ok := ev.(Response)
		return ok && r.Text == text
	}
}

func isError(stage string) func(Event) bool {
	return func(ev Event) bool {
		e, ok := ev.(Error)
		return ok && e.Stage == stage
	}
}
