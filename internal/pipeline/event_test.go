package pipeline

import (
	"errors"
	"testing"
	"time"
)

func TestEventBus_LevelRateLimit(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(0, 0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var now time.Time
	bus.now = func() time.Time { return now }
	ch, unsub := bus.Subscribe()
	defer unsub()

	// 100 level updates over one second, 10 ms apart.
	for i := range 100 {
		now = base.Add(time.Duration(i) * 10 * time.Millisecond)
		bus.PublishLevel(float64(i) / 100)
	}

	got := 0
	for len(ch) > 0 {
		if _, ok := (<-ch).(AudioLevel); ok {
			got++
		}
	}
	if got != 20 {
		t.Errorf("level events in one second = %d, want 20", got)
	}
}

func TestEventBus_PublishNeverBlocks(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(2, 0)
	slow, unsubSlow := bus.Subscribe()
	defer unsubSlow()
	fast, unsubFast := bus.Subscribe()
	defer unsubFast()

	done := make(chan struct{})
	go func() {
		for i := range 5 {
			bus.Publish(Transcript{Text: string(rune('a' + i))})
			<-fast
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if len(slow) != 2 {
		t.Errorf("slow subscriber buffered %d events, want 2", len(slow))
	}
	if bus.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", bus.Dropped())
	}
	if first := (<-slow).(Transcript); first.Text != "a" {
		t.Errorf("first event = %q, want oldest kept", first.Text)
	}
}

func TestEventBus_UnsubscribeAndClose(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(4, 0)
	a, unsubA := bus.Subscribe()
	b, _ := bus.Subscribe()

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Error("unsubscribed channel still open")
	}

	bus.Publish(Error{Stage: "stt", Err: errors.New("boom")})
	bus.Close()
	bus.Close()
	bus.Publish(Response{Text: "late"})

	ev, ok := <-b
	if !ok {
		t.Fatal("event published before Close was lost")
	}
	if e, isErr := ev.(Error); !isErr || e.Stage != "stt" {
		t.Errorf("event = %#v", ev)
	}
	if _, ok := <-b; ok {
		t.Error("channel open after Close")
	}

	late, _ := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription after Close is open")
	}
}

func TestEvent_Union(t *testing.T) {
	t.Parallel()

	at := time.Now()
	events := []Event{
		StateChanged{From: StateIdle, To: StateListening, At: at},
		Transcript{Text: "hi", At: at},
		Response{Text: "Hello.", At: at},
		AudioLevel{Level: 0.5, At: at},
		Error{Stage: "tts", Err: errors.New("x"), At: at},
	}
	for _, ev := range events {
		if !ev.Time().Equal(at) {
			t.Errorf("%T.Time() = %v", ev, ev.Time())
		}
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	want := map[State]string{
		StateStopped:   "stopped",
		StateLoading:   "loading",
		StateIdle:      "idle",
		StateListening: "listening",
		StateThinking:  "thinking",
		StateSpeaking:  "speaking",
	}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), name)
		}
	}
}

func TestPrepareForSpeech(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "It's three PM.", want: "It's three PM."},
		{name: "markdown emphasis", in: "This is **very** *important*.", want: "This is very important."},
		{name: "link keeps label", in: "See [the docs](https://example.com).", want: "See the docs."},
		{name: "bare url removed", in: "Go to https://example.com now.", want: "Go to now."},
		{name: "inline code", in: "Run `make test` first.", want: "Run make test first."},
		{name: "list bullet", in: "- first item", want: "first item"},
		{name: "em dash", in: "Wait—what?", want: "Wait, what?"},
		{name: "trailing ellipsis", in: "Let me think...", want: "Let me think."},
		{name: "unicode ellipsis", in: "Well… maybe.", want: "Well, maybe."},
		{name: "semicolon", in: "Yes; indeed.", want: "Yes, indeed."},
		{name: "whitespace", in: "  a \n b  ", want: "a b"},
		{name: "blank", in: "   ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := PrepareForSpeech(tt.in); got != tt.want {
				t.Errorf("PrepareForSpeech(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
