package resilience

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock drives a breaker's reset timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clock.now
	return cb, clock
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	const timeout = time.Minute

	// step runs call (if any) after advancing the clock, then checks the
	// returned error and the resulting state.
	type step struct {
		advance time.Duration
		call    func() error
		wantErr error
		want    State
	}
	failed := func(want State) step { return step{call: fail, wantErr: errTest, want: want} }
	succeeded := func(want State) step { return step{call: succeed, want: want} }
	cancelled := func(err error) step { return step{call: func() error { return err }, wantErr: context.Canceled} }
	wait := func(d time.Duration, want State) step { return step{advance: d, want: want} }

	opened := []step{failed(StateClosed), failed(StateClosed), failed(StateOpen)}
	tests := []struct {
		name  string
		steps []step
	}{
		{
			name:  "failures below threshold stay closed",
			steps: []step{failed(StateClosed), failed(StateClosed)},
		},
		{
			name: "success resets the failure count",
			steps: []step{
				failed(StateClosed), failed(StateClosed), succeeded(StateClosed),
				failed(StateClosed), failed(StateClosed),
			},
		},
		{
			name: "threshold opens and open rejects",
			steps: append(slices.Clone(opened),
				step{call: succeed, wantErr: ErrCircuitOpen, want: StateOpen},
				wait(timeout-time.Second, StateOpen),
			),
		},
		{
			name: "timeout half-opens and probes close",
			steps: append(slices.Clone(opened),
				wait(timeout, StateHalfOpen),
				succeeded(StateHalfOpen),
				succeeded(StateClosed),
			),
		},
		{
			name: "probe failure reopens with a fresh timeout",
			steps: append(slices.Clone(opened),
				wait(timeout, StateHalfOpen),
				failed(StateOpen),
				wait(timeout/2, StateOpen),
				wait(timeout/2, StateHalfOpen),
			),
		},
		{
			name: "cancellation is neutral",
			steps: []step{
				failed(StateClosed), failed(StateClosed),
				cancelled(context.Canceled),
				cancelled(fmt.Errorf("stream: %w", context.Canceled)),
				failed(StateOpen),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(CircuitBreakerConfig{
				Name:         "test",
				MaxFailures:  3,
				ResetTimeout: timeout,
				HalfOpenMax:  2,
			})
			for i, s := range tt.steps {
				clock.advance(s.advance)
				if s.call != nil {
					if err := cb.Execute(s.call); !errors.Is(err, s.wantErr) {
						t.Fatalf("step %d: err = %v, want %v", i, err, s.wantErr)
					}
				}
				if got := cb.State(); got != s.want {
					t.Fatalf("step %d: state = %v, want %v", i, got, s.want)
				}
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	_ = cb.Execute(fail)
	clock.advance(time.Second)

	release := make(chan struct{})
	admitted := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(admitted)
			<-release
			return nil
		})
	}()
	<-admitted

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after the probe succeeded", cb.State())
	}
}

func TestCircuitBreaker_CancelledProbeReturnsSlot(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	_ = cb.Execute(fail)
	clock.advance(time.Second)

	if err := cb.Execute(func() error { return context.Canceled }); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("probe after cancellation: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_StaleResultIgnored(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	release := make(chan struct{})
	admitted := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(admitted)
			<-release
			return nil
		})
	}()
	<-admitted

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	// The slow call started while closed; its success must not count now.
	close(release)
	<-done
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want still open", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed: reset must clear the failure count", cb.State())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var got []string
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name:         "stt",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			got = append(got, fmt.Sprintf("%s:%s->%s", name, from, to))
		},
	})
	_ = cb.Execute(fail)
	clock.advance(time.Second)
	_ = cb.Execute(succeed)

	want := []string{"stt:closed->open", "stt:open->half-open", "stt:half-open->closed"}
	if !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}
