package resilience

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"
)

// newGroup builds a group of string backends named after their values.
func newGroup(cfg FallbackConfig, names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], cfg)
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

// failing returns an fn that fails for the listed backends and records
// every backend it sees.
func failing(calls *[]string, bad ...string) func(string) (string, error) {
	return func(v string) (string, error) {
		*calls = append(*calls, v)
		if slices.Contains(bad, v) {
			return "", fmt.Errorf("%s broke: %w", v, errTest)
		}
		return "from " + v, nil
	}
}

func TestExecuteWithResult(t *testing.T) {
	tests := []struct {
		name      string
		backends  []string
		bad       []string
		want      string
		wantCalls []string
		wantErr   error
	}{
		{
			name:      "primary serves",
			backends:  []string{"a", "b"},
			want:      "from a",
			wantCalls: []string{"a"},
		},
		{
			name:      "fails over in order",
			backends:  []string{"a", "b", "c"},
			bad:       []string{"a"},
			want:      "from b",
			wantCalls: []string{"a", "b"},
		},
		{
			name:      "all fail",
			backends:  []string{"a", "b"},
			bad:       []string{"a", "b"},
			wantCalls: []string{"a", "b"},
			wantErr:   ErrAllFailed,
		},
		{
			name:      "single backend fails",
			backends:  []string{"a"},
			bad:       []string{"a"},
			wantCalls: []string{"a"},
			wantErr:   ErrAllFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}}, tt.backends...)
			var calls []string
			got, err := ExecuteWithResult(context.Background(), fg, failing(&calls, tt.bad...))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if !slices.Equal(calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}
		})
	}
}

func TestExecuteWithResult_AllFailedNamesEveryBackend(t *testing.T) {
	fg := newGroup(FallbackConfig{}, "openai", "ollama")
	var calls []string
	_, err := ExecuteWithResult(context.Background(), fg, failing(&calls, "openai", "ollama"))
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want the backend errors to stay reachable", err)
	}
	for _, name := range []string{"openai: openai broke", "ollama: ollama broke"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("err = %q, missing %q", err, name)
		}
	}
}

func TestFallbackGroup_OpenCircuitIsSkipped(t *testing.T) {
	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}}, "a", "b")

	var calls []string
	for range 2 {
		_, _ = ExecuteWithResult(context.Background(), fg, failing(&calls, "a"))
	}
	calls = nil
	got, err := ExecuteWithResult(context.Background(), fg, failing(&calls))
	if err != nil || got != "from b" {
		t.Fatalf("got %q, %v; want from b", got, err)
	}
	if !slices.Equal(calls, []string{"b"}) {
		t.Errorf("calls = %v, want the open primary skipped", calls)
	}
}

func TestFallbackGroup_Cancellation(t *testing.T) {
	t.Run("error from fn stops failover", func(t *testing.T) {
		fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1}}, "a", "b")
		var calls []string
		err := fg.Execute(context.Background(), func(v string) error {
			calls = append(calls, v)
			return fmt.Errorf("stream aborted: %w", context.Canceled)
		})
		if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want plain context.Canceled", err)
		}
		if !slices.Equal(calls, []string{"a"}) {
			t.Errorf("calls = %v, want only a", calls)
		}
		if st := fg.Status()[0].State; st != StateClosed {
			t.Errorf("primary breaker = %v, want closed", st)
		}
	})

	t.Run("done context tries nothing", func(t *testing.T) {
		fg := newGroup(FallbackConfig{}, "a")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := fg.Execute(ctx, func(string) error { called = true; return nil })
		if !errors.Is(err, context.Canceled) || called {
			t.Fatalf("err = %v, called = %v", err, called)
		}
	})

	t.Run("backend timeout still fails over", func(t *testing.T) {
		fg := newGroup(FallbackConfig{}, "a", "b")
		var calls []string
		err := fg.Execute(context.Background(), func(v string) error {
			calls = append(calls, v)
			if v == "a" {
				return fmt.Errorf("request: %w", context.DeadlineExceeded)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if !slices.Equal(calls, []string{"a", "b"}) {
			t.Errorf("calls = %v", calls)
		}
	})
}

func TestFallbackGroup_StatusAndPrimary(t *testing.T) {
	fg := NewFallbackGroup("a", "first", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("second", "b")
	if fg.Primary() != "a" {
		t.Fatalf("Primary() = %q, want a", fg.Primary())
	}

	_ = fg.Execute(context.Background(), func(v string) error {
		if v == "a" {
			return errTest
		}
		return nil
	})
	want := []EntryStatus{{Name: "first", State: StateOpen}, {Name: "second", State: StateClosed}}
	if got := fg.Status(); !slices.Equal(got, want) {
		t.Fatalf("Status() = %v, want %v", got, want)
	}
}
