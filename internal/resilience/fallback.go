package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when no backend of a [FallbackGroup] produced a
// result, either because it failed or because its breaker was open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker template applied to every backend of a
// [FallbackGroup]. Its Name is replaced by the backend name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// EntryStatus is the breaker state of one backend.
type EntryStatus struct {
	Name  string
	State State
}

type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary backend followed by its fallbacks, each
// behind its own [CircuitBreaker]. Calls go to the first backend whose
// breaker admits them; a failure moves on to the next one.
//
// All backends must be added before the group is used concurrently.
type FallbackGroup[T any] struct {
	cfg      FallbackConfig
	backends []backend[T]
}

// NewFallbackGroup returns a group whose primary is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend behind all existing ones.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	cfg := fg.cfg.CircuitBreaker
	cfg.Name = name
	fg.backends = append(fg.backends, backend[T]{name: name, value: v, breaker: NewCircuitBreaker(cfg)})
}

// Primary returns the first backend.
func (fg *FallbackGroup[T]) Primary() T { return fg.backends[0].value }

// Status lists every backend in call order.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, 0, len(fg.backends))
	for _, b := range fg.backends {
		out = append(out, EntryStatus{Name: b.name, State: b.breaker.State()})
	}
	return out
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// ExecuteWithResult calls fn with each backend of fg in turn and returns the
// first success. A done ctx, or a cancellation error from fn, is returned
// unwrapped and ends the attempt. Otherwise, when nothing succeeds, the
// result wraps [ErrAllFailed] together with every backend's error.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i, b := range fg.backends {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var res R
		err := b.breaker.Execute(func() (err error) {
			res, err = fn(b.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Debug("fallback served request", "provider", b.name, "position", i)
			}
			return res, nil
		}
		if cancelled(ctx, err) {
			return zero, err
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("provider skipped, circuit open", "provider", b.name)
		} else {
			slog.Warn("provider failed", "provider", b.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// ReadyAny runs check against every backend concurrently, ignoring the
// breakers, and succeeds when at least one backend passes.
func (fg *FallbackGroup[T]) ReadyAny(ctx context.Context, check func(context.Context, T) error) error {
	errs := make([]error, len(fg.backends))
	var wg sync.WaitGroup
	for i, b := range fg.backends {
		wg.Go(func() {
			if err := check(ctx, b.value); err != nil {
				errs[i] = fmt.Errorf("%s: %w", b.name, err)
			}
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// cancelled reports whether err ends the whole call rather than one backend.
// A deadline only counts when it is the caller's.
func cancelled(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil
}
