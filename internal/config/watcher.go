package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 2 * time.Second

// snapshot is one successfully parsed version of the watched file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher polls a config file and reports edits that parse and validate.
// A broken edit is logged and ignored; [Watcher.Current] keeps returning the
// last good config until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	last atomic.Pointer[snapshot]
	// seen is the mtime of the last inspected version, good or bad.
	seen time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval]. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and polls it until [Watcher.Stop]. onChange may be
// nil and runs on the polling goroutine.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.last.Store(snap)
	w.seen = snap.mtime

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Go(func() { w.run(ctx) })
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	return w.last.Load().cfg
}

// Stop ends polling and waits for a running onChange to return. It may be
// called more than once.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	log := slog.With("path", w.path)
	info, err := os.Stat(w.path)
	if err != nil {
		log.Warn("config watcher: stat failed", "err", err)
		return
	}
	if info.ModTime().Equal(w.seen) {
		return
	}
	w.seen = info.ModTime()

	next, err := load(w.path)
	if err != nil {
		log.Warn("config watcher: ignoring invalid edit", "err", err)
		return
	}
	prev := w.last.Load()
	if next.sum == prev.sum {
		return
	}
	w.last.Store(next)

	log.Info("config watcher: reloaded")
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
}

func load(path string) (*snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
