package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// Playback is the part of the player the barge-in monitor controls.
type Playback interface {
	// Stop silences output and returns once playback has stopped.
	Stop()

	// Playing reports whether audio is currently being emitted.
	Playing() bool
}

// BargeInSignal is handed from the monitor to the orchestrator when the user
// talks over a response. It is consumed once.
type BargeInSignal struct {
	// Frames is the run of speech frames that triggered the interruption.
	Frames []audio.AudioFrame

	// Subscription is positioned right after Frames. The receiver owns it.
	Subscription *audio.Subscription

	// At is when the interruption fired.
	At time.Time
}

// BargeInConfig tunes a [BargeInMonitor].
type BargeInConfig struct {
	// Threshold is the number of consecutive speech frames that trigger.
	Threshold int

	// PollInterval bounds every frame read. A read timeout resets the run.
	PollInterval time.Duration

	// RequirePlayback counts frames only while Playback.Playing is true.
	RequirePlayback bool

	// MinLevel treats frames quieter than this meter level as silence.
	MinLevel float64
}

// BargeInMonitor watches the microphone while the assistant speaks.
type BargeInMonitor struct {
	gate     *SpeechGate
	playback Playback
	cfg      BargeInConfig
}

// NewBargeInMonitor returns a monitor classifying frames with its own gate.
func NewBargeInMonitor(gate *SpeechGate, playback Playback, cfg BargeInConfig) *BargeInMonitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBargeInThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &BargeInMonitor{gate: gate, playback: playback, cfg: cfg}
}

// Run counts consecutive speech frames on sub. When Threshold is reached it
// stops playback, cancels gen and returns a signal carrying the run and sub,
// in that order. A silence frame or a read timeout resets the run.
//
// Run returns a nil signal and the cause when ctx ends or the stream
// closes; sub then still belongs to the caller.
func (m *BargeInMonitor) Run(ctx context.Context, sub *audio.Subscription, gen *Generation) (*BargeInSignal, error) {
	m.gate.Reset()
	var run []audio.AudioFrame
	for {
		f, err := sub.Next(ctx, m.cfg.PollInterval)
		if errors.Is(err, audio.ErrReadTimeout) {
			run = run[:0]
			continue
		}
		if err != nil {
			return nil, err
		}

		if m.cfg.RequirePlayback && !m.playback.Playing() {
			run = run[:0]
			continue
		}
		if m.cfg.MinLevel > 0 && audio.Level(f.Data) < m.cfg.MinLevel {
			run = run[:0]
			continue
		}
		speech, err := m.gate.Classify(f)
		if errors.Is(err, ErrInvalidFrame) {
			return nil, err
		}
		if err != nil {
			slog.Debug("pipeline: barge-in classification failed", "err", err)
		}
		if !speech {
			run = run[:0]
			continue
		}

		run = append(run, f)
		if len(run) < m.cfg.Threshold {
			continue
		}

		m.playback.Stop()
		if gen != nil {
			gen.Cancel()
		}
		return &BargeInSignal{
			Frames:       slices.Clone(run),
			Subscription: sub,
			At:           time.Now(),
		}, nil
	}
}

// String implements fmt.Stringer for log output.
func (s *BargeInSignal) String() string {
	var d time.Duration
	for _, f := range s.Frames {
		d += f.Duration()
	}
	return fmt.Sprintf("barge-in after %d frames (%s)", len(s.Frames), d)
}
