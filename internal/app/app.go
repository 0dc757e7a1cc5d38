// Package app wires the voxloop subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run loads the pipeline and blocks until shutdown, Start and
// Stop drive the pipeline on behalf of remote clients, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithMemory, WithWakeDetector, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxloop/internal/config"
	"github.com/MrWong99/voxloop/internal/health"
	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/internal/pipeline"
	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/memory"
	"github.com/MrWong99/voxloop/pkg/memory/postgres"
	"github.com/MrWong99/voxloop/pkg/provider/embeddings"
	"github.com/MrWong99/voxloop/pkg/provider/llm"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
	"github.com/MrWong99/voxloop/pkg/provider/vad"
	"github.com/MrWong99/voxloop/pkg/wake"
	"github.com/MrWong99/voxloop/pkg/wake/phrase"
)

// defaultEmbeddingDimensions matches OpenAI text-embedding-3-small.
const defaultEmbeddingDimensions = 1536

// Providers holds one interface value per provider slot. Populated by
// [BuildProviders] from the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	VAD        vad.Engine
	Embeddings embeddings.Provider
	Audio      audio.Backend
}

// App owns all subsystem lifetimes and the voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	store    memory.Recorder
	wake     wake.Detector
	orch     *pipeline.Orchestrator
	checkers []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	sessions *SessionManager

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMemory injects a memory store instead of creating one from config.
func WithMemory(r memory.Recorder) Option {
	return func(a *App) { a.store = r }
}

// WithWakeDetector injects a wake detector. It is used even when the config
// does not enable the wake phrase.
func WithWakeDetector(d wake.Detector) Option {
	return func(a *App) { a.wake = d }
}

// WithMetrics records metrics to m instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the default logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]. New connects the memory store and builds the wake
// detector and orchestrator; it does not open audio devices.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Memory store ──────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Wake phrase ───────────────────────────────────────────────────
	if err := a.initWake(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init wake: %w", err)
	}

	// ── 3. Orchestrator ──────────────────────────────────────────────────
	orch, err := pipeline.New(PipelineConfig(cfg), pipeline.Collaborators{
		Audio:  providers.Audio,
		VAD:    providers.VAD,
		STT:    providers.STT,
		LLM:    providers.LLM,
		TTS:    providers.TTS,
		Wake:   a.wake,
		Memory: a.store,
	}, pipeline.WithMetrics(a.metrics), pipeline.WithPersona(Persona(cfg.Persona)))
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.orch = orch
	a.sessions = NewSessionManager(orch)

	// ── 4. Readiness checks ──────────────────────────────────────────────
	a.checkers = append(a.checkers, health.StateChecker("pipeline", func() string {
		return orch.State().String()
	}, pipeline.StateIdle.String(), pipeline.StateListening.String(),
		pipeline.StateThinking.String(), pipeline.StateSpeaking.String()))
	for name, p := range map[string]any{"llm": providers.LLM, "stt": providers.STT, "tts": providers.TTS} {
		if bs, ok := p.(health.BackendStatus); ok {
			a.checkers = append(a.checkers, health.BreakerChecker(name, bs))
		}
	}

	// Providers with native resources are released last.
	for _, p := range []any{providers.STT, providers.TTS, providers.LLM, providers.Embeddings, providers.Audio} {
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory connects the pgvector store when a DSN is configured and falls
// back to an in-process store otherwise.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		if p, ok := a.store.(health.Pinger); ok {
			a.checkers = append(a.checkers, health.PingChecker("memory", p))
		}
		return nil
	}

	var embedder memory.Embedder
	if a.providers.Embeddings != nil {
		embedder = a.providers.Embeddings
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		a.store = memory.NewInMemoryStore(a.cfg.Memory.Capacity, embedder)
		slog.Info("memory: using in-process store", "capacity", a.cfg.Memory.Capacity, "recall", embedder != nil)
		return nil
	}

	dims := a.cfg.Memory.EmbeddingDimensions
	if dims <= 0 && a.providers.Embeddings != nil {
		dims = a.providers.Embeddings.Dimensions()
	}
	if dims <= 0 {
		dims = defaultEmbeddingDimensions
	}
	var opts []postgres.Option
	if embedder != nil {
		opts = append(opts, postgres.WithEmbedder(embedder))
	}
	store, err := postgres.NewStore(ctx, dsn, dims, opts...)
	if err != nil {
		return err
	}
	a.store = store
	a.checkers = append(a.checkers, health.PingChecker("memory", store))
	a.closers = append(a.closers, store.Close)
	slog.Info("memory: connected to postgres", "dimensions", dims, "recall", embedder != nil)
	return nil
}

// initWake builds the phrase detector when the wake gate is enabled.
func (a *App) initWake() error {
	wc := a.cfg.Pipeline.Wake
	if a.wake != nil || !wc.Enabled {
		return nil
	}
	pc := PipelineConfig(a.cfg)
	speech := pc.SpeechThreshold
	if speech <= 0 {
		speech = pipeline.DefaultSpeechThreshold
	}
	silence := pc.SilenceThreshold
	if silence <= 0 {
		silence = pipeline.DefaultSilenceThreshold
	}
	sess, err := a.providers.VAD.NewSession(vad.Config{
		SampleRate:       audio.FrameSampleRate,
		FrameSizeMs:      int(audio.FrameDuration.Milliseconds()),
		SpeechThreshold:  speech,
		SilenceThreshold: min(silence, speech),
	})
	if err != nil {
		return fmt.Errorf("vad session: %w", err)
	}
	var opts []phrase.Option
	if lang := a.cfg.Pipeline.Language; lang != "" {
		opts = append(opts, phrase.WithLanguage(lang))
	}
	det, err := phrase.New(sess, a.providers.STT, wc.Phrases, opts...)
	if err != nil {
		_ = sess.Close()
		return err
	}
	a.wake = det
	a.closers = append(a.closers, det.Close)
	slog.Info("wake phrase enabled", "phrases", wc.Phrases)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the voice pipeline.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orch }

// Checkers returns the readiness checks for /readyz.
func (a *App) Checkers() []health.Checker { return a.checkers }

// Voices lists the voices of the configured TTS provider.
func (a *App) Voices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return a.providers.TTS.ListVoices(ctx)
}

// State returns the pipeline state.
func (a *App) State() pipeline.State { return a.orch.State() }

// Events subscribes to pipeline events.
func (a *App) Events() (<-chan pipeline.Event, func()) { return a.orch.Events() }

// Sessions returns the session manager that starts and stops the pipeline.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Run starts a session when server.auto_start is not false and blocks until
// ctx is cancelled. Sessions started later by clients are bound to ctx as
// well. An auto-start load failure is returned immediately. When ctx is
// done, Run stops the active session and returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	a.sessions.SetBaseContext(ctx)

	if auto := a.cfg.Server.AutoStart; auto == nil || *auto {
		if err := a.sessions.Start(ctx, "auto_start"); err != nil {
			return err
		}
	}
	slog.Info("app running", "session_active", a.sessions.IsActive())

	<-ctx.Done()
	if err := a.sessions.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		slog.Warn("stop session", "err", err)
	}
	return ctx.Err()
}

// ApplyConfig hot-applies the parts of a reloaded config that can change at
// runtime. It is meant as the [config.Watcher] callback.
func (a *App) ApplyConfig(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PersonaChanged() {
		a.orch.SetPersona(Persona(updated.Persona))
		slog.Info("persona updated",
			"system_prompt", d.SystemPromptChanged,
			"voice", d.VoiceChanged,
			"apology", d.ApologyChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the pipeline, flushes pending memory writes and runs the
// closers in order. If ctx expires before all closers finish, the remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.orch.Close(ctx); err != nil {
			slog.Warn("pipeline close error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what New acquired before a later step failed.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
