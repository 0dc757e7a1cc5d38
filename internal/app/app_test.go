package app_test

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxloop/internal/app"
	"github.com/MrWong99/voxloop/internal/config"
	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/internal/pipeline"
	audiomock "github.com/MrWong99/voxloop/pkg/audio/mock"
	memorymock "github.com/MrWong99/voxloop/pkg/memory/mock"
	"github.com/MrWong99/voxloop/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxloop/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/voxloop/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/voxloop/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/voxloop/pkg/provider/vad/mock"
)

// testConfig returns a minimal config that does not auto-start.
func testConfig() *config.Config {
	off := false
	return &config.Config{
		Server: config.ServerConfig{
			LogLevel:  config.LogInfo,
			AutoStart: &off,
		},
		Pipeline: config.PipelineConfig{
			PollInterval: 20 * time.Millisecond,
			EchoTail:     10 * time.Millisecond,
		},
		Persona: config.PersonaConfig{
			SystemPrompt: "You are a kitchen timer.",
		},
		Memory: config.MemoryConfig{Capacity: 10},
	}
}

type testRig struct {
	providers *app.Providers
	backend   *audiomock.Backend
	llm       *llmmock.Provider
	vad       *vadmock.Engine
}

// testProviders returns providers backed by mocks.
func testProviders() *testRig {
	r := &testRig{
		backend: audiomock.NewBackend(),
		llm:     &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Ten minutes."}}},
		vad:     &vadmock.Engine{},
	}
	r.providers = &app.Providers{
		LLM:   r.llm,
		STT:   &sttmock.Provider{Text: "set a timer"},
		TTS:   &ttsmock.Provider{PCM: make([]byte, 640)},
		VAD:   r.vad,
		Audio: r.backend,
	}
	return r
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

func newApp(t *testing.T, cfg *config.Config, r *testRig, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, r.providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func checkerNames(a *app.App) []string {
	var names []string
	for _, c := range a.Checkers() {
		names = append(names, c.Name)
	}
	return names
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	mem := &memorymock.Recorder{}
	a := newApp(t, testConfig(), testProviders(), app.WithMemory(mem))

	if a.Orchestrator() == nil {
		t.Fatal("Orchestrator() = nil")
	}
	if got := a.State(); got != pipeline.StateStopped {
		t.Errorf("State() = %v, want stopped", got)
	}
	if !slices.Contains(checkerNames(a), "pipeline") {
		t.Errorf("checkers = %v, want pipeline", checkerNames(a))
	}
	if got := a.Orchestrator().Persona().SystemPrompt; got != "You are a kitchen timer." {
		t.Errorf("persona prompt = %q", got)
	}
}

func TestNew_MissingProviders(t *testing.T) {
	t.Parallel()

	r := testProviders()
	r.providers.Audio = nil
	r.providers.TTS = nil

	_, err := app.New(context.Background(), testConfig(), r.providers, app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("New() = nil error, want missing provider error")
	}
}

func TestNew_WakePhraseSessionConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Pipeline.Wake = config.WakeConfig{Enabled: true, Phrases: []string{"hey kitchen"}}
	cfg.Pipeline.SpeechThreshold = 0.6
	r := testProviders()
	newApp(t, cfg, r)

	if len(r.vad.NewSessionCalls) != 1 {
		t.Fatalf("NewSession calls = %d, want 1", len(r.vad.NewSessionCalls))
	}
	got := r.vad.NewSessionCalls[0].Cfg
	if got.SampleRate != 16000 || got.FrameSizeMs != 32 {
		t.Errorf("session config = %+v, want 16 kHz / 32 ms", got)
	}
	if got.SpeechThreshold != 0.6 || got.SilenceThreshold > got.SpeechThreshold {
		t.Errorf("thresholds = %v / %v", got.SpeechThreshold, got.SilenceThreshold)
	}
}

func TestNew_WakePhraseWithoutPhrases(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Pipeline.Wake = config.WakeConfig{Enabled: true}
	_, err := app.New(context.Background(), cfg, testProviders().providers, app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("New() = nil error, want wake phrase error")
	}
}

func TestRun_AutoStart(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.AutoStart = nil
	a := newApp(t, cfg, testProviders())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	waitFor(t, func() bool { return a.Sessions().IsActive() })
	if info := a.Sessions().Info(); info.StartedBy != "auto_start" || info.SessionID == "" {
		t.Errorf("Info() = %+v", info)
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.Sessions().IsActive() {
		t.Error("session still active after Run returned")
	}
	if got := a.State(); got != pipeline.StateStopped {
		t.Errorf("State() = %v, want stopped", got)
	}
}

func TestRun_AutoStartLoadFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.AutoStart = nil
	r := testProviders()
	r.llm.ReadyErr = errors.New("model not found")
	a := newApp(t, cfg, r)

	select {
	case err := <-runAsync(a, context.Background()):
		if err == nil {
			t.Errorf("Run() = %v, want load failure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not fail on load error")
	}
	if a.Sessions().IsActive() {
		t.Error("session active after load failure")
	}
}

func TestRun_NoAutoStart(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), testProviders())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v, want deadline exceeded", err)
	}
	if a.Sessions().IsActive() {
		t.Error("session started with auto_start: false")
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	a := newApp(t, testConfig(), testProviders(), app.WithLogLevel(&lv))

	old := testConfig()
	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Persona.SystemPrompt = "You are a pirate."
	updated.Persona.Voice.VoiceID = "parrot"
	updated.Providers.LLM.Model = "bigger-model"

	a.ApplyConfig(old, updated)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
	p := a.Orchestrator().Persona()
	if p.SystemPrompt != "You are a pirate." || p.Voice.ID != "parrot" {
		t.Errorf("persona = %+v", p)
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	r := testProviders()
	mem := &memorymock.Recorder{}
	a, err := app.New(context.Background(), testConfig(), r.providers,
		app.WithMetrics(testMetrics(t)), app.WithMemory(mem))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Sessions().Start(context.Background(), "test"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if r.backend.CloseCalls != 1 {
		t.Errorf("backend Close calls = %d, want 1", r.backend.CloseCalls)
	}
	if a.State() != pipeline.StateStopped {
		t.Errorf("State() = %v after shutdown", a.State())
	}

	// Shutdown is idempotent.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
	if r.backend.CloseCalls != 1 {
		t.Errorf("backend closed %d times", r.backend.CloseCalls)
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()

	r := testProviders()
	a, err := app.New(context.Background(), testConfig(), r.providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() = %v, want context.Canceled", err)
	}
	if r.backend.CloseCalls != 0 {
		t.Errorf("backend closed after deadline, calls = %d", r.backend.CloseCalls)
	}
}

func runAsync(a *app.App, ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- a.Run(ctx) }()
	return ch
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
