// Package pipeline implements the full-duplex voice loop: the orchestrator
// state machine and the components it drives.
//
// Captured frames are published on an [audio.Broadcaster]. While idle the
// orchestrator feeds them to a [WakeGate]; once activated a [Collector]
// gathers the utterance, STT transcribes it and a [Streamer] turns the LLM's
// token stream into sentence units. A synthesis goroutine voices every unit
// and a playback goroutine plays the segments in order while a
// [BargeInMonitor] on its own subscription watches for the user talking
// over the response. Interrupting hands the monitor's subscription and the
// triggering frames back to the collector, so no speech is lost.
//
// All notifications leave through a single [EventBus] carrying the sealed
// [Event] union.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/memory"
	"github.com/MrWong99/voxloop/pkg/provider/llm"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
	"github.com/MrWong99/voxloop/pkg/provider/vad"
	"github.com/MrWong99/voxloop/pkg/wake"
)

const (
	textQueueSize = 8
	toneAmplitude = 0.3
)

// Collaborators bundles the backends driven by the [Orchestrator].
type Collaborators struct {
	Audio audio.Backend
	VAD   vad.Engine
	STT   stt.Provider
	LLM   llm.Provider
	TTS   tts.Provider

	// Wake is optional. Nil disables the wake phrase and any speech onset
	// starts a turn.
	Wake wake.Detector

	// Memory is optional. When it is a memory.Store its recent turns seed
	// the history on Load; when it is a memory.Recaller, relevant turns are
	// recalled into the system prompt.
	Memory memory.Recorder
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithMetrics records pipeline metrics to m instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithPersona sets the initial persona.
func WithPersona(p Persona) Option {
	return func(o *Orchestrator) { o.persona = p }
}

// WithEventBus publishes events on bus instead of a private bus.
func WithEventBus(bus *EventBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// Orchestrator owns the pipeline state machine. Exactly one conversation
// session is active at a time. Load, Run, Stop and SubmitText may be called
// from any goroutine.
type Orchestrator struct {
	cfg      Config
	collab   Collaborators
	metrics  *observe.Metrics
	bus      *EventBus
	persona  Persona
	streamer *Streamer
	recorder *memory.AsyncRecorder
	text     chan string

	mu         sync.Mutex
	state      State
	loaded     bool
	sessionID  string
	frames     *audio.Broadcaster
	capture    *audio.Capture
	player     *audio.Player
	speaker    audio.PlaybackDevice
	gate       *SpeechGate
	monGate    *SpeechGate
	collector  *Collector
	wakeGate   *WakeGate
	loadCancel context.CancelFunc
	runCancel  context.CancelFunc
	runDone    chan struct{}
}

// New returns a stopped Orchestrator. Audio, VAD, STT, LLM and TTS
// collaborators are required.
func New(cfg Config, collab Collaborators, opts ...Option) (*Orchestrator, error) {
	var errs []error
	if collab.Audio == nil {
		errs = append(errs, errors.New("audio backend is required"))
	}
	if collab.VAD == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if collab.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if collab.LLM == nil {
		errs = append(errs, errors.New("llm provider is required"))
	}
	if collab.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	o := &Orchestrator{
		cfg:    cfg.withDefaults(),
		collab: collab,
		text:   make(chan string, textQueueSize),
		state:  StateStopped,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.bus == nil {
		o.bus = NewEventBus(0, 0)
	}

	sopts := []StreamerOption{WithStreamerMetrics(o.metrics)}
	if r, ok := collab.Memory.(memory.Recaller); ok && o.cfg.RecallLimit > 0 {
		sopts = append(sopts, WithRecall(r, o.cfg.RecallLimit))
	}
	o.streamer = NewStreamer(collab.LLM, o.persona, sopts...)

	if collab.Memory != nil {
		o.recorder = memory.NewAsyncRecorder(collab.Memory, memory.WithErrorHook(func(err error) {
			slog.Warn("pipeline: record turn", "err", err)
			o.metrics.RecordProviderError(context.Background(), "memory", "record")
		}))
	}
	return o, nil
}

// ─── Public API ──────────────────────────────────────────────────────────────

// Events subscribes to the event stream. Call the returned function to
// unsubscribe.
func (o *Orchestrator) Events() (<-chan Event, func()) {
	return o.bus.Subscribe()
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SessionID returns the id of the current session, or "" before Load.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Persona returns the active persona.
func (o *Orchestrator) Persona() Persona {
	return o.streamer.Persona()
}

// SetPersona hot-applies p. The running response keeps its voice; the next
// one uses p.
func (o *Orchestrator) SetPersona(p Persona) {
	o.streamer.SetPersona(p)
}

// SubmitText queues a user message that bypasses capture and STT. It is
// handled the next time the pipeline is idle.
func (o *Orchestrator) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	select {
	case o.text <- text:
		return nil
	default:
		return ErrTextQueueFull
	}
}

// Load checks that every backend is ready, opens the audio devices and
// seeds the conversation history. A readiness failure leaves the
// orchestrator in [StateLoading] and is returned.
func (o *Orchestrator) Load(ctx context.Context) error {
	o.mu.Lock()
	switch {
	case o.runCancel != nil:
		o.mu.Unlock()
		return ErrAlreadyRunning
	case o.loaded:
		o.mu.Unlock()
		return nil
	}
	loadCtx, cancel := context.WithCancel(ctx)
	o.loadCancel = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.loadCancel = nil
		o.mu.Unlock()
		cancel()
	}()

	o.setState(StateLoading)
	if err := o.checkReady(loadCtx); err != nil {
		o.emitError("load", err)
		return err
	}

	gate, err := o.newGate(o.cfg.SpeechThreshold)
	if err != nil {
		o.emitError("load", err)
		return err
	}
	monGate, err := o.newGate(o.cfg.BargeInSpeechThreshold)
	if err != nil {
		_ = gate.Close()
		o.emitError("load", err)
		return err
	}
	speaker := o.collab.Audio.Playback()
	if err := speaker.Start(); err != nil {
		_ = gate.Close()
		_ = monGate.Close()
		err = fmt.Errorf("pipeline: start playback device: %w", err)
		o.emitError("load", err)
		return err
	}

	o.seedHistory(loadCtx)

	frames := audio.NewBroadcaster(0, audio.WithDropHook(func() {
		o.metrics.DroppedFrames.Add(context.Background(), 1)
	}))
	player := audio.NewPlayer(speaker, audio.WithLevelHook(o.bus.PublishLevel))
	capOpts := []audio.CaptureOption{
		audio.WithGainSuspend(player.Playing),
		audio.WithFrameHook(func(f audio.AudioFrame) { o.bus.PublishLevel(audio.Level(f.Data)) }),
	}
	if o.cfg.InputGain > 0 {
		capOpts = append(capOpts, audio.WithInputGain(o.cfg.InputGain))
	}
	if o.cfg.AutoGainTarget > 0 {
		capOpts = append(capOpts, audio.WithAutoGain(o.cfg.AutoGainTarget))
	}

	o.mu.Lock()
	if loadCtx.Err() != nil {
		o.mu.Unlock()
		_ = speaker.Stop()
		_ = gate.Close()
		_ = monGate.Close()
		return fmt.Errorf("pipeline: load aborted: %w", loadCtx.Err())
	}
	o.frames = frames
	o.player = player
	o.speaker = speaker
	o.capture = audio.NewCapture(o.collab.Audio.Capture(), frames, capOpts...)
	o.gate = gate
	o.monGate = monGate
	o.collector = NewCollector(gate, o.cfg.collectorConfig())
	o.wakeGate = NewWakeGate(o.collab.Wake, gate)
	o.sessionID = uuid.NewString()
	o.loaded = true
	sessionID, wake := o.sessionID, o.wakeGate.Enabled()
	// Idle is set under the lock so a concurrent Stop always lands after it.
	o.setStateLocked(StateIdle)
	o.mu.Unlock()

	slog.Info("pipeline loaded", "session_id", sessionID, "wake", wake)
	return nil
}

// Run starts capture and drives the state machine until ctx is cancelled or
// [Orchestrator.Stop] is called. It returns nil on a requested shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.runCancel != nil {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	if !o.loaded {
		o.mu.Unlock()
		return ErrNotLoaded
	}
	runCtx, cancel := context.WithCancel(observe.WithSessionID(ctx, o.sessionID))
	done := make(chan struct{})
	o.runCancel = cancel
	o.runDone = done
	o.mu.Unlock()

	defer func() {
		cancel()
		o.teardown()
		o.mu.Lock()
		o.runCancel = nil
		o.runDone = nil
		o.mu.Unlock()
		o.setState(StateStopped)
		close(done)
	}()

	sub := o.frames.Subscribe()
	defer func() { sub.Close() }()
	if err := o.capture.Start(); err != nil {
		o.emitError("capture", err)
		return err
	}
	o.metrics.ActiveSessions.Add(runCtx, 1)
	defer o.metrics.ActiveSessions.Add(context.Background(), -1)

	err := o.loop(runCtx, &sub)
	if errors.Is(err, context.Canceled) || errors.Is(err, audio.ErrClosed) {
		return nil
	}
	return err
}

// Stop cancels in-flight work, closes the audio devices and moves to
// [StateStopped]. It works from any state and returns once the run loop has
// exited. Stop is idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	loadCancel, runCancel, done := o.loadCancel, o.runCancel, o.runDone
	o.mu.Unlock()

	if loadCancel != nil {
		loadCancel()
	}
	if runCancel != nil {
		runCancel()
		<-done
		return
	}
	o.teardown()
	o.setState(StateStopped)
}

// Close stops the pipeline, flushes pending memory writes and closes the
// event stream.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.Stop()
	var err error
	if o.recorder != nil {
		err = o.recorder.Close(ctx)
	}
	o.bus.Close()
	return err
}

// ─── Loading and teardown ────────────────────────────────────────────────────

type readinessChecker interface {
	CheckReady(ctx context.Context) error
}

// checkReady runs the readiness checks of every backend that offers one in
// parallel.
func (o *Orchestrator) checkReady(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range []struct {
		name    string
		backend any
	}{
		{"stt", o.collab.STT},
		{"llm", o.collab.LLM},
		{"tts", o.collab.TTS},
	} {
		rc, ok := b.backend.(readinessChecker)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := rc.CheckReady(gctx); err != nil {
				return fmt.Errorf("pipeline: %s not ready: %w", b.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) newGate(threshold float64) (*SpeechGate, error) {
	sess, err := o.collab.VAD.NewSession(vad.Config{
		SampleRate:       audio.FrameSampleRate,
		FrameSizeMs:      int(audio.FrameDuration / time.Millisecond),
		SpeechThreshold:  threshold,
		SilenceThreshold: min(o.cfg.SilenceThreshold, threshold),
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create vad session: %w", err)
	}
	return NewSpeechGate(sess), nil
}

func (o *Orchestrator) seedHistory(ctx context.Context) {
	store, ok := o.collab.Memory.(memory.Store)
	if !ok || o.cfg.RecentTurns <= 0 {
		return
	}
	turns, err := store.Recent(ctx, o.cfg.RecentTurns)
	if err != nil {
		slog.Warn("pipeline: load recent turns", "err", err)
		return
	}
	o.streamer.SeedHistory(turns)
	slog.Debug("pipeline: history seeded", "turns", len(turns))
}

// teardown releases everything Load acquired. It is safe to call more than
// once.
func (o *Orchestrator) teardown() {
	o.mu.Lock()
	if !o.loaded {
		o.mu.Unlock()
		return
	}
	o.loaded = false
	capture, player, speaker, frames := o.capture, o.player, o.speaker, o.frames
	gate, monGate := o.gate, o.monGate
	o.mu.Unlock()

	if err := capture.Stop(); err != nil {
		slog.Warn("pipeline: stop capture", "err", err)
	}
	player.Stop()
	if err := speaker.Stop(); err != nil {
		slog.Warn("pipeline: stop playback", "err", err)
	}
	frames.Close()
	_ = gate.Close()
	_ = monGate.Close()
}

// ─── State machine ───────────────────────────────────────────────────────────

// activation is what ends the idle state.
type activation struct {
	text string
	seed []audio.AudioFrame
	wake bool
}

// loop runs turns until ctx ends. *sub is the main frame subscription; a
// turn may replace it.
func (o *Orchestrator) loop(ctx context.Context, sub **audio.Subscription) error {
	for ctx.Err() == nil {
		o.setState(StateIdle)
		act, err := o.awaitActivation(ctx, *sub)
		if err != nil {
			return err
		}

		var seed []audio.AudioFrame
		switch {
		case act.text != "":
			o.setState(StateThinking)
			sig := o.respond(ctx, sub, act.text)
			if sig == nil {
				continue
			}
			seed = sig.Frames
		case act.wake:
			o.activationTone(ctx, *sub)
		default:
			seed = act.seed
		}

		for ctx.Err() == nil {
			text, ok := o.listen(ctx, *sub, seed)
			if !ok {
				break
			}
			sig := o.respond(ctx, sub, text)
			if sig == nil {
				break
			}
			seed = sig.Frames
		}
	}
	return ctx.Err()
}

// awaitActivation blocks in the idle state until the wake gate fires or a
// text message is queued.
func (o *Orchestrator) awaitActivation(ctx context.Context, sub *audio.Subscription) (activation, error) {
	o.wakeGate.Reset()
	for {
		select {
		case text := <-o.text:
			return activation{text: text}, nil
		default:
		}

		f, err := sub.Next(ctx, o.cfg.PollInterval)
		if errors.Is(err, audio.ErrReadTimeout) {
			continue
		}
		if err != nil {
			return activation{}, err
		}
		ok, seed, err := o.wakeGate.Offer(ctx, f)
		if err != nil {
			if errors.Is(err, ErrInvalidFrame) {
				o.emitError("capture", err)
			} else {
				slog.Warn("pipeline: wake gate", "err", err)
			}
			continue
		}
		if ok {
			observe.Logger(ctx).Debug("pipeline: activated", "wake", o.wakeGate.Enabled())
			return activation{seed: seed, wake: o.wakeGate.Enabled()}, nil
		}
	}
}

// activationTone plays the wake beep and discards the frames that captured
// it.
func (o *Orchestrator) activationTone(ctx context.Context, sub *audio.Subscription) {
	if !o.cfg.ActivationTone {
		return
	}
	tone := audio.Tone(DefaultToneFrequency, DefaultToneDuration, audio.FrameSampleRate, toneAmplitude)
	if err := o.player.Play(ctx, tone); err != nil && ctx.Err() == nil {
		slog.Warn("pipeline: activation tone", "err", err)
	}
	sub.Skip()
}

// listen collects and transcribes one utterance. It reports false when the
// turn ends without usable text.
func (o *Orchestrator) listen(ctx context.Context, sub *audio.Subscription, seed []audio.AudioFrame) (string, bool) {
	o.setState(StateListening)
	utt, err := o.collector.Collect(ctx, sub, seed)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoSpeech):
			observe.Logger(ctx).Debug("pipeline: no speech", "speech", utt.Speech)
			o.metrics.RecordTurn(ctx, observe.OutcomeNoSpeech)
		case ctx.Err() == nil:
			o.emitError("capture", err)
		}
		return "", false
	}

	o.setState(StateThinking)
	start := time.Now()
	sttCtx, span := observe.StartSpan(ctx, "pipeline.stt")
	text, err := o.collab.STT.Transcribe(sttCtx, utt.PCM(), stt.Config{
		SampleRate: audio.FrameSampleRate,
		Channels:   1,
		Language:   o.cfg.Language,
	})
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			o.metrics.RecordTurn(ctx, observe.OutcomeFailed)
			o.emitError("stt", err)
		}
		return "", false
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < o.cfg.MinTranscriptChars {
		observe.Logger(ctx).Debug("pipeline: transcript too short", "text", text)
		o.metrics.RecordTurn(ctx, observe.OutcomeEmpty)
		return "", false
	}
	return text, true
}

// turnPlayback lets the barge-in monitor stop the current turn's audio:
// it cancels the playback context so no further segment starts, then
// silences the player.
type turnPlayback struct {
	player *audio.Player
	cancel context.CancelFunc
}

func (p *turnPlayback) Stop() {
	p.cancel()
	p.player.Stop()
}

func (p *turnPlayback) Playing() bool { return p.player.Playing() }

type monitorResult struct {
	sig *BargeInSignal
	err error
}

// stageError attributes a turn failure to a pipeline stage.
type stageError struct {
	stage string
	err   error
}

// respond speaks the response to userText while watching for barge-in. *sub
// is closed while speaking; only the monitor reads frames then. On barge-in
// respond returns the signal and *sub becomes the monitor's subscription;
// otherwise it waits for the echo tail and *sub is a fresh subscription.
func (o *Orchestrator) respond(ctx context.Context, sub **audio.Subscription, userText string) *BargeInSignal {
	ctx, span := observe.StartSpan(ctx, "pipeline.respond")
	defer span.End()
	log := observe.Logger(ctx)
	o.bus.Publish(Transcript{Text: userText, At: time.Now()})
	log.Info("pipeline: user", "text", userText)

	o.setState(StateSpeaking)
	persona := o.streamer.Persona()
	gen := o.streamer.Stream(ctx, userText)

	turnCtx, turnCancel := context.WithCancel(ctx)
	defer turnCancel()
	playCtx, playCancel := context.WithCancel(turnCtx)
	defer playCancel()

	monSub := o.frames.Subscribe()
	(*sub).Close()
	monitor := NewBargeInMonitor(o.monGate, &turnPlayback{player: o.player, cancel: playCancel}, o.cfg.bargeInConfig())
	monRes := make(chan monitorResult, 1)
	go func() {
		sig, err := monitor.Run(turnCtx, monSub, gen)
		monRes <- monitorResult{sig: sig, err: err}
	}()

	segments := make(chan *audio.Segment, 2)
	synthDone := make(chan *stageError, 1)
	go func() { synthDone <- o.synthesize(playCtx, gen, persona.Voice, segments) }()
	playDone := make(chan *stageError, 1)
	go func() { playDone <- o.playSegments(playCtx, segments) }()

	var (
		sig     *BargeInSignal
		playErr *stageError
	)
	select {
	case playErr = <-playDone:
		turnCancel()
		sig = (<-monRes).sig
	case res := <-monRes:
		sig = res.sig
		if sig == nil && res.err != nil && ctx.Err() == nil {
			log.Warn("pipeline: barge-in monitor stopped", "err", res.err)
		}
		if sig != nil {
			playCancel()
		}
		playErr = <-playDone
	}
	playCancel()
	synthErr := <-synthDone

	failure := synthErr
	if failure == nil {
		failure = playErr
	}
	if sig == nil && (failure != nil || ctx.Err() != nil) {
		gen.Cancel()
	}
	<-gen.Done()

	interrupted := sig != nil
	reply := gen.Response()
	span.SetAttributes(attribute.Bool("interrupted", interrupted), attribute.Int("reply.chars", len(reply)))
	if reply != "" {
		o.record(ctx, userText, reply, interrupted)
	}
	log.Info("pipeline: assistant", "text", reply, "interrupted", interrupted)

	switch {
	case interrupted:
		o.metrics.BargeIns.Add(ctx, 1)
		o.metrics.RecordTurn(ctx, observe.OutcomeInterrupted)
		log.Info("pipeline: " + sig.String())
	case failure != nil && ctx.Err() == nil:
		span.RecordError(failure.err)
		o.metrics.RecordTurn(ctx, observe.OutcomeFailed)
		o.emitError(failure.stage, failure.err)
	case gen.Err() != nil:
		o.metrics.RecordTurn(ctx, observe.OutcomeFailed)
		o.emitError("llm", gen.Err())
	case ctx.Err() == nil:
		o.metrics.RecordTurn(ctx, observe.OutcomeCompleted)
	}

	if interrupted {
		*sub = sig.Subscription
		return sig
	}
	monSub.Close()
	if ctx.Err() == nil {
		t := time.NewTimer(o.cfg.EchoTail)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	*sub = o.frames.Subscribe()
	return nil
}

// synthesize voices every unit of gen in order and hands the segments to
// out. It closes out when done.
func (o *Orchestrator) synthesize(ctx context.Context, gen *Generation, voice tts.VoiceProfile, out chan<- *audio.Segment) *stageError {
	defer close(out)
	for unit := range gen.Units() {
		o.bus.Publish(Response{Text: unit, At: time.Now()})
		text := PrepareForSpeech(unit)
		if text == "" {
			continue
		}
		start := time.Now()
		seg, err := o.collab.TTS.Synthesize(ctx, text, voice)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &stageError{stage: "tts", err: fmt.Errorf("pipeline: synthesize: %w", err)}
		}
		o.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		select {
		case out <- seg:
		case <-ctx.Done():
			go audio.Drain(seg.Audio)
			return nil
		}
	}
	return nil
}

// playSegments plays segments in order until in closes or ctx ends.
func (o *Orchestrator) playSegments(ctx context.Context, in <-chan *audio.Segment) *stageError {
	for seg := range in {
		err := o.player.Play(ctx, seg)
		if err == nil {
			continue
		}
		go func() {
			for s := range in {
				audio.Drain(s.Audio)
			}
		}()
		switch {
		case ctx.Err() != nil, errors.Is(err, audio.ErrPlaybackStopped):
			return nil
		case seg.Err() != nil && errors.Is(err, seg.Err()):
			return &stageError{stage: "tts", err: fmt.Errorf("pipeline: synthesis stream: %w", err)}
		default:
			return &stageError{stage: "playback", err: err}
		}
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setStateLocked(s)
}

// setStateLocked is setState for callers holding o.mu.
func (o *Orchestrator) setStateLocked(s State) {
	from := o.state
	if from == s {
		return
	}
	o.state = s
	o.bus.Publish(StateChanged{From: from, To: s, At: time.Now()})
	o.metrics.RecordStateTransition(context.Background(), s.String())
	slog.Debug("pipeline: state", "from", from, "to", s)
}

func (o *Orchestrator) emitError(stage string, err error) {
	slog.Error("pipeline: "+stage+" failed", "err", err)
	o.metrics.RecordProviderError(context.Background(), stage, "turn")
	o.bus.Publish(Error{Stage: stage, Err: err, At: time.Now()})
}

func (o *Orchestrator) record(ctx context.Context, user, assistant string, interrupted bool) {
	if o.recorder == nil {
		return
	}
	_ = o.recorder.RecordTurn(ctx, memory.Turn{
		SessionID:     o.SessionID(),
		UserText:      user,
		AssistantText: assistant,
		Timestamp:     time.Now(),
		Interrupted:   interrupted,
	})
}
