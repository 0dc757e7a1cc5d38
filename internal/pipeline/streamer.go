package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/memory"
	"github.com/MrWong99/voxloop/pkg/provider/llm"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

const (
	// DefaultApology is spoken when the LLM fails mid-turn.
	DefaultApology = "Sorry, something went wrong while I was answering."

	// DefaultHistoryTurns is the number of user/assistant exchanges kept.
	DefaultHistoryTurns = 20

	defaultRecallK       = 3
	defaultRecallTimeout = 2 * time.Second

	// unitTerminators end a sentence unit.
	unitTerminators = ".!?…\n"
)

// Persona is the hot-swappable part of the streamer configuration.
type Persona struct {
	// SystemPrompt is sent ahead of the conversation history.
	SystemPrompt string

	// Apology is the single unit spoken when generation fails.
	Apology string

	// Voice is the TTS voice used for responses.
	Voice tts.VoiceProfile

	// HistoryTurns is the number of past exchanges sent with each request.
	HistoryTurns int

	// Temperature and MaxTokens are passed through to the LLM.
	Temperature float64
	MaxTokens   int
}

func (p Persona) withDefaults() Persona {
	if p.Apology == "" {
		p.Apology = DefaultApology
	}
	if p.HistoryTurns <= 0 {
		p.HistoryTurns = DefaultHistoryTurns
	}
	return p
}

// ─── Generation ──────────────────────────────────────────────────────────────

// Generation is one in-flight response. Its sentence units are read from
// [Generation.Units] by a single consumer; the channel closes when the
// response is complete, failed or was cancelled.
type Generation struct {
	token *CancelToken
	units chan string
	done  chan struct{}

	mu      sync.Mutex
	partial strings.Builder
	spoken  []string
	err     error
}

func newGeneration(parent context.Context) *Generation {
	return &Generation{
		token: NewCancelToken(parent),
		units: make(chan string),
		done:  make(chan struct{}),
	}
}

// Units returns the channel of sentence units.
func (g *Generation) Units() <-chan string { return g.units }

// Cancel aborts the upstream request. No unit is delivered after Cancel
// returns. Cancel is idempotent.
func (g *Generation) Cancel() { g.token.Cancel() }

// Cancelled reports whether Cancel was called.
func (g *Generation) Cancelled() bool { return g.token.Cancelled() }

// Done is closed once the generation has finished and history was updated.
func (g *Generation) Done() <-chan struct{} { return g.done }

// Partial returns all response text received so far, trimmed.
func (g *Generation) Partial() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return strings.TrimSpace(g.partial.String())
}

// Text returns the units delivered to the consumer joined by spaces. The
// apology unit is not included.
func (g *Generation) Text() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return strings.Join(g.spoken, " ")
}

// Response is the text that stands for this turn: the delivered units, or
// the partial response when none were delivered.
func (g *Generation) Response() string {
	if t := g.Text(); t != "" {
		return t
	}
	return g.Partial()
}

// Err returns the upstream failure, if any. Cancellation is not an error.
func (g *Generation) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *Generation) appendPartial(s string) {
	g.mu.Lock()
	g.partial.WriteString(s)
	g.mu.Unlock()
}

// deliver hands unit to the consumer. It reports false once the generation
// is cancelled.
func (g *Generation) deliver(unit string, record bool) bool {
	if g.token.Context().Err() != nil {
		return false
	}
	select {
	case g.units <- unit:
		if record {
			g.mu.Lock()
			g.spoken = append(g.spoken, unit)
			g.mu.Unlock()
		}
		return true
	case <-g.token.Done():
		return false
	}
}

func (g *Generation) fail(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

// ─── Streamer ────────────────────────────────────────────────────────────────

// StreamerOption configures a [Streamer].
type StreamerOption func(*Streamer)

// WithRecall injects up to k recollections from r into the system prompt of
// every request.
func WithRecall(r memory.Recaller, k int) StreamerOption {
	return func(s *Streamer) {
		s.recaller = r
		if k > 0 {
			s.recallK = k
		}
	}
}

// WithStreamerMetrics records first-unit latency to m.
func WithStreamerMetrics(m *observe.Metrics) StreamerOption {
	return func(s *Streamer) { s.metrics = m }
}

// Streamer turns LLM token streams into sentence units and keeps the rolling
// conversation history. One generation runs at a time.
type Streamer struct {
	llm      llm.Provider
	recaller memory.Recaller
	recallK  int
	metrics  *observe.Metrics

	mu      sync.Mutex
	persona Persona
	history []llm.Message
}

// NewStreamer returns a Streamer sending requests to provider.
func NewStreamer(provider llm.Provider, persona Persona, opts ...StreamerOption) *Streamer {
	s := &Streamer{
		llm:     provider,
		recallK: defaultRecallK,
		persona: persona.withDefaults(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Persona returns the active persona.
func (s *Streamer) Persona() Persona {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persona
}

// SetPersona replaces the persona. It takes effect with the next request.
func (s *Streamer) SetPersona(p Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persona = p.withDefaults()
	s.trimLocked()
}

// SeedHistory replaces the history with turns, oldest first.
func (s *Streamer) SeedHistory(turns []memory.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = s.history[:0]
	for _, t := range turns {
		if t.UserText == "" || t.AssistantText == "" {
			continue
		}
		s.history = append(s.history,
			llm.User(t.UserText),
			llm.Assistant(t.AssistantText),
		)
	}
	s.trimLocked()
}

// History returns a copy of the conversation history.
func (s *Streamer) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Stream starts a response to userText. Cancelling ctx or the returned
// generation aborts the upstream request.
func (s *Streamer) Stream(ctx context.Context, userText string) *Generation {
	gen := newGeneration(ctx)

	s.mu.Lock()
	s.history = append(s.history, llm.User(userText))
	persona := s.persona
	msgs := s.fitLocked(persona.SystemPrompt)
	s.mu.Unlock()

	go s.run(gen, userText, msgs, persona)
	return gen
}

func (s *Streamer) run(gen *Generation, userText string, msgs []llm.Message, persona Persona) {
	defer func() {
		s.commit(gen)
		gen.token.release()
		close(gen.units)
		close(gen.done)
	}()

	ctx := gen.token.Context()
	req := llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: s.systemPrompt(ctx, persona.SystemPrompt, userText),
		Temperature:  persona.Temperature,
		MaxTokens:    persona.MaxTokens,
	}

	start := time.Now()
	ch, err := s.llm.StreamCompletion(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			s.apologize(gen, fmt.Errorf("pipeline: start completion: %w", err), persona.Apology)
		}
		return
	}

	var (
		buf   strings.Builder
		think thinkFilter
	)
	first := true
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(ch)
			return
		case c, ok := <-ch:
			if !ok {
				if tail := think.Flush(); tail != "" {
					gen.appendPartial(tail)
					buf.WriteString(tail)
				}
				if rest := strings.TrimSpace(buf.String()); rest != "" {
					gen.deliver(rest, true)
				}
				return
			}
			if c.FinishReason == llm.FinishReasonError {
				go audio.Drain(ch)
				s.apologize(gen, fmt.Errorf("pipeline: completion stream: %s", c.Text), persona.Apology)
				return
			}
			text := think.Push(c.Text)
			if text == "" {
				continue
			}
			gen.appendPartial(text)
			buf.WriteString(text)

			unit, rest, ok := splitUnit(buf.String())
			if !ok {
				continue
			}
			buf.Reset()
			buf.WriteString(rest)
			if unit == "" {
				continue
			}
			if first {
				first = false
				s.metrics.LLMFirstUnit.Record(ctx, time.Since(start).Seconds())
			}
			if !gen.deliver(unit, true) {
				go audio.Drain(ch)
				return
			}
		}
	}
}

// apologize records err and delivers the apology as the final unit.
func (s *Streamer) apologize(gen *Generation, err error, apology string) {
	gen.fail(err)
	slog.Warn("pipeline: generation failed", "err", err)
	s.metrics.RecordProviderError(context.Background(), "llm", "stream")
	gen.deliver(apology, false)
}

// commit appends the response to the history, or drops the user message
// when the turn produced no assistant text.
func (s *Streamer) commit(gen *Generation) {
	text := gen.Response()
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		if n := len(s.history); n > 0 && s.history[n-1].Role == llm.RoleUser {
			s.history = s.history[:n-1]
		}
		return
	}
	s.history = append(s.history, llm.Assistant(text))
	s.trimLocked()
}

// trimLocked keeps the last HistoryTurns exchanges and never starts the
// history with an assistant message.
func (s *Streamer) trimLocked() {
	if limit := s.persona.HistoryTurns * 2; len(s.history) > limit {
		s.history = slices.Clone(s.history[len(s.history)-limit:])
	}
	for len(s.history) > 0 && s.history[0].Role != llm.RoleUser {
		s.history = s.history[1:]
	}
}

// fitLocked returns the history trimmed from the front until it fits the
// model's context window next to the system prompt and the output budget.
func (s *Streamer) fitLocked(system string) []llm.Message {
	msgs := slices.Clone(s.history)
	budget := s.llm.Capabilities().InputBudget()
	if budget < 0 {
		return msgs
	}
	budget -= llm.EstimateTokens([]llm.Message{{Role: llm.RoleSystem, Content: system}})
	for len(msgs) > 1 {
		n, err := s.llm.CountTokens(msgs)
		if err != nil {
			n = llm.EstimateTokens(msgs)
		}
		if n <= budget {
			break
		}
		msgs = msgs[1:]
		for len(msgs) > 1 && msgs[0].Role != llm.RoleUser {
			msgs = msgs[1:]
		}
	}
	return msgs
}

// systemPrompt appends relevant recollections to base.
func (s *Streamer) systemPrompt(ctx context.Context, base, query string) string {
	if s.recaller == nil || strings.TrimSpace(query) == "" {
		return base
	}
	rctx, cancel := context.WithTimeout(ctx, defaultRecallTimeout)
	defer cancel()
	recs, err := s.recaller.Recall(rctx, query, s.recallK)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("pipeline: memory recall failed", "err", err)
		}
		return base
	}
	if len(recs) == 0 {
		return base
	}
	var sb strings.Builder
	sb.WriteString(base)
	if base != "" {
		sb.WriteString("\n\n")
	}
	sb.WriteString("Relevant memories from earlier conversations:")
	for _, r := range recs {
		sb.WriteString("\n- ")
		sb.WriteString(strings.ReplaceAll(r.Turn.Document(), "\n", " / "))
	}
	return sb.String()
}

// splitUnit cuts buf after its last terminator. It returns the trimmed unit,
// the remainder and whether a terminator was found.
func splitUnit(buf string) (unit, rest string, ok bool) {
	idx := strings.LastIndexAny(buf, unitTerminators)
	if idx < 0 {
		return "", buf, false
	}
	_, size := utf8.DecodeRuneInString(buf[idx:])
	end := idx + size
	return strings.TrimSpace(buf[:end]), buf[end:], true
}
