// Package server exposes the voice pipeline to browser clients.
//
// Clients connect to /ws and receive the pipeline's events as JSON messages
// (state, transcript, response, audio_level, error, toast). They may send
// start/stop commands and typed text. A small JSON API reports status and
// available voices, and the health and metrics endpoints are mounted on the
// same mux.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/MrWong99/voxloop/internal/app"
	"github.com/MrWong99/voxloop/internal/health"
	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/internal/pipeline"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	loadTimeout  = 2 * time.Minute
)

// Sessions starts and stops the pipeline. [app.SessionManager] satisfies it.
type Sessions interface {
	Start(ctx context.Context, startedBy string) error
	Stop() error
	IsActive() bool
	Info() app.SessionInfo
	SubmitText(text string) error
}

// Application is what the server needs from the running application.
// [app.App] satisfies it through a small adapter returned by [FromApp].
type Application interface {
	Sessions() Sessions
	State() pipeline.State
	Events() (<-chan pipeline.Event, func())
	Voices(ctx context.Context) ([]tts.VoiceProfile, error)
	Checkers() []health.Checker
}

type appAdapter struct{ *app.App }

func (a appAdapter) Sessions() Sessions { return a.App.Sessions() }

// FromApp adapts a to [Application].
func FromApp(a *app.App) Application { return appAdapter{a} }

// Server handles HTTP and WebSocket connections.
type Server struct {
	app     Application
	metrics *observe.Metrics
	origins []string
	limit   int
	window  time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a [Server].
type Option func(*Server)

// WithOriginPatterns sets the host patterns accepted for cross-origin
// WebSocket upgrades. The default accepts localhost on any port.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithMetrics records HTTP metrics to m instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimit overrides the per-connection incoming message limit.
func WithRateLimit(messages int, window time.Duration) Option {
	return func(s *Server) { s.limit, s.window = messages, window }
}

// New creates a server for a.
func New(a Application, opts ...Option) *Server {
	s := &Server{
		app:     a,
		origins: []string{"localhost:*", "127.0.0.1:*"},
		limit:   RateLimitMessages,
		window:  RateLimitWindow,
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/voices", s.handleVoices)

	health.New(s.app.Checkers()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(observe.Middleware(s.metrics)(mux))
}

// Shutdown closes every WebSocket connection and waits for their handlers
// to return. http.Server.Shutdown does not track hijacked connections.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		go func() {
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			c.cancel()
		}()
	}
	s.wg.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ─── REST API ────────────────────────────────────────────────────────────────

type sessionJSON struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	StartedBy string    `json:"started_by"`
}

type statusJSON struct {
	State   string       `json:"state"`
	Label   string       `json:"label"`
	Running bool         `json:"running"`
	Session *sessionJSON `json:"session,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.app.State()
	resp := statusJSON{State: st.String(), Label: st.Label(), Running: s.app.Sessions().IsActive()}
	if info := s.app.Sessions().Info(); info.SessionID != "" {
		resp.Session = &sessionJSON{ID: info.SessionID, StartedAt: info.StartedAt, StartedBy: info.StartedBy}
	}
	writeJSON(w, http.StatusOK, resp)
}

type voiceJSON struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.app.Voices(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("list voices failed", "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	out := make([]voiceJSON, 0, len(voices))
	for _, v := range voices {
		out = append(out, voiceJSON{ID: v.ID, Name: v.Name, Provider: v.Provider, Metadata: v.Metadata})
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write json response", "err", err)
	}
}

// ─── WebSocket ───────────────────────────────────────────────────────────────

// client is one WebSocket connection. All writes go through send so that
// messages reach the client in order.
type client struct {
	conn    *websocket.Conn
	send    chan any
	limiter *rate.Limiter
	remote  string
	cancel  context.CancelFunc
	log     *slog.Logger
}

// enqueue queues msg without blocking. It reports false when the client's
// buffer is full and the message was dropped.
func (c *client) enqueue(msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		c.log.Debug("websocket send buffer full, dropping message")
		return false
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Error("websocket accept error", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	c := &client{
		conn:    conn,
		send:    make(chan any, sendBuffer),
		limiter: newRateLimiter(s.limit, s.window),
		remote:  r.RemoteAddr,
		cancel:  cancel,
		log:     observe.Logger(ctx).With("remote", r.RemoteAddr),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		s.wg.Done()
	}()

	events, unsubscribe := s.app.Events()
	defer unsubscribe()

	c.log.Info("websocket connected")
	c.enqueue(stateMessage(s.app.State()))

	var wg sync.WaitGroup
	wg.Go(func() { s.writeLoop(ctx, c) })
	wg.Go(func() {
		for ev := range events {
			if msg, ok := eventMessage(ev); ok {
				c.enqueue(msg)
			}
		}
		// The event stream ended: the application is shutting down.
		cancel()
	})

	s.readLoop(ctx, c)
	cancel()
	unsubscribe()
	wg.Wait()
	c.log.Info("websocket disconnected")
}

func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				c.log.Debug("websocket write error", "err", err)
				c.cancel()
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			c.log.Debug("websocket read error", "err", err)
			return
		}
		if !c.limiter.Allow() {
			c.log.Warn("rate limit exceeded")
			c.enqueue(errorMessage("rate limit exceeded"))
			continue
		}
		if typ != websocket.MessageText {
			c.enqueue(errorMessage("binary messages are not supported"))
			continue
		}

		var base Message
		if err := json.Unmarshal(data, &base); err != nil {
			c.enqueue(errorMessage("invalid message: expected a JSON object"))
			continue
		}

		switch base.Type {
		case TypeCommand:
			var cmd CommandMessage
			if err := json.Unmarshal(data, &cmd); err != nil {
				c.enqueue(errorMessage("invalid command: %v", err))
				continue
			}
			s.handleCommand(ctx, c, cmd.Action)
		case TypeTextInput:
			var in TextInputMessage
			if err := json.Unmarshal(data, &in); err != nil {
				c.enqueue(errorMessage("invalid text_input: %v", err))
				continue
			}
			s.handleTextInput(c, in.Text)
		default:
			c.enqueue(errorMessage("unknown message type: %q", base.Type))
		}
	}
}

func (s *Server) handleCommand(ctx context.Context, c *client, action string) {
	sessions := s.app.Sessions()
	switch action {
	case "start":
		if sessions.IsActive() {
			c.enqueue(toast("warning", "The pipeline is already running."))
			return
		}
		c.log.Info("start requested")
		c.enqueue(toast("info", "Starting the pipeline, loading models."))

		// Loading can take a while; the client keeps receiving state
		// events meanwhile and the load survives a disconnect.
		s.wg.Go(func() {
			lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
			defer cancel()
			err := sessions.Start(lctx, c.remote)
			switch {
			case errors.Is(err, pipeline.ErrAlreadyRunning):
				c.enqueue(toast("warning", "The pipeline is already running."))
			case err != nil:
				c.log.Error("start failed", "err", err)
				c.enqueue(errorMessage("start failed: %v", err))
			}
		})
	case "stop":
		if !sessions.IsActive() {
			c.enqueue(toast("warning", "The pipeline is already stopped."))
			return
		}
		c.log.Info("stop requested")
		err := sessions.Stop()
		switch {
		case errors.Is(err, app.ErrNotRunning):
			c.enqueue(toast("warning", "The pipeline is already stopped."))
		case err != nil:
			c.enqueue(errorMessage("stop failed: %v", err))
		default:
			c.enqueue(toast("success", "Pipeline stopped."))
		}
	default:
		c.enqueue(errorMessage("unknown action: %q", action))
	}
}

func (s *Server) handleTextInput(c *client, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.enqueue(errorMessage("empty text"))
		return
	}
	err := s.app.Sessions().SubmitText(text)
	switch {
	case errors.Is(err, app.ErrNotRunning):
		c.enqueue(toast("warning", "The pipeline is not running."))
	case err != nil:
		c.enqueue(errorMessage("text input rejected: %v", err))
	default:
		c.log.Info("text injected", "chars", len(text))
	}
}
