// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 whenever the process can serve HTTP. GET /readyz
// runs every registered [Checker] in parallel and answers 200 only if all of
// them pass, 503 otherwise. Both reply with JSON:
//
//	{"status":"fail","checks":{"pipeline":"ok","llm":"fail: all circuits open: openai"}}
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxloop/internal/resilience"
)

// checkTimeout bounds each individual check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness condition. Check returns nil when ready and
// must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is a dependency with a connection probe, like the postgres store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker is ready while p answers pings.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// StateChecker is ready while state returns one of ready.
func StateChecker(name string, state func() string, ready ...string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if s := state(); !slices.Contains(ready, s) {
			return fmt.Errorf("state %q", s)
		}
		return nil
	}}
}

// BackendStatus is implemented by the resilience fallback wrappers.
type BackendStatus interface {
	Status() []resilience.EntryStatus
}

// BreakerChecker is ready while at least one backend of b has a circuit that
// is not open.
func BreakerChecker(name string, b BackendStatus) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		entries := b.Status()
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.State != resilience.StateOpen {
				return nil
			}
			names = append(names, e.Name)
		}
		if len(names) == 0 {
			return nil
		}
		return errors.New("all circuits open: " + strings.Join(names, ", "))
	}}
}

// Report is the body of both probe responses.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == "ok" }

// Handler evaluates a fixed list of checkers.
type Handler struct {
	checkers []Checker
}

// New returns a Handler for checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// Evaluate runs all checks concurrently, each under its own timeout.
func (h *Handler) Evaluate(ctx context.Context) Report {
	results := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			results[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		if err := results[i]; err != nil {
			rep.Status = "fail"
			rep.Checks[c.Name] = "fail: " + err.Error()
			continue
		}
		rep.Checks[c.Name] = "ok"
	}
	return rep
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusServiceUnavailable
		slog.DebugContext(r.Context(), "readiness check failed", "checks", rep.Checks)
	}
	writeJSON(w, status, rep)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
