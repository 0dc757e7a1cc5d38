package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs a synchronous in-memory tracer provider as the
// global provider for the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	useTestTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "turn")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("CorrelationID = %q, want 32 hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestStartSpan_TagsSession(t *testing.T) {
	exp := useTestTracer(t)

	_, plain := StartSpan(context.Background(), "pipeline.stt")
	plain.End()
	_, tagged := StartSpan(WithSessionID(context.Background(), "sess-7"), "pipeline.respond")
	tagged.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].Name != "pipeline.stt" || spans[1].Name != "pipeline.respond" {
		t.Errorf("span names = %q, %q", spans[0].Name, spans[1].Name)
	}
	for _, a := range spans[0].Attributes {
		if a.Key == "session.id" {
			t.Errorf("span without session carries session.id=%s", a.Value.AsString())
		}
	}
	var got string
	for _, a := range spans[1].Attributes {
		if a.Key == "session.id" {
			got = a.Value.AsString()
		}
	}
	if got != "sess-7" {
		t.Errorf("session.id = %q, want sess-7", got)
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	spanCtx, span := StartSpan(context.Background(), "log-test")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{name: "bare", ctx: context.Background(), notWant: []string{"trace_id", "span_id", "session_id"}},
		{name: "span", ctx: spanCtx, want: []string{"trace_id=" + CorrelationID(spanCtx), "span_id="}, notWant: []string{"session_id"}},
		{name: "session", ctx: WithSessionID(context.Background(), "sess-42"), want: []string{"session_id=sess-42"}, notWant: []string{"trace_id"}},
		{name: "both", ctx: WithSessionID(spanCtx, "sess-43"), want: []string{"trace_id=", "session_id=sess-43"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tt.ctx).Info("turn finished")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q should not contain %q", out, w)
				}
			}
		})
	}
}
