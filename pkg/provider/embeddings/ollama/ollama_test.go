package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxloop/pkg/provider/embeddings/ollama"
)

// embedServer answers /api/embed with vec and counts requests.
func embedServer(t *testing.T, vec []float32, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		var req struct {
			Model     string   `json:"model"`
			Input     []string `json:"input"`
			KeepAlive string   `json:"keep_alive"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Input) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": [][]float32{vec}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := ollama.New("", ""); err == nil {
		t.Error("expected error for empty model")
	}
	p, err := ollama.New("", "nomic-embed-text")
	if err != nil {
		t.Fatal(err)
	}
	if p.ModelID() != "nomic-embed-text" {
		t.Errorf("ModelID = %q", p.ModelID())
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()
	srv := embedServer(t, []float32{0.1, 0.2, 0.3}, nil)
	p, _ := ollama.New(srv.URL+"/", "custom-model")

	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
	if p.Dimensions() != 3 {
		t.Errorf("Dimensions after embed = %d, want 3", p.Dimensions())
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()

	known := map[string]int{"nomic-embed-text": 768, "mxbai-embed-large:latest": 1024, "all-minilm": 384, "bge-m3": 1024}
	for model, want := range known {
		p, _ := ollama.New("http://127.0.0.1:1", model)
		if got := p.Dimensions(); got != want {
			t.Errorf("%s: Dimensions = %d, want %d", model, got, want)
		}
	}

	p, _ := ollama.New("http://127.0.0.1:1", "custom", ollama.WithDimensions(42))
	if p.Dimensions() != 42 {
		t.Errorf("WithDimensions not honoured: %d", p.Dimensions())
	}

	var calls atomic.Int32
	srv := embedServer(t, make([]float32, 5), &calls)
	probe, _ := ollama.New(srv.URL, "custom")
	if probe.Dimensions() != 5 || probe.Dimensions() != 5 {
		t.Error("auto-detected dimension wrong")
	}
	if calls.Load() != 1 {
		t.Errorf("probe requests = %d, want 1", calls.Load())
	}
}

func TestEmbed_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
		"json":   func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{nope")) },
		"empty":  func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"embeddings":[]}`)) },
		"server message": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model \"m\" not found"}`))
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(h)
			defer srv.Close()
			p, _ := ollama.New(srv.URL, "m")
			if _, err := p.Embed(context.Background(), "x"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestEmbed_ServerMessageInError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found, try pulling it first"}`))
	}))
	defer srv.Close()

	p, _ := ollama.New(srv.URL, "m")
	_, err := p.Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "try pulling it first") {
		t.Errorf("err = %v, want the server's message", err)
	}
}

func TestEmbed_KeepAlive(t *testing.T) {
	t.Parallel()
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			KeepAlive string `json:"keep_alive"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		got = req.KeepAlive
		_, _ = w.Write([]byte(`{"embeddings":[[1]]}`))
	}))
	defer srv.Close()

	p, _ := ollama.New(srv.URL, "m", ollama.WithKeepAlive("10m"))
	if _, err := p.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if got != "10m" {
		t.Errorf("keep_alive = %q, want 10m", got)
	}
}

func TestEmbed_ContextCancelled(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p, _ := ollama.New(srv.URL, "m")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, "x"); err == nil {
		t.Fatal("expected error after deadline")
	}
}
