package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Error("empty API key: expected error")
	}
	if _, err := New("sk-test", "", WithDimensions(-1)); err == nil {
		t.Error("negative dimensions: expected error")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID = %q, want %q", p.ModelID(), DefaultModel)
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model string
		opts  []Option
		want  int
	}{
		{model: "text-embedding-3-small", want: 1536},
		{model: "text-embedding-3-large", want: 3072},
		{model: "text-embedding-ada-002", want: 1536},
		{model: "text-embedding-3-large", opts: []Option{WithDimensions(256)}, want: 256},
	}
	for _, tt := range tests {
		p, err := New("sk-test", tt.model, tt.opts...)
		if err != nil {
			t.Fatal(err)
		}
		if got := p.Dimensions(); got != tt.want {
			t.Errorf("%s %d opts: Dimensions = %d, want %d", tt.model, len(tt.opts), got, tt.want)
		}
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}],"model":"text-embedding-3-small","usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL), WithDimensions(2))
	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 || vec[1] != 0.25 {
		t.Errorf("vec = %v, want [0.5 0.25]", vec)
	}
	if got["input"] != "hello" || got["dimensions"] != float64(2) || got["encoding_format"] != "float" {
		t.Errorf("request body = %v", got)
	}
}

func TestEmbed_EmptyData(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[],"model":"m"}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL))
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error for empty data")
	}
}
