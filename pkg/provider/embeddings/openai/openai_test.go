package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/gameweaver/pkg/provider/embeddings/openai"
)

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New("", ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		model string
		opts  []openai.Option
		want  int
	}{
		{name: "default model", model: "", want: 1536},
		{name: "large", model: "text-embedding-3-large", want: 3072},
		{name: "ada", model: "text-embedding-ada-002", want: 1536},
		{name: "unknown", model: "custom-embedder", want: 1536},
		{name: "shortened", model: "text-embedding-3-large", opts: []openai.Option{openai.WithDimensions(256)}, want: 256},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := openai.New("key", tc.model, tc.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Dimensions(); got != tc.want {
				t.Errorf("Dimensions = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.5, -0.25, 1]}],
			"usage": {"prompt_tokens": 3, "total_tokens": 3}
		}`))
	}))
	t.Cleanup(srv.Close)

	p, err := openai.New("key", "", openai.WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vec, err := p.Embed(context.Background(), "skeleton warrior")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	want := []float32{0.5, -0.25, 1}
	if len(vec) != len(want) {
		t.Fatalf("len = %d, want %d", len(vec), len(want))
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("vec[%d] = %v, want %v", i, vec[i], want[i])
		}
	}
	if gotBody["input"] != "skeleton warrior" {
		t.Errorf("input = %v", gotBody["input"])
	}
	if _, ok := gotBody["dimensions"]; ok {
		t.Error("dimensions sent for a native-size request")
	}
}

func TestEmbed_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad input", "type": "invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)

	p, _ := openai.New("key", "", openai.WithBaseURL(srv.URL+"/v1/"))
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}
