package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neurodesk/neurodesk-go/internal/rag"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIEmbedder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "text-embedding-3-small",
	})
	return srv, e
}

func TestOpenAIEmbed(t *testing.T) {
	t.Parallel()

	_, e := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 2 || req.Model != "text-embedding-3-small" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2}, "index": 0},
				{"embedding": []float32{0.3, 0.4}, "index": 1},
			},
		})
	})

	got, err := e.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 2 || got[0][0] != 0.1 || got[1][1] != 0.4 {
		t.Errorf("embeddings = %v", got)
	}
}

func TestOpenAIEmbed_OutOfOrderIndices(t *testing.T) {
	t.Parallel()

	_, e := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		// The API is allowed to return vectors in any order.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{2, 2}, "index": 1},
				{"embedding": []float32{1, 1}, "index": 0},
			},
		})
	})

	got, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got[0][0] != 1 || got[1][0] != 2 {
		t.Errorf("vectors not placed by index: %v", got)
	}
}

func TestOpenAIEmbed_APIError(t *testing.T) {
	t.Parallel()

	_, e := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "rate limited"},
		})
	})

	_, err := e.Embed(context.Background(), []string{"one"})
	if !errors.Is(err, rag.ErrEmbeddingProvider) {
		t.Fatalf("want ErrEmbeddingProvider, got %v", err)
	}
}

func TestOpenAIEmbed_CountMismatch(t *testing.T) {
	t.Parallel()

	_, e := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{1}, "index": 0},
			},
		})
	})

	_, err := e.Embed(context.Background(), []string{"one", "two"})
	if !errors.Is(err, rag.ErrEmbeddingProvider) {
		t.Fatalf("want ErrEmbeddingProvider, got %v", err)
	}
}

func TestOpenAIEmbed_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})

	_, err := e.Embed(context.Background(), []string{"one"})
	if !errors.Is(err, rag.ErrEmbeddingProvider) {
		t.Fatalf("want ErrEmbeddingProvider, got %v", err)
	}
}

func TestOpenAIEmbed_AzureMode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/deployments/my-deploy/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2025-04-01-preview" {
			t.Errorf("api-version = %q", r.URL.Query().Get("api-version"))
		}
		if got := r.Header.Get("api-key"); got != "azure-key" {
			t.Errorf("api-key header = %q", got)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("Bearer auth must not be sent in Azure mode")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{1}, "index": 0},
			},
		})
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL,
		APIKey:     "azure-key",
		Model:      "my-deploy",
		Azure:      true,
		APIVersion: "2025-04-01-preview",
	})

	got, err := e.Embed(context.Background(), []string{"one"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("embeddings = %v", got)
	}
}

func TestOpenAIPing(t *testing.T) {
	t.Parallel()

	_, healthy := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := healthy.Ping(context.Background()); err != nil {
		t.Errorf("healthy ping: %v", err)
	}

	// A 401 still proves the endpoint is reachable.
	_, unauthorized := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if err := unauthorized.Ping(context.Background()); err != nil {
		t.Errorf("401 ping should pass: %v", err)
	}

	_, down := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if err := down.Ping(context.Background()); err == nil {
		t.Error("5xx ping should fail")
	}
}
