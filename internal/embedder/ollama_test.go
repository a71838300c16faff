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

func newOllamaTestServer(t *testing.T, handler http.HandlerFunc) *OllamaEmbedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
}

func TestOllamaEmbed(t *testing.T) {
	t.Parallel()

	e := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" || len(req.Input) != 2 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	})

	got, err := e.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 2 || got[1][1] != 0.4 {
		t.Errorf("embeddings = %v", got)
	}
}

func TestOllamaEmbed_ServerError(t *testing.T) {
	t.Parallel()

	e := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Error: "model not found"})
	})

	_, err := e.Embed(context.Background(), []string{"one"})
	if !errors.Is(err, rag.ErrEmbeddingProvider) {
		t.Fatalf("want ErrEmbeddingProvider, got %v", err)
	}
}

func TestOllamaEmbed_CountMismatch(t *testing.T) {
	t.Parallel()

	e := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{{0.1}},
		})
	})

	_, err := e.Embed(context.Background(), []string{"one", "two"})
	if !errors.Is(err, rag.ErrEmbeddingProvider) {
		t.Fatalf("want ErrEmbeddingProvider, got %v", err)
	}
}

func TestOllamaPing(t *testing.T) {
	t.Parallel()

	healthy := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := healthy.Ping(context.Background()); err != nil {
		t.Errorf("healthy ping: %v", err)
	}

	down := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if err := down.Ping(context.Background()); err == nil {
		t.Error("unhealthy ping should fail")
	}
}
