package retriever

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neurodesk/neurodesk-go/internal/indexer"
	"github.com/neurodesk/neurodesk-go/internal/rag"
	"github.com/neurodesk/neurodesk-go/internal/scope"
)

// unitEmbedder maps every query to the same unit vector so similarity scores
// are fully determined by the stored vectors.
type unitEmbedder struct{}

func (unitEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedder down")
}

func seedCollection(t *testing.T, store *rag.MemoryStore, name string, vectors ...[]float32) {
	t.Helper()
	ctx := context.Background()
	if err := store.Create(ctx, name, 3); err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	chunks := make([]rag.Chunk, len(vectors))
	for i := range vectors {
		chunks[i] = rag.Chunk{
			ID:         "00000000-0000-0000-0000-000000000000",
			Text:       "chunk",
			Filename:   "doc.txt",
			ChunkIndex: i,
		}
	}
	if err := store.Append(ctx, name, chunks, vectors); err != nil {
		t.Fatalf("append %s: %v", name, err)
	}
}

func Test_Retrieve_EmptyScope(t *testing.T) {
	t.Parallel()
	r, err := New(unitEmbedder{}, rag.NewMemoryStore(), 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = r.Retrieve(context.Background(), scope.Scope{UserID: "alice"}, "q", 5)
	if !errors.Is(err, rag.ErrEmptyScope) {
		t.Fatalf("want ErrEmptyScope, got %v", err)
	}
}

func Test_Retrieve_MergesAcrossCollections(t *testing.T) {
	t.Parallel()
	store := rag.NewMemoryStore()
	seedCollection(t, store, "user_alice_doc_first",
		[]float32{1, 0, 0}, // score 1.0
		[]float32{0, 1, 0}, // score 0.0
	)
	seedCollection(t, store, "user_alice_doc_second",
		[]float32{0.6, 0.8, 0}, // score 0.6
	)
	r, err := New(unitEmbedder{}, store, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sc := scope.Scope{
		UserID:      "alice",
		Collections: []string{"user_alice_doc_first", "user_alice_doc_second"},
		All:         true,
	}
	results, err := r.Retrieve(context.Background(), sc, "question", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}

	wantOrder := []string{"user_alice_doc_first", "user_alice_doc_second", "user_alice_doc_first"}
	for i, want := range wantOrder {
		if results[i].Chunk.Collection != want {
			t.Errorf("result %d from %s, want %s", i, results[i].Chunk.Collection, want)
		}
		if results[i].Rank != i+1 {
			t.Errorf("result %d rank = %d", i, results[i].Rank)
		}
	}

	// The same scope with collections listed in reverse order produces the
	// same merged result.
	sc.Collections = []string{"user_alice_doc_second", "user_alice_doc_first"}
	again, err := r.Retrieve(context.Background(), sc, "question", 5)
	if err != nil {
		t.Fatalf("Retrieve reversed: %v", err)
	}
	for i := range results {
		if again[i].Chunk.Collection != results[i].Chunk.Collection ||
			again[i].Chunk.ChunkIndex != results[i].Chunk.ChunkIndex {
			t.Errorf("reversed scope changed result %d", i)
		}
	}
}

func Test_Retrieve_TieBreaksOnCollectionThenIndex(t *testing.T) {
	t.Parallel()
	store := rag.NewMemoryStore()
	// Both vectors are parallel to the query so every score is exactly 1.0.
	seedCollection(t, store, "user_alice_doc_b", []float32{2, 0, 0})
	seedCollection(t, store, "user_alice_doc_a", []float32{1, 0, 0}, []float32{3, 0, 0})
	r, err := New(unitEmbedder{}, store, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sc := scope.Scope{
		UserID:      "alice",
		Collections: []string{"user_alice_doc_b", "user_alice_doc_a"},
	}
	results, err := r.Retrieve(context.Background(), sc, "q", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Chunk.Collection != "user_alice_doc_a" || results[0].Chunk.ChunkIndex != 0 {
		t.Errorf("result 0 = %s#%d", results[0].Chunk.Collection, results[0].Chunk.ChunkIndex)
	}
	if results[1].Chunk.Collection != "user_alice_doc_a" || results[1].Chunk.ChunkIndex != 1 {
		t.Errorf("result 1 = %s#%d", results[1].Chunk.Collection, results[1].Chunk.ChunkIndex)
	}
	if results[2].Chunk.Collection != "user_alice_doc_b" {
		t.Errorf("result 2 = %s", results[2].Chunk.Collection)
	}
}

func Test_Retrieve_TruncatesToTopN(t *testing.T) {
	t.Parallel()
	store := rag.NewMemoryStore()
	seedCollection(t, store, "user_alice_doc_big",
		[]float32{1, 0, 0}, []float32{0.9, 0.1, 0}, []float32{0.8, 0.2, 0}, []float32{0.7, 0.3, 0},
	)
	r, err := New(unitEmbedder{}, store, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sc := scope.Scope{UserID: "alice", Collections: []string{"user_alice_doc_big"}}

	results, err := r.Retrieve(context.Background(), sc, "q", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("explicit topN: got %d results", len(results))
	}

	// topN <= 0 falls back to the configured default.
	results, err = r.Retrieve(context.Background(), sc, "q", 0)
	if err != nil {
		t.Fatalf("Retrieve default: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("default topN: got %d results", len(results))
	}
}

func Test_Retrieve_SkipsMissingCollection(t *testing.T) {
	t.Parallel()
	store := rag.NewMemoryStore()
	seedCollection(t, store, "user_alice_doc_kept", []float32{1, 0, 0})
	r, err := New(unitEmbedder{}, store, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sc := scope.Scope{
		UserID:      "alice",
		Collections: []string{"user_alice_doc_gone", "user_alice_doc_kept"},
	}
	results, err := r.Retrieve(context.Background(), sc, "q", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.Collection != "user_alice_doc_kept" {
		t.Errorf("results = %+v", results)
	}
}

func Test_Retrieve_EmbedderFailure(t *testing.T) {
	t.Parallel()
	store := rag.NewMemoryStore()
	seedCollection(t, store, "user_alice_doc_x", []float32{1, 0, 0})
	r, err := New(failingEmbedder{}, store, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sc := scope.Scope{UserID: "alice", Collections: []string{"user_alice_doc_x"}}
	if _, err := r.Retrieve(context.Background(), sc, "q", 5); err == nil {
		t.Fatal("expected error from failing embedder")
	}
}

// End-to-end isolation: two users index documents into one shared store, and
// each retrieval stays inside the caller's own namespace.
func Test_Retrieve_UserIsolation(t *testing.T) {
	t.Parallel()
	store := rag.NewMemoryStore()
	ctx := context.Background()

	ix, err := indexer.New(unitEmbedder{}, store, &indexer.Config{
		ChunkSize: 40, ChunkOverlap: 8, EmbedBatch: 4, VectorSize: 3,
	})
	if err != nil {
		t.Fatalf("indexer.New: %v", err)
	}
	res, err := ix.IndexDocument(ctx, "userA", "report.pdf",
		"The budget grew last quarter. Spending fell in March. Revenue held steady overall.")
	if err != nil {
		t.Fatalf("index for userA: %v", err)
	}
	if res.ChunkCount < 3 {
		t.Fatalf("chunk count = %d, want at least 3", res.ChunkCount)
	}
	if _, err := ix.IndexDocument(ctx, "userB", "memo.txt",
		"Meeting moved to Thursday. Bring the signed memo."); err != nil {
		t.Fatalf("index for userB: %v", err)
	}

	guard := scope.NewGuard(store)
	r, err := New(unitEmbedder{}, store, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	scA, err := guard.Authorize(ctx, "userA", "")
	if err != nil {
		t.Fatalf("authorize userA: %v", err)
	}
	resultsA, err := r.Retrieve(ctx, scA, "budget", 10)
	if err != nil {
		t.Fatalf("retrieve for userA: %v", err)
	}
	if len(resultsA) == 0 {
		t.Fatal("userA got no results from their own document")
	}
	for _, res := range resultsA {
		if !strings.HasPrefix(res.Chunk.Collection, "user_userA_doc_") {
			t.Errorf("userA result from %q", res.Chunk.Collection)
		}
	}

	scB, err := guard.Authorize(ctx, "userB", "")
	if err != nil {
		t.Fatalf("authorize userB: %v", err)
	}
	resultsB, err := r.Retrieve(ctx, scB, "budget", 10)
	if err != nil {
		t.Fatalf("retrieve for userB: %v", err)
	}
	for _, res := range resultsB {
		if !strings.HasPrefix(res.Chunk.Collection, "user_userB_doc_") {
			t.Errorf("userB result from %q", res.Chunk.Collection)
		}
	}
}

// flakyEmbedder fails its first failures calls, then embeds normally.
type flakyEmbedder struct {
	failures int
	calls    int
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("embedder briefly unavailable")
	}
	return unitEmbedder{}.Embed(ctx, texts)
}

func Test_Retrieve_RetriesTransientEmbedFailure(t *testing.T) {
	t.Parallel()
	store := rag.NewMemoryStore()
	seedCollection(t, store, "user_alice_doc_x", []float32{1, 0, 0})

	emb := &flakyEmbedder{failures: 1}
	r, err := New(emb, store, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sc := scope.Scope{UserID: "alice", Collections: []string{"user_alice_doc_x"}}
	results, err := r.Retrieve(context.Background(), sc, "q", 5)
	if err != nil {
		t.Fatalf("Retrieve after one transient failure: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}
	if emb.calls != 2 {
		t.Errorf("embed calls = %d, want 2", emb.calls)
	}
}

func Test_Retrieve_PersistentEmbedFailure(t *testing.T) {
	t.Parallel()
	store := rag.NewMemoryStore()
	seedCollection(t, store, "user_alice_doc_x", []float32{1, 0, 0})

	emb := &flakyEmbedder{failures: 2}
	r, err := New(emb, store, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sc := scope.Scope{UserID: "alice", Collections: []string{"user_alice_doc_x"}}
	if _, err := r.Retrieve(context.Background(), sc, "q", 5); err == nil {
		t.Fatal("expected error when the retry also fails")
	}
	if emb.calls != 2 {
		t.Errorf("embed calls = %d, want exactly 2", emb.calls)
	}
}
