package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory CollectionStore using brute-force cosine
// similarity. It backs local development (VECTOR_BACKEND=memory) and tests,
// where a running Qdrant instance is not available.
type MemoryStore struct {
	// mu protects collections.
	mu sync.RWMutex

	// collections maps collection name to its stored chunks and vectors.
	collections map[string]*memCollection
}

// memCollection holds the parallel chunk/vector slices of one collection.
type memCollection struct {
	dim     int
	chunks  []Chunk
	vectors [][]float32
}

// NewMemoryStore returns an empty in-memory collection store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

// Create creates the named collection for vectors of length dim.
func (s *MemoryStore) Create(_ context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("memory: invalid vector dimension %d", dim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("memory: collection %q already exists", name)
	}
	s.collections[name] = &memCollection{dim: dim}
	return nil
}

// Exists reports whether the named collection exists.
func (s *MemoryStore) Exists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.collections[name]
	return ok, nil
}

// Append stores a batch of chunks with their embeddings.
func (s *MemoryStore) Append(_ context.Context, name string, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("memory: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("memory: append to %q: %w", name, ErrNotFound)
	}
	for _, v := range embeddings {
		if len(v) != col.dim {
			return fmt.Errorf("memory: vector dimension %d does not match collection dimension %d", len(v), col.dim)
		}
	}

	col.chunks = append(col.chunks, chunks...)
	col.vectors = append(col.vectors, embeddings...)
	return nil
}

// Search returns up to topN chunks ordered by descending cosine similarity.
// Equal scores are ordered by ascending chunk index so results are stable.
func (s *MemoryStore) Search(_ context.Context, name string, queryEmbedding []float32, topN int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("memory: search %q: %w", name, ErrNotFound)
	}
	if topN <= 0 {
		topN = 5
	}

	results := make([]Result, 0, len(col.chunks))
	for i := range col.chunks {
		chunk := col.chunks[i]
		chunk.Collection = name
		results = append(results, Result{
			Chunk: chunk,
			Score: cosine(col.vectors[i], queryEmbedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ChunkIndex < results[j].Chunk.ChunkIndex
	})

	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

// List returns collection names starting with prefix in lexicographic order.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name := range s.collections {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of chunks stored in the named collection.
func (s *MemoryStore) Count(_ context.Context, name string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return 0, fmt.Errorf("memory: count %q: %w", name, ErrNotFound)
	}
	return uint64(len(col.chunks)), nil
}

// Delete removes the named collection and its chunks.
func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("memory: delete %q: %w", name, ErrNotFound)
	}
	delete(s.collections, name)
	return nil
}

// Ping always succeeds; the store lives in process memory.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Name identifies this dependency in readiness responses.
func (s *MemoryStore) Name() string { return "memory" }

// Close releases nothing; present to satisfy CollectionStore.
func (s *MemoryStore) Close() error { return nil }

// cosine returns the cosine similarity of a and b. Mismatched lengths score
// over the shorter vector; zero vectors score 0.
func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
