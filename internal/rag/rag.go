// Package rag defines the data model and contracts shared by the retrieval
// pipeline: chunks, ranked results, the collection store, and the embedding
// client. Concrete backends (Qdrant, in-memory) satisfy these interfaces so
// the indexer, retriever, and orchestrator never depend on a specific engine.
package rag

import (
	"context"
	"time"
)

// Chunk is a bounded slice of document text plus its positional metadata.
// Chunks are immutable once written and belong to exactly one collection.
type Chunk struct {
	// ID is the unique identifier for this chunk within its collection.
	ID string

	// Text is the raw chunk content.
	Text string

	// Filename is the original document filename the chunk was cut from.
	Filename string

	// Page is the 1-based page number the chunk starts on, 0 when the
	// source document has no page structure.
	Page int

	// ChunkIndex is the 0-based position of the chunk within its document.
	ChunkIndex int

	// Collection is the collection the chunk was retrieved from. Populated
	// on search results; ignored on writes (the append call names the
	// target collection explicitly).
	Collection string
}

// Result is one entry of a retrieval result set.
type Result struct {
	// Chunk is the retrieved chunk with its metadata.
	Chunk Chunk

	// Score is the similarity score assigned by the store. Higher means
	// closer under the cosine metric used by all backends.
	Score float32

	// Rank is the 1-based position after global re-ranking. Assigned by the
	// retriever, not the store.
	Rank int
}

// CollectionStore is the interface for per-collection vector persistence and
// similarity search. Collection names are opaque to the store; namespace
// enforcement happens in the scope package before any call lands here.
// Implementations must be safe to call from multiple goroutines.
type CollectionStore interface {
	// Create creates the named collection for vectors of length dim.
	// Creating a collection that already exists is an error.
	Create(ctx context.Context, name string, dim int) error

	// Exists reports whether the named collection exists.
	Exists(ctx context.Context, name string) (bool, error)

	// Append writes a batch of chunks with their pre-computed embeddings to
	// the named collection. embeddings[i] is the vector for chunks[i].
	// Existing chunks are never overwritten.
	Append(ctx context.Context, name string, chunks []Chunk, embeddings [][]float32) error

	// Search returns up to topN chunks from the named collection ordered by
	// descending similarity to the query embedding.
	Search(ctx context.Context, name string, queryEmbedding []float32, topN int) ([]Result, error)

	// List returns the names of all collections whose name starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Count returns the number of chunks stored in the named collection.
	Count(ctx context.Context, name string) (uint64, error)

	// Delete removes the named collection and every chunk in it.
	Delete(ctx context.Context, name string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedRetryDelay is the backoff before the single retry of a failed
// embedding call.
const EmbedRetryDelay = 200 * time.Millisecond

// EmbedWithRetry calls e.Embed and, on failure, retries exactly once after
// delay. A cancelled context aborts without the retry and the first error is
// returned.
func EmbedWithRetry(ctx context.Context, e Embedder, texts []string, delay time.Duration) ([][]float32, error) {
	vecs, err := e.Embed(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, err
	}
	return e.Embed(ctx, texts)
}
