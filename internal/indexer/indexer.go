// Package indexer implements the document ingestion pipeline. It splits raw
// document text into overlapping chunks, embeds each chunk, and stores the
// results in a per-user, per-document vector collection.
package indexer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/neurodesk/neurodesk-go/internal/logging"
	"github.com/neurodesk/neurodesk-go/internal/rag"
	"github.com/neurodesk/neurodesk-go/internal/scope"
)

// maxVersions caps the collision probe when a user re-uploads a document with
// the same name. Beyond this the upload is rejected rather than probing forever.
const maxVersions = 100

// Config holds the configuration for the indexing pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared between consecutive
	// chunks. Defaults to 200 if zero.
	ChunkOverlap int

	// EmbedBatch is the number of chunks embedded per provider call.
	// Defaults to 64 if zero.
	EmbedBatch int

	// VectorSize is the dimensionality of the embedding vectors, used when
	// creating new collections.
	VectorSize int
}

// Result reports where an indexed document landed.
type Result struct {
	// Collection is the vector collection the chunks were written to. It may
	// carry a version suffix when the base name was already taken.
	Collection string

	// ChunkCount is the number of chunks stored.
	ChunkCount int

	// Elapsed is the wall time the indexing run took.
	Elapsed time.Duration
}

// Indexer coordinates the split, embed, and store pipeline for one document
// at a time per collection.
type Indexer struct {
	embedder rag.Embedder
	store    rag.CollectionStore
	splitter *Splitter
	cfg      *Config

	// mu guards locks; locks serializes concurrent uploads that resolve to
	// the same collection name so the version probe stays race-free.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs an Indexer from the provided dependencies and config.
func New(embedder rag.Embedder, store rag.CollectionStore, cfg *Config) (*Indexer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("indexer: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("indexer: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.EmbedBatch <= 0 {
		cfg.EmbedBatch = 64
	}

	return &Indexer{
		embedder: embedder,
		store:    store,
		splitter: NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// IndexDocument splits, embeds, and stores a document for the given user.
// The document lands in a fresh collection named after the user and the
// sanitized filename; if that name is taken, a version suffix is appended.
// On any failure after the collection is created, the partial collection is
// removed so a retry starts clean.
func (ix *Indexer) IndexDocument(ctx context.Context, userID, filename, text string) (*Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("indexer: %w: missing user id", rag.ErrAccessDenied)
	}

	chunks := ix.splitter.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("indexer: document %q contains no indexable text", filename)
	}

	base := scope.CollectionName(userID, filename)
	unlock := ix.lock(base)
	defer unlock()

	collection, err := ix.resolveCollection(ctx, base)
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	started := time.Now()

	if err := ix.store.Create(ctx, collection, ix.cfg.VectorSize); err != nil {
		return nil, fmt.Errorf("indexer: creating collection %s: %w", collection, err)
	}

	if err := ix.indexChunks(ctx, collection, filename, chunks); err != nil {
		if derr := ix.store.Delete(ctx, collection); derr != nil {
			log.Warn("failed to clean up partial collection", "collection", collection, "error", derr)
		}
		return nil, err
	}

	elapsed := time.Since(started)
	log.Info("document indexed",
		"user_id", userID,
		"collection", collection,
		"chunks", len(chunks),
		"elapsed", elapsed.Round(time.Millisecond).String(),
	)

	return &Result{Collection: collection, ChunkCount: len(chunks), Elapsed: elapsed}, nil
}

// indexChunks embeds and appends chunks in batches. A failed embedding call
// is retried once before the batch fails.
func (ix *Indexer) indexChunks(ctx context.Context, collection, filename string, chunks []string) error {
	for start := 0; start < len(chunks); start += ix.cfg.EmbedBatch {
		end := start + ix.cfg.EmbedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		embeddings, err := rag.EmbedWithRetry(ctx, ix.embedder, batch, rag.EmbedRetryDelay)
		if err != nil {
			return fmt.Errorf("indexer: embedding batch %d-%d: %w", start, end, err)
		}
		if len(embeddings) != len(batch) {
			return fmt.Errorf("indexer: %w: got %d embeddings for %d chunks",
				rag.ErrEmbeddingProvider, len(embeddings), len(batch))
		}

		docs := make([]rag.Chunk, 0, len(batch))
		for i, text := range batch {
			idx := start + i
			docs = append(docs, rag.Chunk{
				ID:         chunkID(collection, idx),
				Text:       text,
				Filename:   filename,
				ChunkIndex: idx,
				Collection: collection,
			})
		}

		if err := ix.store.Append(ctx, collection, docs, embeddings); err != nil {
			return fmt.Errorf("indexer: storing batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// resolveCollection returns the first free versioned variant of base.
func (ix *Indexer) resolveCollection(ctx context.Context, base string) (string, error) {
	for v := 1; v <= maxVersions; v++ {
		name := scope.Versioned(base, v)
		exists, err := ix.store.Exists(ctx, name)
		if err != nil {
			return "", fmt.Errorf("indexer: checking collection %s: %w", name, err)
		}
		if !exists {
			return name, nil
		}
	}
	return "", fmt.Errorf("indexer: too many versions of collection %s", base)
}

// lock acquires the per-collection mutex and returns its unlock func.
func (ix *Indexer) lock(name string) func() {
	ix.mu.Lock()
	m, ok := ix.locks[name]
	if !ok {
		m = &sync.Mutex{}
		ix.locks[name] = m
	}
	ix.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// chunkID generates a deterministic UUID-shaped ID for a chunk from its
// collection name and index. Vector stores that require UUID point IDs
// accept this format.
func chunkID(collection string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", collection, index)))
	return fmt.Sprintf("%x-%x-%x-%x-%x", h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}
