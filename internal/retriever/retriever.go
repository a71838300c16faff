// Package retriever implements scoped similarity search across a user's
// vector collections, merging per-collection results into a single ranked
// list.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/neurodesk/neurodesk-go/internal/logging"
	"github.com/neurodesk/neurodesk-go/internal/rag"
	"github.com/neurodesk/neurodesk-go/internal/scope"
)

// DefaultTopN is the number of results returned when the caller does not ask
// for a specific count.
const DefaultTopN = 5

// Retriever answers similarity queries against the collections a scope grants
// access to.
type Retriever struct {
	embedder rag.Embedder
	store    rag.CollectionStore
	topN     int
}

// New constructs a Retriever. topN <= 0 falls back to DefaultTopN.
func New(embedder rag.Embedder, store rag.CollectionStore, topN int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("retriever: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("retriever: store must not be nil")
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Retriever{embedder: embedder, store: store, topN: topN}, nil
}

// Retrieve embeds the query once and searches every collection in scope,
// merging the per-collection hits into one list ordered by descending
// similarity. Ties break on collection name, then chunk index, so the same
// scope and query always produce the same ordering. Ranks are assigned
// 1-based after the merge.
//
// Returns [rag.ErrEmptyScope] when the scope grants no collections. An
// in-scope collection that has disappeared is skipped, not an error. A
// failed query embedding is retried once before the call fails.
func (r *Retriever) Retrieve(ctx context.Context, sc scope.Scope, query string, topN int) ([]rag.Result, error) {
	if len(sc.Collections) == 0 {
		return nil, fmt.Errorf("retriever: user %s: %w", sc.UserID, rag.ErrEmptyScope)
	}
	if topN <= 0 {
		topN = r.topN
	}

	vecs, err := rag.EmbedWithRetry(ctx, r.embedder, []string{query}, rag.EmbedRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("retriever: embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("retriever: %w: got %d query embeddings", rag.ErrEmbeddingProvider, len(vecs))
	}

	log := logging.FromContext(ctx)

	var merged []rag.Result
	for _, collection := range sc.Collections {
		hits, err := r.store.Search(ctx, collection, vecs[0], topN)
		if err != nil {
			if errors.Is(err, rag.ErrNotFound) {
				log.Warn("skipping missing collection", "collection", collection)
				continue
			}
			return nil, fmt.Errorf("retriever: searching %s: %w", collection, err)
		}
		merged = append(merged, hits...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].Chunk.Collection != merged[j].Chunk.Collection {
			return merged[i].Chunk.Collection < merged[j].Chunk.Collection
		}
		return merged[i].Chunk.ChunkIndex < merged[j].Chunk.ChunkIndex
	})

	if len(merged) > topN {
		merged = merged[:topN]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}

	return merged, nil
}
