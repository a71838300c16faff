package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// VectorSize is the dimensionality of embeddings stored in collections
	// created by this store.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements CollectionStore backed by a Qdrant instance.
// Unlike a single-collection setup, the store addresses one Qdrant collection
// per indexed document, so every method takes the collection name explicitly.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore connects to Qdrant and returns a ready-to-use CollectionStore.
// Collections are created lazily per document via Create, not here.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg}, nil
}

// Create creates the named collection with a cosine-distance vector index.
func (s *QdrantStore) Create(ctx context.Context, name string, dim int) error {
	size := uint64(dim) //nolint:gosec // embedding dimensions are bounded
	if size == 0 {
		size = s.cfg.VectorSize
	}

	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     size,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
	}

	return nil
}

// Exists reports whether the named collection exists.
func (s *QdrantStore) Exists(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	return exists, nil
}

// Append upserts a batch of chunks with their embeddings into the named
// collection. Chunk IDs are deterministic, so re-appending the same batch is
// idempotent rather than duplicating points.
func (s *QdrantStore) Append(ctx context.Context, name string, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("qdrant: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunk.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"text":        chunk.Text,
				"filename":    chunk.Filename,
				"page":        int64(chunk.Page),
				"chunk_index": int64(chunk.ChunkIndex),
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: append to %q failed: %w", name, err)
	}

	return nil
}

// Search performs a cosine similarity search against the named collection and
// returns up to topN results ordered by descending score.
func (s *QdrantStore) Search(ctx context.Context, name string, queryEmbedding []float32, topN int) ([]Result, error) {
	limit := uint64(topN) //nolint:gosec // topN is validated by callers
	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if strings.Contains(err.Error(), "doesn't exist") || strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("qdrant: search %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("qdrant: search %q failed: %w", name, err)
	}

	results := make([]Result, 0, len(scored))
	for _, p := range scored {
		chunk := Chunk{
			ID:         p.Id.GetUuid(),
			Collection: name,
		}
		if payload := p.Payload; payload != nil {
			if v, ok := payload["text"]; ok {
				chunk.Text = v.GetStringValue()
			}
			if v, ok := payload["filename"]; ok {
				chunk.Filename = v.GetStringValue()
			}
			if v, ok := payload["page"]; ok {
				chunk.Page = int(v.GetIntegerValue())
			}
			if v, ok := payload["chunk_index"]; ok {
				chunk.ChunkIndex = int(v.GetIntegerValue())
			}
		}
		results = append(results, Result{Chunk: chunk, Score: p.Score})
	}

	return results, nil
}

// List returns the names of all collections starting with prefix, in
// lexicographic order so that scope resolution is deterministic.
func (s *QdrantStore) List(ctx context.Context, prefix string) ([]string, error) {
	all, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("qdrant: list collections failed: %w", err)
	}

	var names []string
	for _, name := range all {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of points stored in the named collection.
func (s *QdrantStore) Count(ctx context.Context, name string) (uint64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: name})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count %q failed: %w", name, err)
	}
	return n, nil
}

// Delete removes the named collection and all its points.
func (s *QdrantStore) Delete(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("qdrant: delete %q failed: %w", name, err)
	}
	return nil
}

// Ping checks that the Qdrant server is reachable. Used by the readiness probe.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Name identifies this dependency in readiness responses.
func (s *QdrantStore) Name() string { return "qdrant" }

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
