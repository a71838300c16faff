package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/neurodesk/neurodesk-go/internal/embedder"
	"github.com/neurodesk/neurodesk-go/internal/indexer"
	"github.com/neurodesk/neurodesk-go/internal/orchestrator"
	"github.com/neurodesk/neurodesk-go/internal/provider"
	"github.com/neurodesk/neurodesk-go/internal/rag"
	"github.com/neurodesk/neurodesk-go/internal/retriever"
	"github.com/neurodesk/neurodesk-go/internal/scope"
	"github.com/neurodesk/neurodesk-go/internal/server"
	"github.com/neurodesk/neurodesk-go/internal/store"
)

// stack bundles the wired application components shared by the serve, ask,
// and index commands.
type stack struct {
	embedder rag.Embedder
	vectors  rag.CollectionStore
	chats    store.ChatStore
	orch     *orchestrator.Orchestrator
	indexer  *indexer.Indexer

	// closers releases held resources, last-added first.
	closers []func()
}

// close releases everything the stack holds.
func (st *stack) close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		st.closers[i]()
	}
}

// buildStack wires the embedder, vector store, providers, chat store,
// indexer, retriever, and orchestrator from environment variables.
// withChats controls whether the SQLite chat store is opened; one-shot CLI
// commands that never read history skip it.
func buildStack(ctx context.Context, log *slog.Logger, withChats bool) (*stack, error) {
	st := &stack{}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("initialising embedder: %w", err)
	}
	st.embedder = emb

	vectors, err := buildVectorStore(log)
	if err != nil {
		return nil, err
	}
	st.vectors = vectors
	st.closers = append(st.closers, func() { _ = vectors.Close() })

	generators, err := provider.NewChainFromEnv(ctx)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("initialising model providers: %w", err)
	}
	names := make([]string, 0, len(generators))
	for _, g := range generators {
		names = append(names, g.Name())
	}
	log.Info("providers initialised", slog.Any("chain", names))

	if withChats {
		st.chats = openChatStore(log, st)
	}

	topN := envInt("RETRIEVAL_TOP_N", 0)
	ret, err := retriever.New(emb, vectors, topN)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("initialising retriever: %w", err)
	}

	orch, err := orchestrator.New(&orchestrator.Config{
		Guard:           scope.NewGuard(vectors),
		Retriever:       ret,
		Generators:      generators,
		Chats:           st.chats,
		Embedder:        emb,
		Store:           vectors,
		GenerateTimeout: time.Duration(envInt("MODEL_TIMEOUT", 0)) * time.Second,
	})
	if err != nil {
		st.close()
		return nil, fmt.Errorf("initialising orchestrator: %w", err)
	}
	st.orch = orch

	embedBackend := os.Getenv("EMBEDDING_PROVIDER")
	if embedBackend == "" {
		embedBackend = os.Getenv("MODEL_PROVIDER")
	}
	ix, err := indexer.New(emb, vectors, &indexer.Config{
		ChunkSize:    envInt("INDEX_CHUNK_SIZE", 0),
		ChunkOverlap: envInt("INDEX_CHUNK_OVERLAP", 0),
		VectorSize:   embedder.DefaultDimensions(embedBackend),
	})
	if err != nil {
		st.close()
		return nil, fmt.Errorf("initialising indexer: %w", err)
	}
	st.indexer = ix

	return st, nil
}

// buildVectorStore constructs the vector store selected by VECTOR_BACKEND:
// "qdrant" (default) or "memory" for a single-process in-memory store.
func buildVectorStore(log *slog.Logger) (rag.CollectionStore, error) {
	backend := os.Getenv("VECTOR_BACKEND")
	if backend == "memory" {
		log.Warn("vector store: using in-memory backend, data is not persisted")
		return rag.NewMemoryStore(), nil
	}

	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}
	qs, err := rag.NewQdrantStore(&rag.QdrantConfig{
		Host:   host,
		Port:   envInt("QDRANT_PORT", 6334),
		APIKey: os.Getenv("QDRANT_API_KEY"),
		UseTLS: os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	log.Info("vector store: qdrant connected", slog.String("host", host))
	return qs, nil
}

// openChatStore opens the SQLite chat store. NEURODESK_CHAT_DB overrides the
// default path (~/.neurodesk/chat.db); "disabled" turns history off. Failure
// to open is non-fatal: the service answers questions without persistence.
func openChatStore(log *slog.Logger, st *stack) store.ChatStore {
	dbPath := os.Getenv("NEURODESK_CHAT_DB")
	if dbPath == "disabled" {
		log.Info("chat history: disabled via NEURODESK_CHAT_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("chat history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	cs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("chat history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	st.closers = append(st.closers, func() { _ = cs.Close() })
	log.Info("chat history: store opened", slog.String("path", dbPath))
	return cs
}

// buildPingers assembles the readiness probes for the HTTP server from
// whichever dependencies expose one.
func buildPingers(st *stack) []server.Pinger {
	var pingers []server.Pinger
	if p, ok := st.vectors.(server.Pinger); ok {
		pingers = append(pingers, p)
	}
	if p, ok := st.embedder.(server.Pinger); ok {
		pingers = append(pingers, p)
	}
	return pingers
}

// envInt returns the integer value of the named environment variable, or
// fallback if unset or not parseable.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
