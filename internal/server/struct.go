package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/neurodesk/neurodesk-go/internal/indexer"
	"github.com/neurodesk/neurodesk-go/internal/orchestrator"
	"github.com/neurodesk/neurodesk-go/internal/rag"
	"github.com/neurodesk/neurodesk-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
}

// asker answers questions. *orchestrator.Orchestrator satisfies it; tests
// inject a fake.
type asker interface {
	Ask(ctx context.Context, req orchestrator.Request) (*orchestrator.Answer, error)
	Search(ctx context.Context, req orchestrator.Request) ([]rag.Result, error)
	Summarize(ctx context.Context, filename, text string) (string, error)
	SaveFeedback(ctx context.Context, userID, query, comments string, positive bool) error
}

// docIndexer ingests documents. *indexer.Indexer satisfies it.
type docIndexer interface {
	IndexDocument(ctx context.Context, userID, filename, text string) (*indexer.Result, error)
}

// Server is the HTTP server exposing the document assistant API.
type Server struct {
	orch    asker
	indexer docIndexer
	// collections manages collection listing and deletion directly.
	collections rag.CollectionStore
	// chats serves chat history and feedback state. May be nil.
	chats store.ChatStore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// metrics holds the Prometheus instruments scoped to this instance.
	metrics *serverMetrics
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// uploadRequest is the JSON body for POST /api/documents.
type uploadRequest struct {
	// Filename is the original name of the uploaded document.
	Filename string `json:"filename"`
	// Text is the full extracted document text.
	Text string `json:"text"`
}

// uploadResponse is the JSON response for POST /api/documents.
type uploadResponse struct {
	// CollectionName is the collection the document was indexed into.
	CollectionName string `json:"collection_name"`
	// ChunkCount is the number of chunks stored.
	ChunkCount int `json:"chunk_count"`
	// Summary is the LLM-generated abstract. Empty when summarization
	// failed; the upload itself still succeeded.
	Summary string `json:"summary,omitempty"`
}

// searchResult is one retrieved chunk in a search response.
type searchResult struct {
	// Text is the chunk content.
	Text string `json:"text"`
	// Filename is the source document name.
	Filename string `json:"filename"`
	// Collection is the collection the chunk came from.
	Collection string `json:"collection"`
	// Score is the cosine similarity of the chunk to the query.
	Score float32 `json:"score"`
	// Rank is the 1-based position in the merged result list.
	Rank int `json:"rank"`
}

// searchResponse is the JSON envelope for GET /api/documents/search.
type searchResponse struct {
	// Query echoes the search query.
	Query string `json:"query"`
	// CollectionName echoes the requested collection, if any.
	CollectionName string `json:"collection_name,omitempty"`
	// Results are the retrieved chunks, best-first.
	Results []searchResult `json:"results"`
	// Message explains an empty result set when one applies.
	Message string `json:"message,omitempty"`
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Query is the question text.
	Query string `json:"query"`
	// CollectionName optionally narrows the question to one collection.
	CollectionName string `json:"collection_name,omitempty"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	// Answer is the generated response text.
	Answer string `json:"answer"`
	// Sources lists the collections the answer drew from.
	Sources []string `json:"sources"`
	// Provider names the backend that produced the answer, if any.
	Provider string `json:"provider,omitempty"`
	// ChatID references the persisted chat record, if one was saved.
	ChatID int64 `json:"chat_id,omitempty"`
}

// collectionInfo is one entry in the GET /api/collections response.
type collectionInfo struct {
	// Name is the collection name.
	Name string `json:"name"`
	// ChunkCount is the number of chunks stored in the collection.
	ChunkCount uint64 `json:"chunk_count"`
	// Summary is the stored document abstract, if one exists.
	Summary string `json:"summary,omitempty"`
}

// collectionsResponse is the JSON response for GET /api/collections.
type collectionsResponse struct {
	Collections []collectionInfo `json:"collections"`
}

// messageEntry is one chat record in the messages response.
type messageEntry struct {
	ChatID    int64    `json:"chat_id"`
	Query     string   `json:"query"`
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	CreatedAt string   `json:"created_at"`
}

// messagesResponse is the JSON response for GET /api/collections/{name}/messages.
type messagesResponse struct {
	Messages []messageEntry `json:"messages"`
	// NextCursor pages to older records; 0 means none remain.
	NextCursor int64 `json:"next_cursor,omitempty"`
}

// feedbackRequest is the JSON body for POST /api/feedback. Either ChatID or
// Query identifies the record; ChatID wins when both are present.
type feedbackRequest struct {
	ChatID     int64  `json:"chat_id,omitempty"`
	Query      string `json:"query,omitempty"`
	IsPositive bool   `json:"is_positive"`
	Comments   string `json:"comments,omitempty"`
}

// errorResponse is the JSON error envelope for all API failures.
type errorResponse struct {
	Error string `json:"error"`
}
