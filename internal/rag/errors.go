package rag

import "errors"

// Sentinel errors forming the failure taxonomy of the retrieval pipeline.
// Provider and store failures are wrapped into one of these before they cross
// the orchestrator boundary, so the transport layer never sees raw provider
// error text. Check with [errors.Is].
var (
	// ErrAccessDenied marks a collection name outside the caller's
	// namespace. Never retried; the transport maps it to a rejection that is
	// distinguishable from "not found".
	ErrAccessDenied = errors.New("access denied to this collection")

	// ErrNotFound marks an operation on a collection that does not exist.
	ErrNotFound = errors.New("collection not found")

	// ErrEmptyScope marks a retrieval whose resolved scope contains zero
	// collections. Distinct from an empty result set, which is a valid
	// success.
	ErrEmptyScope = errors.New("no document collections exist for this scope")

	// ErrEmbeddingProvider marks a failed call to the embedding provider
	// (credentials, network, or malformed response). Embedding calls are
	// retried once with backoff before this surfaces.
	ErrEmbeddingProvider = errors.New("embedding provider error")

	// ErrGenerationProvider marks a failed call to a single generation
	// provider. The orchestrator retries once and then falls back to the
	// next configured provider.
	ErrGenerationProvider = errors.New("generation provider error")

	// ErrNoProviderAvailable marks exhaustion of every configured generation
	// provider. Terminal for the request, not for the process.
	ErrNoProviderAvailable = errors.New("no generation provider available")
)
