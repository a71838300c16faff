// Package scope implements the access guard for per-user collection
// namespaces. Every collection name that arrives from a caller passes through
// [Guard.Authorize] before any store or retriever call; no other component
// accepts a raw caller-supplied collection name.
package scope

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neurodesk/neurodesk-go/internal/logging"
	"github.com/neurodesk/neurodesk-go/internal/rag"
)

// Scope is the validated set of collections one retrieval operation is
// permitted to search.
type Scope struct {
	// UserID is the owner of every collection in the scope.
	UserID string

	// Collections are the validated collection names, sorted.
	Collections []string

	// All is true when the scope was resolved from "every document the user
	// owns" rather than a single named collection.
	All bool
}

// Contains reports whether the named collection is inside the scope.
func (s Scope) Contains(name string) bool {
	for _, c := range s.Collections {
		if c == name {
			return true
		}
	}
	return false
}

// Guard validates caller-supplied collection names against the owning user's
// namespace. It is a pure validation gate: the only side effect is the
// prefix listing used to resolve an "all collections" scope.
type Guard struct {
	// store lists a user's collections when no explicit name is given.
	store rag.CollectionStore
}

// NewGuard constructs a Guard over the given collection store.
func NewGuard(store rag.CollectionStore) *Guard {
	return &Guard{store: store}
}

// Authorize validates the requested collection for userID and returns the
// resolved scope.
//
// An empty collection name resolves to every document collection the user
// owns. A non-empty name must start with the user's namespace prefix or the
// request fails with [rag.ErrAccessDenied], regardless of whether the
// collection exists, so the rejection never confirms another user's data.
func (g *Guard) Authorize(ctx context.Context, userID, collection string) (Scope, error) {
	if strings.TrimSpace(userID) == "" {
		return Scope{}, fmt.Errorf("scope: user id is required: %w", rag.ErrAccessDenied)
	}

	if collection == "" {
		names, err := g.store.List(ctx, DocPrefix(userID))
		if err != nil {
			return Scope{}, fmt.Errorf("scope: listing collections for user %s: %w", userID, err)
		}
		return Scope{UserID: userID, Collections: names, All: true}, nil
	}

	if !strings.HasPrefix(collection, UserPrefix(userID)) {
		logging.FromContext(ctx).Warn("scope: denied collection access",
			slog.String("user_id", userID),
			slog.String("collection", collection),
		)
		return Scope{}, fmt.Errorf("scope: user %s cannot access %q: %w", userID, collection, rag.ErrAccessDenied)
	}

	return Scope{UserID: userID, Collections: []string{collection}}, nil
}
