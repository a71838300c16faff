package orchestrator

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/neurodesk/neurodesk-go/internal/logging"
	"github.com/neurodesk/neurodesk-go/internal/rag"
	"github.com/neurodesk/neurodesk-go/internal/scope"
)

// SaveFeedback embeds a feedback entry into the user's feedback collection so
// later questions with similar wording pick it up as guidance. The chat record
// update is the caller's job; this only handles the vector side.
func (o *Orchestrator) SaveFeedback(ctx context.Context, userID, query, comments string, positive bool) error {
	if o.embedder == nil || o.store == nil {
		return nil
	}
	if userID == "" {
		return fmt.Errorf("orchestrator: %w: missing user id", rag.ErrAccessDenied)
	}

	sentiment := "negative"
	if positive {
		sentiment = "positive"
	}
	text := fmt.Sprintf("Question: %s\nFeedback (%s): %s", query, sentiment, comments)

	vecs, err := o.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("orchestrator: embedding feedback: %w", err)
	}

	collection := scope.FeedbackCollection(userID)
	exists, err := o.store.Exists(ctx, collection)
	if err != nil {
		return fmt.Errorf("orchestrator: checking feedback collection: %w", err)
	}
	if !exists {
		if err := o.store.Create(ctx, collection, len(vecs[0])); err != nil {
			return fmt.Errorf("orchestrator: creating feedback collection: %w", err)
		}
	}

	count, err := o.store.Count(ctx, collection)
	if err != nil {
		return fmt.Errorf("orchestrator: counting feedback: %w", err)
	}
	chunk := rag.Chunk{
		ID:         feedbackID(collection, count),
		Text:       text,
		Filename:   "feedback",
		ChunkIndex: int(count),
		Collection: collection,
	}
	if err := o.store.Append(ctx, collection, []rag.Chunk{chunk}, vecs); err != nil {
		return fmt.Errorf("orchestrator: storing feedback: %w", err)
	}
	return nil
}

// similarFeedback returns up to maxFeedbackHints past feedback entries whose
// wording resembles the query. Best-effort: any failure returns no hints.
func (o *Orchestrator) similarFeedback(ctx context.Context, userID, query string) []string {
	if o.embedder == nil || o.store == nil {
		return nil
	}
	log := logging.FromContext(ctx)

	collection := scope.FeedbackCollection(userID)
	exists, err := o.store.Exists(ctx, collection)
	if err != nil || !exists {
		return nil
	}

	vecs, err := o.embedder.Embed(ctx, []string{query})
	if err != nil {
		log.Warn("feedback lookup: embed failed", slog.Any("error", err))
		return nil
	}
	hits, err := o.store.Search(ctx, collection, vecs[0], maxFeedbackHints)
	if err != nil {
		log.Warn("feedback lookup: search failed", slog.Any("error", err))
		return nil
	}

	hints := make([]string, 0, len(hits))
	for _, hit := range hits {
		hints = append(hints, hit.Chunk.Text)
	}
	return hints
}

// feedbackID derives a deterministic UUID-shaped point ID for a feedback
// entry from its collection and ordinal.
func feedbackID(collection string, index uint64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", collection, index)))
	return fmt.Sprintf("%x-%x-%x-%x-%x", h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}
