package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/neurodesk/neurodesk-go/internal/logging"
	"github.com/neurodesk/neurodesk-go/internal/orchestrator"
	"github.com/neurodesk/neurodesk-go/internal/rag"
	"github.com/neurodesk/neurodesk-go/internal/scope"
	"github.com/neurodesk/neurodesk-go/internal/store"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP statuses and writes the error
// envelope. Access violations are reported as 403 so they stay
// distinguishable from a collection that simply does not exist (404).
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, rag.ErrAccessDenied):
		status = http.StatusForbidden
		msg = "access denied"
	case errors.Is(err, rag.ErrNotFound):
		status = http.StatusNotFound
		msg = "not found"
	}
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleUpload handles POST /api/documents. The document text arrives
// pre-extracted; indexing assigns it a fresh collection. A summary is
// generated best-effort after indexing and never fails the upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Filename == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "filename is required"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}

	res, err := s.indexer.IndexDocument(r.Context(), userID(r), req.Filename, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.metrics.indexedChunksTotal.Add(float64(res.ChunkCount))

	resp := uploadResponse{CollectionName: res.Collection, ChunkCount: res.ChunkCount}

	log := logging.FromContext(r.Context())
	summary, err := s.orch.Summarize(r.Context(), req.Filename, req.Text)
	if err != nil {
		log.Warn("document summary failed", slog.Any("error", err))
	} else {
		resp.Summary = summary
		if s.chats != nil {
			if err := s.chats.SaveSummary(r.Context(), &store.Summary{
				Collection: res.Collection,
				UserID:     userID(r),
				Filename:   req.Filename,
				Text:       summary,
			}); err != nil {
				log.Warn("failed to persist summary", slog.Any("error", err))
			}
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

// handleSearch handles GET /api/documents/search. An empty scope (no
// documents uploaded) is a 200 with an explanatory message, not an error.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}
	collection := r.URL.Query().Get("collection_name")
	topN, _ := strconv.Atoi(r.URL.Query().Get("n_results"))

	results, err := s.orch.Search(r.Context(), orchestrator.Request{
		UserID:     userID(r),
		Query:      query,
		Collection: collection,
		TopN:       topN,
	})
	if err != nil {
		if errors.Is(err, rag.ErrEmptyScope) {
			writeJSON(w, http.StatusOK, searchResponse{
				Query:          query,
				CollectionName: collection,
				Results:        []searchResult{},
				Message:        "no documents have been uploaded yet",
			})
			return
		}
		writeError(w, r, err)
		return
	}

	resp := searchResponse{Query: query, CollectionName: collection, Results: make([]searchResult, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, searchResult{
			Text:       res.Chunk.Text,
			Filename:   res.Chunk.Filename,
			Collection: res.Chunk.Collection,
			Score:      res.Score,
			Rank:       res.Rank,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAsk handles POST /api/ask. Provider exhaustion is a normal reply
// carrying the fixed unavailability message, not a transport error.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}

	start := time.Now()
	ans, err := s.orch.Ask(r.Context(), orchestrator.Request{
		UserID:     userID(r),
		Query:      req.Query,
		Collection: req.CollectionName,
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, rag.ErrAccessDenied) {
			outcome = "denied"
		}
		s.observeAsk(outcome, start)
		if errors.Is(err, rag.ErrEmptyScope) {
			writeJSON(w, http.StatusOK, askResponse{
				Answer:  "You have no documents uploaded yet. Upload a document first.",
				Sources: []string{},
			})
			return
		}
		writeError(w, r, err)
		return
	}

	outcome := "ok"
	if ans.Failed {
		outcome = "no_provider"
	}
	s.observeAsk(outcome, start)

	writeJSON(w, http.StatusOK, askResponse{
		Answer:   ans.Answer,
		Sources:  ans.Sources,
		Provider: ans.Provider,
		ChatID:   ans.ChatID,
	})
}

func (s *Server) observeAsk(outcome string, start time.Time) {
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// handleCollections handles GET /api/collections. Only document collections
// are listed; the user's feedback collection is internal.
func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	names, err := s.collections.List(r.Context(), scope.DocPrefix(uid))
	if err != nil {
		writeError(w, r, err)
		return
	}

	summaries := map[string]string{}
	if s.chats != nil {
		sums, err := s.chats.Summaries(r.Context(), uid)
		if err != nil {
			logging.FromContext(r.Context()).Warn("failed to load summaries", slog.Any("error", err))
		}
		for _, sum := range sums {
			summaries[sum.Collection] = sum.Text
		}
	}

	resp := collectionsResponse{Collections: make([]collectionInfo, 0, len(names))}
	for _, name := range names {
		count, err := s.collections.Count(r.Context(), name)
		if err != nil {
			logging.FromContext(r.Context()).Warn("failed to count collection",
				slog.String("collection", name), slog.Any("error", err))
		}
		resp.Collections = append(resp.Collections, collectionInfo{
			Name:       name,
			ChunkCount: count,
			Summary:    summaries[name],
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCollectionDelete handles DELETE /api/collections/{name}. The name
// must live inside the caller's namespace; a foreign name is rejected without
// revealing whether it exists.
func (s *Server) handleCollectionDelete(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	name := r.PathValue("name")

	if !strings.HasPrefix(name, scope.UserPrefix(uid)) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "access denied"})
		return
	}

	exists, err := s.collections.Exists(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !exists {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	if err := s.collections.Delete(r.Context(), name); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

// handleMessages handles GET /api/collections/{name}/messages with cursor
// pagination. An empty name path segment addresses the unscoped conversation
// thread, so the same namespace rule applies.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.chats == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "chat history is not configured"})
		return
	}
	uid := userID(r)
	name := r.PathValue("name")

	if !strings.HasPrefix(name, scope.UserPrefix(uid)) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "access denied"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)

	recs, next, err := s.chats.History(r.Context(), uid, name, limit, cursor)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := messagesResponse{Messages: make([]messageEntry, 0, len(recs)), NextCursor: next}
	for _, rec := range recs {
		resp.Messages = append(resp.Messages, messageEntry{
			ChatID:    rec.ID,
			Query:     rec.Query,
			Answer:    rec.Answer,
			Sources:   rec.Sources,
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFeedback handles POST /api/feedback. Feedback lands in two places:
// the chat record (one-shot pending to submitted) and the user's feedback
// collection for similarity reuse on later questions. The vector side is
// best-effort.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.chats == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "chat history is not configured"})
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	uid := userID(r)

	chatID := req.ChatID
	query := req.Query
	if chatID == 0 {
		latest, err := s.chats.Latest(r.Context(), uid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		chatID = latest.ID
		if query == "" {
			query = latest.Query
		}
	} else if query == "" {
		rec, err := s.chats.Get(r.Context(), chatID, uid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		query = rec.Query
	}

	if err := s.chats.Feedback(r.Context(), chatID, uid, req.IsPositive, req.Comments); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.orch.SaveFeedback(r.Context(), uid, query, req.Comments, req.IsPositive); err != nil {
		logging.FromContext(r.Context()).Warn("failed to index feedback", slog.Any("error", err))
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
