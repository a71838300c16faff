package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/neurodesk/neurodesk-go/internal/indexer"
	"github.com/neurodesk/neurodesk-go/internal/orchestrator"
	"github.com/neurodesk/neurodesk-go/internal/rag"
	"github.com/neurodesk/neurodesk-go/internal/store"
)

// fakeAsker is a canned asker implementation for handler tests.
type fakeAsker struct {
	answer     *orchestrator.Answer
	askErr     error
	results    []rag.Result
	searchErr  error
	summary    string
	summaryErr error

	feedback []string
}

func (f *fakeAsker) Ask(context.Context, orchestrator.Request) (*orchestrator.Answer, error) {
	if f.askErr != nil {
		return nil, f.askErr
	}
	return f.answer, nil
}

func (f *fakeAsker) Search(context.Context, orchestrator.Request) ([]rag.Result, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeAsker) Summarize(context.Context, string, string) (string, error) {
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	return f.summary, nil
}

func (f *fakeAsker) SaveFeedback(_ context.Context, userID, query, comments string, positive bool) error {
	f.feedback = append(f.feedback, fmt.Sprintf("%s/%s/%s/%t", userID, query, comments, positive))
	return nil
}

// fakeDocIndexer records the last indexed document.
type fakeDocIndexer struct {
	res     *indexer.Result
	err     error
	gotUser string
	gotFile string
}

func (f *fakeDocIndexer) IndexDocument(_ context.Context, userID, filename, _ string) (*indexer.Result, error) {
	f.gotUser = userID
	f.gotFile = filename
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

// testServer bundles the handler under test with its backing stores.
type testServer struct {
	handler     http.Handler
	collections *rag.MemoryStore
	chats       store.ChatStore
}

func newTestServer(t *testing.T, orch *fakeAsker, ix *fakeDocIndexer) *testServer {
	t.Helper()
	collections := rag.NewMemoryStore()
	chats, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open chat store: %v", err)
	}
	t.Cleanup(func() { _ = chats.Close() })

	if ix == nil {
		ix = &fakeDocIndexer{res: &indexer.Result{Collection: "user_alice_doc_x", ChunkCount: 1}}
	}
	srv, err := New(orch, ix, collections, chats, &Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.stopRL)
	return &testServer{handler: srv.Handler(), collections: collections, chats: chats}
}

func (ts *testServer) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func TestHandleUpload(t *testing.T) {
	t.Parallel()
	ix := &fakeDocIndexer{res: &indexer.Result{Collection: "user_alice_doc_contract", ChunkCount: 3}}
	ts := newTestServer(t, &fakeAsker{summary: "A supply contract."}, ix)

	w := ts.do(t, http.MethodPost, "/api/documents", "alice",
		`{"filename":"contract.pdf","text":"The term is 24 months."}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[uploadResponse](t, w)
	if resp.CollectionName != "user_alice_doc_contract" || resp.ChunkCount != 3 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Summary != "A supply contract." {
		t.Errorf("summary = %q", resp.Summary)
	}
	if ix.gotUser != "alice" || ix.gotFile != "contract.pdf" {
		t.Errorf("indexer saw %s/%s", ix.gotUser, ix.gotFile)
	}

	// The summary is persisted for later collection listings.
	sums, err := ts.chats.Summaries(context.Background(), "alice")
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 1 || sums[0].Text != "A supply contract." {
		t.Errorf("stored summaries = %+v", sums)
	}
}

func TestHandleUpload_SummaryFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAsker{summaryErr: errors.New("no provider")}, nil)

	w := ts.do(t, http.MethodPost, "/api/documents", "alice",
		`{"filename":"doc.txt","text":"content"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[uploadResponse](t, w)
	if resp.Summary != "" {
		t.Errorf("summary = %q, want empty", resp.Summary)
	}
}

func TestHandleUpload_Validation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAsker{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing filename", `{"text":"content"}`},
		{"blank text", `{"filename":"doc.txt","text":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/documents", "alice", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestHandleSearch(t *testing.T) {
	t.Parallel()
	orch := &fakeAsker{results: []rag.Result{
		{
			Chunk: rag.Chunk{Text: "hit", Filename: "doc.txt", Collection: "user_alice_doc_x"},
			Score: 0.9,
			Rank:  1,
		},
	}}
	ts := newTestServer(t, orch, nil)

	w := ts.do(t, http.MethodGet, "/api/documents/search?query=term", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[searchResponse](t, w)
	if resp.Query != "term" || len(resp.Results) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Results[0].Text != "hit" || resp.Results[0].Rank != 1 {
		t.Errorf("result = %+v", resp.Results[0])
	}
}

func TestHandleSearch_EmptyScope(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAsker{searchErr: rag.ErrEmptyScope}, nil)

	w := ts.do(t, http.MethodGet, "/api/documents/search?query=term", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("empty scope must be 200, got %d", w.Code)
	}
	resp := decode[searchResponse](t, w)
	if resp.Message == "" {
		t.Error("expected explanatory message")
	}
	if len(resp.Results) != 0 {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestHandleSearch_MissingQuery(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAsker{}, nil)

	w := ts.do(t, http.MethodGet, "/api/documents/search", "alice", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleAsk(t *testing.T) {
	t.Parallel()
	orch := &fakeAsker{answer: &orchestrator.Answer{
		Answer:   "24 months.",
		Sources:  []string{"user_alice_doc_contract"},
		Provider: "openai",
		ChatID:   7,
	}}
	ts := newTestServer(t, orch, nil)

	w := ts.do(t, http.MethodPost, "/api/ask", "alice", `{"query":"How long?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[askResponse](t, w)
	if resp.Answer != "24 months." || resp.Provider != "openai" || resp.ChatID != 7 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleAsk_ProviderExhaustion(t *testing.T) {
	t.Parallel()
	orch := &fakeAsker{answer: &orchestrator.Answer{
		Answer:  orchestrator.NoProviderMessage,
		Sources: []string{},
		Failed:  true,
	}}
	ts := newTestServer(t, orch, nil)

	w := ts.do(t, http.MethodPost, "/api/ask", "alice", `{"query":"q"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("exhaustion must be a 200 reply, got %d", w.Code)
	}
	resp := decode[askResponse](t, w)
	if resp.Answer != orchestrator.NoProviderMessage {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Provider != "" {
		t.Errorf("provider = %q", resp.Provider)
	}
}

func TestHandleAsk_EmptyScope(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAsker{askErr: rag.ErrEmptyScope}, nil)

	w := ts.do(t, http.MethodPost, "/api/ask", "alice", `{"query":"q"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[askResponse](t, w)
	if !strings.Contains(resp.Answer, "no documents") {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestHandleAsk_AccessDenied(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAsker{askErr: rag.ErrAccessDenied}, nil)

	w := ts.do(t, http.MethodPost, "/api/ask", "bob",
		`{"query":"q","collection_name":"user_alice_doc_contract"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestHandleCollections(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAsker{}, nil)
	ctx := context.Background()

	seedMemCollection(t, ts.collections, "user_alice_doc_a", 2)
	seedMemCollection(t, ts.collections, "user_alice_doc_b", 1)
	seedMemCollection(t, ts.collections, "user_alice_feedback", 1)
	seedMemCollection(t, ts.collections, "user_bob_doc_a", 1)

	if err := ts.chats.SaveSummary(ctx, &store.Summary{
		Collection: "user_alice_doc_a",
		UserID:     "alice",
		Filename:   "a.txt",
		Text:       "the abstract",
	}); err != nil {
		t.Fatalf("save summary: %v", err)
	}

	w := ts.do(t, http.MethodGet, "/api/collections", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[collectionsResponse](t, w)
	if len(resp.Collections) != 2 {
		t.Fatalf("collections = %+v", resp.Collections)
	}
	if resp.Collections[0].Name != "user_alice_doc_a" || resp.Collections[0].ChunkCount != 2 {
		t.Errorf("first = %+v", resp.Collections[0])
	}
	if resp.Collections[0].Summary != "the abstract" {
		t.Errorf("summary = %q", resp.Collections[0].Summary)
	}
	for _, c := range resp.Collections {
		if strings.Contains(c.Name, "feedback") || strings.Contains(c.Name, "bob") {
			t.Errorf("leaked collection %s", c.Name)
		}
	}
}

func TestHandleCollectionDelete(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAsker{}, nil)
	seedMemCollection(t, ts.collections, "user_alice_doc_a", 1)

	// A foreign name is rejected without revealing whether it exists.
	w := ts.do(t, http.MethodDelete, "/api/collections/user_alice_doc_a", "bob", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign delete: status = %d, want 403", w.Code)
	}

	w = ts.do(t, http.MethodDelete, "/api/collections/user_alice_doc_missing", "alice", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing delete: status = %d, want 404", w.Code)
	}

	w = ts.do(t, http.MethodDelete, "/api/collections/user_alice_doc_a", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", w.Code)
	}
	exists, err := ts.collections.Exists(context.Background(), "user_alice_doc_a")
	if err != nil || exists {
		t.Error("collection survived delete")
	}
}

func TestHandleMessages(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAsker{}, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := ts.chats.Save(ctx, &store.ChatRecord{
			UserID:     "alice",
			Query:      fmt.Sprintf("q%d", i),
			Answer:     "a",
			Collection: "user_alice_doc_a",
			Sources:    []string{"user_alice_doc_a"},
		}); err != nil {
			t.Fatalf("save chat: %v", err)
		}
	}

	w := ts.do(t, http.MethodGet, "/api/collections/user_alice_doc_a/messages?limit=2", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[messagesResponse](t, w)
	if len(resp.Messages) != 2 || resp.Messages[0].Query != "q3" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.NextCursor == 0 {
		t.Fatal("expected a next cursor")
	}

	// The cursor pages to the remaining older record.
	path := fmt.Sprintf("/api/collections/user_alice_doc_a/messages?limit=2&cursor=%d", resp.NextCursor)
	w = ts.do(t, http.MethodGet, path, "alice", "")
	resp = decode[messagesResponse](t, w)
	if len(resp.Messages) != 1 || resp.Messages[0].Query != "q1" {
		t.Errorf("page 2 = %+v", resp)
	}
	if resp.NextCursor != 0 {
		t.Errorf("final cursor = %d", resp.NextCursor)
	}

	// A foreign collection name is a 403.
	w = ts.do(t, http.MethodGet, "/api/collections/user_alice_doc_a/messages", "bob", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign messages: status = %d, want 403", w.Code)
	}
}

func TestHandleFeedback(t *testing.T) {
	t.Parallel()
	orch := &fakeAsker{}
	ts := newTestServer(t, orch, nil)
	ctx := context.Background()

	id, err := ts.chats.Save(ctx, &store.ChatRecord{
		UserID: "alice", Query: "the question", Answer: "a", Sources: []string{},
	})
	if err != nil {
		t.Fatalf("save chat: %v", err)
	}

	body := fmt.Sprintf(`{"chat_id":%d,"is_positive":true,"comments":"helpful"}`, id)
	w := ts.do(t, http.MethodPost, "/api/feedback", "alice", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	rec, err := ts.chats.Latest(ctx, "alice")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.FeedbackState != store.FeedbackSubmitted || !rec.FeedbackPositive {
		t.Errorf("record = %+v", rec)
	}

	// The vector side sees the original question for similarity reuse.
	if len(orch.feedback) != 1 || !strings.Contains(orch.feedback[0], "the question") {
		t.Errorf("feedback calls = %v", orch.feedback)
	}
}

func TestHandleFeedback_DefaultsToLatest(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAsker{}, nil)
	ctx := context.Background()

	if _, err := ts.chats.Save(ctx, &store.ChatRecord{
		UserID: "alice", Query: "older", Answer: "a", Sources: []string{},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	latest, err := ts.chats.Save(ctx, &store.ChatRecord{
		UserID: "alice", Query: "newest", Answer: "a", Sources: []string{},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	w := ts.do(t, http.MethodPost, "/api/feedback", "alice", `{"is_positive":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	rec, err := ts.chats.Latest(ctx, "alice")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.ID != latest || rec.FeedbackState != store.FeedbackSubmitted {
		t.Errorf("record = %+v", rec)
	}
}

func TestHandleFeedback_UnknownChat(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAsker{}, nil)

	w := ts.do(t, http.MethodPost, "/api/feedback", "alice", `{"chat_id":999,"is_positive":true}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// seedMemCollection creates a collection with n placeholder chunks.
func seedMemCollection(t *testing.T, s *rag.MemoryStore, name string, n int) {
	t.Helper()
	ctx := context.Background()
	if err := s.Create(ctx, name, 3); err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	for i := 0; i < n; i++ {
		chunk := rag.Chunk{ID: fmt.Sprintf("%s-%d", name, i), Text: "chunk", ChunkIndex: i}
		if err := s.Append(ctx, name, []rag.Chunk{chunk}, [][]float32{{1, 0, 0}}); err != nil {
			t.Fatalf("append %s: %v", name, err)
		}
	}
}
