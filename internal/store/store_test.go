package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/neurodesk/neurodesk-go/internal/rag"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func saveChat(t *testing.T, s *SQLiteStore, userID, collection, query string) int64 {
	t.Helper()
	id, err := s.Save(context.Background(), &ChatRecord{
		UserID:     userID,
		Query:      query,
		Answer:     "answer to " + query,
		Collection: collection,
		Provider:   "openai",
		Sources:    []string{collection},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	return id
}

func Test_Store_SaveAndLatest(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	first := saveChat(t, s, "alice", "user_alice_doc_a", "first question")
	second := saveChat(t, s, "alice", "user_alice_doc_a", "second question")
	if second <= first {
		t.Errorf("ids not increasing: %d then %d", first, second)
	}

	rec, err := s.Latest(ctx, "alice")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.ID != second || rec.Query != "second question" {
		t.Errorf("latest = %+v", rec)
	}
	if rec.FeedbackState != FeedbackPending {
		t.Errorf("new record state = %s", rec.FeedbackState)
	}
	if len(rec.Sources) != 1 || rec.Sources[0] != "user_alice_doc_a" {
		t.Errorf("sources = %v", rec.Sources)
	}

	if _, err := s.Latest(ctx, "nobody"); !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("latest for unknown user: want ErrNotFound, got %v", err)
	}
}

func Test_Store_HistoryPagination(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		saveChat(t, s, "alice", "user_alice_doc_a", fmt.Sprintf("question %d", i))
	}

	// First page: newest two, with a cursor pointing at the rest.
	page, next, err := s.History(ctx, "alice", "user_alice_doc_a", 2, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d", len(page))
	}
	if page[0].Query != "question 5" || page[1].Query != "question 4" {
		t.Errorf("page = %q, %q", page[0].Query, page[1].Query)
	}
	if next == 0 {
		t.Fatal("expected a next cursor")
	}

	// Second page continues strictly below the cursor.
	page, next, err = s.History(ctx, "alice", "user_alice_doc_a", 2, next)
	if err != nil {
		t.Fatalf("history page 2: %v", err)
	}
	if len(page) != 2 || page[0].Query != "question 3" || page[1].Query != "question 2" {
		t.Errorf("page 2 = %+v", page)
	}

	// Last page: one record left, cursor exhausted.
	page, next, err = s.History(ctx, "alice", "user_alice_doc_a", 2, next)
	if err != nil {
		t.Fatalf("history page 3: %v", err)
	}
	if len(page) != 1 || page[0].Query != "question 1" {
		t.Errorf("page 3 = %+v", page)
	}
	if next != 0 {
		t.Errorf("final cursor = %d, want 0", next)
	}
}

func Test_Store_HistoryScopedToUserAndCollection(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	saveChat(t, s, "alice", "user_alice_doc_a", "alice a")
	saveChat(t, s, "alice", "user_alice_doc_b", "alice b")
	saveChat(t, s, "bob", "user_bob_doc_a", "bob a")

	recs, _, err := s.History(ctx, "alice", "user_alice_doc_a", 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 1 || recs[0].Query != "alice a" {
		t.Errorf("recs = %+v", recs)
	}
}

func Test_Store_Feedback(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id := saveChat(t, s, "alice", "user_alice_doc_a", "q")

	if err := s.Feedback(ctx, id, "alice", true, "helpful"); err != nil {
		t.Fatalf("feedback: %v", err)
	}

	rec, err := s.Latest(ctx, "alice")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.FeedbackState != FeedbackSubmitted || !rec.FeedbackPositive || rec.FeedbackComments != "helpful" {
		t.Errorf("record after feedback = %+v", rec)
	}

	// Feedback is one-shot: a second submission finds no pending record.
	if err := s.Feedback(ctx, id, "alice", false, "changed my mind"); !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("second feedback: want ErrNotFound, got %v", err)
	}
}

func Test_Store_FeedbackWrongUser(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id := saveChat(t, s, "alice", "user_alice_doc_a", "q")

	if err := s.Feedback(ctx, id, "bob", true, ""); !errors.Is(err, rag.ErrNotFound) {
		t.Fatalf("want ErrNotFound for foreign record, got %v", err)
	}

	// Alice's record is untouched.
	rec, err := s.Latest(ctx, "alice")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.FeedbackState != FeedbackPending {
		t.Errorf("state = %s, want pending", rec.FeedbackState)
	}
}

func Test_Store_SummaryUpsert(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	sum := &Summary{
		Collection: "user_alice_doc_a",
		UserID:     "alice",
		Filename:   "a.txt",
		Text:       "first version",
	}
	if err := s.SaveSummary(ctx, sum); err != nil {
		t.Fatalf("save summary: %v", err)
	}
	sum.Text = "second version"
	if err := s.SaveSummary(ctx, sum); err != nil {
		t.Fatalf("resave summary: %v", err)
	}

	sums, err := s.Summaries(ctx, "alice")
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 1 {
		t.Fatalf("want 1 summary after upsert, got %d", len(sums))
	}
	if sums[0].Text != "second version" {
		t.Errorf("summary = %q", sums[0].Text)
	}
}

func Test_Store_SummariesPerUser(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, sum := range []Summary{
		{Collection: "user_alice_doc_a", UserID: "alice", Filename: "a.txt", Text: "A"},
		{Collection: "user_alice_doc_b", UserID: "alice", Filename: "b.txt", Text: "B"},
		{Collection: "user_bob_doc_a", UserID: "bob", Filename: "a.txt", Text: "bob's"},
	} {
		sum := sum
		if err := s.SaveSummary(ctx, &sum); err != nil {
			t.Fatalf("save summary: %v", err)
		}
	}

	sums, err := s.Summaries(ctx, "alice")
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("want 2 summaries, got %d", len(sums))
	}
	for _, sum := range sums {
		if sum.UserID != "alice" {
			t.Errorf("foreign summary leaked: %+v", sum)
		}
	}
}

func Test_Store_Get(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id := saveChat(t, s, "alice", "user_alice_doc_a", "the question")

	rec, err := s.Get(ctx, id, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.ID != id || rec.Query != "the question" {
		t.Errorf("record = %+v", rec)
	}

	// Another user's id and a missing id are indistinguishable.
	if _, err := s.Get(ctx, id, "bob"); !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("foreign get: %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, id+100, "alice"); !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("missing get: %v, want ErrNotFound", err)
	}
}
