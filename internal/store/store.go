// Package store provides a SQLite-backed chat history store. Every answered
// question is persisted with its sources so users can revisit past
// conversations per document collection and attach feedback to an answer.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/neurodesk/neurodesk-go/internal/rag"
)

// FeedbackState tracks whether a chat record has received user feedback.
type FeedbackState string

const (
	// FeedbackPending means no feedback has been submitted yet.
	FeedbackPending FeedbackState = "pending"
	// FeedbackSubmitted means feedback has been recorded; it cannot change.
	FeedbackSubmitted FeedbackState = "submitted"
)

// ChatRecord is one answered question with its retrieval context.
type ChatRecord struct {
	// ID is the store-assigned record identifier.
	ID int64
	// UserID is the owner of the conversation.
	UserID string
	// Query is the user's question.
	Query string
	// Answer is the generated response.
	Answer string
	// Collection is the collection the question was scoped to. Empty when
	// the question ran against the user's full scope.
	Collection string
	// Provider names the backend that produced the answer.
	Provider string
	// Sources lists the collections the answer's chunks came from.
	Sources []string
	// FeedbackState is pending until feedback is submitted.
	FeedbackState FeedbackState
	// FeedbackPositive records a thumbs up or down. Only meaningful when
	// FeedbackState is submitted.
	FeedbackPositive bool
	// FeedbackComments is the optional free-text feedback.
	FeedbackComments string
	// CreatedAt is when the record was persisted.
	CreatedAt time.Time
}

// Summary is an LLM-generated abstract of an indexed document.
type Summary struct {
	// Collection is the document collection the summary describes.
	Collection string
	// UserID is the document owner.
	UserID string
	// Filename is the original upload filename.
	Filename string
	// Text is the summary content.
	Text string
	// CreatedAt is when the summary was persisted.
	CreatedAt time.Time
}

// ChatStore persists chat records and document summaries. Implementations
// must be safe for concurrent use.
type ChatStore interface {
	// Save persists a chat record and returns its assigned ID.
	Save(ctx context.Context, rec *ChatRecord) (int64, error)

	// History returns up to limit records for the user and collection,
	// newest-first, starting strictly below cursor. cursor <= 0 means start
	// from the newest record. The returned next cursor is 0 when no older
	// records remain.
	History(ctx context.Context, userID, collection string, limit int, cursor int64) ([]ChatRecord, int64, error)

	// Feedback attaches feedback to a pending record owned by userID.
	// Returns rag.ErrNotFound when no such pending record exists.
	Feedback(ctx context.Context, id int64, userID string, positive bool, comments string) error

	// Latest returns the user's most recent record, or rag.ErrNotFound.
	Latest(ctx context.Context, userID string) (*ChatRecord, error)

	// Get returns the record with the given id when it belongs to userID.
	// A missing record and one owned by another user both return
	// rag.ErrNotFound.
	Get(ctx context.Context, id int64, userID string) (*ChatRecord, error)

	// SaveSummary persists a document summary, replacing any existing one
	// for the same collection.
	SaveSummary(ctx context.Context, sum *Summary) error

	// Summaries returns the summaries for all of a user's documents,
	// newest-first.
	Summaries(ctx context.Context, userID string) ([]Summary, error)

	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a ChatStore backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the chat history database.
// It resolves to ~/.neurodesk/chat.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".neurodesk")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "chat.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chats (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id           TEXT    NOT NULL,
    query             TEXT    NOT NULL,
    answer            TEXT    NOT NULL,
    collection        TEXT    NOT NULL DEFAULT '',
    provider          TEXT    NOT NULL DEFAULT '',
    sources           TEXT    NOT NULL DEFAULT '[]',  -- JSON array of collection names
    feedback_state    TEXT    NOT NULL DEFAULT 'pending' CHECK(feedback_state IN ('pending','submitted')),
    feedback_positive INTEGER NOT NULL DEFAULT 0,
    feedback_comments TEXT    NOT NULL DEFAULT '',
    created_at        INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_chats_user_collection
    ON chats (user_id, collection, id);

CREATE TABLE IF NOT EXISTS summaries (
    collection  TEXT PRIMARY KEY,
    user_id     TEXT    NOT NULL,
    filename    TEXT    NOT NULL,
    summary     TEXT    NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_user
    ON summaries (user_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save persists a chat record and returns its assigned ID.
func (s *SQLiteStore) Save(ctx context.Context, rec *ChatRecord) (int64, error) {
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return 0, fmt.Errorf("store: encoding sources: %w", err)
	}
	const q = `
INSERT INTO chats (user_id, query, answer, collection, provider, sources, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		rec.UserID, rec.Query, rec.Answer, rec.Collection, rec.Provider, string(sources), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("store: save: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: save id: %w", err)
	}
	return id, nil
}

// History returns up to limit records for the user and collection,
// newest-first, starting strictly below cursor.
func (s *SQLiteStore) History(ctx context.Context, userID, collection string, limit int, cursor int64) ([]ChatRecord, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if cursor <= 0 {
		// Any real record id is below this.
		cursor = int64(1) << 62
	}

	const q = `
SELECT id, user_id, query, answer, collection, provider, sources,
       feedback_state, feedback_positive, feedback_comments, created_at
FROM   chats
WHERE  user_id = ? AND collection = ? AND id < ?
ORDER  BY id DESC
LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, userID, collection, cursor, limit+1)
	if err != nil {
		return nil, 0, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var recs []ChatRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: history rows: %w", err)
	}

	var next int64
	if len(recs) > limit {
		recs = recs[:limit]
		next = recs[len(recs)-1].ID
	}
	return recs, next, nil
}

// Feedback attaches feedback to a pending record owned by userID. Submitted
// feedback is final.
func (s *SQLiteStore) Feedback(ctx context.Context, id int64, userID string, positive bool, comments string) error {
	const q = `
UPDATE chats
SET    feedback_state = 'submitted', feedback_positive = ?, feedback_comments = ?
WHERE  id = ? AND user_id = ? AND feedback_state = 'pending'`
	res, err := s.db.ExecContext(ctx, q, boolToInt(positive), comments, id, userID)
	if err != nil {
		return fmt.Errorf("store: feedback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: feedback rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: chat %d: %w", id, rag.ErrNotFound)
	}
	return nil
}

// Latest returns the user's most recent chat record.
func (s *SQLiteStore) Latest(ctx context.Context, userID string) (*ChatRecord, error) {
	const q = `
SELECT id, user_id, query, answer, collection, provider, sources,
       feedback_state, feedback_positive, feedback_comments, created_at
FROM   chats
WHERE  user_id = ?
ORDER  BY id DESC
LIMIT  1`
	row := s.db.QueryRowContext(ctx, q, userID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: no chats for user %s: %w", userID, rag.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get looks a record up by id, scoped to its owner.
func (s *SQLiteStore) Get(ctx context.Context, id int64, userID string) (*ChatRecord, error) {
	const q = `
SELECT id, user_id, query, answer, collection, provider, sources,
       feedback_state, feedback_positive, feedback_comments, created_at
FROM   chats
WHERE  id = ? AND user_id = ?`
	row := s.db.QueryRowContext(ctx, q, id, userID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: chat %d: %w", id, rag.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SaveSummary persists a document summary, replacing any existing one for the
// same collection.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sum *Summary) error {
	const q = `
INSERT INTO summaries (collection, user_id, filename, summary, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(collection) DO UPDATE SET summary = excluded.summary, created_at = excluded.created_at`
	if _, err := s.db.ExecContext(ctx, q, sum.Collection, sum.UserID, sum.Filename, sum.Text, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: save summary: %w", err)
	}
	return nil
}

// Summaries returns the summaries for all of a user's documents, newest-first.
func (s *SQLiteStore) Summaries(ctx context.Context, userID string) ([]Summary, error) {
	const q = `
SELECT collection, user_id, filename, summary, created_at
FROM   summaries
WHERE  user_id = ?
ORDER  BY created_at DESC, collection DESC`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("store: summaries: %w", err)
	}
	defer rows.Close()

	var sums []Summary
	for rows.Next() {
		var sum Summary
		var ts int64
		if err := rows.Scan(&sum.Collection, &sum.UserID, &sum.Filename, &sum.Text, &ts); err != nil {
			return nil, fmt.Errorf("store: summaries scan: %w", err)
		}
		sum.CreatedAt = time.Unix(ts, 0)
		sums = append(sums, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: summaries rows: %w", err)
	}
	return sums, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*ChatRecord, error) {
	var rec ChatRecord
	var sources, state string
	var positive int
	var ts int64
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Query, &rec.Answer, &rec.Collection, &rec.Provider,
		&sources, &state, &positive, &rec.FeedbackComments, &ts); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &rec.Sources); err != nil {
		return nil, fmt.Errorf("store: decoding sources: %w", err)
	}
	rec.FeedbackState = FeedbackState(state)
	rec.FeedbackPositive = positive != 0
	rec.CreatedAt = time.Unix(ts, 0)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
