package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps sessions in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer per process; a single connection also keeps NextID transactions simple.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL DEFAULT 0,
		title TEXT,
		messages_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chat_counter (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		value INTEGER NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, messages_json FROM chat_sessions`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			id       string
			title    sql.NullString
			messages string
		)
		if err := rows.Scan(&id, &title, &messages); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if _, err := decodeMessages([]byte(messages)); err != nil {
			out = append(out, summarize(id, nil, true))
			continue
		}
		out = append(out, summarize(id, nullableString(title), false))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (Session, error) {
	var (
		title    sql.NullString
		messages string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT title, messages_json FROM chat_sessions WHERE id = ?`, id,
	).Scan(&title, &messages)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load %s: %w", id, err)
	}
	msgs, err := decodeMessages([]byte(messages))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	return Session{ID: id, Title: nullableString(title), Messages: msgs}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess Session) error {
	if !ValidID(sess.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, sess.ID)
	}
	messages, err := encodeMessages(sess.Messages)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStorageWrite, sess.ID, err)
	}
	seq, _ := idSeq(sess.ID)

	var title any
	if sess.Title != nil {
		title = *sess.Title
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO chat_sessions (id, seq, title, messages_json, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		messages_json = excluded.messages_json,
		updated_at = excluded.updated_at`,
		sess.ID, seq, title, string(messages), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageWrite, sess.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) NextID(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var counter, maxSeq int64
	err = tx.QueryRowContext(ctx, `SELECT value FROM chat_counter WHERE id = 1`).Scan(&counter)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read id counter: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM chat_sessions`).Scan(&maxSeq); err != nil {
		return "", fmt.Errorf("read max seq: %w", err)
	}

	next := max(counter, maxSeq) + 1
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO chat_counter (id, value) VALUES (1, ?)
	ON CONFLICT(id) DO UPDATE SET value = excluded.value`, next); err != nil {
		return "", fmt.Errorf("%w: counter: %v", ErrStorageWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: counter commit: %v", ErrStorageWrite, err)
	}
	return formatID(next), nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return stringPtr(v.String)
}
