package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			seq BIGINT NOT NULL DEFAULT 0,
			title TEXT,
			messages_json TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE SEQUENCE IF NOT EXISTS chat_session_seq;`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, messages_json FROM chat_sessions`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			id       string
			title    *string
			messages string
		)
		if err := rows.Scan(&id, &title, &messages); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if _, err := decodeMessages([]byte(messages)); err != nil {
			out = append(out, summarize(id, nil, true))
			continue
		}
		out = append(out, summarize(id, title, false))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (Session, error) {
	var (
		title    *string
		messages string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT title, messages_json FROM chat_sessions WHERE id = $1`, id,
	).Scan(&title, &messages)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load %s: %w", id, err)
	}
	msgs, err := decodeMessages([]byte(messages))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	return Session{ID: id, Title: title, Messages: msgs}, nil
}

func (s *PostgresStore) Save(ctx context.Context, sess Session) error {
	if !ValidID(sess.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, sess.ID)
	}
	messages, err := encodeMessages(sess.Messages)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStorageWrite, sess.ID, err)
	}
	seq, _ := idSeq(sess.ID)

	_, err = s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (id, seq, title, messages_json, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			messages_json = EXCLUDED.messages_json,
			updated_at = EXCLUDED.updated_at`,
		sess.ID,
		seq,
		sess.Title,
		string(messages),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageWrite, sess.ID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// NextID moves the sequence past both its own value and the highest stored seq, so
// numbers released by deletions are never handed out again.
func (s *PostgresStore) NextID(ctx context.Context) (string, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT setval('chat_session_seq', GREATEST(
			nextval('chat_session_seq'),
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM chat_sessions)
		))`,
	).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("%w: next id: %v", ErrStorageWrite, err)
	}
	return formatID(n), nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
