package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
)

// Post ids span the full uint64 range, which SQLite's signed INTEGER cannot
// hold, so they are stored as decimal text.
const createPostsTable = `
CREATE TABLE IF NOT EXISTS posts (
	id        TEXT PRIMARY KEY,
	epoch     INTEGER NOT NULL,
	date_time TEXT NOT NULL,
	content   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_epoch ON posts(epoch DESC);
`

const upsertPostSQLite = `
INSERT INTO posts (id, epoch, date_time, content) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	epoch = excluded.epoch,
	date_time = excluded.date_time,
	content = excluded.content`

// SQLite stores posts in a local database file.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and its schema.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// Every connection to ":memory:" opens its own empty database.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(createPostsTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Write upserts posts in a single transaction.
func (s *SQLite) Write(ctx context.Context, posts []timeline.Post) error {
	if len(posts) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertPostSQLite)
	if err != nil {
		return fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range posts {
		if _, err := stmt.ExecContext(ctx, strconv.FormatUint(p.ID, 10), p.Epoch, p.DateTime, p.Content); err != nil {
			return fmt.Errorf("sqlite: upsert post %d: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit posts, newest first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]timeline.Post, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, epoch, date_time, content FROM posts ORDER BY epoch DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	var posts []timeline.Post
	for rows.Next() {
		var (
			id string
			p  timeline.Post
		)
		if err := rows.Scan(&id, &p.Epoch, &p.DateTime, &p.Content); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		if p.ID, err = strconv.ParseUint(id, 10, 64); err != nil {
			return nil, fmt.Errorf("sqlite: bad id %q: %w", id, err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// Count returns the number of stored posts.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n)
	return n, err
}

func (s *SQLite) Close() error { return s.conn.Close() }
