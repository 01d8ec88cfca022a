package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
)

// NUMERIC(20,0) holds every uint64; BIGINT would overflow above 2^63-1.
const createPostsTablePG = `
CREATE TABLE IF NOT EXISTS timeline_posts (
	id        NUMERIC(20,0) PRIMARY KEY,
	epoch     BIGINT NOT NULL,
	date_time TEXT NOT NULL,
	content   TEXT NOT NULL
)`

const upsertPostPG = `
INSERT INTO timeline_posts (id, epoch, date_time, content) VALUES ($1::numeric, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	epoch = EXCLUDED.epoch,
	date_time = EXCLUDED.date_time,
	content = EXCLUDED.content`

// pgConn is the part of *pgxpool.Pool the store uses.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Postgres stores posts in a shared database.
type Postgres struct {
	db    pgConn
	close func()
}

// OpenPostgres connects to dsn and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	pg := &Postgres{db: pool, close: pool.Close}
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pg, nil
}

// EnsureSchema creates the posts table if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, createPostsTablePG); err != nil {
		return fmt.Errorf("postgres: create schema: %w", err)
	}
	return nil
}

// Write upserts posts in one round trip.
func (p *Postgres) Write(ctx context.Context, posts []timeline.Post) error {
	if len(posts) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, post := range posts {
		b.Queue(upsertPostPG, strconv.FormatUint(post.ID, 10), post.Epoch, post.DateTime, post.Content)
	}

	br := p.db.SendBatch(ctx, b)
	defer br.Close()
	for _, post := range posts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert post %d: %w", post.ID, err)
		}
	}
	return br.Close()
}

func (p *Postgres) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
