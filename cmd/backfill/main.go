// Command backfill loads post archives written by scrape-timeline (JSON lines
// or msgpack) into the configured sinks, in batches.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/brother-wolf/scrapers-lib/engine/output"
	"github.com/brother-wolf/scrapers-lib/engine/store"
	"github.com/brother-wolf/scrapers-lib/engine/timeline"
	"github.com/brother-wolf/scrapers-lib/pkg/config"
	"github.com/brother-wolf/scrapers-lib/pkg/fn"
	"github.com/brother-wolf/scrapers-lib/pkg/logging"
)

func main() {
	cfg := config.Load()
	format := flag.String("format", output.FormatJSON, "archive format: json or msgpack")
	batch := flag.Int("batch", 500, "posts per sink write")
	dedup := flag.Bool("dedup", true, "drop repeated post ids across all archives")
	flag.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL to publish posts to")
	flag.StringVar(&cfg.NATSSubject, "subject", cfg.NATSSubject, "NATS subject")
	flag.StringVar(&cfg.SQLitePath, "sqlite", cfg.SQLitePath, "SQLite database path")
	flag.StringVar(&cfg.PostgresURL, "postgres", cfg.PostgresURL, "Postgres DSN")
	flag.StringVar(&cfg.Neo4jURL, "neo4j", cfg.Neo4jURL, "Neo4j bolt URL")
	flag.StringVar(&cfg.QdrantURL, "qdrant", cfg.QdrantURL, "Qdrant gRPC address for the content index")
	flag.Parse()

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Prefix: "backfill"})
	if flag.NArg() == 0 {
		logger.Error("usage: backfill [flags] archive...")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sinks, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open sinks", "err", err)
		os.Exit(1)
	}
	defer sinks.Close()

	posts, err := load(*format, flag.Args(), logger)
	if err != nil {
		logger.Error("load archives", "err", err)
		os.Exit(1)
	}
	if *dedup {
		posts = timeline.Dedup(posts)
	}

	written, failed := write(ctx, sinks, posts, *batch, logger)
	logger.Info("done", "posts", len(posts), "written", written, "failed_batches", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func load(format string, paths []string, logger *slog.Logger) ([]timeline.Post, error) {
	var all []timeline.Post
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		posts, err := output.ReadAll(format, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		logger.Info("loaded archive", "path", path, "posts", len(posts))
		all = append(all, posts...)
	}
	return all, nil
}

// write sends posts in batches, continuing past failed batches.
func write(ctx context.Context, sink store.Sink, posts []timeline.Post, size int, logger *slog.Logger) (written, failed int) {
	batches := fn.Chunk(posts, max(size, 1))
	for i, b := range batches {
		if ctx.Err() != nil {
			logger.Warn("interrupted", "remaining_batches", len(batches)-i)
			break
		}
		if err := sink.Write(ctx, b); err != nil {
			logger.Error("batch failed", "batch", i, "posts", len(b), "err", err)
			failed++
			continue
		}
		written += len(b)
		if (i+1)%10 == 0 {
			logger.Info("progress", "written", written, "of", len(posts))
		}
	}
	return written, failed
}
