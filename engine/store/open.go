package store

import (
	"context"
	"log/slog"

	"github.com/brother-wolf/scrapers-lib/engine/semantic"
	"github.com/brother-wolf/scrapers-lib/pkg/config"
	"github.com/brother-wolf/scrapers-lib/pkg/ollama"
)

// Set is every sink enabled by a Config, fanned out through Multi. The typed
// fields give readers access to the stores that can be queried; each is nil
// when not configured.
type Set struct {
	*Multi
	SQLite *SQLite
	Neo4j  *Neo4j
	Index  *semantic.Index
}

// Open connects every sink cfg enables. On error, sinks already opened are
// closed.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*Set, error) {
	if log == nil {
		log = slog.Default()
	}
	set := &Set{Multi: NewMulti(log)}
	fail := func(err error) (*Set, error) {
		set.Close()
		return nil, err
	}

	if cfg.SQLitePath != "" {
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return fail(err)
		}
		set.SQLite = db
		set.Add("sqlite", db)
		log.Info("sink enabled", "sink", "sqlite", "path", cfg.SQLitePath)
	}
	if cfg.PostgresURL != "" {
		pg, err := OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return fail(err)
		}
		set.Add("postgres", pg)
		log.Info("sink enabled", "sink", "postgres")
	}
	if cfg.Neo4jURL != "" {
		n, err := OpenNeo4j(ctx, cfg.Neo4jURL, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			return fail(err)
		}
		set.Neo4j = n
		set.Add("neo4j", n)
		log.Info("sink enabled", "sink", "neo4j", "url", cfg.Neo4jURL)
	}
	if cfg.NATSURL != "" {
		n, err := ConnectNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return fail(err)
		}
		set.Add("nats", n)
		log.Info("sink enabled", "sink", "nats", "subject", cfg.NATSSubject)
	}
	if cfg.QdrantURL != "" {
		vs, err := semantic.New(cfg.QdrantURL, cfg.QdrantCollection)
		if err != nil {
			return fail(err)
		}
		set.Index = semantic.NewIndex(vs, ollama.NewEmbedClient(cfg.OllamaURL, cfg.OllamaModel))
		set.Add("qdrant", set.Index)
		log.Info("sink enabled", "sink", "qdrant", "collection", cfg.QdrantCollection, "model", cfg.OllamaModel)
	}
	return set, nil
}
