// Command ingest consumes posts published by scrape-timeline on NATS and
// writes them to every configured sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/brother-wolf/scrapers-lib/engine/ingest"
	"github.com/brother-wolf/scrapers-lib/engine/store"
	"github.com/brother-wolf/scrapers-lib/pkg/config"
	"github.com/brother-wolf/scrapers-lib/pkg/logging"
	"github.com/brother-wolf/scrapers-lib/pkg/metrics"
)

func main() {
	cfg := config.Load()
	flag.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL to consume from")
	flag.StringVar(&cfg.NATSSubject, "subject", cfg.NATSSubject, "NATS subject")
	flag.StringVar(&cfg.SQLitePath, "sqlite", cfg.SQLitePath, "SQLite database path")
	flag.StringVar(&cfg.PostgresURL, "postgres", cfg.PostgresURL, "Postgres DSN")
	flag.StringVar(&cfg.Neo4jURL, "neo4j", cfg.Neo4jURL, "Neo4j bolt URL")
	flag.StringVar(&cfg.QdrantURL, "qdrant", cfg.QdrantURL, "Qdrant gRPC address for the content index")
	flag.StringVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "serve /metrics on this port")
	flag.Parse()

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Prefix: "ingest"})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("ingest exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if cfg.NATSURL == "" {
		return errors.New("NATS_URL or -nats is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The NATS sink would republish what we consume.
	sinkCfg := cfg
	sinkCfg.NATSURL = ""
	sinks, err := store.Open(ctx, sinkCfg, logger)
	if err != nil {
		return fmt.Errorf("open sinks: %w", err)
	}
	defer sinks.Close()
	if sinks.Len() == 0 {
		return errors.New("no sinks configured")
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("timeline-ingest"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	reg := metrics.New()
	if cfg.MetricsPort != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("GET /metrics", reg.Handler())
			if err := http.ListenAndServe(":"+cfg.MetricsPort, mux); err != nil {
				logger.Error("metrics server", "err", err)
			}
		}()
	}

	sub, err := ingest.StartConsumer(nc, cfg.NATSSubject, ingest.Deps{Sink: sinks, Logger: logger, Metrics: reg})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.NATSSubject, err)
	}
	logger.Info("consuming", "subject", cfg.NATSSubject, "queue", ingest.QueueGroup, "sinks", sinks.Len())

	<-ctx.Done()
	logger.Info("shutting down")
	return sub.Drain()
}
