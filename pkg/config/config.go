// Package config loads driver settings from the environment, after reading
// an optional .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration. Empty sink settings
// disable that sink.
type Config struct {
	URL       string
	File      string
	UserAgent string
	RateLimit time.Duration

	NATSURL     string
	NATSSubject string

	SQLitePath  string
	PostgresURL string

	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string

	QdrantURL        string
	QdrantCollection string
	OllamaURL        string
	OllamaModel      string

	LogLevel    string
	LogFormat   string
	Port        string
	MetricsPort string
}

// Load reads .env files (missing files are ignored) and then the environment.
// Variables already set in the environment win over .env values.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}

	return Config{
		URL:       os.Getenv("SCRAPER_URL"),
		File:      os.Getenv("SCRAPER_FILE"),
		UserAgent: envOr("USER_AGENT", "scrapers-lib/1.0 (timeline archiver)"),
		RateLimit: durationOr("RATE_LIMIT", 2*time.Second),

		NATSURL:     os.Getenv("NATS_URL"),
		NATSSubject: envOr("NATS_SUBJECT", "scrapers.timeline.posts"),

		SQLitePath:  os.Getenv("SQLITE_PATH"),
		PostgresURL: os.Getenv("POSTGRES_URL"),

		Neo4jURL:  os.Getenv("NEO4J_URL"),
		Neo4jUser: envOr("NEO4J_USER", "neo4j"),
		Neo4jPass: envOr("NEO4J_PASS", "password"),

		QdrantURL:        os.Getenv("QDRANT_URL"),
		QdrantCollection: envOr("QDRANT_COLLECTION", "timeline_posts"),
		OllamaURL:        envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:      envOr("OLLAMA_MODEL", "nomic-embed-text"),

		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "text"),
		Port:        envOr("PORT", "8080"),
		MetricsPort: os.Getenv("METRICS_PORT"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// durationOr accepts Go durations ("2s") or a bare number of seconds.
func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
