package semantic

import (
	"context"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchResult is one similarity hit.
type SearchResult struct {
	Post  timeline.Post `json:"post"`
	Score float32       `json:"score"`
}

// VectorRecord is one post and its embedding.
type VectorRecord struct {
	Post      timeline.Post
	Embedding []float32
}
