package domain

import "context"

// EmbeddingProvider is the interface for text embedding backends.
type EmbeddingProvider interface {
	// Embed generates embeddings for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the dimensionality of the embedding vectors.
	Dimensions() int
	// Name returns the provider's identifier (e.g., "ollama", "local").
	Name() string
}

// Scorer assigns a base importance in [0,1] to new content. The score is
// a write-time hint; the evictor layers recency decay and access boosts
// on top of it.
type Scorer interface {
	Score(content, contextType string) float64
}
