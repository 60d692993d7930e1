package ai

import (
	"context"
	"errors"
)

// ErrEmbeddingCountMismatch indicates a provider returned a different number
// of vectors than texts it was given.
var ErrEmbeddingCountMismatch = errors.New("embedding count does not match input count")

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderFactory hands out an Embedder per embedding model.
type EmbedderFactory interface {
	// EmbedderFor returns the embedder for model, or for the default model
	// when model is empty.
	EmbedderFor(ctx context.Context, model string) (Embedder, error)
}

// Provider aggregates embedding services for initialization and lifecycle management.
type Provider interface {
	EmbedderFactory

	// DefaultModel is the model used when a request names none.
	DefaultModel() string

	// Close releases resources held by the provider and its embedders.
	// After Close is called, the provider and its services should not be used.
	Close() error
}

// TokenSource supplies the API token used when a provider client is created.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
