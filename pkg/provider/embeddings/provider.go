// Package embeddings defines the Provider interface for vector embedding backends.
//
// Embeddings back semantic recall of past conversation turns: each recorded
// turn is embedded once when it is stored, and the user's new utterance is
// embedded at query time to find the closest older turns.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend. All vectors
// returned by one Provider share the same dimensionality.
type Provider interface {
	// Embed computes the embedding vector for a single text string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every vector produced. It must
	// match the vector column the memory store was migrated with.
	Dimensions() int

	// ModelID returns the embedding model name, for logging.
	ModelID() string
}
