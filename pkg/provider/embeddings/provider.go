// Package embeddings defines the Provider interface for text embedding
// backends. The event log uses embeddings to rank search results by meaning
// rather than by substring.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense vectors. Every vector from one Provider has
// length Dimensions().
type Provider interface {
	// Embed returns the embedding for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed vector length of the configured model.
	Dimensions() int
}
