// Package embeddings defines the text-embedding provider interface.
package embeddings

import "context"

// Embedder converts text into a fixed-length vector. Implementations may be
// slow and fallible; Store awaits them synchronously before committing a
// record.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}
