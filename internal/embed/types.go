// Package embed turns text into fixed-size vectors for the semantic backend,
// result clustering and the embedding reranker.
package embed

import (
	"context"
	"math"
)

// DefaultDimensions is the vector size of the hashing embedder.
const DefaultDimensions = 256

// Embedder maps document and query text to vectors of a fixed size.
// Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	Dimensions() int

	// ModelName identifies the vector space. Vectors from embedders with
	// different names must not be compared or cached together.
	ModelName() string

	// Available reports false once the embedder is closed.
	Available(ctx context.Context) bool

	Close() error
}

// normalizeVector returns v scaled to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	if sq == 0 {
		return v
	}
	norm := math.Sqrt(sq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
