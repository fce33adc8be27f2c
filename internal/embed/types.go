// Package embed provides embedding generation for document chunks.
//
// Two backends are available: a deterministic hash-based embedder that
// needs no external service, and an Ollama-backed embedder for real
// semantic vectors. Both sit behind the Embedder interface, usually
// wrapped in an LRU cache, and feed the job scheduler that turns
// chunked documents into indexed vectors.
package embed

import (
	"context"
	"math"
	"time"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result
	// slice is index-aligned with the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the backend is ready to serve requests.
	Available() bool

	// Close releases backend resources.
	Close() error
}

const (
	// DefaultBatchSize is the number of texts per backend request.
	DefaultBatchSize = 32

	// StaticDimensions is the vector size of the hash-based embedder.
	StaticDimensions = 384

	// DefaultRequestTimeout bounds a single backend HTTP request.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultHealthTimeout bounds the startup availability probe.
	DefaultHealthTimeout = 5 * time.Second
)

// normalizeVector scales v to unit length in place and returns it.
// Zero vectors are returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
